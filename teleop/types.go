package teleop

import (
	"encoding/json"
	"fmt"
	"time"
)

// Pose is the robot's position in world meters. Heading is in radians,
// counter-clockwise from the world X axis.
type Pose struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
}

// MapPoint is one accumulated map sample in world meters.
type MapPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Vector is an arcade-drive command. X is lateral, Y is forward; each axis
// is in [-100, 100].
type Vector struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// IsZero reports whether the vector commands a stop.
func (v Vector) IsZero() bool {
	return v.X == 0 && v.Y == 0
}

// ConnectionState describes the bridge link as seen by the console.
type ConnectionState struct {
	TransportConnected bool   `json:"transportConnected"`
	PeerAlive          bool   `json:"peerAlive"`
	PeerIdentityKnown  bool   `json:"peerIdentityKnown"`
	Address            string `json:"address"`
}

// ControlMode selects which drive widget is active.
type ControlMode string

const (
	ModePad ControlMode = "pad"
	ModeJoy ControlMode = "joy"
)

// ParseControlMode accepts "pad" or "joy".
func ParseControlMode(s string) (ControlMode, error) {
	switch ControlMode(s) {
	case ModePad, ModeJoy:
		return ControlMode(s), nil
	}
	return "", fmt.Errorf("unknown control mode %q", s)
}

// LogEntry is one line of the console log ring.
type LogEntry struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// String formats the entry the way the console log shows it.
func (e LogEntry) String() string {
	return fmt.Sprintf("[%s] %s", e.Time.Format("15:04:05"), e.Text)
}

// MotorSpeeds holds the last reported wheel speeds.
type MotorSpeeds struct {
	Left  float64 `json:"mL"`
	Right float64 `json:"mR"`
}

// flexBool decodes bumper and cliff flags, which firmware reports either as
// JSON booleans or as 0/1 numbers.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = flexBool(v)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("flag must be bool or number: %s", string(data))
	}
	*b = n != 0
	return nil
}

// BumperState holds the left/right bumper contacts.
type BumperState struct {
	Left  *flexBool `json:"l,omitempty"`
	Right *flexBool `json:"r,omitempty"`
}

// CliffState holds the front-left/front-right cliff sensors.
type CliffState struct {
	FrontLeft  *flexBool `json:"fl,omitempty"`
	FrontRight *flexBool `json:"fr,omitempty"`
}

// TelemetrySnapshot is the merged view of all general sensor frames. A nil
// field has never been reported.
type TelemetrySnapshot struct {
	Battery *float64     `json:"bat,omitempty"`
	Bumper  *BumperState `json:"bump,omitempty"`
	Cliff   *CliffState  `json:"cliff,omitempty"`
	Fan     *float64     `json:"fan,omitempty"`
	Log     *string      `json:"log,omitempty"`
	Mode    *string      `json:"mode,omitempty"`
	MotorL  *float64     `json:"mL,omitempty"`
	MotorR  *float64     `json:"mR,omitempty"`
	Name    *string      `json:"name,omitempty"`
	X       *float64     `json:"x,omitempty"`
	Y       *float64     `json:"y,omitempty"`
	Theta   *float64     `json:"theta,omitempty"`
	Type    *string      `json:"type,omitempty"`

	// Extra carries keys the console does not interpret, merged the same way.
	Extra map[string]json.RawMessage `json:"extra,omitempty"`
}

// Merge copies every field present in other onto s. Fields absent from
// other are left untouched.
func (s *TelemetrySnapshot) Merge(other TelemetrySnapshot) {
	mergeFloat(&s.Battery, other.Battery)
	mergeFloat(&s.Fan, other.Fan)
	mergeFloat(&s.MotorL, other.MotorL)
	mergeFloat(&s.MotorR, other.MotorR)
	mergeFloat(&s.X, other.X)
	mergeFloat(&s.Y, other.Y)
	mergeFloat(&s.Theta, other.Theta)
	mergeString(&s.Log, other.Log)
	mergeString(&s.Mode, other.Mode)
	mergeString(&s.Name, other.Name)
	mergeString(&s.Type, other.Type)

	if other.Bumper != nil {
		if s.Bumper == nil {
			s.Bumper = &BumperState{}
		}
		mergeFlag(&s.Bumper.Left, other.Bumper.Left)
		mergeFlag(&s.Bumper.Right, other.Bumper.Right)
	}
	if other.Cliff != nil {
		if s.Cliff == nil {
			s.Cliff = &CliffState{}
		}
		mergeFlag(&s.Cliff.FrontLeft, other.Cliff.FrontLeft)
		mergeFlag(&s.Cliff.FrontRight, other.Cliff.FrontRight)
	}
	for k, v := range other.Extra {
		if s.Extra == nil {
			s.Extra = make(map[string]json.RawMessage)
		}
		s.Extra[k] = v
	}
}

// Clone returns a deep copy.
func (s TelemetrySnapshot) Clone() TelemetrySnapshot {
	var out TelemetrySnapshot
	out.Merge(s)
	return out
}

func mergeFloat(dst **float64, src *float64) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

func mergeString(dst **string, src *string) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

func mergeFlag(dst **flexBool, src *flexBool) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

// Config represents the full configuration file
type Config struct {
	Bridge           BridgeConfig  `yaml:"bridge" json:"bridge"`
	Map              MapConfig     `yaml:"map" json:"map"`
	Control          ControlConfig `yaml:"control" json:"control"`
	MQTT             MQTTConfig    `yaml:"mqtt" json:"mqtt"`
	ConnectionConfig string        `yaml:"connectionConfig,omitempty" json:"connectionConfig,omitempty"` // Path of the persisted bridge address file
}

// BridgeConfig holds the robot bridge link settings
type BridgeConfig struct {
	Address     string `yaml:"address" json:"address"`
	WatchdogMS  int    `yaml:"watchdogMs,omitempty" json:"watchdogMs,omitempty"`
	ReconnectMS int    `yaml:"reconnectMs,omitempty" json:"reconnectMs,omitempty"`
}

// WatchdogTimeout is how long the link may stay silent before it is recycled.
func (b BridgeConfig) WatchdogTimeout() time.Duration {
	return time.Duration(b.WatchdogMS) * time.Millisecond
}

// ReconnectDelay is the fixed wait between a close and the next dial.
func (b BridgeConfig) ReconnectDelay() time.Duration {
	return time.Duration(b.ReconnectMS) * time.Millisecond
}

// MapConfig holds map accumulation and view settings
type MapConfig struct {
	Capacity      int     `yaml:"capacity,omitempty" json:"capacity,omitempty"` // Max retained map points (FIFO)
	Width         int     `yaml:"width,omitempty" json:"width,omitempty"`
	Height        int     `yaml:"height,omitempty" json:"height,omitempty"`
	UnitsPerMeter float64 `yaml:"unitsPerMeter,omitempty" json:"unitsPerMeter,omitempty"`
	DefaultScale  float64 `yaml:"defaultScale,omitempty" json:"defaultScale,omitempty"`
	MinScale      float64 `yaml:"minScale,omitempty" json:"minScale,omitempty"`
	MaxScale      float64 `yaml:"maxScale,omitempty" json:"maxScale,omitempty"`
	ShowTrail     *bool   `yaml:"showTrail,omitempty" json:"showTrail,omitempty"`
	ShowRobot     *bool   `yaml:"showRobot,omitempty" json:"showRobot,omitempty"`
}

// ControlConfig holds input arbiter settings
type ControlConfig struct {
	Mode   string `yaml:"mode,omitempty" json:"mode,omitempty"`     // "pad" or "joy"
	PollMS int    `yaml:"pollMs,omitempty" json:"pollMs,omitempty"` // Periodic intent resend interval; -1 disables
	Legacy bool   `yaml:"legacy,omitempty" json:"legacy,omitempty"` // Send F/B/L/R/S instead of vectors for keyboard edges
}

// PollInterval returns the periodic resend interval, 0 when disabled.
func (c ControlConfig) PollInterval() time.Duration {
	if c.PollMS <= PollDisabled {
		return 0
	}
	return time.Duration(c.PollMS) * time.Millisecond
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker,omitempty" json:"broker,omitempty"`
	PublishPrefix string `yaml:"publishPrefix,omitempty" json:"publishPrefix,omitempty"`
	ClientID      string `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}
