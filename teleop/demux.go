package teleop

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"
)

// MotorLogInterval bounds how often an unchanged motor reading is logged.
const MotorLogInterval = time.Second

// IdentityTracker records whether the robot has announced itself.
// *ConnectionManager satisfies it.
type IdentityTracker interface {
	SetPeerIdentityKnown(known bool)
}

// frameHeader holds the routing fields of an inbound frame.
type frameHeader struct {
	Type      string          `json:"type"`
	Mode      *string         `json:"mode"`
	Val       json.RawMessage `json:"val"`
	MotorL    *float64        `json:"mL"`
	MotorR    *float64        `json:"mR"`
	Point     *MapPoint       `json:"point"`
	RobotPose *struct {
		X   float64 `json:"x"`
		Y   float64 `json:"y"`
		Yaw float64 `json:"yaw"`
	} `json:"robot_pose"`
}

// snapshotKeys are the fields TelemetrySnapshot decodes itself; everything
// else goes to Extra.
var snapshotKeys = map[string]bool{
	"bat": true, "bump": true, "cliff": true, "fan": true, "log": true,
	"mode": true, "mL": true, "mR": true, "name": true, "x": true, "y": true,
	"theta": true, "type": true,
}

// DemuxOptions wires a Demultiplexer to its state slices. Nil fields are skipped.
type DemuxOptions struct {
	Store       *TelemetryStore
	Cloud       *PointCloud
	Accumulator *SpatialAccumulator
	Identity    IdentityTracker
	// OnModeChange is called after a remote config frame switched the mode.
	OnModeChange func(ControlMode)
}

// Demultiplexer classifies inbound bridge frames and routes each to the
// state slice it updates.
type Demultiplexer struct {
	store    *TelemetryStore
	cloud    *PointCloud
	acc      *SpatialAccumulator
	identity IdentityTracker
	onMode   func(ControlMode)
	now      func() time.Time

	mu           sync.Mutex
	lastMotor    MotorSpeeds
	lastMotorLog time.Time
	frames       uint64
	dropped      uint64
}

// NewDemultiplexer creates a demultiplexer. A nil Store gets a fresh one.
func NewDemultiplexer(opts DemuxOptions) *Demultiplexer {
	st := opts.Store
	if st == nil {
		st = NewTelemetryStore()
	}
	return &Demultiplexer{
		store:    st,
		cloud:    opts.Cloud,
		acc:      opts.Accumulator,
		identity: opts.Identity,
		onMode:   opts.OnModeChange,
		now:      time.Now,
	}
}

// Store returns the store the demultiplexer writes to.
func (d *Demultiplexer) Store() *TelemetryStore {
	return d.store
}

// Stats returns the number of frames handled and the number discarded as malformed.
func (d *Demultiplexer) Stats() (handled, dropped uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames, d.dropped
}

// HandleFrame routes one raw frame. Malformed frames are logged and dropped
// without touching any state.
func (d *Demultiplexer) HandleFrame(frame []byte) {
	if err := d.handle(frame); err != nil {
		d.mu.Lock()
		d.dropped++
		d.mu.Unlock()
		log.Printf("[DEMUX] discarding frame: %v", err)
		return
	}
	d.mu.Lock()
	d.frames++
	d.mu.Unlock()
}

func (d *Demultiplexer) handle(frame []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(frame, &raw); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	var h frameHeader
	if err := json.Unmarshal(frame, &h); err != nil {
		return fmt.Errorf("decode header: %w", err)
	}

	// Decode everything before mutating so a bad field leaves state intact.
	var snap TelemetrySnapshot
	general := h.Type != "config" && h.Type != "wb" && h.Type != "map_update"
	if general {
		if err := json.Unmarshal(frame, &snap); err != nil {
			return fmt.Errorf("decode telemetry: %w", err)
		}
		for k, v := range raw {
			if snapshotKeys[k] {
				continue
			}
			if snap.Extra == nil {
				snap.Extra = make(map[string]json.RawMessage)
			}
			snap.Extra[k] = v
		}
	}

	var mode ControlMode
	if h.Type == "config" && h.Mode != nil {
		m, err := ParseControlMode(*h.Mode)
		if err != nil {
			return err
		}
		mode = m
	}
	var wb string
	if h.Type == "wb" && len(h.Val) > 0 {
		v, err := wheelBaseValue(h.Val)
		if err != nil {
			return err
		}
		wb = v
	}

	switch h.Type {
	case "status", "lidar":
		d.setIdentity(true)
	case "robot_disconnected":
		d.setIdentity(false)
	}

	if h.MotorL != nil && h.MotorR != nil {
		d.motor(MotorSpeeds{Left: *h.MotorL, Right: *h.MotorR})
	}

	switch {
	case mode != "":
		d.store.SetMode(mode)
		d.store.AppendLog("System: Switched to " + string(mode) + " mode")
		if d.onMode != nil {
			d.onMode(mode)
		}
		return nil
	case h.Type == "wb" && len(h.Val) > 0:
		d.store.SetWheelBase(wb)
		d.store.AppendLog("cal value: " + wb)
		return nil
	case h.Type == "map_update":
		if h.Point != nil && d.cloud != nil {
			d.cloud.Append(*h.Point)
		}
		if h.RobotPose != nil {
			d.pose(Pose{X: h.RobotPose.X, Y: h.RobotPose.Y, Heading: h.RobotPose.Yaw})
		}
		return nil
	case !general:
		// config without mode, wb without val
		return nil
	}

	d.store.MergeSnapshot(snap)
	if snap.X != nil || snap.Y != nil || snap.Theta != nil {
		p, _ := d.store.Pose()
		if snap.X != nil {
			p.X = *snap.X
		}
		if snap.Y != nil {
			p.Y = *snap.Y
		}
		if snap.Theta != nil {
			p.Heading = *snap.Theta
		}
		d.pose(p)
	}
	if snap.Log != nil {
		d.store.AppendLog(*snap.Log)
	}
	return nil
}

func (d *Demultiplexer) setIdentity(known bool) {
	if d.identity != nil {
		d.identity.SetPeerIdentityKnown(known)
	}
}

func (d *Demultiplexer) pose(p Pose) {
	d.store.SetPose(p)
	if d.acc != nil {
		d.acc.Observe(p)
	}
}

// motor stores the speeds and logs them when both wheels are driven. An
// unchanged reading is logged at most once per MotorLogInterval.
func (d *Demultiplexer) motor(m MotorSpeeds) {
	d.store.SetMotor(m)
	if m.Left == 0 || m.Right == 0 {
		return
	}

	d.mu.Lock()
	now := d.now()
	if m == d.lastMotor && now.Sub(d.lastMotorLog) < MotorLogInterval {
		d.mu.Unlock()
		return
	}
	d.lastMotor = m
	d.lastMotorLog = now
	d.mu.Unlock()

	d.store.AppendLog(fmt.Sprintf("Motor Power: L=%s R=%s", formatNumber(m.Left), formatNumber(m.Right)))
}

// wheelBaseValue accepts the readback as a JSON string or number.
func wheelBaseValue(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("wb value must be string or number: %s", string(raw))
	}
	return formatNumber(n), nil
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
