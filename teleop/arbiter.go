package teleop

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// JoystickRadius is the maximum knob displacement in pixels.
const JoystickRadius = 40.0

// Sender transmits one outbound frame. It reports false when the frame was
// dropped because the link is down.
type Sender interface {
	Send(frame []byte) bool
}

// ArbiterOptions configures an InputArbiter.
type ArbiterOptions struct {
	Mode         ControlMode
	PollInterval time.Duration // 0 disables the periodic resend
	Legacy       bool          // keyboard edges use F/B/L/R/S letters
	Bus          *Bus          // receives ClearMapTopic from ZeroOdometry
}

// InputArbiter merges keyboard, pad and joystick input into one current
// intent and forwards it to a Sender. Keyboard edges are sent only when the
// resolved direction changes; pad and joystick changes are sent at once.
// Run repeats the current intent on a fixed interval.
type InputArbiter struct {
	sender   Sender
	bus      *Bus
	interval time.Duration
	legacy   bool

	mu       sync.Mutex
	mode     ControlMode
	held     map[string]string // key -> axis
	keyDir   Direction
	lastSent Direction
	padDir   Direction
	stickX   float64
	stickY   float64
	stickOn  bool
	intent   Vector
	intentOf Direction
}

// NewInputArbiter creates an arbiter sending through sender.
func NewInputArbiter(sender Sender, opts ArbiterOptions) *InputArbiter {
	mode := opts.Mode
	if mode == "" {
		mode = ModePad
	}
	return &InputArbiter{
		sender:   sender,
		bus:      opts.Bus,
		interval: opts.PollInterval,
		legacy:   opts.Legacy,
		mode:     mode,
		held:     make(map[string]string),
		keyDir:   None,
		lastSent: None,
		padDir:   None,
		intentOf: Stop,
	}
}

// SetMode switches the active widget. Pad and joystick holds are dropped;
// when one was live the intent falls back to the held keys, or a stop, and
// that is sent at once.
func (a *InputArbiter) SetMode(m ControlMode) {
	a.mu.Lock()
	if a.mode == m {
		a.mu.Unlock()
		return
	}
	a.mode = m
	dropped := a.padDir != None || a.stickOn
	a.padDir = None
	a.stickX, a.stickY, a.stickOn = 0, 0, false
	if !dropped {
		a.mu.Unlock()
		return
	}
	if a.keyDir != None && a.keyDir != Stop {
		a.setIntentLocked(a.keyDir.Vector(), a.keyDir)
	} else {
		a.setIntentLocked(Vector{}, Stop)
	}
	frame := a.encodeLocked(a.intent, a.intentOf)
	a.mu.Unlock()
	a.send(frame)
}

// Mode returns the active widget.
func (a *InputArbiter) Mode() ControlMode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// KeyDirection returns the direction last resolved from the keyboard.
func (a *InputArbiter) KeyDirection() Direction {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.keyDir
}

// PadDirection returns the held pad button, or None.
func (a *InputArbiter) PadDirection() Direction {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.padDir
}

// Intent returns the vector the periodic task is currently repeating.
func (a *InputArbiter) Intent() Vector {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.intent
}

// KeyDown handles a key press. Auto-repeat presses and non-driving keys are
// ignored.
func (a *InputArbiter) KeyDown(key string, repeat bool) {
	axis, ok := movementKey(key)
	if !ok || repeat {
		return
	}
	k := strings.ToLower(key)
	a.mu.Lock()
	if _, down := a.held[k]; down {
		a.mu.Unlock()
		return
	}
	a.held[k] = axis
	a.keyChangedLocked()
}

// KeyUp handles a key release.
func (a *InputArbiter) KeyUp(key string) {
	if _, ok := movementKey(key); !ok {
		return
	}
	k := strings.ToLower(key)
	a.mu.Lock()
	if _, down := a.held[k]; !down {
		a.mu.Unlock()
		return
	}
	delete(a.held, k)
	a.keyChangedLocked()
}

// keyChangedLocked re-resolves the keyboard direction and sends it when it
// differs from the last keyboard send. It releases a.mu.
func (a *InputArbiter) keyChangedLocked() {
	axes := make(map[string]bool, len(a.held))
	for _, axis := range a.held {
		axes[axis] = true
	}
	dir := resolveKeys(axes)
	a.keyDir = dir
	a.setIntentLocked(dir.Vector(), dir)
	if dir == a.lastSent {
		a.mu.Unlock()
		return
	}
	a.lastSent = dir
	frame := a.encodeLocked(dir.Vector(), dir)
	a.mu.Unlock()
	a.send(frame)
}

// PadPress holds a pad button.
func (a *InputArbiter) PadPress(d Direction) {
	a.mu.Lock()
	a.padDir = d
	a.setIntentLocked(d.PadVector(), d)
	frame := a.encodeLocked(a.intent, d)
	a.mu.Unlock()
	a.send(frame)
}

// PadRelease releases the held pad button and sends a stop.
func (a *InputArbiter) PadRelease() {
	a.mu.Lock()
	a.padDir = None
	a.setIntentLocked(Vector{}, Stop)
	frame := a.encodeLocked(a.intent, Stop)
	a.mu.Unlock()
	a.send(frame)
}

// JoystickStart begins a drag at the stick center.
func (a *InputArbiter) JoystickStart() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stickOn = true
	a.stickX, a.stickY = 0, 0
}

// JoystickMove sets the knob displacement in screen pixels (y grows
// downward). The displacement is clamped to JoystickRadius. A send happens
// only when the resulting vector changes.
func (a *InputArbiter) JoystickMove(dx, dy float64) Vector {
	dx, dy = clampRadius(dx, dy, JoystickRadius)
	v := StickVector(dx, dy)

	a.mu.Lock()
	if !a.stickOn {
		a.mu.Unlock()
		return Vector{}
	}
	a.stickX, a.stickY = dx, dy
	changed := v != a.intent
	a.setIntentLocked(v, None)
	frame := a.encodeLocked(v, None)
	a.mu.Unlock()

	if changed {
		a.send(frame)
	}
	return v
}

// JoystickEnd snaps the knob back to center and sends a zero vector.
func (a *InputArbiter) JoystickEnd() {
	a.mu.Lock()
	a.stickOn = false
	a.stickX, a.stickY = 0, 0
	a.setIntentLocked(Vector{}, None)
	frame := a.encodeLocked(Vector{}, None)
	a.mu.Unlock()
	a.send(frame)
}

// Knob returns the clamped knob displacement in pixels.
func (a *InputArbiter) Knob() (x, y float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stickX, a.stickY
}

// StickVector converts a knob displacement to a drive vector.
func StickVector(dx, dy float64) Vector {
	return Vector{
		X: int(math.Round(dx / JoystickRadius * 100)),
		Y: int(math.Round(dy / JoystickRadius * -100)),
	}
}

func clampRadius(dx, dy, r float64) (float64, float64) {
	d := math.Hypot(dx, dy)
	if d <= r || d == 0 {
		return dx, dy
	}
	return dx / d * r, dy / d * r
}

// Tick sends the current intent once.
func (a *InputArbiter) Tick() {
	a.mu.Lock()
	frame := a.encodeLocked(a.intent, a.intentOf)
	a.mu.Unlock()
	a.send(frame)
}

// Run repeats the current intent every poll interval until ctx is done.
// It returns immediately when polling is disabled.
func (a *InputArbiter) Run(ctx context.Context) {
	if a.interval <= 0 {
		return
	}
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Tick()
		}
	}
}

// Calibrate asks the robot to start its calibration routine.
func (a *InputArbiter) Calibrate() bool {
	return a.sendJSON(map[string]string{"cmd": "cal"})
}

// ZeroOdometry resets the robot's odometry and clears the local map.
func (a *InputArbiter) ZeroOdometry() bool {
	ok := a.sendJSON(map[string]string{"cmd": "RST_ODOM"})
	if a.bus != nil {
		a.bus.Publish(ClearMapTopic)
	}
	return ok
}

// SetWheelBase sends a new wheel-base value in meters.
func (a *InputArbiter) SetWheelBase(meters float64) bool {
	return a.sendJSON(map[string]float64{"base": meters})
}

func (a *InputArbiter) setIntentLocked(v Vector, d Direction) {
	a.intent = v
	a.intentOf = d
}

// encodeLocked renders a vector as an outbound frame. In legacy mode,
// directions with a letter are sent as that letter.
func (a *InputArbiter) encodeLocked(v Vector, d Direction) []byte {
	if a.legacy {
		if letter := d.Legacy(); letter != "" {
			return []byte(letter)
		}
	}
	return []byte(`{"x":` + strconv.Itoa(v.X) + `,"y":` + strconv.Itoa(v.Y) + `}`)
}

func (a *InputArbiter) sendJSON(v any) bool {
	frame, err := json.Marshal(v)
	if err != nil {
		log.Printf("[INPUT] encode command: %v", err)
		return false
	}
	return a.send(frame)
}

func (a *InputArbiter) send(frame []byte) bool {
	if a.sender == nil {
		return false
	}
	return a.sender.Send(frame)
}
