package teleop

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LogCapacity is the number of console log lines retained, newest first.
const LogCapacity = 50

// TelemetryStore holds every state slice the demultiplexer writes and the
// HTTP and rendering layers read.
type TelemetryStore struct {
	mu        sync.RWMutex
	snapshot  TelemetrySnapshot
	motor     MotorSpeeds
	hasMotor  bool
	mode      ControlMode
	pose      Pose
	hasPose   bool
	wheelBase string
	logs      []LogEntry
	now       func() time.Time
}

// NewTelemetryStore creates an empty store in pad mode.
func NewTelemetryStore() *TelemetryStore {
	return &TelemetryStore{
		mode: ModePad,
		logs: make([]LogEntry, 0, LogCapacity),
		now:  time.Now,
	}
}

// MergeSnapshot folds a general telemetry frame into the snapshot.
func (st *TelemetryStore) MergeSnapshot(s TelemetrySnapshot) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.snapshot.Merge(s)
}

// Snapshot returns a copy of the merged telemetry.
func (st *TelemetryStore) Snapshot() TelemetrySnapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.snapshot.Clone()
}

// SetMotor records the last wheel speeds.
func (st *TelemetryStore) SetMotor(m MotorSpeeds) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.motor = m
	st.hasMotor = true
}

// Motor returns the last wheel speeds and whether any were reported.
func (st *TelemetryStore) Motor() (MotorSpeeds, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.motor, st.hasMotor
}

// SetMode records the active control mode.
func (st *TelemetryStore) SetMode(m ControlMode) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.mode = m
}

// Mode returns the active control mode.
func (st *TelemetryStore) Mode() ControlMode {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.mode
}

// SetPose records the live pose.
func (st *TelemetryStore) SetPose(p Pose) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.pose = p
	st.hasPose = true
}

// Pose returns the live pose and whether one was ever reported.
func (st *TelemetryStore) Pose() (Pose, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.pose, st.hasPose
}

// SetWheelBase records the last wheel-base calibration readback.
func (st *TelemetryStore) SetWheelBase(v string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.wheelBase = v
}

// WheelBase returns the last wheel-base readback, empty if none.
func (st *TelemetryStore) WheelBase() string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.wheelBase
}

// AppendLog prepends a timestamped line, dropping the oldest beyond LogCapacity.
func (st *TelemetryStore) AppendLog(text string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	entry := LogEntry{Time: st.now(), Text: text}
	if len(st.logs) < LogCapacity {
		st.logs = append(st.logs, LogEntry{})
	}
	copy(st.logs[1:], st.logs[:len(st.logs)-1])
	st.logs[0] = entry
}

// Logs returns the log ring, newest first.
func (st *TelemetryStore) Logs() []LogEntry {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]LogEntry, len(st.logs))
	copy(out, st.logs)
	return out
}

// ClearLogs empties the log ring.
func (st *TelemetryStore) ClearLogs() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.logs = st.logs[:0]
}

// storeFile is the on-disk form written by SaveTelemetry.
type storeFile struct {
	Snapshot  TelemetrySnapshot `json:"snapshot"`
	Pose      *Pose             `json:"pose,omitempty"`
	Mode      ControlMode       `json:"mode"`
	WheelBase string            `json:"wheelBase,omitempty"`
	Logs      []LogEntry        `json:"logs"`
}

// SaveTelemetry writes the current store contents to disk as JSON.
func SaveTelemetry(st *TelemetryStore, path string) error {
	st.mu.RLock()
	f := storeFile{
		Snapshot:  st.snapshot.Clone(),
		Mode:      st.mode,
		WheelBase: st.wheelBase,
		Logs:      append([]LogEntry(nil), st.logs...),
	}
	if st.hasPose {
		p := st.pose
		f.Pose = &p
	}
	st.mu.RUnlock()

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create telemetry directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write telemetry: %w", err)
	}
	return nil
}
