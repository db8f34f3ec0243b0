package teleop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultMirrorInterval is how often Run checks the store for changes.
const DefaultMirrorInterval = time.Second

// ErrMQTTNotConnected is returned when publishing without a broker connection.
var ErrMQTTNotConnected = errors.New("MQTT client not connected")

// PosePayload is published to <prefix>/pose.
type PosePayload struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Heading   float64 `json:"heading"`
	Timestamp int64   `json:"timestamp"`
}

// TelemetryPayload is published to <prefix>/telemetry.
type TelemetryPayload struct {
	Telemetry TelemetrySnapshot `json:"telemetry"`
	Mode      ControlMode       `json:"mode"`
	Motor     *MotorSpeeds      `json:"motor,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// Publisher mirrors the live pose and telemetry to MQTT.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool

	mu            sync.Mutex
	lastPose      *Pose
	lastTelemetry []byte
	now           func() time.Time
}

// NewPublisher creates a publisher under prefix. A nil client disables
// publishing; every publish then fails with ErrMQTTNotConnected.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultPublishPrefix
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,
		retain:        true,
		now:           time.Now,
	}
}

// PoseTopic returns the topic the pose is published to.
func (p *Publisher) PoseTopic() string { return p.publishPrefix + "/pose" }

// TelemetryTopic returns the topic the telemetry snapshot is published to.
func (p *Publisher) TelemetryTopic() string { return p.publishPrefix + "/telemetry" }

// PublishPose publishes one pose.
func (p *Publisher) PublishPose(pose Pose) error {
	payload, err := json.Marshal(PosePayload{
		X: pose.X, Y: pose.Y, Heading: pose.Heading,
		Timestamp: p.now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshaling pose: %w", err)
	}
	if err := p.publish(p.PoseTopic(), payload); err != nil {
		return err
	}

	p.mu.Lock()
	p.lastPose = &pose
	p.mu.Unlock()
	return nil
}

// PublishTelemetry publishes the merged snapshot together with mode and motor state.
func (p *Publisher) PublishTelemetry(st *TelemetryStore) error {
	payload := TelemetryPayload{
		Telemetry: st.Snapshot(),
		Mode:      st.Mode(),
		Timestamp: p.now().Unix(),
	}
	if m, ok := st.Motor(); ok {
		payload.Motor = &m
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling telemetry: %w", err)
	}
	return p.publish(p.TelemetryTopic(), data)
}

func (p *Publisher) publish(topic string, payload []byte) error {
	if p.client == nil || !p.client.IsConnected() {
		return ErrMQTTNotConnected
	}
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// Sync publishes the pose and telemetry that changed since the last
// successful publish.
func (p *Publisher) Sync(st *TelemetryStore) error {
	if pose, ok := st.Pose(); ok {
		p.mu.Lock()
		changed := p.lastPose == nil || *p.lastPose != pose
		p.mu.Unlock()
		if changed {
			if err := p.PublishPose(pose); err != nil {
				return err
			}
		}
	}

	// Compare without the timestamp so an idle robot is not republished.
	key, err := json.Marshal(struct {
		T TelemetrySnapshot `json:"t"`
		M ControlMode       `json:"m"`
	}{st.Snapshot(), st.Mode()})
	if err != nil {
		return fmt.Errorf("marshaling telemetry: %w", err)
	}
	p.mu.Lock()
	changed := !bytes.Equal(key, p.lastTelemetry)
	p.mu.Unlock()
	if !changed {
		return nil
	}
	if err := p.PublishTelemetry(st); err != nil {
		return err
	}
	p.mu.Lock()
	p.lastTelemetry = key
	p.mu.Unlock()
	return nil
}

// Run calls Sync every interval until ctx is done.
func (p *Publisher) Run(ctx context.Context, st *TelemetryStore, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultMirrorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Sync(st); err != nil && !errors.Is(err, ErrMQTTNotConnected) {
				log.Printf("[MQTT] mirror: %v", err)
			}
		}
	}
}

// LastPose returns the last pose successfully published.
func (p *Publisher) LastPose() (Pose, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastPose == nil {
		return Pose{}, false
	}
	return *p.lastPose, true
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
