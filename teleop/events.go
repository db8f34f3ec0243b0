package teleop

import "sync"

// ClearMapTopic is raised when accumulated map state should be discarded,
// for example after odometry has been zeroed.
const ClearMapTopic = "map.clear"

// Bus is a small publish/subscribe registry for zero-payload events.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]func()
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[uint64]func())}
}

// Subscribe registers fn for topic. The returned function removes the
// subscription and is safe to call more than once.
func (b *Bus) Subscribe(topic string, fn func()) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]func())
	}
	b.subs[topic][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[topic], id)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
		})
	}
}

// Publish invokes every subscriber of topic synchronously. Subscribers run
// without the bus lock held, so they may subscribe or unsubscribe.
func (b *Bus) Publish(topic string) {
	b.mu.RLock()
	fns := make([]func(), 0, len(b.subs[topic]))
	for _, fn := range b.subs[topic] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}

// Subscribers returns the number of live subscriptions on topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

var (
	defaultBus   *Bus
	defaultBusMu sync.Mutex
)

// DefaultBus returns the process-wide bus, creating it on first use.
func DefaultBus() *Bus {
	defaultBusMu.Lock()
	defer defaultBusMu.Unlock()
	if defaultBus == nil {
		defaultBus = NewBus()
	}
	return defaultBus
}

// ResetDefaultBus drops the process-wide bus and all its subscriptions.
func ResetDefaultBus() {
	defaultBusMu.Lock()
	defer defaultBusMu.Unlock()
	defaultBus = nil
}
