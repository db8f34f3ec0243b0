package teleop

import "sync"

// PointCloud is a capacity-bounded FIFO of map points. Once full, each
// append evicts the oldest point.
type PointCloud struct {
	mu          sync.RWMutex
	buf         []MapPoint
	start       int
	size        int
	unsubscribe func()
}

// NewPointCloud creates a cloud holding at most capacity points. When bus is
// non-nil the cloud clears itself on ClearMapTopic until Close is called.
func NewPointCloud(capacity int, bus *Bus) *PointCloud {
	if capacity < 1 {
		capacity = DefaultMapCapacity
	}
	pc := &PointCloud{buf: make([]MapPoint, capacity)}
	if bus != nil {
		pc.unsubscribe = bus.Subscribe(ClearMapTopic, pc.Clear)
	}
	return pc
}

// Append adds p as the newest point.
func (pc *PointCloud) Append(p MapPoint) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	capacity := len(pc.buf)
	if pc.size < capacity {
		pc.buf[(pc.start+pc.size)%capacity] = p
		pc.size++
		return
	}
	pc.buf[pc.start] = p
	pc.start = (pc.start + 1) % capacity
}

// Points returns the retained points, oldest first.
func (pc *PointCloud) Points() []MapPoint {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	out := make([]MapPoint, pc.size)
	for i := 0; i < pc.size; i++ {
		out[i] = pc.buf[(pc.start+i)%len(pc.buf)]
	}
	return out
}

// Len returns the number of retained points.
func (pc *PointCloud) Len() int {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.size
}

// Cap returns the configured ceiling.
func (pc *PointCloud) Cap() int {
	return len(pc.buf)
}

// Clear drops every point.
func (pc *PointCloud) Clear() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.start = 0
	pc.size = 0
}

// Close detaches the cloud from the bus.
func (pc *PointCloud) Close() {
	if pc.unsubscribe != nil {
		pc.unsubscribe()
	}
}
