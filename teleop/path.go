package teleop

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

const (
	// PathMinStep is the displacement (meters) a pose must move from the last
	// sample before a new path sample is recorded.
	PathMinStep = 0.02

	// CellSize is the edge length (meters) of a visited grid cell.
	CellSize = 0.05
)

// Cell identifies one visited grid square.
type Cell struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// CellOf returns the grid cell containing the world point (x, y).
func CellOf(x, y float64) Cell {
	return Cell{X: int(math.Floor(x / CellSize)), Y: int(math.Floor(y / CellSize))}
}

// Key encodes the cell as "gx,gy".
func (c Cell) Key() string {
	return fmt.Sprintf("%d,%d", c.X, c.Y)
}

// parseCellKey decodes a key produced by Cell.Key.
func parseCellKey(key string) (Cell, error) {
	var c Cell
	if _, err := fmt.Sscanf(key, "%d,%d", &c.X, &c.Y); err != nil {
		return Cell{}, fmt.Errorf("invalid cell key %q: %w", key, err)
	}
	return c, nil
}

// Bounds returns the world-space rectangle covered by the cell.
func (c Cell) Bounds() orb.Bound {
	lo := orb.Point{float64(c.X) * CellSize, float64(c.Y) * CellSize}
	return orb.Bound{Min: lo, Max: orb.Point{lo[0] + CellSize, lo[1] + CellSize}}
}

// SpatialAccumulator turns the stream of live poses into a down-sampled
// path and a set of visited cells.
type SpatialAccumulator struct {
	mu          sync.RWMutex
	path        orb.LineString
	visited     map[string]Cell
	unsubscribe func()
}

// NewSpatialAccumulator creates an empty accumulator. When bus is non-nil it
// clears itself on ClearMapTopic until Close is called.
func NewSpatialAccumulator(bus *Bus) *SpatialAccumulator {
	sa := &SpatialAccumulator{visited: make(map[string]Cell)}
	if bus != nil {
		sa.unsubscribe = bus.Subscribe(ClearMapTopic, sa.ClearPath)
	}
	return sa
}

// Observe records a pose. A path sample is appended only when the path is
// empty or the pose is more than PathMinStep from the last sample; the
// pose's cell is always marked visited.
func (sa *SpatialAccumulator) Observe(p Pose) {
	pt := orb.Point{p.X, p.Y}

	sa.mu.Lock()
	defer sa.mu.Unlock()

	if n := len(sa.path); n == 0 || planar.Distance(sa.path[n-1], pt) > PathMinStep {
		sa.path = append(sa.path, pt)
	}

	cell := CellOf(p.X, p.Y)
	sa.visited[cell.Key()] = cell
}

// Path returns a copy of the path samples, oldest first.
func (sa *SpatialAccumulator) Path() orb.LineString {
	sa.mu.RLock()
	defer sa.mu.RUnlock()
	return sa.path.Clone()
}

// PathLen returns the number of path samples.
func (sa *SpatialAccumulator) PathLen() int {
	sa.mu.RLock()
	defer sa.mu.RUnlock()
	return len(sa.path)
}

// VisitedCells returns the visited cells ordered by key.
func (sa *SpatialAccumulator) VisitedCells() []Cell {
	sa.mu.RLock()
	defer sa.mu.RUnlock()

	keys := make([]string, 0, len(sa.visited))
	for k := range sa.visited {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cells := make([]Cell, len(keys))
	for i, k := range keys {
		cells[i] = sa.visited[k]
	}
	return cells
}

// VisitedCount returns the number of distinct visited cells.
func (sa *SpatialAccumulator) VisitedCount() int {
	sa.mu.RLock()
	defer sa.mu.RUnlock()
	return len(sa.visited)
}

// Distance returns the total length of the recorded path in meters.
func (sa *SpatialAccumulator) Distance() float64 {
	sa.mu.RLock()
	defer sa.mu.RUnlock()
	return planar.Length(sa.path)
}

// ClearPath empties both the path and the visited cells.
func (sa *SpatialAccumulator) ClearPath() {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	sa.path = nil
	sa.visited = make(map[string]Cell)
}

// Close detaches the accumulator from the bus.
func (sa *SpatialAccumulator) Close() {
	if sa.unsubscribe != nil {
		sa.unsubscribe()
	}
}
