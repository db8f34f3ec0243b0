package teleop

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testViewport() *Viewport {
	return NewViewport(DefaultConfig().Map)
}

func TestViewport_Defaults(t *testing.T) {
	v := testViewport()
	assert.Equal(t, ViewportTransform{Scale: DefaultViewScale}, v.Transform())
}

func TestViewport_Wheel(t *testing.T) {
	v := testViewport()

	got := v.Wheel(-100)
	assert.InDelta(t, 5*1.1, got.Scale, 1e-9, "scrolling up zooms in")

	got = v.Wheel(200)
	assert.InDelta(t, 5*1.1*0.8, got.Scale, 1e-9, "scrolling down zooms out")
}

func TestViewport_WheelClamps(t *testing.T) {
	v := testViewport()

	for i := 0; i < 100; i++ {
		v.Wheel(-900)
	}
	assert.Equal(t, 100.0, v.Transform().Scale)

	for i := 0; i < 100; i++ {
		v.Wheel(900)
	}
	assert.Equal(t, 0.1, v.Transform().Scale)

	// A delta beyond 1000 would flip the sign without the clamp.
	v.Reset()
	v.Wheel(5000)
	assert.Equal(t, 0.1, v.Transform().Scale)
}

func TestViewport_ScaleNeverLeavesBounds(t *testing.T) {
	v := testViewport()
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		s := v.Wheel(rng.Float64()*2400 - 1200).Scale
		if s < 0.1 || s > 100 {
			t.Fatalf("scale %v escaped bounds after %d events", s, i+1)
		}
	}
}

func TestViewport_ZoomButtons(t *testing.T) {
	v := testViewport()
	assert.InDelta(t, 6.0, v.ZoomIn().Scale, 1e-9)
	assert.InDelta(t, 5.0, v.ZoomOut().Scale, 1e-9)
}

func TestViewport_Pan(t *testing.T) {
	v := testViewport()

	v.PanMove(50, 50)
	assert.Zero(t, v.Transform().OffsetX, "move without drag is ignored")

	v.PanStart(10, 10)
	v.PanMove(15, 8)
	got := v.PanMove(25, 20)
	v.PanEnd()
	assert.Equal(t, 15.0, got.OffsetX)
	assert.Equal(t, 10.0, got.OffsetY)

	v.PanMove(100, 100)
	assert.Equal(t, 15.0, v.Transform().OffsetX, "move after PanEnd is ignored")

	got = v.PanBy(-5, 5)
	assert.Equal(t, 10.0, got.OffsetX)
	assert.Equal(t, 15.0, got.OffsetY)
}

func TestViewport_ZoomThenResetRestoresDefaults(t *testing.T) {
	v := testViewport()
	v.Wheel(-400)
	v.ZoomIn()
	v.PanStart(0, 0)
	v.PanMove(123, -45)

	assert.Equal(t, ViewportTransform{Scale: DefaultViewScale}, v.Reset())
	// Reset also ends any drag in progress.
	v.PanMove(500, 500)
	assert.Zero(t, v.Transform().OffsetX)
}

func TestNewViewport_ClampsDefaultScale(t *testing.T) {
	v := NewViewport(MapConfig{DefaultScale: 500, MinScale: 0.5, MaxScale: 50})
	assert.Equal(t, 50.0, v.Transform().Scale)
}

func TestProjection_WorldToScreen(t *testing.T) {
	p := Projection{Width: 800, Height: 600, UnitsPerMeter: 100,
		ViewportTransform: ViewportTransform{Scale: 1, OffsetX: 10, OffsetY: -20}}

	sx, sy := p.WorldToScreen(0, 0)
	assert.Equal(t, 410.0, sx)
	assert.Equal(t, 280.0, sy)

	// One meter forward moves up the screen.
	sx, sy = p.WorldToScreen(1, 0)
	assert.Equal(t, 410.0, sx)
	assert.Equal(t, 180.0, sy)

	// One meter to the robot's left moves left on screen.
	sx, sy = p.WorldToScreen(0, 1)
	assert.Equal(t, 310.0, sx)
	assert.Equal(t, 280.0, sy)
}

func TestProjection_RoundTrip(t *testing.T) {
	p := Projection{Width: 640, Height: 480, UnitsPerMeter: 100,
		ViewportTransform: ViewportTransform{Scale: 3.7, OffsetX: -12, OffsetY: 33}}
	wx, wy := p.ScreenToWorld(p.WorldToScreen(1.25, -0.5))
	assert.InDelta(t, 1.25, wx, 1e-9)
	assert.InDelta(t, -0.5, wy, 1e-9)
}

func TestProjection_ScreenRotation(t *testing.T) {
	var p Projection
	assert.Equal(t, -math.Pi/2, p.ScreenRotation(math.Pi/2))
}
