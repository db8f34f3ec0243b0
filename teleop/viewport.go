package teleop

import (
	"math"
	"sync"
)

const (
	// WheelZoomFactor converts wheel deltaY into a relative scale change.
	WheelZoomFactor = 0.001

	// ZoomStep is the ratio applied by the zoom in/out buttons.
	ZoomStep = 1.2
)

// ViewportTransform maps world meters to screen pixels together with
// MapConfig.UnitsPerMeter.
type ViewportTransform struct {
	Scale   float64 `json:"scale"`
	OffsetX float64 `json:"offsetX"`
	OffsetY float64 `json:"offsetY"`
}

// Viewport owns the pan/zoom state of the map view.
type Viewport struct {
	mu           sync.RWMutex
	t            ViewportTransform
	defaultScale float64
	minScale     float64
	maxScale     float64

	dragging     bool
	lastX, lastY float64
}

// NewViewport creates a viewport at the configured default scale.
func NewViewport(cfg MapConfig) *Viewport {
	v := &Viewport{
		defaultScale: cfg.DefaultScale,
		minScale:     cfg.MinScale,
		maxScale:     cfg.MaxScale,
	}
	if v.minScale <= 0 {
		v.minScale = DefaultMinScale
	}
	if v.maxScale < v.minScale {
		v.maxScale = DefaultMaxScale
	}
	if v.defaultScale == 0 {
		v.defaultScale = DefaultViewScale
	}
	v.defaultScale = v.clamp(v.defaultScale)
	v.t.Scale = v.defaultScale
	return v
}

func (v *Viewport) clamp(s float64) float64 {
	return math.Min(v.maxScale, math.Max(v.minScale, s))
}

// Transform returns the current transform.
func (v *Viewport) Transform() ViewportTransform {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.t
}

// Wheel applies one wheel event: newScale = scale * (1 - deltaY*WheelZoomFactor),
// clamped to the scale bounds.
func (v *Viewport) Wheel(deltaY float64) ViewportTransform {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.t.Scale = v.clamp(v.t.Scale * (1 - deltaY*WheelZoomFactor))
	return v.t
}

// ZoomIn multiplies the scale by ZoomStep.
func (v *Viewport) ZoomIn() ViewportTransform {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.t.Scale = v.clamp(v.t.Scale * ZoomStep)
	return v.t
}

// ZoomOut divides the scale by ZoomStep.
func (v *Viewport) ZoomOut() ViewportTransform {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.t.Scale = v.clamp(v.t.Scale / ZoomStep)
	return v.t
}

// PanStart begins a drag at screen position (x, y).
func (v *Viewport) PanStart(x, y float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dragging = true
	v.lastX, v.lastY = x, y
}

// PanMove adds the delta since the previous drag position to the offset.
// Moves outside a drag are ignored.
func (v *Viewport) PanMove(x, y float64) ViewportTransform {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.dragging {
		return v.t
	}
	v.t.OffsetX += x - v.lastX
	v.t.OffsetY += y - v.lastY
	v.lastX, v.lastY = x, y
	return v.t
}

// PanEnd finishes a drag.
func (v *Viewport) PanEnd() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dragging = false
}

// PanBy shifts the offset directly.
func (v *Viewport) PanBy(dx, dy float64) ViewportTransform {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.t.OffsetX += dx
	v.t.OffsetY += dy
	return v.t
}

// Reset restores the default scale and a zero offset.
func (v *Viewport) Reset() ViewportTransform {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.t = ViewportTransform{Scale: v.defaultScale}
	v.dragging = false
	return v.t
}

// Projection maps world meters onto a width x height screen. Robot forward
// (+X) points screen-up and world +Y points screen-left.
type Projection struct {
	Width, Height float64
	UnitsPerMeter float64
	ViewportTransform
}

// WorldToScreen projects a world point to screen pixels.
func (p Projection) WorldToScreen(wx, wy float64) (sx, sy float64) {
	k := p.UnitsPerMeter * p.Scale
	sx = p.Width/2 + p.OffsetX - wy*k
	sy = p.Height/2 + p.OffsetY - wx*k
	return sx, sy
}

// ScreenToWorld inverts WorldToScreen.
func (p Projection) ScreenToWorld(sx, sy float64) (wx, wy float64) {
	k := p.UnitsPerMeter * p.Scale
	wy = (p.Width/2 + p.OffsetX - sx) / k
	wx = (p.Height/2 + p.OffsetY - sy) / k
	return wx, wy
}

// ScreenRotation returns the glyph rotation for a world heading.
func (p Projection) ScreenRotation(heading float64) float64 {
	return -heading
}

// PixelsPerMeter is the current on-screen size of one meter.
func (p Projection) PixelsPerMeter() float64 {
	return p.UnitsPerMeter * p.Scale
}
