package teleop

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	// GridSpacing is the base world spacing of grid lines in meters.
	GridSpacing = 0.5
	// GridExtent bounds the grid to +-GridExtent meters around the origin.
	GridExtent = 100.0
	// MinGridPixels is the smallest on-screen grid spacing before it widens.
	MinGridPixels = 4.0

	pointSize = 2
	glyphSize = 22
)

// Palette holds the colors of each map layer.
type Palette struct {
	Background color.RGBA
	Grid       color.RGBA
	Point      color.RGBA
	Cell       color.NRGBA
	Trail      color.RGBA
	Robot      color.RGBA
	Label      color.RGBA
}

// DefaultPalette returns the console's dark theme.
func DefaultPalette() Palette {
	return Palette{
		Background: parseHexColor("#0f172a"),
		Grid:       parseHexColor("#1e293b"),
		Point:      parseHexColor("#10b981"),
		Cell:       color.NRGBA{0, 255, 0, 51}, // 20% green
		Trail:      parseHexColor("#00ff00"),
		Robot:      parseHexColor("#3b82f6"),
		Label:      parseHexColor("#94a3b8"),
	}
}

// Layers selects the optional map layers.
type Layers struct {
	Trail bool `json:"trail"`
	Robot bool `json:"robot"`
}

// MapScene is everything one map frame draws, captured at a single instant.
type MapScene struct {
	Points []MapPoint
	Path   orb.LineString
	Cells  []Cell
	Pose   *Pose
	View   ViewportTransform
	Layers Layers
}

// CaptureScene copies the current state of the map sources into a scene.
// Nil sources contribute nothing.
func CaptureScene(cloud *PointCloud, acc *SpatialAccumulator, st *TelemetryStore, view *Viewport, layers Layers) MapScene {
	s := MapScene{Layers: layers, View: ViewportTransform{Scale: DefaultViewScale}}
	if cloud != nil {
		s.Points = cloud.Points()
	}
	if acc != nil && layers.Trail {
		s.Path = acc.Path()
		s.Cells = acc.VisitedCells()
	}
	if st != nil {
		if p, ok := st.Pose(); ok {
			s.Pose = &p
		}
	}
	if view != nil {
		s.View = view.Transform()
	}
	return s
}

// MapRenderer rasterizes map scenes.
type MapRenderer struct {
	Width         int
	Height        int
	UnitsPerMeter float64
	Palette       Palette
}

// NewMapRenderer creates a renderer sized from the map config.
func NewMapRenderer(cfg MapConfig) *MapRenderer {
	r := &MapRenderer{
		Width:         cfg.Width,
		Height:        cfg.Height,
		UnitsPerMeter: cfg.UnitsPerMeter,
		Palette:       DefaultPalette(),
	}
	if r.Width <= 0 {
		r.Width = DefaultMapWidth
	}
	if r.Height <= 0 {
		r.Height = DefaultMapHeight
	}
	if r.UnitsPerMeter <= 0 {
		r.UnitsPerMeter = DefaultUnitsPerMeter
	}
	return r
}

// Projection returns the screen projection for a view.
func (r *MapRenderer) Projection(view ViewportTransform) Projection {
	return Projection{
		Width:             float64(r.Width),
		Height:            float64(r.Height),
		UnitsPerMeter:     r.UnitsPerMeter,
		ViewportTransform: view,
	}
}

// Render draws the scene. Layers are painted background, grid, map points,
// trail, robot, zoom label.
func (r *MapRenderer) Render(s MapScene) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	proj := r.Projection(s.View)
	pal := r.Palette

	fillRect(img, 0, 0, r.Width, r.Height, pal.Background)
	r.drawGrid(img, proj)

	for _, p := range s.Points {
		sx, sy := proj.WorldToScreen(p.X, p.Y)
		fillRect(img, int(math.Floor(sx)), int(math.Floor(sy)), pointSize, pointSize, pal.Point)
	}

	if s.Layers.Trail {
		for _, c := range s.Cells {
			b := c.Bounds()
			x0, y0 := proj.WorldToScreen(b.Min[0], b.Min[1])
			x1, y1 := proj.WorldToScreen(b.Max[0], b.Max[1])
			blendRect(img, math.Min(x0, x1), math.Min(y0, y1), math.Max(x0, x1), math.Max(y0, y1), pal.Cell)
		}
		for i := 1; i < len(s.Path); i++ {
			ax, ay := proj.WorldToScreen(s.Path[i-1][0], s.Path[i-1][1])
			bx, by := proj.WorldToScreen(s.Path[i][0], s.Path[i][1])
			drawLine(img, ax, ay, bx, by, pal.Trail)
		}
	}

	if s.Layers.Robot && s.Pose != nil {
		sx, sy := proj.WorldToScreen(s.Pose.X, s.Pose.Y)
		// Glyph angle 0 points screen-right; heading 0 points screen-up.
		angle := proj.ScreenRotation(s.Pose.Heading) - math.Pi/2
		drawRobotGlyph(img, int(math.Round(sx)), int(math.Round(sy)), glyphSize, angle, pal.Robot)
	}

	drawText(img, 8, r.Height-8, zoomLabel(s.View.Scale), pal.Label)
	return img
}

// EncodePNG renders the scene and writes it as PNG.
func (r *MapRenderer) EncodePNG(w io.Writer, s MapScene) error {
	if err := png.Encode(w, r.Render(s)); err != nil {
		return fmt.Errorf("encode map png: %w", err)
	}
	return nil
}

// GridStep returns the world grid spacing for a projection: GridSpacing,
// doubled until a cell spans at least MinGridPixels.
func GridStep(proj Projection) float64 {
	step := GridSpacing
	ppm := proj.PixelsPerMeter()
	if ppm <= 0 {
		return step
	}
	for step*ppm < MinGridPixels {
		step *= 2
	}
	return step
}

// drawGrid paints the grid lines inside the visible part of +-GridExtent.
func (r *MapRenderer) drawGrid(img *image.RGBA, proj Projection) {
	step := GridStep(proj)

	// Screen x follows world y, screen y follows world x.
	wxTop, wyLeft := proj.ScreenToWorld(0, 0)
	wxBottom, wyRight := proj.ScreenToWorld(float64(r.Width), float64(r.Height))
	loX, hiX := clampRange(math.Min(wxTop, wxBottom), math.Max(wxTop, wxBottom))
	loY, hiY := clampRange(math.Min(wyLeft, wyRight), math.Max(wyLeft, wyRight))

	for wy := math.Ceil(loY/step) * step; wy <= hiY; wy += step {
		sx, _ := proj.WorldToScreen(0, wy)
		x := int(math.Round(sx))
		for y := 0; y < r.Height; y++ {
			setPixel(img, x, y, r.Palette.Grid)
		}
	}
	for wx := math.Ceil(loX/step) * step; wx <= hiX; wx += step {
		_, sy := proj.WorldToScreen(wx, 0)
		y := int(math.Round(sy))
		for x := 0; x < r.Width; x++ {
			setPixel(img, x, y, r.Palette.Grid)
		}
	}
}

func clampRange(lo, hi float64) (float64, float64) {
	return math.Max(lo, -GridExtent), math.Min(hi, GridExtent)
}

func zoomLabel(scale float64) string {
	return fmt.Sprintf("Zoom: %.2fx", scale)
}

func setPixel(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

func fillRect(img *image.RGBA, x, y, w, h int, c color.RGBA) {
	for dy := 0; dy < h; dy++ {
		for dx := 0; dx < w; dx++ {
			setPixel(img, x+dx, y+dy, c)
		}
	}
}

// blendRect alpha-blends fg over every pixel whose center lies in the
// rectangle.
func blendRect(img *image.RGBA, x0, y0, x1, y1 float64, fg color.NRGBA) {
	b := img.Bounds()
	minX := max(b.Min.X, int(math.Floor(x0)))
	minY := max(b.Min.Y, int(math.Floor(y0)))
	maxX := min(b.Max.X, int(math.Ceil(x1)))
	maxY := min(b.Max.Y, int(math.Ceil(y1)))
	for y := minY; y < maxY; y++ {
		for x := minX; x < maxX; x++ {
			bg := img.RGBAAt(x, y)
			n := blendColors(bg, fg)
			img.SetRGBA(x, y, color.RGBA{n.R, n.G, n.B, n.A})
		}
	}
}

// blendColors composites fg over an opaque or premultiplied bg.
func blendColors(bg color.RGBA, fg color.NRGBA) color.NRGBA {
	var base color.NRGBA
	switch bg.A {
	case 0:
	case 255:
		base = color.NRGBA{bg.R, bg.G, bg.B, 255}
	default:
		a := uint32(bg.A)
		base = color.NRGBA{
			R: uint8(uint32(bg.R) * 255 / a),
			G: uint8(uint32(bg.G) * 255 / a),
			B: uint8(uint32(bg.B) * 255 / a),
			A: bg.A,
		}
	}

	alpha := float64(fg.A) / 255
	inv := 1 - alpha
	return color.NRGBA{
		R: uint8(float64(fg.R)*alpha + float64(base.R)*inv),
		G: uint8(float64(fg.G)*alpha + float64(base.G)*inv),
		B: uint8(float64(fg.B)*alpha + float64(base.B)*inv),
		A: 255,
	}
}

// nrgbaToRGBA premultiplies alpha.
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	switch c.A {
	case 0:
		return color.RGBA{}
	case 255:
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	a := uint32(c.A)
	return color.RGBA{
		R: uint8(uint32(c.R) * a / 255),
		G: uint8(uint32(c.G) * a / 255),
		B: uint8(uint32(c.B) * a / 255),
		A: c.A,
	}
}

// drawLine draws a 2 px wide segment.
func drawLine(img *image.RGBA, x0, y0, x1, y1 float64, c color.RGBA) {
	steps := int(math.Ceil(math.Max(math.Abs(x1-x0), math.Abs(y1-y0))))
	if steps == 0 {
		steps = 1
	}
	// Keep degenerate far-off segments from spinning.
	if steps > 10000 {
		steps = 10000
	}
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x := int(math.Round(x0 + t*(x1-x0)))
		y := int(math.Round(y0 + t*(y1-y0)))
		setPixel(img, x, y, c)
		setPixel(img, x+1, y, c)
		setPixel(img, x, y+1, c)
	}
}

// drawRobotGlyph draws the robot body with a bumper and heading line.
// angle is in radians in image coordinates: 0 points right, pi/2 points down.
func drawRobotGlyph(img *image.RGBA, cx, cy, size int, angle float64, c color.RGBA) {
	radius := float64(size) / 2
	outline := color.RGBA{40, 40, 40, 255}
	bumper := color.RGBA{60, 60, 60, 255}
	sensor := color.RGBA{200, 200, 200, 255}

	cos, sin := math.Cos(angle), math.Sin(angle)
	// toLocal rotates an image offset into the robot frame (+x forward).
	toLocal := func(dx, dy float64) (float64, float64) {
		return dx*cos + dy*sin, -dx*sin + dy*cos
	}
	toImage := func(lx, ly float64) (float64, float64) {
		return lx*cos - ly*sin, lx*sin + ly*cos
	}

	r := int(radius) + 3
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			dist := math.Hypot(float64(dx), float64(dy))
			switch {
			case dist > radius+2:
				continue
			case dist > radius:
				setPixel(img, cx+dx, cy+dy, outline)
			default:
				lx, ly := toLocal(float64(dx), float64(dy))
				if lx > radius*0.75 && math.Abs(ly) < radius*0.7 {
					setPixel(img, cx+dx, cy+dy, bumper)
				} else {
					setPixel(img, cx+dx, cy+dy, c)
				}
			}
		}
	}

	sr := radius * 0.25
	ox, oy := toImage(radius*0.15, 0)
	scx, scy := float64(cx)+ox, float64(cy)+oy
	for dy := -int(sr) - 1; dy <= int(sr)+1; dy++ {
		for dx := -int(sr) - 1; dx <= int(sr)+1; dx++ {
			if math.Hypot(float64(dx), float64(dy)) <= sr {
				setPixel(img, int(scx)+dx, int(scy)+dy, sensor)
			}
		}
	}

	ax, ay := toImage(sr+1, 0)
	bx, by := toImage(radius*0.6, 0)
	drawLine(img, float64(cx)+ax, float64(cy)+ay, float64(cx)+bx, float64(cy)+by, outline)
}

func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// parseHexColor parses "#rrggbb". Malformed input yields opaque red.
func parseHexColor(hex string) color.RGBA {
	fallback := color.RGBA{255, 0, 0, 255}
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	if len(hex) != 6 {
		return fallback
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		return fallback
	}
	return color.RGBA{r, g, b, 255}
}
