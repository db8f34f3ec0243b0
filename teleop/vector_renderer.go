package teleop

import (
	"fmt"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// DefaultTrailTolerance is the Douglas-Peucker tolerance in meters applied
// to the trail before it is drawn as a vector path.
const DefaultTrailTolerance = 0.01

// canvasRenderer is the subset of the svg and rasterizer renderers we draw with.
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// VectorRenderer draws map scenes with tdewolff/canvas. It uses the same
// projection and layer order as MapRenderer; one canvas unit is one screen pixel.
type VectorRenderer struct {
	*MapRenderer
	TrailTolerance float64
	Resolution     canvas.Resolution // PNG output only
}

// NewVectorRenderer creates a vector renderer sized from the map config.
func NewVectorRenderer(cfg MapConfig) *VectorRenderer {
	return &VectorRenderer{
		MapRenderer:    NewMapRenderer(cfg),
		TrailTolerance: DefaultTrailTolerance,
		Resolution:     canvas.DPMM(1),
	}
}

// RenderSVG writes the scene as SVG.
func (r *VectorRenderer) RenderSVG(w io.Writer, s MapScene) error {
	width, height := float64(r.Width), float64(r.Height)
	out := svg.New(w, width, height, nil)
	r.draw(out, s)
	if err := out.Close(); err != nil {
		return fmt.Errorf("write map svg: %w", err)
	}
	return nil
}

// RenderPNG rasterizes the vector scene at r.Resolution and writes it as PNG.
func (r *VectorRenderer) RenderPNG(w io.Writer, s MapScene) error {
	rast := rasterizer.New(float64(r.Width), float64(r.Height), r.Resolution, canvas.DefaultColorSpace)
	r.draw(rast, s)
	if err := png.Encode(w, rast); err != nil {
		return fmt.Errorf("encode map png: %w", err)
	}
	return nil
}

// SimplifyTrail reduces the trail with Douglas-Peucker. Paths of two points
// or fewer are returned unchanged.
func SimplifyTrail(path orb.LineString, tolerance float64) orb.LineString {
	if len(path) <= 2 || tolerance <= 0 {
		return path
	}
	out, ok := simplify.DouglasPeucker(tolerance).Simplify(path.Clone()).(orb.LineString)
	if !ok {
		return path
	}
	return out
}

func (r *VectorRenderer) draw(out canvasRenderer, s MapScene) {
	width, height := float64(r.Width), float64(r.Height)
	proj := r.Projection(s.View)
	pal := r.Palette

	// Canvas y grows upward.
	toCanvas := func(wx, wy float64) (float64, float64) {
		sx, sy := proj.WorldToScreen(wx, wy)
		return sx, height - sy
	}

	bg := canvas.DefaultStyle
	bg.Fill = canvas.Paint{Color: pal.Background}
	out.RenderPath(canvas.Rectangle(width, height), bg, canvas.Identity)

	r.drawVectorGrid(out, proj)

	pointStyle := canvas.DefaultStyle
	pointStyle.Fill = canvas.Paint{Color: pal.Point}
	pointStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	for _, p := range s.Points {
		x, y := toCanvas(p.X, p.Y)
		if x < -pointSize || x > width || y < -pointSize || y > height {
			continue
		}
		out.RenderPath(canvas.Rectangle(pointSize, pointSize).Translate(x, y-pointSize), pointStyle, canvas.Identity)
	}

	if s.Layers.Trail {
		cellStyle := canvas.DefaultStyle
		cellStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(pal.Cell)}
		cellStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
		for _, c := range s.Cells {
			b := c.Bounds()
			x0, y0 := toCanvas(b.Min[0], b.Min[1])
			x1, y1 := toCanvas(b.Max[0], b.Max[1])
			rect := canvas.Rectangle(math.Abs(x1-x0), math.Abs(y1-y0)).Translate(math.Min(x0, x1), math.Min(y0, y1))
			out.RenderPath(rect, cellStyle, canvas.Identity)
		}

		trail := SimplifyTrail(s.Path, r.TrailTolerance)
		if len(trail) > 1 {
			p := &canvas.Path{}
			for i, pt := range trail {
				x, y := toCanvas(pt[0], pt[1])
				if i == 0 {
					p.MoveTo(x, y)
				} else {
					p.LineTo(x, y)
				}
			}
			trailStyle := canvas.DefaultStyle
			trailStyle.Fill = canvas.Paint{Color: canvas.Transparent}
			trailStyle.Stroke = canvas.Paint{Color: pal.Trail}
			trailStyle.StrokeWidth = 2
			out.RenderPath(p, trailStyle, canvas.Identity)
		}
	}

	if s.Layers.Robot && s.Pose != nil {
		x, y := toCanvas(s.Pose.X, s.Pose.Y)
		// Screen-up is +90 degrees on the canvas.
		deg := 90 - proj.ScreenRotation(s.Pose.Heading)*180/math.Pi
		m := canvas.Identity.Translate(x, y).Rotate(deg)

		body := canvas.DefaultStyle
		body.Fill = canvas.Paint{Color: pal.Robot}
		body.Stroke = canvas.Paint{Color: canvas.Black}
		body.StrokeWidth = 2
		out.RenderPath(canvas.Circle(glyphSize/2), body, m)

		heading := canvas.DefaultStyle
		heading.Fill = canvas.Paint{Color: canvas.Transparent}
		heading.Stroke = canvas.Paint{Color: canvas.Black}
		heading.StrokeWidth = 2
		line := &canvas.Path{}
		line.MoveTo(0, 0)
		line.LineTo(glyphSize*0.6, 0)
		out.RenderPath(line, heading, m)
	}
}

func (r *VectorRenderer) drawVectorGrid(out canvasRenderer, proj Projection) {
	width, height := float64(r.Width), float64(r.Height)
	step := GridStep(proj)

	wxTop, wyLeft := proj.ScreenToWorld(0, 0)
	wxBottom, wyRight := proj.ScreenToWorld(width, height)
	loX, hiX := clampRange(math.Min(wxTop, wxBottom), math.Max(wxTop, wxBottom))
	loY, hiY := clampRange(math.Min(wyLeft, wyRight), math.Max(wyLeft, wyRight))

	grid := &canvas.Path{}
	for wy := math.Ceil(loY/step) * step; wy <= hiY; wy += step {
		sx, _ := proj.WorldToScreen(0, wy)
		grid.MoveTo(sx, 0)
		grid.LineTo(sx, height)
	}
	for wx := math.Ceil(loX/step) * step; wx <= hiX; wx += step {
		_, sy := proj.WorldToScreen(wx, 0)
		grid.MoveTo(0, height-sy)
		grid.LineTo(width, height-sy)
	}
	if grid.Empty() {
		return
	}

	style := canvas.DefaultStyle
	style.Fill = canvas.Paint{Color: canvas.Transparent}
	style.Stroke = canvas.Paint{Color: r.Palette.Grid}
	style.StrokeWidth = 1
	out.RenderPath(grid, style, canvas.Identity)
}
