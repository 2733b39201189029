package sfm

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// overviewWidthMM is the canvas width; the height follows the scene aspect.
const overviewWidthMM = 200.0

// Overview drawing colors.
var (
	overviewReference = color.RGBA{R: 61, G: 90, B: 254, A: 255}
	overviewTarget    = color.RGBA{R: 255, G: 111, B: 0, A: 255}
	overviewMatch     = color.RGBA{R: 0, G: 150, B: 90, A: 255}
)

// nrgbaToRGBA converts color.NRGBA to color.RGBA by premultiplying alpha
// This is needed for the canvas library which expects premultiplied RGBA
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	// Premultiply: multiply RGB by alpha
	alpha32 := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * alpha32) / 255),
		G: uint8((uint32(c.G) * alpha32) / 255),
		B: uint8((uint32(c.B) * alpha32) / 255),
		A: c.A,
	}
}

// OverviewRenderer draws a top-down (X/Y) plot of both scenes' camera
// centers: reference centers in blue, target centers in orange, matched
// pairs as green segments, capture trajectories as thin polylines over a
// light grid.
type OverviewRenderer struct {
	Target    *Scene
	Reference *Scene
	Pairs     []Correspondence

	GridSpacing float64           // Grid line spacing in world units
	Padding     float64           // World units around the bounds; 0 picks 5% of the extent
	PointRadius float64           // Camera center radius on the canvas, in mm
	Labels      bool              // Stamp target view ids (PNG only)
	Resolution  canvas.Resolution // Resolution for PNG output (default: 300 DPI)
}

// NewOverviewRenderer creates an overview renderer with default settings
func NewOverviewRenderer(target, reference *Scene, pairs []Correspondence) *OverviewRenderer {
	return &OverviewRenderer{
		Target:      target,
		Reference:   reference,
		Pairs:       pairs,
		GridSpacing: 1.0,
		PointRadius: 1.2,
		Labels:      true,
		Resolution:  canvas.DPI(300),
	}
}

// canvasRenderer is an interface that both svg and rasterizer renderers implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// overviewLayout maps world coordinates onto the canvas.
type overviewLayout struct {
	bound  orb.Bound
	pad    float64 // world units
	scale  float64 // mm per world unit
	width  float64 // mm
	height float64 // mm
}

func (l overviewLayout) toCanvas(p orb.Point) (float64, float64) {
	return (p[0] - l.bound.Min[0] + l.pad) * l.scale, (p[1] - l.bound.Min[1] + l.pad) * l.scale
}

// RenderSVG writes the overview as an SVG to the provided writer
func (r *OverviewRenderer) RenderSVG(w io.Writer) error {
	layout := r.layout()

	svgRenderer := svg.New(w, layout.width, layout.height, nil)
	r.renderToCanvas(svgRenderer, layout)

	// Close writes the closing tags
	return svgRenderer.Close()
}

// RenderPNG writes the overview as a PNG to the provided writer
func (r *OverviewRenderer) RenderPNG(w io.Writer) error {
	layout := r.layout()

	resolution := r.Resolution
	if resolution <= 0 {
		resolution = canvas.DPI(300)
	}

	rast := rasterizer.New(layout.width, layout.height, resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, layout)

	// The rasterizer implements draw.Image, so view identifiers can be
	// stamped directly onto the pixels.
	if r.Labels {
		r.stampLabels(rast, layout, resolution)
	}

	return png.Encode(w, rast)
}

// WriteFile renders the overview to path, selecting the format by file
// extension: ".png" rasterizes, anything else becomes SVG.
func (r *OverviewRenderer) WriteFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating overview directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating overview file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".png") {
		err = r.RenderPNG(f)
	} else {
		err = r.RenderSVG(f)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("rendering overview %s: %w", path, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("writing overview file: %w", err)
	}
	return nil
}

// layout computes the world bounds of every defined camera center and the
// world-to-canvas mapping. Scenes without any defined pose still get a unit
// viewport, so the output degrades to a grid-only document.
func (r *OverviewRenderer) layout() overviewLayout {
	var pts orb.MultiPoint
	for _, s := range []*Scene{r.Reference, r.Target} {
		for _, id := range sortedIDs(s.Poses) {
			pose := s.Poses[id]
			pts = append(pts, orb.Point{pose.Center[0], pose.Center[1]})
		}
	}

	bound := orb.Bound{Max: orb.Point{1, 1}}
	if len(pts) > 0 {
		bound = pts.Bound()
	}

	worldW := bound.Max[0] - bound.Min[0]
	worldH := bound.Max[1] - bound.Min[1]
	if worldW <= 0 {
		worldW = 1
	}
	if worldH <= 0 {
		worldH = 1
	}

	pad := r.Padding
	if pad <= 0 {
		pad = 0.05 * math.Max(worldW, worldH)
	}

	scale := overviewWidthMM / (worldW + 2*pad)
	return overviewLayout{
		bound:  bound,
		pad:    pad,
		scale:  scale,
		width:  overviewWidthMM,
		height: (worldH + 2*pad) * scale,
	}
}

// renderToCanvas draws the overview onto a canvas renderer (shared logic for
// SVG and PNG): background, grid, trajectories, match segments, centers.
func (r *OverviewRenderer) renderToCanvas(renderer canvasRenderer, layout overviewLayout) {
	// Draw white background
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(layout.width, layout.height), bgStyle, canvas.Identity)

	minX, minY := layout.bound.Min[0]-layout.pad, layout.bound.Min[1]-layout.pad
	maxX, maxY := layout.bound.Max[0]+layout.pad, layout.bound.Max[1]+layout.pad

	// Grid lines
	if r.GridSpacing > 0 {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: canvas.Gray}
		gridStyle.StrokeWidth = 0.2
		gridStyle.Dashes = []float64{1.5, 1.5}

		// Vertical grid lines
		for x := math.Floor(minX/r.GridSpacing) * r.GridSpacing; x <= maxX; x += r.GridSpacing {
			gridPath := &canvas.Path{}
			x1, y1 := layout.toCanvas(orb.Point{x, minY})
			x2, y2 := layout.toCanvas(orb.Point{x, maxY})
			gridPath.MoveTo(x1, y1)
			gridPath.LineTo(x2, y2)
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}

		// Horizontal grid lines
		for y := math.Floor(minY/r.GridSpacing) * r.GridSpacing; y <= maxY; y += r.GridSpacing {
			gridPath := &canvas.Path{}
			x1, y1 := layout.toCanvas(orb.Point{minX, y})
			x2, y2 := layout.toCanvas(orb.Point{maxX, y})
			gridPath.MoveTo(x1, y1)
			gridPath.LineTo(x2, y2)
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}
	}

	// Capture trajectories, simplified so dense captures stay readable
	tolerance := math.Max(maxX-minX, maxY-minY) / 200
	r.drawTrajectory(renderer, layout, r.Reference,
		nrgbaToRGBA(color.NRGBA{R: 61, G: 90, B: 254, A: 110}), tolerance)
	r.drawTrajectory(renderer, layout, r.Target,
		nrgbaToRGBA(color.NRGBA{R: 255, G: 111, B: 0, A: 110}), tolerance)

	// Match segments between centers that exist on both sides
	matchStyle := canvas.DefaultStyle
	matchStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	matchStyle.Stroke = canvas.Paint{Color: overviewMatch}
	matchStyle.StrokeWidth = 0.5

	for _, pair := range r.Pairs {
		tv := r.Target.Views[pair.TargetViewID]
		rv := r.Reference.Views[pair.ReferenceViewID]
		if tv == nil || rv == nil || !r.Target.IsPoseDefined(tv) || !r.Reference.IsPoseDefined(rv) {
			continue
		}
		tp := r.Target.Poses[tv.PoseID]
		rp := r.Reference.Poses[rv.PoseID]

		segment := &canvas.Path{}
		x1, y1 := layout.toCanvas(orb.Point{tp.Center[0], tp.Center[1]})
		x2, y2 := layout.toCanvas(orb.Point{rp.Center[0], rp.Center[1]})
		segment.MoveTo(x1, y1)
		segment.LineTo(x2, y2)
		renderer.RenderPath(segment, matchStyle, canvas.Identity)
	}

	// Camera centers, reference below target
	r.drawCenters(renderer, layout, r.Reference, overviewReference)
	r.drawCenters(renderer, layout, r.Target, overviewTarget)
}

// drawTrajectory draws the scene's camera path as a thin polyline.
func (r *OverviewRenderer) drawTrajectory(renderer canvasRenderer, layout overviewLayout, s *Scene, c color.RGBA, tolerance float64) {
	ls := trajectory(s, tolerance)
	if len(ls) < 2 {
		return
	}

	style := canvas.DefaultStyle
	style.Fill = canvas.Paint{Color: canvas.Transparent}
	style.Stroke = canvas.Paint{Color: c}
	style.StrokeWidth = 0.35

	path := &canvas.Path{}
	for i, p := range ls {
		cx, cy := layout.toCanvas(p)
		if i == 0 {
			path.MoveTo(cx, cy)
		} else {
			path.LineTo(cx, cy)
		}
	}
	renderer.RenderPath(path, style, canvas.Identity)
}

// drawCenters draws one filled circle per defined camera center.
func (r *OverviewRenderer) drawCenters(renderer canvasRenderer, layout overviewLayout, s *Scene, c color.RGBA) {
	radius := r.PointRadius
	if radius <= 0 {
		radius = 1.2
	}

	style := canvas.DefaultStyle
	style.Fill = canvas.Paint{Color: c}
	style.Stroke = canvas.Paint{Color: canvas.Black}
	style.StrokeWidth = 0.2

	for _, id := range sortedIDs(s.Views) {
		v := s.Views[id]
		if !s.IsPoseDefined(v) {
			continue
		}
		pose := s.Poses[v.PoseID]
		cx, cy := layout.toCanvas(orb.Point{pose.Center[0], pose.Center[1]})

		circle := canvas.Circle(radius)
		circle = circle.Translate(cx, cy)
		renderer.RenderPath(circle, style, canvas.Identity)
	}
}

// trajectory returns the scene's camera centers ordered by capture sequence
// (frame id, falling back to view id), Douglas-Peucker simplified when long.
func trajectory(s *Scene, tolerance float64) orb.LineString {
	type orderedView struct {
		key    ID
		viewID ID
	}

	var order []orderedView
	for _, id := range sortedIDs(s.Views) {
		v := s.Views[id]
		if !s.IsPoseDefined(v) {
			continue
		}
		key := v.FrameID
		if key == Undefined {
			key = v.ViewID
		}
		order = append(order, orderedView{key: key, viewID: id})
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].key != order[j].key {
			return order[i].key < order[j].key
		}
		return order[i].viewID < order[j].viewID
	})

	ls := make(orb.LineString, 0, len(order))
	for _, ov := range order {
		pose := s.Poses[s.Views[ov.viewID].PoseID]
		ls = append(ls, orb.Point{pose.Center[0], pose.Center[1]})
	}

	if len(ls) > 2 && tolerance > 0 {
		simplified := simplify.DouglasPeucker(tolerance).Simplify(ls.Clone())
		if result, ok := simplified.(orb.LineString); ok {
			ls = result
		}
	}
	return ls
}

// stampLabels writes each target view id next to its camera center. The
// canvas y axis points up while image pixels count down, so the row is
// flipped against the canvas height.
func (r *OverviewRenderer) stampLabels(img draw.Image, layout overviewLayout, resolution canvas.Resolution) {
	dpmm := resolution.DPMM()

	for _, id := range sortedIDs(r.Target.Views) {
		v := r.Target.Views[id]
		if !r.Target.IsPoseDefined(v) {
			continue
		}
		pose := r.Target.Poses[v.PoseID]
		cx, cy := layout.toCanvas(orb.Point{pose.Center[0], pose.Center[1]})

		px := int((cx+r.PointRadius)*dpmm) + 3
		py := int((layout.height - cy) * dpmm)
		drawLabel(img, px, py, fmt.Sprintf("%d", v.ViewID), color.RGBA{0, 0, 0, 255})
	}
}

// drawLabel stamps text onto a raster image at a pixel position.
func drawLabel(img draw.Image, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
