package sfm

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/tdewolff/canvas"
)

// overviewFixture builds two overlapping calibrated scenes and their by-id
// correspondence pairs.
func overviewFixture() (*Scene, *Scene, []Correspondence) {
	target := NewScene()
	reference := NewScene()
	for i := ID(1); i <= 4; i++ {
		addCalibratedView(target, i)
		addCalibratedView(reference, i+2)
	}
	return target, reference, MatchViewsByID(target, reference)
}

func TestOverviewRenderSVG(t *testing.T) {
	target, reference, pairs := overviewFixture()
	r := NewOverviewRenderer(target, reference, pairs)

	var buf bytes.Buffer
	if err := r.RenderSVG(&buf); err != nil {
		t.Fatalf("Failed to render to SVG: %v", err)
	}

	if buf.Len() == 0 {
		t.Fatal("SVG output is empty")
	}
	if !bytes.Contains(buf.Bytes(), []byte("<svg")) {
		t.Errorf("Output does not contain <svg tag")
	}
	if !bytes.Contains(buf.Bytes(), []byte("path")) {
		t.Errorf("Output does not contain path elements")
	}

	t.Logf("Generated SVG length: %d", buf.Len())
}

func TestOverviewRenderPNG(t *testing.T) {
	target, reference, pairs := overviewFixture()
	r := NewOverviewRenderer(target, reference, pairs)
	r.Resolution = canvas.DPI(96)

	var buf bytes.Buffer
	if err := r.RenderPNG(&buf); err != nil {
		t.Fatalf("Failed to render to PNG: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Failed to decode PNG: %v", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		t.Errorf("PNG has zero dimensions: %v", bounds)
	}

	t.Logf("Generated PNG size: %d bytes, dimensions: %dx%d", buf.Len(), bounds.Dx(), bounds.Dy())
}

func TestOverviewResolutionScalesOutput(t *testing.T) {
	target, reference, pairs := overviewFixture()

	renderAt := func(res canvas.Resolution) int {
		t.Helper()
		r := NewOverviewRenderer(target, reference, pairs)
		r.Labels = false
		r.Resolution = res

		var buf bytes.Buffer
		if err := r.RenderPNG(&buf); err != nil {
			t.Fatalf("Failed to render to PNG: %v", err)
		}
		img, err := png.Decode(bytes.NewReader(buf.Bytes()))
		if err != nil {
			t.Fatalf("Failed to decode PNG: %v", err)
		}
		return img.Bounds().Dx()
	}

	low := renderAt(canvas.DPI(48))
	high := renderAt(canvas.DPI(96))
	if high <= low {
		t.Errorf("PNG width at 96 DPI (%d) should exceed width at 48 DPI (%d)", high, low)
	}
}

func TestOverviewEmptyScenes(t *testing.T) {
	r := NewOverviewRenderer(NewScene(), NewScene(), nil)

	var buf bytes.Buffer
	if err := r.RenderSVG(&buf); err != nil {
		t.Fatalf("Empty scenes should still render: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("<svg")) {
		t.Errorf("Output does not contain <svg tag")
	}
}

func TestOverviewWriteFile(t *testing.T) {
	target, reference, pairs := overviewFixture()
	r := NewOverviewRenderer(target, reference, pairs)
	r.Resolution = canvas.DPI(96)

	dir := t.TempDir()

	svgPath := filepath.Join(dir, "overview.svg")
	if err := r.WriteFile(svgPath); err != nil {
		t.Fatalf("WriteFile(svg): %v", err)
	}
	if info, err := os.Stat(svgPath); err != nil || info.Size() == 0 {
		t.Errorf("SVG file missing or empty: %v", err)
	}

	pngPath := filepath.Join(dir, "overview.png")
	if err := r.WriteFile(pngPath); err != nil {
		t.Fatalf("WriteFile(png): %v", err)
	}
	f, err := os.Open(pngPath)
	if err != nil {
		t.Fatalf("opening rendered PNG: %v", err)
	}
	defer f.Close()
	if _, err := png.Decode(f); err != nil {
		t.Errorf("rendered PNG does not decode: %v", err)
	}
}
