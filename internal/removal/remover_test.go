package removal

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/striplab/markless/internal/config"
	"github.com/striplab/markless/internal/detect"
	"github.com/striplab/markless/internal/geometry"
	"github.com/striplab/markless/internal/inpaint"
)

func testRemover() *Remover {
	engine := inpaint.NewHybrid(nil, inpaint.NewOpenCV(zerolog.Nop()), zerolog.Nop())
	return NewRemover(engine, config.Default().Removal, zerolog.Nop())
}

// writeTestPNG saves an NRGBA image with a white block standing in for a
// watermark and one semi-transparent probe pixel outside it.
func writeTestPNG(t *testing.T, path string, w, h int, box geometry.Box, probe image.Point) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 120, G: 125, B: 130, A: 255})
		}
	}
	for y := box.Y1; y < box.Y2; y++ {
		for x := box.X1; x < box.X2; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	img.SetNRGBA(probe.X, probe.Y, color.NRGBA{R: 120, G: 125, B: 130, A: 128})

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestRemoveFileAlphaReconstruction(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.png")
	out := filepath.Join(dir, "out.png")

	box := geometry.Box{X1: 120, Y1: 120, X2: 180, Y2: 160}
	probe := image.Pt(10, 10)
	writeTestPNG(t, in, 200, 200, box, probe)

	res := testRemover().RemoveFile(in, out, box, detect.ModeNormal, 0.9, nil)
	if !res.Success {
		t.Fatalf("RemoveFile() failed: %s", res.Error)
	}
	if res.Algorithm != "OpenCV" {
		t.Errorf("algorithm = %q, want OpenCV without a neural backend", res.Algorithm)
	}
	if res.Format != "png" {
		t.Errorf("format = %q, want png for a transparent source", res.Format)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	decoded, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}

	alphaAt := func(x, y int) uint8 {
		return color.NRGBAModel.Convert(decoded.At(x, y)).(color.NRGBA).A
	}
	if got := alphaAt(probe.X, probe.Y); got != 128 {
		t.Errorf("probe alpha = %d, want the original 128", got)
	}
	for _, pt := range []image.Point{{130, 130}, {150, 140}, {175, 155}} {
		if got := alphaAt(pt.X, pt.Y); got != 255 {
			t.Errorf("alpha inside repaired box at %v = %d, want 255", pt, got)
		}
	}
}

func TestRemoveFileMissingInput(t *testing.T) {
	r := testRemover()
	res := r.RemoveFile("/nonexistent/in.png", filepath.Join(t.TempDir(), "out.png"),
		geometry.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}, detect.ModeNormal, 0.9, nil)
	if res.Success {
		t.Fatal("missing input reported success")
	}
	if res.Error == "" {
		t.Error("failure carries no error message")
	}

	stats := r.CurrentStats()
	if stats.Processed != 1 || stats.Failed != 1 {
		t.Errorf("stats = %+v, want processed=1 failed=1", stats)
	}
}

func TestStatsTrackBackends(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.png")
	writeTestPNG(t, in, 200, 200, geometry.Box{X1: 120, Y1: 120, X2: 180, Y2: 160}, image.Pt(10, 10))

	r := testRemover()
	res := r.RemoveFile(in, filepath.Join(dir, "out.png"),
		geometry.Box{X1: 120, Y1: 120, X2: 180, Y2: 160}, detect.ModeNormal, 0.9, nil)
	if !res.Success {
		t.Fatalf("RemoveFile() failed: %s", res.Error)
	}

	stats := r.CurrentStats()
	if stats.Successful != 1 || stats.OpenCVUsed != 1 || stats.LamaUsed != 0 {
		t.Errorf("stats = %+v, want one successful opencv removal", stats)
	}
}
