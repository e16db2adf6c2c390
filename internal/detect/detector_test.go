package detect

import (
	"image"
	"testing"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/striplab/markless/internal/config"
	"github.com/striplab/markless/internal/geometry"
)

// syntheticWatermark builds a flat gray image with a solid white block
// standing in for a watermark backing.
func syntheticWatermark(w, h int, box geometry.Box) gocv.Mat {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(128, 128, 128, 0), h, w, gocv.MatTypeCV8UC3)
	region := img.Region(image.Rect(box.X1, box.Y1, box.X2, box.Y2))
	region.SetTo(gocv.Scalar{Val1: 255, Val2: 255, Val3: 255})
	region.Close()
	return img
}

func TestDetectPositionPresetHitsInsertedRegion(t *testing.T) {
	want := geometry.Box{X1: 650, Y1: 520, X2: 780, Y2: 580}
	img := syntheticWatermark(800, 600, want)
	defer img.Close()

	// One preset anchored exactly on the inserted block.
	cfg := config.Default().Detection
	cfg.Presets = []config.PositionPreset{{
		Name:      "test-anchor",
		Gravity:   "south_east",
		MarginX:   2.5,
		MarginY:   3.34,
		WidthPct:  16.25,
		HeightPct: 10,
		Priority:  1,
	}}

	d := NewDetector(cfg, zerolog.Nop())
	got := d.DetectStrategy(img, "position")

	if !got.Success {
		t.Fatalf("detection failed: %s", got.Reason)
	}
	if got.Confidence < 0.5 {
		t.Errorf("confidence = %v, want >= 0.5", got.Confidence)
	}
	edges := []struct {
		name      string
		got, want int
	}{
		{"x1", got.Box.X1, want.X1},
		{"y1", got.Box.Y1, want.Y1},
		{"x2", got.Box.X2, want.X2},
		{"y2", got.Box.Y2, want.Y2},
	}
	for _, e := range edges {
		if diff := e.got - e.want; diff < -5 || diff > 5 {
			t.Errorf("%s = %d, want within 5px of %d", e.name, e.got, e.want)
		}
	}
}

func TestDetectEmptyImage(t *testing.T) {
	empty := gocv.NewMat()
	defer empty.Close()

	d := NewDetector(config.Default().Detection, zerolog.Nop())
	got := d.Detect(empty)
	if got.Success {
		t.Fatal("empty image reported a detection")
	}
	if got.Reason == "" {
		t.Error("failure carries no reason")
	}
}

func TestDetectFileMissing(t *testing.T) {
	d := NewDetector(config.Default().Detection, zerolog.Nop())
	got, err := d.DetectFile("/nonexistent/image.jpg")
	if err == nil {
		t.Fatal("missing file did not surface an error")
	}
	if got.Success {
		t.Fatal("missing file reported a detection")
	}
}

func TestPresetBoxGravity(t *testing.T) {
	p := config.PositionPreset{Gravity: "south_west", MarginX: 10, MarginY: 10, WidthPct: 20, HeightPct: 10, Priority: 1}
	box, ok := PresetBox(1000, 500, p)
	if !ok {
		t.Fatal("preset rejected")
	}
	want := geometry.Box{X1: 100, Y1: 400, X2: 300, Y2: 450}
	if box != want {
		t.Errorf("PresetBox() = %+v, want %+v", box, want)
	}

	if _, ok := PresetBox(1000, 500, config.PositionPreset{Gravity: "center", WidthPct: 10, HeightPct: 10}); ok {
		t.Error("unknown gravity accepted")
	}
}
