package batch

import (
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/striplab/markless/internal/config"
	"github.com/striplab/markless/internal/detect"
	"github.com/striplab/markless/internal/geometry"
	"github.com/striplab/markless/internal/removal"
)

type fakeDetector struct {
	fn func(path string) (detect.FusionResult, error)
}

func (f fakeDetector) DetectFile(path string) (detect.FusionResult, error) { return f.fn(path) }

type fakeRemover struct {
	boxes []geometry.Box
	fail  map[string]bool
}

func (f *fakeRemover) RemoveFile(inputPath, outputPath string, box geometry.Box, mode detect.Mode, confidence float64, cfg *removal.Config) removal.Result {
	f.boxes = append(f.boxes, box)
	if f.fail[filepath.Base(inputPath)] {
		return removal.Result{InputPath: inputPath, Error: "write failed"}
	}
	return removal.Result{
		Success:    true,
		InputPath:  inputPath,
		OutputPath: outputPath,
		Box:        box,
		Mode:       mode,
		Confidence: confidence,
	}
}

// writeBatchFolder creates real PNG files so folder scanning and header
// reads behave as in production.
func writeBatchFolder(t *testing.T, names []string, w, h int) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			t.Fatal(err)
		}
		if err := png.Encode(f, image.NewNRGBA(image.Rect(0, 0, w, h))); err != nil {
			t.Fatal(err)
		}
		f.Close()
	}
	return dir
}

func testProcessor(d Detector, r Remover) *Processor {
	return NewProcessor(d, r, config.Default().Batch, zerolog.Nop())
}

func TestConsistentPosition(t *testing.T) {
	base := sample{box: geometry.Box{X1: 150, Y1: 80, X2: 190, Y2: 95}, imgW: 200, imgH: 100}
	nudged := sample{box: geometry.Box{X1: 152, Y1: 81, X2: 192, Y2: 96}, imgW: 200, imgH: 100}
	offCorner := sample{box: geometry.Box{X1: 0, Y1: 0, X2: 40, Y2: 15}, imgW: 200, imgH: 100}

	if !consistentPosition([]sample{base, nudged, base}, 0.05) {
		t.Error("near-identical positions judged inconsistent")
	}
	if consistentPosition([]sample{base, offCorner}, 0.05) {
		t.Error("opposite corners judged consistent")
	}
	// Same relative position on a different image size still matches.
	scaled := sample{box: geometry.Box{X1: 300, Y1: 160, X2: 380, Y2: 190}, imgW: 400, imgH: 200}
	if !consistentPosition([]sample{base, scaled}, 0.05) {
		t.Error("same normalized position on a scaled image judged inconsistent")
	}
}

func TestUnifiedBoxIsArithmeticMean(t *testing.T) {
	boxes := []geometry.Box{
		{X1: 150, Y1: 80, X2: 190, Y2: 95},
		{X1: 153, Y1: 83, X2: 193, Y2: 98},
		{X1: 156, Y1: 80, X2: 196, Y2: 95},
	}
	want := geometry.Box{X1: 153, Y1: 81, X2: 193, Y2: 96}
	if got := geometry.Average(boxes); got != want {
		t.Errorf("Average() = %+v, want %+v", got, want)
	}
}

func TestProcessReusesUnifiedPosition(t *testing.T) {
	in := writeBatchFolder(t, []string{"a.png", "b.png", "c.png"}, 200, 100)
	out := filepath.Join(t.TempDir(), "out")

	shared := geometry.Box{X1: 150, Y1: 80, X2: 190, Y2: 95}
	detector := fakeDetector{fn: func(path string) (detect.FusionResult, error) {
		return detect.FusionResult{Success: true, Box: shared, Confidence: 0.9, Mode: detect.ModeNormal}, nil
	}}
	remover := &fakeRemover{}

	store := NewMemoryStore()
	task := store.Create(in, out)
	snap := testProcessor(detector, remover).Process(task, true, nil)

	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", snap.Status)
	}
	if snap.Successful != 3 || snap.Failed != 0 || snap.Skipped != 0 {
		t.Errorf("counters = %+v, want 3 successful", snap)
	}
	if len(remover.boxes) != 3 {
		t.Fatalf("remover called %d times, want 3", len(remover.boxes))
	}
	for i, b := range remover.boxes {
		if b != shared {
			t.Errorf("file %d removed with box %+v, want the unified %+v", i, b, shared)
		}
	}
	// All sample boxes are identical, so the running average is their
	// unified confidence.
	if snap.AverageConfidence != 0.85 {
		t.Errorf("average confidence = %v, want 0.85 for a unified batch", snap.AverageConfidence)
	}
}

func TestProcessSurvivesItemCrash(t *testing.T) {
	in := writeBatchFolder(t, []string{"a.png", "b.png", "c.png"}, 200, 100)
	out := filepath.Join(t.TempDir(), "out")

	// Inconsistent sample positions force per-file detection; b crashes
	// outright every time it is detected.
	detector := fakeDetector{fn: func(path string) (detect.FusionResult, error) {
		switch filepath.Base(path) {
		case "b.png":
			panic("corrupt image data")
		case "a.png":
			return detect.FusionResult{Success: true, Box: geometry.Box{X1: 0, Y1: 0, X2: 40, Y2: 15}, Confidence: 0.9, Mode: detect.ModeNormal}, nil
		default:
			return detect.FusionResult{Success: true, Box: geometry.Box{X1: 150, Y1: 80, X2: 190, Y2: 95}, Confidence: 0.8, Mode: detect.ModeNormal}, nil
		}
	}}
	remover := &fakeRemover{}

	store := NewMemoryStore()
	task := store.Create(in, out)
	snap := testProcessor(detector, remover).Process(task, true, nil)

	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed despite the crash", snap.Status)
	}
	if snap.Failed != 1 || snap.Successful != 2 {
		t.Errorf("failed = %d, successful = %d, want 1 and 2", snap.Failed, snap.Successful)
	}
	if len(snap.Errors) != 1 {
		t.Errorf("errors = %v, want exactly one entry", snap.Errors)
	}
}

func TestProcessSkipsLowConfidence(t *testing.T) {
	in := writeBatchFolder(t, []string{"a.png", "b.png"}, 200, 100)
	out := filepath.Join(t.TempDir(), "out")

	detector := fakeDetector{fn: func(path string) (detect.FusionResult, error) {
		if filepath.Base(path) == "a.png" {
			return detect.FusionResult{Success: true, Box: geometry.Box{X1: 0, Y1: 0, X2: 40, Y2: 15}, Confidence: 0.35, Mode: detect.ModeLowConfidence}, nil
		}
		return detect.FusionResult{Success: true, Box: geometry.Box{X1: 150, Y1: 80, X2: 190, Y2: 95}, Confidence: 0.9, Mode: detect.ModeNormal}, nil
	}}
	remover := &fakeRemover{}

	store := NewMemoryStore()
	task := store.Create(in, out)
	snap := testProcessor(detector, remover).Process(task, true, nil)

	if snap.Skipped != 1 || snap.Successful != 1 {
		t.Errorf("skipped = %d, successful = %d, want 1 and 1", snap.Skipped, snap.Successful)
	}
}

func TestProcessCountsUnreadableFileAsFailed(t *testing.T) {
	in := writeBatchFolder(t, []string{"a.png", "b.png", "c.png"}, 200, 100)
	out := filepath.Join(t.TempDir(), "out")

	// Inconsistent sample positions force per-file detection; b cannot
	// be read at all. That is a failure, not a clean skip.
	detector := fakeDetector{fn: func(path string) (detect.FusionResult, error) {
		switch filepath.Base(path) {
		case "b.png":
			return detect.FusionResult{Success: false, Reason: "Failed to load image"},
				errors.New("load image: truncated png")
		case "a.png":
			return detect.FusionResult{Success: true, Box: geometry.Box{X1: 0, Y1: 0, X2: 40, Y2: 15}, Confidence: 0.9, Mode: detect.ModeNormal}, nil
		default:
			return detect.FusionResult{Success: true, Box: geometry.Box{X1: 150, Y1: 80, X2: 190, Y2: 95}, Confidence: 0.8, Mode: detect.ModeNormal}, nil
		}
	}}
	remover := &fakeRemover{}

	store := NewMemoryStore()
	task := store.Create(in, out)
	snap := testProcessor(detector, remover).Process(task, true, nil)

	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed despite the bad file", snap.Status)
	}
	if snap.Failed != 1 || snap.Successful != 2 || snap.Skipped != 0 {
		t.Errorf("failed = %d, successful = %d, skipped = %d, want 1, 2, 0",
			snap.Failed, snap.Successful, snap.Skipped)
	}
	if len(snap.Errors) != 1 || !strings.Contains(snap.Errors[0], "b.png") {
		t.Errorf("errors = %v, want one entry naming b.png", snap.Errors)
	}
}

func TestProcessMissingFolderFailsTask(t *testing.T) {
	store := NewMemoryStore()
	task := store.Create("/nonexistent/folder", t.TempDir())

	detector := fakeDetector{fn: func(string) (detect.FusionResult, error) { return detect.FusionResult{}, nil }}
	snap := testProcessor(detector, &fakeRemover{}).Process(task, true, nil)

	if snap.Status != StatusFailed {
		t.Fatalf("status = %s, want failed for a missing input folder", snap.Status)
	}
}

func TestProcessProgressCallback(t *testing.T) {
	in := writeBatchFolder(t, []string{"a.png", "b.png"}, 200, 100)
	out := filepath.Join(t.TempDir(), "out")

	detector := fakeDetector{fn: func(path string) (detect.FusionResult, error) {
		return detect.FusionResult{Success: true, Box: geometry.Box{X1: 150, Y1: 80, X2: 190, Y2: 95}, Confidence: 0.9, Mode: detect.ModeNormal}, nil
	}}

	store := NewMemoryStore()
	task := store.Create(in, out)

	var seen []int
	testProcessor(detector, &fakeRemover{}).Process(task, true, func(s Snapshot) {
		seen = append(seen, s.Processed)
	})

	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("progress processed counts = %v, want [1 2]", seen)
	}
}
