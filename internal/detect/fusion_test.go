package detect

import (
	"testing"

	"github.com/striplab/markless/internal/config"
	"github.com/striplab/markless/internal/geometry"
)

func testEngine() *FusionEngine {
	return NewFusionEngine(config.Default().Detection)
}

func TestFuseSingleCandidate(t *testing.T) {
	box := geometry.Box{X1: 600, Y1: 500, X2: 760, Y2: 560}
	all := map[string][]DetectionResult{
		"position": {{Box: box, Confidence: 0.7, Method: "position:bottom-right-1"}},
	}

	got := testEngine().Fuse(all)
	if !got.Success {
		t.Fatalf("Fuse() failed: %s", got.Reason)
	}
	if got.Box != box {
		t.Errorf("box = %+v, want %+v", got.Box, box)
	}
	if got.Confidence != 0.7 {
		t.Errorf("confidence = %v, want 0.7", got.Confidence)
	}
	if got.Mode != ModeConservative {
		t.Errorf("mode = %s, want conservative", got.Mode)
	}
	if len(got.Contributors) != 1 || got.Contributors[0] != "position:bottom-right-1" {
		t.Errorf("contributors = %v, want the single method", got.Contributors)
	}
}

func TestFuseRejectsWeakSingle(t *testing.T) {
	all := map[string][]DetectionResult{
		"texture": {{Box: geometry.Box{X1: 0, Y1: 0, X2: 40, Y2: 40}, Confidence: 0.2, Method: "texture:window_40x120"}},
	}
	got := testEngine().Fuse(all)
	if got.Success {
		t.Fatal("Fuse() accepted a candidate below the low threshold")
	}
	if got.Reason == "" {
		t.Error("rejection carries no reason")
	}
}

func TestFuseDiversityBoost(t *testing.T) {
	// Two near-identical boxes from different strategies must fuse to a
	// confidence at least as high as the better standalone one.
	a := geometry.Box{X1: 600, Y1: 500, X2: 760, Y2: 560}
	b := geometry.Box{X1: 605, Y1: 502, X2: 765, Y2: 562}
	all := map[string][]DetectionResult{
		"position": {{Box: a, Confidence: 0.8, Method: "position:bottom-right-1"}},
		"color":    {{Box: b, Confidence: 0.7, Method: "color:white_semi"}},
	}

	got := testEngine().Fuse(all)
	if !got.Success {
		t.Fatalf("Fuse() failed: %s", got.Reason)
	}
	if got.Confidence < 0.8 {
		t.Errorf("fused confidence %v below best standalone 0.8", got.Confidence)
	}
	if got.Confidence > 1 {
		t.Errorf("fused confidence %v exceeds 1", got.Confidence)
	}
	if len(got.Contributors) != 2 {
		t.Errorf("contributors = %v, want both methods", got.Contributors)
	}
	if got.Mode != ModeNormal {
		t.Errorf("mode = %s, want normal for a high-confidence fusion", got.Mode)
	}
	// The fused box sits between the two inputs.
	if got.Box.X1 < a.X1 || got.Box.X1 > b.X1 {
		t.Errorf("fused X1 = %d outside [%d,%d]", got.Box.X1, a.X1, b.X1)
	}
}

func TestFuseConfidenceCapped(t *testing.T) {
	box := geometry.Box{X1: 10, Y1: 10, X2: 110, Y2: 60}
	all := map[string][]DetectionResult{
		"position": {{Box: box, Confidence: 0.95, Method: "position:bottom-right-1"}},
		"color":    {{Box: box, Confidence: 0.95, Method: "color:white_semi"}},
		"texture":  {{Box: box, Confidence: 0.95, Method: "texture:window_40x120"}},
	}
	got := testEngine().Fuse(all)
	if !got.Success {
		t.Fatalf("Fuse() failed: %s", got.Reason)
	}
	if got.Confidence > 1 {
		t.Errorf("confidence = %v, want <= 1", got.Confidence)
	}
}

func TestFusePicksStrongerCluster(t *testing.T) {
	strong := geometry.Box{X1: 600, Y1: 500, X2: 760, Y2: 560}
	weak := geometry.Box{X1: 0, Y1: 0, X2: 60, Y2: 40}
	all := map[string][]DetectionResult{
		"position": {
			{Box: strong, Confidence: 0.8, Method: "position:bottom-right-1"},
			{Box: weak, Confidence: 0.4, Method: "position:top-left"},
		},
		"color": {
			{Box: strong, Confidence: 0.75, Method: "color:white_semi"},
			{Box: weak, Confidence: 0.35, Method: "color:dark_text"},
		},
	}
	got := testEngine().Fuse(all)
	if !got.Success {
		t.Fatalf("Fuse() failed: %s", got.Reason)
	}
	if got.Box.IoU(strong) < 0.5 {
		t.Errorf("fused box %+v does not track the strong cluster %+v", got.Box, strong)
	}
}

func TestFuseStrongSingletonBeatsWeakPair(t *testing.T) {
	strong := geometry.Box{X1: 600, Y1: 500, X2: 760, Y2: 560}
	weakA := geometry.Box{X1: 0, Y1: 0, X2: 120, Y2: 40}
	weakB := geometry.Box{X1: 5, Y1: 2, X2: 125, Y2: 42}
	all := map[string][]DetectionResult{
		"position": {{Box: strong, Confidence: 0.9, Method: "position:bottom-right-1"}},
		"texture": {
			{Box: weakA, Confidence: 0.5, Method: "texture:window_40x120"},
			{Box: weakB, Confidence: 0.5, Method: "texture:window_60x180"},
		},
	}

	// Singleton scores 0.9; the overlapping pair only reaches its
	// weighted mean 0.5 plus the 0.03 count bonus.
	got := testEngine().Fuse(all)
	if !got.Success {
		t.Fatalf("Fuse() failed: %s", got.Reason)
	}
	if got.Box != strong {
		t.Errorf("box = %+v, want the isolated strong candidate %+v", got.Box, strong)
	}
	if got.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", got.Confidence)
	}
	if got.Mode != ModeNormal {
		t.Errorf("mode = %s, want normal", got.Mode)
	}
	if len(got.Contributors) != 1 || got.Contributors[0] != "position:bottom-right-1" {
		t.Errorf("contributors = %v, want the singleton's method", got.Contributors)
	}
}

func TestFuseEmptyInput(t *testing.T) {
	got := testEngine().Fuse(map[string][]DetectionResult{})
	if got.Success {
		t.Fatal("Fuse() of nothing reported success")
	}
}
