package detect

import (
	"image"
	"sort"

	"gocv.io/x/gocv"

	"github.com/striplab/markless/internal/config"
	"github.com/striplab/markless/internal/geometry"
)

// PositionStrategy probes gravity-anchored regions where generated images
// usually carry their watermark (corners and bottom band). Each preset
// contributes a priority-derived base confidence, trimmed or boosted by
// what the region actually contains.
type PositionStrategy struct {
	presets []config.PositionPreset
}

// NewPositionStrategy builds the strategy from preset data.
func NewPositionStrategy(presets []config.PositionPreset) *PositionStrategy {
	return &PositionStrategy{presets: presets}
}

// Name implements Strategy.
func (s *PositionStrategy) Name() string { return "position" }

// Detect returns the surviving preset regions sorted by confidence.
func (s *PositionStrategy) Detect(img gocv.Mat) ([]DetectionResult, error) {
	w, h := img.Cols(), img.Rows()
	results := make([]DetectionResult, 0, len(s.presets))

	for _, p := range s.presets {
		box, ok := PresetBox(w, h, p)
		if !ok {
			continue
		}

		base := 0.6 - float64(p.Priority-1)*0.1
		conf := adjustByRegion(img, box, base)

		results = append(results, DetectionResult{
			Box:        box,
			Confidence: conf,
			Method:     "position:" + p.Name,
			Metadata:   map[string]any{"preset": p.Name, "gravity": p.Gravity},
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})
	return results, nil
}

// PresetBox anchors the preset's rectangle inside a w x h image. The
// second return is false when the region degenerates or has implausible
// size for a watermark.
func PresetBox(w, h int, p config.PositionPreset) (geometry.Box, bool) {
	pw := int(float64(w) * p.WidthPct / 100)
	ph := int(float64(h) * p.HeightPct / 100)
	mx := int(float64(w) * p.MarginX / 100)
	my := int(float64(h) * p.MarginY / 100)

	var x1, y1 int
	switch p.Gravity {
	case "south_east":
		x1 = w - mx - pw
		y1 = h - my - ph
	case "south_west":
		x1 = mx
		y1 = h - my - ph
	case "south":
		x1 = (w - pw) / 2
		y1 = h - my - ph
	case "north_east":
		x1 = w - mx - pw
		y1 = my
	default:
		return geometry.Box{}, false
	}

	box := geometry.Box{
		X1: max(0, x1),
		Y1: max(0, y1),
		X2: min(w, x1+pw),
		Y2: min(h, y1+ph),
	}
	if !box.Valid() {
		return geometry.Box{}, false
	}
	area := box.Area()
	if area < 100 || area > w*h*2/5 {
		return geometry.Box{}, false
	}
	return box, true
}

// adjustByRegion trims or boosts the base confidence from two cheap
// region features: moderate edge density hints at text, low gray spread
// hints at a flat watermark background.
func adjustByRegion(img gocv.Mat, box geometry.Box, base float64) float64 {
	region := img.Region(image.Rect(box.X1, box.Y1, box.X2, box.Y2))
	defer region.Close()
	if region.Empty() {
		return base * 0.5
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(region, &gray, gocv.ColorBGRToGray)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 50, 150)

	density := float64(gocv.CountNonZero(edges)) / float64(edges.Rows()*edges.Cols())

	mean := gocv.NewMat()
	defer mean.Close()
	stdDev := gocv.NewMat()
	defer stdDev.Close()
	gocv.MeanStdDev(gray, &mean, &stdDev)
	spread := stdDev.GetDoubleAt(0, 0)

	adjusted := base
	if density > 0.05 && density < 0.3 {
		adjusted += 0.1
	}
	if spread < 40 {
		adjusted += 0.05
	}
	return min(adjusted, 0.95)
}
