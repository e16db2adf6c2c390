package detect

import (
	"fmt"
	"image"
	"math"
	"sort"

	"gocv.io/x/gocv"

	"github.com/striplab/markless/internal/config"
	"github.com/striplab/markless/internal/geometry"
)

const maxTextureResults = 5

// TextureStrategy slides fixed windows over the Canny edge map and keeps
// dense, border-adjacent windows whose horizontal projection shows the
// banded profile of rendered text.
type TextureStrategy struct {
	windows     []config.TextureWindow
	edgeDensity float64
}

// NewTextureStrategy builds the strategy from window data and the hotspot
// density threshold.
func NewTextureStrategy(windows []config.TextureWindow, edgeDensity float64) *TextureStrategy {
	return &TextureStrategy{windows: windows, edgeDensity: edgeDensity}
}

// Name implements Strategy.
func (s *TextureStrategy) Name() string { return "texture" }

// Detect returns up to maxTextureResults deduplicated candidates sorted
// by confidence.
func (s *TextureStrategy) Detect(img gocv.Mat) ([]DetectionResult, error) {
	w, h := img.Cols(), img.Rows()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 50, 150)

	var results []DetectionResult
	for _, win := range s.windows {
		results = append(results, s.detectWindow(edges, win.Height, win.Width, w, h)...)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})
	results = dedupeByIoU(results, 0.5)
	if len(results) > maxTextureResults {
		results = results[:maxTextureResults]
	}
	return results, nil
}

type hotspot struct {
	x, y    int
	density float64
}

func (s *TextureStrategy) detectWindow(edges gocv.Mat, winH, winW, imgW, imgH int) []DetectionResult {
	step := max(winH, winW) / 2
	if step < 1 {
		return nil
	}

	var spots []hotspot
	for y := 0; y < imgH-winH; y += step {
		for x := 0; x < imgW-winW; x += step {
			window := edges.Region(image.Rect(x, y, x+winW, y+winH))
			density := float64(gocv.CountNonZero(window)) / float64(winW*winH)
			window.Close()

			if density <= s.edgeDensity {
				continue
			}
			// Center-of-image hits are almost always subject matter.
			borderDist := min(x, y, imgW-(x+winW), imgH-(y+winH))
			nearEdge := float64(borderDist) < 0.15*float64(max(imgW, imgH))
			if nearEdge {
				spots = append(spots, hotspot{x: x, y: y, density: density})
			}
		}
	}

	spots = suppress(spots, winW, winH)

	var results []DetectionResult
	for _, sp := range spots {
		patch := edges.Region(image.Rect(sp.x, sp.y, sp.x+winW, sp.y+winH))
		pattern := stripePattern(patch)
		patch.Close()

		conf := 0.4*min(sp.density/0.2, 1.0) + 0.6*pattern
		if conf <= 0.4 {
			continue
		}
		results = append(results, DetectionResult{
			Box:        geometry.Box{X1: sp.x, Y1: sp.y, X2: sp.x + winW, Y2: sp.y + winH},
			Confidence: conf,
			Method:     fmt.Sprintf("texture:window_%dx%d", winH, winW),
			Metadata:   map[string]any{"edge_density": sp.density},
		})
	}
	return results
}

// suppress keeps the densest hotspot of each neighborhood, dropping any
// other whose top-left corner lies within one window diagonal-ish reach.
func suppress(spots []hotspot, winW, winH int) []hotspot {
	if len(spots) == 0 {
		return nil
	}
	sort.SliceStable(spots, func(i, j int) bool {
		return spots[i].density > spots[j].density
	})

	reach := float64(max(winW, winH))
	kept := make([]hotspot, 0, len(spots))
	used := make([]bool, len(spots))

	for i, a := range spots {
		if used[i] {
			continue
		}
		kept = append(kept, a)
		for j := i + 1; j < len(spots); j++ {
			if used[j] {
				continue
			}
			dx := float64(a.x - spots[j].x)
			dy := float64(a.y - spots[j].y)
			if math.Sqrt(dx*dx+dy*dy) < reach {
				used[j] = true
			}
		}
	}
	return kept
}

// stripePattern scores how strongly the patch's horizontal projection
// varies. Text rows produce alternating dense and empty bands, so a high
// normalized variance hints at rendered text.
func stripePattern(patch gocv.Mat) float64 {
	rows, cols := patch.Rows(), patch.Cols()
	if rows == 0 || cols == 0 {
		return 0
	}

	proj := make([]float64, rows)
	var maxV float64
	for y := 0; y < rows; y++ {
		var sum float64
		for x := 0; x < cols; x++ {
			sum += float64(patch.GetUCharAt(y, x))
		}
		proj[y] = sum
		if sum > maxV {
			maxV = sum
		}
	}
	if maxV == 0 {
		return 0
	}

	var mean float64
	for i := range proj {
		proj[i] /= maxV
		mean += proj[i]
	}
	mean /= float64(rows)

	var variance float64
	for _, v := range proj {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(rows)

	return min(variance*5, 0.95)
}

// dedupeByIoU drops later results overlapping an earlier (higher ranked)
// one above the threshold.
func dedupeByIoU(results []DetectionResult, threshold float64) []DetectionResult {
	if len(results) == 0 {
		return results
	}
	kept := make([]DetectionResult, 0, len(results))
	kept = append(kept, results[0])
	for _, r := range results[1:] {
		dup := false
		for _, k := range kept {
			if r.Box.IoU(k.Box) > threshold {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, r)
		}
	}
	return kept
}
