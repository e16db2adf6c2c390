package detect

import (
	"image"
	"sort"

	"github.com/lucasb-eyer/go-colorful"
	"gocv.io/x/gocv"

	"github.com/striplab/markless/internal/config"
	"github.com/striplab/markless/internal/geometry"
)

// maxColorResults bounds how many candidates the color strategy emits.
const maxColorResults = 5

// ColorStrategy segments the image by the HSV ranges of common watermark
// color families (semi-transparent white, light gray, brand blue, dark
// text) and promotes connected regions near the image border.
type ColorStrategy struct {
	profiles []config.ColorProfile
}

// NewColorStrategy builds the strategy from profile data.
func NewColorStrategy(profiles []config.ColorProfile) *ColorStrategy {
	return &ColorStrategy{profiles: profiles}
}

// Name implements Strategy.
func (s *ColorStrategy) Name() string { return "color" }

// Detect returns up to maxColorResults candidates sorted by confidence.
func (s *ColorStrategy) Detect(img gocv.Mat) ([]DetectionResult, error) {
	w, h := img.Cols(), img.Rows()

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)

	var results []DetectionResult
	for _, profile := range s.profiles {
		results = append(results, s.detectProfile(img, hsv, profile, w, h)...)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})
	if len(results) > maxColorResults {
		results = results[:maxColorResults]
	}
	return results, nil
}

func (s *ColorStrategy) detectProfile(img, hsv gocv.Mat, profile config.ColorProfile, w, h int) []DetectionResult {
	mask := segmentColor(hsv, profile)
	defer mask.Close()

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var results []DetectionResult
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		if gocv.ContourArea(contour) < 100 {
			continue
		}
		rect := gocv.BoundingRect(contour)
		cw, ch := rect.Dx(), rect.Dy()
		if cw == 0 || ch == 0 {
			continue
		}
		aspect := max(float64(cw)/float64(ch), float64(ch)/float64(cw))
		if aspect > 15 {
			continue
		}

		areaRatio := float64(cw*ch) / float64(w*h)
		if areaRatio <= 0.002 || areaRatio >= 0.3 {
			continue
		}

		// Watermarks live near the border.
		edgeDist := min(rect.Min.X, rect.Min.Y, w-rect.Max.X, h-rect.Max.Y)
		if float64(edgeDist)/float64(max(w, h)) > 0.15 {
			continue
		}

		conf, matchRatio := colorConfidence(mask, rect, profile.MinRatio, w, h)
		if conf <= 0.3 {
			continue
		}

		box := geometry.Box{X1: rect.Min.X, Y1: rect.Min.Y, X2: rect.Max.X, Y2: rect.Max.Y}
		results = append(results, DetectionResult{
			Box:        box,
			Confidence: conf,
			Method:     "color:" + profile.Name,
			Metadata: map[string]any{
				"profile":     profile.Name,
				"match_ratio": matchRatio,
				"dominant":    dominantHex(img, rect),
			},
		})
	}
	return results
}

// segmentColor thresholds the HSV image against the profile range and
// cleans the mask with a close/open pass.
func segmentColor(hsv gocv.Mat, profile config.ColorProfile) gocv.Mat {
	lower := gocv.Scalar{Val1: profile.Lower.H, Val2: profile.Lower.S, Val3: profile.Lower.V}
	upper := gocv.Scalar{Val1: profile.Upper.H, Val2: profile.Upper.S, Val3: profile.Upper.V}

	mask := gocv.NewMat()
	gocv.InRangeWithScalar(hsv, lower, upper, &mask)

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(5, 5))
	defer kernel.Close()
	gocv.MorphologyEx(mask, &mask, gocv.MorphClose, kernel)
	gocv.MorphologyEx(mask, &mask, gocv.MorphOpen, kernel)

	return mask
}

// colorConfidence scores a region: base 0.3, up to 0.5 for the in-range
// pixel ratio relative to the profile minimum, plus 0.2 when the region
// touches the outer 10% band of the image.
func colorConfidence(mask gocv.Mat, rect image.Rectangle, minRatio float64, w, h int) (conf, matchRatio float64) {
	region := mask.Region(rect)
	defer region.Close()
	size := region.Rows() * region.Cols()
	if size == 0 {
		return 0, 0
	}
	matchRatio = float64(gocv.CountNonZero(region)) / float64(size)

	matchScore := min(matchRatio/minRatio, 1.0) * 0.5

	nearEdge := float64(rect.Min.X) < 0.1*float64(w) || float64(rect.Max.X) > 0.9*float64(w) ||
		float64(rect.Min.Y) < 0.1*float64(h) || float64(rect.Max.Y) > 0.9*float64(h)
	edgeBonus := 0.0
	if nearEdge {
		edgeBonus = 0.2
	}

	return min(0.3+matchScore+edgeBonus, 0.95), matchRatio
}

// dominantHex reports the mean region color as a hex string for
// diagnostics and API responses.
func dominantHex(img gocv.Mat, rect image.Rectangle) string {
	region := img.Region(rect)
	defer region.Close()
	m := region.Mean()
	// Mat channels are BGR ordered.
	c := colorful.Color{R: m.Val3 / 255, G: m.Val2 / 255, B: m.Val1 / 255}
	return c.Clamped().Hex()
}
