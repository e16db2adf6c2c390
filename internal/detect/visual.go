package detect

import (
	"fmt"
	"image"
	"image/color"
	"sort"

	"github.com/lucasb-eyer/go-colorful"
	"gocv.io/x/gocv"
)

// strategyHues fixes the overlay hue per strategy so repeated runs render
// identically.
var strategyHues = map[string]float64{
	"position": 240, // blue
	"color":    120, // green
	"texture":  0,   // red
}

func strategyColor(name string) color.RGBA {
	hue, ok := strategyHues[name]
	if !ok {
		return color.RGBA{R: 128, G: 128, B: 128}
	}
	r, g, b := colorful.Hsv(hue, 1, 1).RGB255()
	return color.RGBA{R: r, G: g, B: b}
}

// Overlay renders every candidate box (thin, per-strategy color) and the
// fused decision (thick yellow) onto a copy of the image. The caller owns
// the returned Mat.
func Overlay(img gocv.Mat, result FusionResult) gocv.Mat {
	vis := img.Clone()

	names := make([]string, 0, len(result.AllResults))
	for name := range result.AllResults {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		col := strategyColor(name)
		for _, r := range result.AllResults[name] {
			rect := image.Rect(r.Box.X1, r.Box.Y1, r.Box.X2, r.Box.Y2)
			gocv.Rectangle(&vis, rect, col, 1)
			gocv.PutText(&vis, fmt.Sprintf("%s:%.2f", name, r.Confidence),
				image.Pt(r.Box.X1, r.Box.Y1-5), gocv.FontHersheySimplex, 0.4, col, 1)
		}
	}

	if result.Success && result.Box.Valid() {
		fr, fg, fb := colorful.Hsv(60, 1, 1).RGB255()
		final := color.RGBA{R: fr, G: fg, B: fb}
		rect := image.Rect(result.Box.X1, result.Box.Y1, result.Box.X2, result.Box.Y2)
		gocv.Rectangle(&vis, rect, final, 3)
		gocv.PutText(&vis, fmt.Sprintf("FINAL:%.2f", result.Confidence),
			image.Pt(result.Box.X1, result.Box.Y1-25), gocv.FontHersheySimplex, 0.6, final, 2)
	}

	return vis
}
