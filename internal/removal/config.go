// Package removal turns a detection decision into a repaired image:
// it derives inpainting parameters from the detection, rasterizes the
// feathered mask and drives the inpainting engine, preserving source
// format and transparency on the way out.
package removal

import (
	"github.com/striplab/markless/internal/detect"
	"github.com/striplab/markless/internal/geometry"
)

// Algorithm selects the classic inpainting variant.
type Algorithm int

const (
	// AlgorithmNS preserves structure better on small regions.
	AlgorithmNS Algorithm = iota
	// AlgorithmTelea smooths better over large regions.
	AlgorithmTelea
)

// String returns the OpenCV name of the algorithm.
func (a Algorithm) String() string {
	if a == AlgorithmTelea {
		return "Telea"
	}
	return "NS"
}

// Config carries the removal parameters for one image.
type Config struct {
	Algorithm          Algorithm
	InpaintRadius      int
	FeatherRadius      int
	DilationIterations int
	OutputQuality      int
	OutputFormat       string // auto, png, jpeg
}

// Thresholds on the watermark-to-image area ratio for algorithm choice.
const (
	smallAreaRatio = 0.05
	largeAreaRatio = 0.15
)

// AdaptiveConfig derives removal parameters from the image size, the
// detected box and the fusion verdict. Conservative mode widens the
// feather, dilates more and raises the output quality.
func AdaptiveConfig(imgW, imgH int, box geometry.Box, mode detect.Mode, confidence float64, baseQuality int) Config {
	areaRatio := float64(box.Area()) / float64(imgW*imgH)
	minDim := min(imgW, imgH)

	cfg := Config{
		Algorithm:          AlgorithmNS,
		OutputQuality:      baseQuality,
		OutputFormat:       "auto",
		DilationIterations: 1,
	}

	if areaRatio > largeAreaRatio {
		cfg.Algorithm = AlgorithmTelea
	}

	radius := 5
	if minDim > 2000 {
		radius = int(float64(radius) * 1.2)
	}
	if areaRatio < 0.02 {
		radius = int(float64(radius) * 1.1)
	}
	if mode == detect.ModeConservative {
		radius = int(float64(radius) * 1.3)
	}
	cfg.InpaintRadius = max(radius, 2)

	switch {
	case mode == detect.ModeConservative:
		cfg.FeatherRadius = 4
	case areaRatio > 0.1:
		cfg.FeatherRadius = 3
	default:
		cfg.FeatherRadius = 2
	}

	if mode == detect.ModeConservative || confidence < 0.7 {
		cfg.DilationIterations = 2
	}

	if mode == detect.ModeConservative {
		cfg.OutputQuality = 98
	}

	return cfg
}
