// Package inpaint fills masked image regions. Two backends exist: a
// neural one served over HTTP (LaMa) and an OpenCV one used when the
// service is down or disabled. The hybrid engine tries neural first and
// reports which backend produced each result.
package inpaint

import "gocv.io/x/gocv"

// Tuning carries caller-derived parameters for the classic repair path.
// Zero values let the engine pick its own; the neural backend ignores
// tuning entirely.
type Tuning struct {
	// Radius overrides the primary inpaint radius when positive.
	Radius int
	// Telea switches the primary pass from NS to Telea.
	Telea bool
}

// Tunable is implemented by backends that accept caller tuning.
type Tunable interface {
	InpaintTuned(img, mask gocv.Mat, tune Tuning) (gocv.Mat, error)
}

// Inpainter fills the mask region of a BGR image. Mask is single channel
// with 255 marking pixels to reconstruct. Implementations return a new
// Mat owned by the caller and never modify the inputs.
type Inpainter interface {
	// Name identifies the backend in results and logs.
	Name() string
	// Available reports whether the backend can currently serve. Callers
	// check before Inpaint; an unavailable backend may still be asked and
	// must then return an error rather than block.
	Available() bool
	Inpaint(img, mask gocv.Mat) (gocv.Mat, error)
}
