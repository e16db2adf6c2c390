package removal

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/striplab/markless/internal/geometry"
)

// CreateMask rasterizes the detection box into an inpainting mask:
// a filled rectangle, dilated with an elliptical kernel so the watermark
// fringe is covered, then Gaussian-feathered so the repair fades in.
// Zero feather and dilation produce the exact binary rectangle.
func CreateMask(w, h int, box geometry.Box, featherRadius, dilationIterations int) gocv.Mat {
	clamped := box.Clamp(w, h)

	mask := gocv.Zeros(h, w, gocv.MatTypeCV8UC1)
	region := mask.Region(image.Rect(clamped.X1, clamped.Y1, clamped.X2, clamped.Y2))
	region.SetTo(gocv.Scalar{Val1: 255})
	region.Close()

	if dilationIterations > 0 {
		kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(9, 9))
		defer kernel.Close()
		for i := 0; i < dilationIterations; i++ {
			gocv.Dilate(mask, &mask, kernel)
		}
	}

	if featherRadius > 0 {
		ksize := featherRadius*2 + 1
		gocv.GaussianBlur(mask, &mask, image.Pt(ksize, ksize),
			float64(featherRadius), float64(featherRadius), gocv.BorderDefault)
	}

	return mask
}

// reattachAlpha rebuilds a BGRA image from the repaired BGR pixels and
// the source alpha plane. The repaired box becomes opaque, with a small
// dilated-and-blurred collar deciding how far the forced opacity reaches,
// so the patch does not punch a hard edge into soft transparency.
func reattachAlpha(result, alpha gocv.Mat, box geometry.Box) gocv.Mat {
	w, h := result.Cols(), result.Rows()
	clamped := box.Clamp(w, h)
	rect := image.Rect(clamped.X1, clamped.Y1, clamped.X2, clamped.Y2)

	boxMask := gocv.Zeros(h, w, gocv.MatTypeCV8UC1)
	defer boxMask.Close()
	region := boxMask.Region(rect)
	region.SetTo(gocv.Scalar{Val1: 255})
	region.Close()

	collar := boxMask.Clone()
	defer collar.Close()
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(5, 5))
	defer kernel.Close()
	gocv.Dilate(collar, &collar, kernel)
	gocv.GaussianBlur(collar, &collar, image.Pt(9, 9), 2, 2, gocv.BorderDefault)

	// Saturated collar pixels are deep inside the repair.
	inner := gocv.NewMat()
	defer inner.Close()
	gocv.Threshold(collar, &inner, 254, 255, gocv.ThresholdBinary)

	newAlpha := gocv.NewMat()
	defer newAlpha.Close()
	gocv.BitwiseOr(alpha, boxMask, &newAlpha)
	gocv.BitwiseOr(newAlpha, inner, &newAlpha)

	channels := gocv.Split(result)
	defer func() {
		for _, c := range channels {
			c.Close()
		}
	}()

	out := gocv.NewMat()
	gocv.Merge([]gocv.Mat{channels[0], channels[1], channels[2], newAlpha}, &out)
	return out
}
