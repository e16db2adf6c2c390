package inpaint

import (
	"image"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/striplab/markless/internal/imgio"
)

// largeMaskRatio splits the two OpenCV repair paths: masks covering more
// of the image than this go through the multi-scale pass.
const largeMaskRatio = 0.03

// OpenCV fills masked regions with the classic NS/Telea algorithms plus
// edge feathering and a light sharpen. It is always available and serves
// as the fallback behind the neural backend.
type OpenCV struct {
	log zerolog.Logger
}

// NewOpenCV builds the engine.
func NewOpenCV(log zerolog.Logger) *OpenCV {
	return &OpenCV{log: log}
}

// Name implements Inpainter.
func (o *OpenCV) Name() string { return "OpenCV" }

// Available implements Inpainter. The OpenCV path has no external
// dependency and always serves.
func (o *OpenCV) Available() bool { return true }

// Inpaint repairs the masked region. Small masks take a double-pass
// single-scale repair; large masks are repaired on a downscaled copy
// first for smoother structure, then refined at full resolution.
func (o *OpenCV) Inpaint(img, mask gocv.Mat) (gocv.Mat, error) {
	return o.InpaintTuned(img, mask, Tuning{})
}

// InpaintTuned implements Tunable. Tuning applies to the single-scale
// primary pass; the multi-scale path keeps its own scaled radius.
func (o *OpenCV) InpaintTuned(img, mask gocv.Mat, tune Tuning) (gocv.Mat, error) {
	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(mask, &binary, 128, 255, gocv.ThresholdBinary)

	ratio := float64(gocv.CountNonZero(binary)) / float64(binary.Rows()*binary.Cols())

	o.log.Debug().Float64("mask_ratio", ratio).Msg("opencv inpaint")

	if ratio > largeMaskRatio {
		return o.multiScale(img, binary), nil
	}
	return o.singleScale(img, binary, ratio, tune), nil
}

// singleScale runs a structural pass then a small-radius Telea pass to
// settle the seams, finishing with edge blending and a masked sharpen.
func (o *OpenCV) singleScale(img, mask gocv.Mat, ratio float64, tune Tuning) gocv.Mat {
	radius := primaryRadius(ratio, tune)
	primary := gocv.NS
	if tune.Telea {
		primary = gocv.Telea
	}

	ns := gocv.NewMat()
	defer ns.Close()
	gocv.Inpaint(img, mask, &ns, float32(radius), primary)

	repaired := gocv.NewMat()
	defer repaired.Close()
	gocv.Inpaint(ns, mask, &repaired, float32(max(2, radius/2)), gocv.Telea)

	blended := edgeBlend(img, repaired, mask)
	defer blended.Close()

	return sharpenMasked(blended, mask, 0.3)
}

// primaryRadius picks the first-pass inpaint radius. A positive tuned
// radius wins outright; otherwise the radius grows with mask coverage.
func primaryRadius(ratio float64, tune Tuning) int {
	if tune.Radius > 0 {
		return tune.Radius
	}
	switch {
	case ratio < 0.01:
		return 5
	case ratio < largeMaskRatio:
		return 7
	default:
		return 9
	}
}

// multiScale repairs a downscaled copy where NS produces smoother fills,
// upscales the repair back over the original, and refines the seam with
// a full-resolution Telea pass.
func (o *OpenCV) multiScale(img, mask gocv.Mat) gocv.Mat {
	w, h := img.Cols(), img.Rows()

	scale := 0.5
	if minDim := min(w, h); minDim > 1024 {
		scale = 512 / float64(minDim)
	}
	newW, newH := int(float64(w)*scale), int(float64(h)*scale)

	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(img, &small, image.Pt(newW, newH), 0, 0, gocv.InterpolationLinear)

	smallMask := gocv.NewMat()
	defer smallMask.Close()
	gocv.Resize(mask, &smallMask, image.Pt(newW, newH), 0, 0, gocv.InterpolationLinear)

	smallRadius := float32(max(3, int(5*scale)))
	repairedSmall := gocv.NewMat()
	defer repairedSmall.Close()
	gocv.Inpaint(small, smallMask, &repairedSmall, smallRadius, gocv.NS)

	repairedUp := gocv.NewMat()
	defer repairedUp.Close()
	gocv.Resize(repairedSmall, &repairedUp, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)

	// Soften the upscaled fill before dropping it into the original so
	// resampling artifacts do not read as texture.
	gocv.GaussianBlur(repairedUp, &repairedUp, image.Pt(3, 3), 0.5, 0.5, gocv.BorderDefault)

	combined := imgio.BlendWithMask(repairedUp, img, mask)
	defer combined.Close()

	refined := gocv.NewMat()
	defer refined.Close()
	gocv.Inpaint(combined, mask, &refined, 3, gocv.Telea)

	return edgeBlend(img, refined, mask)
}

// edgeBlend feathers the repaired region into its surroundings across a
// dilate-minus-erode ring around the mask boundary. Pixels deep inside
// the mask stay repaired, pixels outside the ring stay original, and
// within the ring a Gaussian-weighted ramp mixes the two.
func edgeBlend(original, repaired, mask gocv.Mat) gocv.Mat {
	const blendWidth = 10

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(blendWidth, blendWidth))
	defer kernel.Close()

	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(mask, &dilated, kernel)

	eroded := gocv.NewMat()
	defer eroded.Close()
	gocv.Erode(mask, &eroded, kernel)

	ring := gocv.NewMat()
	defer ring.Close()
	gocv.Subtract(dilated, eroded, &ring)

	weight := gocv.NewMat()
	defer weight.Close()
	gocv.GaussianBlur(mask, &weight, image.Pt(blendWidth*2+1, blendWidth*2+1),
		blendWidth, blendWidth, gocv.BorderDefault)

	out := imgio.BlendWithMask(repaired, original, mask)
	ramp := imgio.BlendWithMask(repaired, original, weight)
	defer ramp.Close()
	ramp.CopyToWithMask(&out, ring)

	return out
}

// sharpenMasked applies an unsharp kernel inside the mask at the given
// strength, leaving everything outside untouched.
func sharpenMasked(repaired, mask gocv.Mat, strength float64) gocv.Mat {
	kernel := gocv.Zeros(3, 3, gocv.MatTypeCV32F)
	defer kernel.Close()
	kernel.SetFloatAt(0, 1, -1)
	kernel.SetFloatAt(1, 0, -1)
	kernel.SetFloatAt(1, 1, 5)
	kernel.SetFloatAt(1, 2, -1)
	kernel.SetFloatAt(2, 1, -1)

	sharpened := gocv.NewMat()
	defer sharpened.Close()
	gocv.Filter2D(repaired, &sharpened, -1, kernel, image.Pt(-1, -1), 0, gocv.BorderDefault)

	weight := gocv.NewMat()
	defer weight.Close()
	mask.ConvertTo(&weight, gocv.MatTypeCV32F)
	weight.MultiplyFloat(float32(strength))

	return imgio.BlendWithMask(sharpened, repaired, weight)
}
