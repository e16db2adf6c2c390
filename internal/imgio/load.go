// Package imgio loads and saves images for the pipeline. Pixels travel as
// gocv Mats; the standard image stack sniffs the container format so the
// saver can honor it, and transparency survives a round trip through the
// opaque processing stages.
package imgio

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"gocv.io/x/gocv"
)

// Image is a decoded image ready for processing. Mat is always 3-channel
// BGR; transparent sources are composited over white with the original
// alpha plane kept aside for reattachment.
type Image struct {
	Mat      gocv.Mat
	Alpha    gocv.Mat
	HasAlpha bool
	Format   string
}

// Close releases the underlying Mats.
func (im *Image) Close() {
	im.Mat.Close()
	if im.HasAlpha {
		im.Alpha.Close()
	}
}

// Load reads and decodes the image at path.
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return Decode(data, path)
}

// Decode decodes raw image bytes. The name is only used to fall back to
// an extension-derived format when the header is not recognized.
func Decode(data []byte, name string) (*Image, error) {
	format := sniffFormat(data, name)

	mat, err := gocv.IMDecode(data, gocv.IMReadUnchanged)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("decode image: unsupported or corrupt data")
	}

	im := &Image{Format: format}
	switch mat.Channels() {
	case 4:
		defer mat.Close()
		channels := gocv.Split(mat)
		defer func() {
			for _, c := range channels {
				c.Close()
			}
		}()

		bgr := gocv.NewMat()
		defer bgr.Close()
		gocv.Merge(channels[:3], &bgr)

		white := gocv.NewMatWithSize(mat.Rows(), mat.Cols(), gocv.MatTypeCV8UC3)
		defer white.Close()
		white.SetTo(gocv.Scalar{Val1: 255, Val2: 255, Val3: 255})

		im.Mat = BlendWithMask(bgr, white, channels[3])
		im.Alpha = channels[3].Clone()
		im.HasAlpha = true
	case 1:
		defer mat.Close()
		bgr := gocv.NewMat()
		gocv.CvtColor(mat, &bgr, gocv.ColorGrayToBGR)
		im.Mat = bgr
	default:
		im.Mat = mat
	}
	return im, nil
}

// Dimensions reads the pixel size of the image at path from its header
// without decoding the pixels.
func Dimensions(path string) (w, h int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("read image header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// sniffFormat identifies the container from the data header, falling back
// to the file extension.
func sniffFormat(data []byte, name string) string {
	if _, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		return format
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext == "jpg" {
		return "jpeg"
	}
	return ext
}

// BlendWithMask mixes fg over bg using an 8-bit single-channel weight
// plane (255 = all fg). Inputs must share dimensions; fg and bg must be
// 3-channel. The caller owns the returned Mat.
func BlendWithMask(fg, bg, weight gocv.Mat) gocv.Mat {
	wf := gocv.NewMat()
	defer wf.Close()
	weight.ConvertTo(&wf, gocv.MatTypeCV32F)
	wf.DivideFloat(255)

	w3 := gocv.NewMat()
	defer w3.Close()
	gocv.Merge([]gocv.Mat{wf, wf, wf}, &w3)

	inv := w3.Clone()
	defer inv.Close()
	inv.MultiplyFloat(-1)
	inv.AddFloat(1)

	fgF := gocv.NewMat()
	defer fgF.Close()
	fg.ConvertTo(&fgF, gocv.MatTypeCV32F)

	bgF := gocv.NewMat()
	defer bgF.Close()
	bg.ConvertTo(&bgF, gocv.MatTypeCV32F)

	gocv.Multiply(fgF, w3, &fgF)
	gocv.Multiply(bgF, inv, &bgF)

	sum := gocv.NewMat()
	defer sum.Close()
	gocv.Add(fgF, bgF, &sum)

	out := gocv.NewMat()
	sum.ConvertTo(&out, gocv.MatTypeCV8U)
	return out
}
