package imgio

import (
	"fmt"
	"os"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

// DecideFormat resolves the output container. An explicit override wins;
// auto keeps PNG for transparent or PNG sources and uses JPEG otherwise.
func DecideFormat(override string, hasAlpha bool, srcFormat string) string {
	switch override {
	case "png":
		return "png"
	case "jpeg", "jpg":
		return "jpeg"
	}
	if hasAlpha || srcFormat == "png" {
		return "png"
	}
	return "jpeg"
}

// Save encodes the Mat to path in the given format. Quality applies to
// JPEG only. The format decides the encoding regardless of the path
// extension.
func Save(path string, mat gocv.Mat, format string, quality int) error {
	img, err := mat.ToImage()
	if err != nil {
		return fmt.Errorf("convert image: %w", err)
	}

	f, err := imaging.FormatFromExtension(format)
	if err != nil {
		return fmt.Errorf("output format %q: %w", format, err)
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer out.Close()

	var opts []imaging.EncodeOption
	if f == imaging.JPEG {
		opts = append(opts, imaging.JPEGQuality(quality))
	}
	if err := imaging.Encode(out, img, f, opts...); err != nil {
		return fmt.Errorf("encode %s: %w", format, err)
	}
	return nil
}
