package inpaint

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/striplab/markless/internal/config"
	"github.com/striplab/markless/internal/imgio"
)

// LamaClient talks to an out-of-process LaMa inference service. The
// service takes a multipart image+mask pair on POST /inpaint and answers
// with the repaired image as PNG; GET /health reports readiness.
//
// Oversized images are downscaled to the resize limit for inference and
// upscaled afterwards, with everything outside the mask recombined from
// the original so only the repaired region pays the resampling cost.
type LamaClient struct {
	endpoint    string
	client      *http.Client
	resizeLimit int
	enabled     bool
	log         zerolog.Logger

	probeOnce sync.Once
	available bool
}

// NewLamaClient builds the client from config. No connection is made
// until the first Available call.
func NewLamaClient(cfg config.LamaConfig, log zerolog.Logger) *LamaClient {
	return &LamaClient{
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		client:      &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		resizeLimit: cfg.ResizeLimit,
		enabled:     cfg.Enabled,
		log:         log,
	}
}

// Name implements Inpainter.
func (l *LamaClient) Name() string { return "LaMa" }

// Available probes the service health endpoint once and caches the
// outcome. A dead or disabled backend logs a single warning.
func (l *LamaClient) Available() bool {
	if !l.enabled {
		return false
	}
	l.probeOnce.Do(func() {
		resp, err := l.client.Get(l.endpoint + "/health")
		if err != nil {
			l.log.Warn().Err(err).Str("endpoint", l.endpoint).
				Msg("neural inpainting unavailable, using opencv fallback")
			return
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode != http.StatusOK {
			l.log.Warn().Int("status", resp.StatusCode).Str("endpoint", l.endpoint).
				Msg("neural inpainting unhealthy, using opencv fallback")
			return
		}
		l.available = true
		l.log.Info().Str("endpoint", l.endpoint).Msg("neural inpainting backend ready")
	})
	return l.available
}

// Inpaint implements Inpainter by asking the service to repair the mask
// region.
func (l *LamaClient) Inpaint(img, mask gocv.Mat) (gocv.Mat, error) {
	w, h := img.Cols(), img.Rows()

	sendImg, sendMask := img, mask
	scaled := false
	if maxDim := max(w, h); maxDim > l.resizeLimit {
		scale := float64(l.resizeLimit) / float64(maxDim)
		newW, newH := int(float64(w)*scale), int(float64(h)*scale)

		smallImg := gocv.NewMat()
		defer smallImg.Close()
		gocv.Resize(img, &smallImg, image.Pt(newW, newH), 0, 0, gocv.InterpolationLinear)

		smallMask := gocv.NewMat()
		defer smallMask.Close()
		gocv.Resize(mask, &smallMask, image.Pt(newW, newH), 0, 0, gocv.InterpolationLinear)

		sendImg, sendMask = smallImg, smallMask
		scaled = true
		l.log.Debug().Int("w", newW).Int("h", newH).Msg("downscaled for neural inference")
	}

	body, contentType, err := encodeInpaintRequest(sendImg, sendMask)
	if err != nil {
		return gocv.NewMat(), err
	}

	req, err := http.NewRequest(http.MethodPost, l.endpoint+"/inpaint", body)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("build inpaint request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := l.client.Do(req)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("inpaint request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return gocv.NewMat(), fmt.Errorf("inpaint service returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("read inpaint response: %w", err)
	}
	result, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil || result.Empty() {
		return gocv.NewMat(), fmt.Errorf("decode inpaint response: %w", err)
	}

	if !scaled {
		return result, nil
	}

	// Upscale the repair and keep original pixels outside the mask.
	defer result.Close()
	up := gocv.NewMat()
	defer up.Close()
	gocv.Resize(result, &up, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(mask, &binary, 128, 255, gocv.ThresholdBinary)

	return imgio.BlendWithMask(up, img, binary), nil
}

// encodeInpaintRequest packages image and mask as PNG form files.
func encodeInpaintRequest(img, mask gocv.Mat) (*bytes.Buffer, string, error) {
	imgBuf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	if err != nil {
		return nil, "", fmt.Errorf("encode image: %w", err)
	}
	defer imgBuf.Close()

	maskBuf, err := gocv.IMEncode(gocv.PNGFileExt, mask)
	if err != nil {
		return nil, "", fmt.Errorf("encode mask: %w", err)
	}
	defer maskBuf.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	imgPart, err := mw.CreateFormFile("image", "image.png")
	if err != nil {
		return nil, "", err
	}
	imgPart.Write(imgBuf.GetBytes())

	maskPart, err := mw.CreateFormFile("mask", "mask.png")
	if err != nil {
		return nil, "", err
	}
	maskPart.Write(maskBuf.GetBytes())

	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &body, mw.FormDataContentType(), nil
}
