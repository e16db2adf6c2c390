package removal

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/striplab/markless/internal/config"
	"github.com/striplab/markless/internal/detect"
	"github.com/striplab/markless/internal/geometry"
	"github.com/striplab/markless/internal/imgio"
	"github.com/striplab/markless/internal/inpaint"
)

// Result is the outcome of one file-level removal. Error carries the
// failure description when Success is false; removal never panics past
// this record.
type Result struct {
	Success        bool         `json:"success"`
	InputPath      string       `json:"input_path"`
	OutputPath     string       `json:"output_path,omitempty"`
	Box            geometry.Box `json:"bbox"`
	Mode           detect.Mode  `json:"mode"`
	Confidence     float64      `json:"confidence"`
	ProcessingTime float64      `json:"processing_time"`
	Algorithm      string       `json:"algorithm,omitempty"`
	Format         string       `json:"format,omitempty"`
	Error          string       `json:"error,omitempty"`
}

// Stats counts removals by outcome and backend.
type Stats struct {
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	LamaUsed   int `json:"lama_used"`
	OpenCVUsed int `json:"opencv_used"`
}

// Remover drives the full removal of a detected watermark: mask
// construction, inpainting, alpha reconstruction and output encoding.
type Remover struct {
	engine       *inpaint.Hybrid
	outputFormat string
	jpegQuality  int
	log          zerolog.Logger

	mu    sync.Mutex
	stats Stats
}

// NewRemover builds the remover on top of a hybrid inpainting engine.
func NewRemover(engine *inpaint.Hybrid, cfg config.RemovalConfig, log zerolog.Logger) *Remover {
	return &Remover{
		engine:       engine,
		outputFormat: cfg.OutputFormat,
		jpegQuality:  cfg.JPEGQuality,
		log:          log,
	}
}

// Remove repairs the box region of a BGR image and reports which backend
// produced the result. The caller owns the returned Mat.
func (r *Remover) Remove(img gocv.Mat, box geometry.Box, cfg Config) (gocv.Mat, string, error) {
	w, h := img.Cols(), img.Rows()
	clamped := box.Clamp(w, h)

	mask := CreateMask(w, h, clamped, cfg.FeatherRadius, cfg.DilationIterations)
	defer mask.Close()

	tune := inpaint.Tuning{Radius: cfg.InpaintRadius, Telea: cfg.Algorithm == AlgorithmTelea}
	return r.engine.RunTuned(img, mask, tune)
}

// RemoveFile loads inputPath, removes the watermark in box and writes the
// repaired image to outputPath, keeping the source container and
// transparency unless cfg forces a format. A nil cfg derives adaptive
// parameters from the image and the detection verdict.
func (r *Remover) RemoveFile(inputPath, outputPath string, box geometry.Box, mode detect.Mode, confidence float64, cfg *Config) (res Result) {
	start := time.Now()
	res = Result{InputPath: inputPath, OutputPath: outputPath, Box: box, Mode: mode, Confidence: confidence}

	defer func() {
		if p := recover(); p != nil {
			res.Success = false
			res.Error = fmt.Sprintf("removal panicked: %v", p)
		}
		res.ProcessingTime = time.Since(start).Seconds()
		r.record(res)
	}()

	im, err := imgio.Load(inputPath)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer im.Close()

	w, h := im.Mat.Cols(), im.Mat.Rows()
	clamped := box.Clamp(w, h)
	res.Box = clamped

	effective := Config{}
	if cfg != nil {
		effective = *cfg
		if effective.OutputQuality == 0 {
			effective.OutputQuality = r.jpegQuality
		}
	} else {
		effective = AdaptiveConfig(w, h, clamped, mode, confidence, r.jpegQuality)
	}

	repaired, backend, err := r.Remove(im.Mat, clamped, effective)
	if err != nil {
		repaired.Close()
		res.Error = fmt.Sprintf("inpaint: %v", err)
		return res
	}
	defer repaired.Close()

	out := repaired
	if im.HasAlpha {
		// The repaired region is synthesized opaque content; the alpha
		// plane must agree or the patch vanishes on composite.
		withAlpha := reattachAlpha(repaired, im.Alpha, clamped)
		defer withAlpha.Close()
		out = withAlpha
	}

	override := effective.OutputFormat
	if override == "" || override == "auto" {
		override = r.outputFormat
	}
	format := imgio.DecideFormat(override, im.HasAlpha, im.Format)

	if err := imgio.Save(outputPath, out, format, effective.OutputQuality); err != nil {
		res.Error = err.Error()
		return res
	}

	res.Success = true
	res.Algorithm = backend
	res.Format = format

	r.log.Info().
		Str("input", inputPath).
		Str("output", outputPath).
		Str("algorithm", backend).
		Str("format", format).
		Str("mode", mode.String()).
		Int64("duration(ms)", time.Since(start).Milliseconds()).
		Msg("watermark removed")

	return res
}

// CurrentStats returns a snapshot of the removal counters.
func (r *Remover) CurrentStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Remover) record(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Processed++
	if res.Success {
		r.stats.Successful++
	} else {
		r.stats.Failed++
	}
	switch res.Algorithm {
	case "LaMa":
		r.stats.LamaUsed++
	case "OpenCV":
		r.stats.OpenCVUsed++
	}
}
