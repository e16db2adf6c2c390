package detect

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/striplab/markless/internal/config"
	"github.com/striplab/markless/internal/imgio"
)

// Strategy is one independent watermark locator. Implementations must not
// mutate the input Mat; candidates are returned sorted by confidence.
type Strategy interface {
	Name() string
	Detect(img gocv.Mat) ([]DetectionResult, error)
}

// Detector runs all strategies against an image and fuses their output.
// Strategies execute concurrently; a crashing or failing strategy is
// logged and dropped without affecting the others.
type Detector struct {
	strategies []Strategy
	fusion     *FusionEngine
	log        zerolog.Logger
}

// NewDetector wires the built-in strategies from detection config.
func NewDetector(cfg config.DetectionConfig, log zerolog.Logger) *Detector {
	return &Detector{
		strategies: []Strategy{
			NewPositionStrategy(cfg.Presets),
			NewColorStrategy(cfg.ColorProfiles),
			NewTextureStrategy(cfg.TextureWindows, cfg.EdgeDensity),
		},
		fusion: NewFusionEngine(cfg),
		log:    log,
	}
}

// Detect runs every strategy on a BGR image.
func (d *Detector) Detect(img gocv.Mat) FusionResult {
	return d.run(img, "")
}

// DetectStrategy restricts detection to the named strategy.
func (d *Detector) DetectStrategy(img gocv.Mat, name string) FusionResult {
	return d.run(img, name)
}

// DetectFile loads the image at path and detects on it. The result is
// always failure-shaped when nothing was found; the error is non-nil
// only for broken input (missing or corrupt file), so callers can tell
// "no watermark" from "could not look".
func (d *Detector) DetectFile(path string) (FusionResult, error) {
	im, err := imgio.Load(path)
	if err != nil {
		return FusionResult{Success: false, Reason: fmt.Sprintf("Failed to load image: %v", err)},
			fmt.Errorf("load image %s: %w", path, err)
	}
	defer im.Close()
	return d.Detect(im.Mat), nil
}

func (d *Detector) run(img gocv.Mat, only string) FusionResult {
	if img.Empty() {
		return FusionResult{Success: false, Reason: "Invalid image"}
	}

	start := time.Now()
	perStrategy := make([][]DetectionResult, len(d.strategies))

	var wg sync.WaitGroup
	for i, s := range d.strategies {
		if only != "" && s.Name() != only {
			continue
		}
		wg.Add(1)
		go func(i int, s Strategy) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					d.log.Error().Str("strategy", s.Name()).Interface("panic", r).Msg("strategy crashed")
				}
			}()
			results, err := s.Detect(img)
			if err != nil {
				d.log.Warn().Err(err).Str("strategy", s.Name()).Msg("strategy failed")
				return
			}
			perStrategy[i] = results
		}(i, s)
	}
	wg.Wait()

	all := make(map[string][]DetectionResult)
	for i, s := range d.strategies {
		if len(perStrategy[i]) > 0 {
			all[s.Name()] = perStrategy[i]
		}
	}
	if len(all) == 0 {
		return FusionResult{Success: false, Reason: "No detection results from any strategy"}
	}

	result := d.fusion.Fuse(all)
	result.AllResults = all

	d.log.Debug().
		Bool("success", result.Success).
		Float64("confidence", result.Confidence).
		Str("mode", result.Mode.String()).
		Int("candidates", len(all)).
		Int64("duration(ms)", time.Since(start).Milliseconds()).
		Msg("detection complete")

	return result
}
