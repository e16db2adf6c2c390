package batch

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/striplab/markless/internal/config"
	"github.com/striplab/markless/internal/detect"
	"github.com/striplab/markless/internal/geometry"
	"github.com/striplab/markless/internal/imgio"
	"github.com/striplab/markless/internal/removal"
)

// Detector locates a watermark in an image file. The error is non-nil
// only when the file itself could not be read or decoded.
type Detector interface {
	DetectFile(path string) (detect.FusionResult, error)
}

// Remover removes a watermark from an image file.
type Remover interface {
	RemoveFile(inputPath, outputPath string, box geometry.Box, mode detect.Mode, confidence float64, cfg *removal.Config) removal.Result
}

// Processor runs batch removals. One file failing, whether in detection
// or removal, never stops the rest of the batch.
type Processor struct {
	detector Detector
	remover  Remover
	cfg      config.BatchConfig
	log      zerolog.Logger
}

// NewProcessor builds the processor.
func NewProcessor(detector Detector, remover Remover, cfg config.BatchConfig, log zerolog.Logger) *Processor {
	return &Processor{detector: detector, remover: remover, cfg: cfg, log: log}
}

// unified is a watermark position shared by the whole batch.
type unified struct {
	box        geometry.Box
	confidence float64
	mode       detect.Mode
}

// Process runs the task to completion: scan, sample for a consistent
// watermark position, then remove file by file. The progress callback,
// when non-nil, receives a snapshot after every file. Only a structural
// problem before the loop (unreadable folder) fails the task itself.
func (p *Processor) Process(task *Task, skipLowConfidence bool, progress func(Snapshot)) Snapshot {
	files, err := p.scan(task.InputFolder())
	if err != nil {
		task.fail(err.Error())
		return task.Snapshot()
	}
	if err := os.MkdirAll(task.OutputFolder(), 0o755); err != nil {
		task.fail(fmt.Sprintf("create output folder: %v", err))
		return task.Snapshot()
	}

	task.start(len(files))

	shared := p.sampleUnified(task.InputFolder(), files)
	if shared != nil {
		p.log.Info().
			Str("task", task.ID()).
			Interface("bbox", shared.box).
			Msg("consistent watermark position, reusing for whole batch")
	}

	for _, name := range files {
		inPath := filepath.Join(task.InputFolder(), name)
		outPath := filepath.Join(task.OutputFolder(), name)
		p.processOne(task, shared, inPath, outPath, skipLowConfidence)
		if progress != nil {
			progress(task.Snapshot())
		}
	}

	task.complete()
	snap := task.Snapshot()
	p.log.Info().
		Str("task", task.ID()).
		Int("total", snap.TotalFiles).
		Int("successful", snap.Successful).
		Int("skipped", snap.Skipped).
		Int("failed", snap.Failed).
		Msg("batch complete")
	return snap
}

// scan lists supported image files in deterministic order.
func (p *Processor) scan(folder string) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("scan input folder: %w", err)
	}
	supported := make(map[string]bool, len(p.cfg.Extensions))
	for _, ext := range p.cfg.Extensions {
		supported[strings.ToLower(ext)] = true
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if supported[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, e.Name())
		}
	}
	return files, nil
}

// sample is one successful detection on a sampled file, with the image
// dimensions needed to normalize its box.
type sample struct {
	box  geometry.Box
	imgW int
	imgH int
}

// sampleUnified detects on a few random files and, when the detections
// agree on a normalized position, returns the mean box to reuse for the
// whole batch. Any disagreement or detection shortfall returns nil and
// the batch falls back to per-file detection.
func (p *Processor) sampleUnified(folder string, files []string) *unified {
	n := min(p.cfg.SampleSize, len(files))
	if n < 2 {
		return nil
	}

	var samples []sample
	for _, i := range rand.Perm(len(files))[:n] {
		if s, ok := p.detectSample(filepath.Join(folder, files[i])); ok {
			samples = append(samples, s)
		}
	}
	if len(samples) < 2 {
		return nil
	}
	if !consistentPosition(samples, p.cfg.PositionTolerance) {
		p.log.Debug().Int("samples", len(samples)).Msg("sampled positions inconsistent")
		return nil
	}

	boxes := make([]geometry.Box, len(samples))
	for i, s := range samples {
		boxes[i] = s.box
	}
	return &unified{box: geometry.Average(boxes), confidence: 0.85, mode: detect.ModeNormal}
}

// detectSample runs detection on one sampled file, isolating any crash.
func (p *Processor) detectSample(path string) (s sample, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Warn().Str("file", path).Interface("panic", r).Msg("sample detection crashed")
			ok = false
		}
	}()

	fr, err := p.detector.DetectFile(path)
	if err != nil || !fr.Success {
		return sample{}, false
	}
	w, h, err := imgio.Dimensions(path)
	if err != nil || w == 0 || h == 0 {
		return sample{}, false
	}
	return sample{box: fr.Box, imgW: w, imgH: h}, true
}

// consistentPosition reports whether all sampled boxes sit at the same
// normalized position and size, each pairwise deviation staying under the
// tolerance.
func consistentPosition(samples []sample, tolerance float64) bool {
	type norm struct{ cx, cy, w, h float64 }
	norms := make([]norm, len(samples))
	for i, s := range samples {
		cx, cy := s.box.Center()
		norms[i] = norm{
			cx: cx / float64(s.imgW),
			cy: cy / float64(s.imgH),
			w:  float64(s.box.Width()) / float64(s.imgW),
			h:  float64(s.box.Height()) / float64(s.imgH),
		}
	}
	for i := 0; i < len(norms); i++ {
		for j := i + 1; j < len(norms); j++ {
			a, b := norms[i], norms[j]
			if math.Abs(a.cx-b.cx) >= tolerance ||
				math.Abs(a.cy-b.cy) >= tolerance ||
				math.Abs(a.w-b.w) >= tolerance ||
				math.Abs(a.h-b.h) >= tolerance {
				return false
			}
		}
	}
	return true
}

// processOne handles a single file. Panics are converted into a recorded
// item failure.
func (p *Processor) processOne(task *Task, shared *unified, inPath, outPath string, skipLowConfidence bool) {
	name := filepath.Base(inPath)
	defer func() {
		if r := recover(); r != nil {
			task.recordFailed(fmt.Sprintf("%s: %v", name, r))
			p.log.Error().Str("file", name).Interface("panic", r).Msg("batch item crashed")
		}
	}()

	var (
		box        geometry.Box
		confidence float64
		mode       detect.Mode
	)
	if shared != nil {
		box, confidence, mode = shared.box, shared.confidence, shared.mode
	} else {
		fr, err := p.detector.DetectFile(inPath)
		if err != nil {
			// Unreadable input is a failure, not a skip: skipped is
			// reserved for files inspected and found clean.
			task.recordFailed(name + ": " + err.Error())
			p.log.Warn().Str("file", name).Err(err).Msg("could not read batch item")
			return
		}
		if !fr.Success {
			task.recordSkipped()
			p.log.Debug().Str("file", name).Str("reason", fr.Reason).Msg("no watermark found, skipped")
			return
		}
		box, confidence, mode = fr.Box, fr.Confidence, fr.Mode
	}

	if skipLowConfidence && confidence < p.cfg.MinConfidence {
		task.recordSkipped()
		p.log.Debug().Str("file", name).Float64("confidence", confidence).Msg("confidence below threshold, skipped")
		return
	}

	res := p.remover.RemoveFile(inPath, outPath, box, mode, confidence, nil)
	if res.Success {
		task.recordSuccess(confidence)
	} else {
		task.recordFailed(name + ": " + res.Error)
	}
}
