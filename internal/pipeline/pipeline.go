// Package pipeline wires the detection, inpainting, removal and batch
// stages into the engine the CLI and the HTTP layer talk to.
package pipeline

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/striplab/markless/internal/batch"
	"github.com/striplab/markless/internal/config"
	"github.com/striplab/markless/internal/detect"
	"github.com/striplab/markless/internal/imgio"
	"github.com/striplab/markless/internal/inpaint"
	"github.com/striplab/markless/internal/removal"
)

// Pipeline is the assembled engine.
type Pipeline struct {
	cfg      config.Config
	log      zerolog.Logger
	detector *detect.Detector
	remover  *removal.Remover
	engine   *inpaint.Hybrid
	store    batch.Store
	proc     *batch.Processor
}

// Status aggregates engine health and counters for diagnostics.
type Status struct {
	Removal removal.Stats  `json:"removal"`
	Inpaint inpaint.Status `json:"inpaint"`
	Tasks   int            `json:"tasks"`
}

// New assembles a pipeline from configuration. The task store defaults
// to in-memory; NewWithStore swaps it out.
func New(cfg config.Config, log zerolog.Logger) *Pipeline {
	return NewWithStore(cfg, batch.NewMemoryStore(), log)
}

// NewWithStore assembles a pipeline around the given task store.
func NewWithStore(cfg config.Config, store batch.Store, log zerolog.Logger) *Pipeline {
	engine := inpaint.NewHybrid(
		inpaint.NewLamaClient(cfg.Lama, log),
		inpaint.NewOpenCV(log),
		log,
	)
	detector := detect.NewDetector(cfg.Detection, log)
	remover := removal.NewRemover(engine, cfg.Removal, log)

	return &Pipeline{
		cfg:      cfg,
		log:      log,
		detector: detector,
		remover:  remover,
		engine:   engine,
		store:    store,
		proc:     batch.NewProcessor(detector, remover, cfg.Batch, log),
	}
}

// Detector exposes the detection stage.
func (p *Pipeline) Detector() *detect.Detector { return p.detector }

// Remover exposes the removal stage.
func (p *Pipeline) Remover() *removal.Remover { return p.remover }

// DetectOnly detects the watermark in the file at path without touching
// the pixels. When visualPath is non-empty a candidate overlay is saved
// there as PNG.
func (p *Pipeline) DetectOnly(path, visualPath string) (detect.FusionResult, error) {
	result, err := p.detector.DetectFile(path)
	if err != nil {
		return result, err
	}
	if visualPath == "" {
		return result, nil
	}

	im, err := imgio.Load(path)
	if err != nil {
		return result, fmt.Errorf("load for visualization: %w", err)
	}
	defer im.Close()

	vis := detect.Overlay(im.Mat, result)
	defer vis.Close()
	if err := imgio.Save(visualPath, vis, "png", 0); err != nil {
		return result, fmt.Errorf("save visualization: %w", err)
	}
	return result, nil
}

// Remove detects and removes the watermark in inputPath, writing the
// repaired image to outputPath. Detection failure or confidence under
// minConfidence comes back as an unsuccessful result, not an error.
func (p *Pipeline) Remove(inputPath, outputPath string, minConfidence float64) removal.Result {
	fr, err := p.detector.DetectFile(inputPath)
	if err != nil {
		return removal.Result{InputPath: inputPath, Error: err.Error()}
	}
	if !fr.Success {
		return removal.Result{
			InputPath: inputPath,
			Error:     "watermark not detected: " + fr.Reason,
		}
	}
	if fr.Confidence < minConfidence {
		return removal.Result{
			InputPath:  inputPath,
			Box:        fr.Box,
			Confidence: fr.Confidence,
			Error:      fmt.Sprintf("confidence %.2f below threshold %.2f", fr.Confidence, minConfidence),
		}
	}
	return p.remover.RemoveFile(inputPath, outputPath, fr.Box, fr.Mode, fr.Confidence, nil)
}

// RemovePreset removes the region of a named position preset without
// running detection, for sources whose watermark position is known.
func (p *Pipeline) RemovePreset(inputPath, outputPath, presetName string) removal.Result {
	var preset *config.PositionPreset
	for i := range p.cfg.Detection.Presets {
		if p.cfg.Detection.Presets[i].Name == presetName {
			preset = &p.cfg.Detection.Presets[i]
			break
		}
	}
	if preset == nil {
		return removal.Result{InputPath: inputPath, Error: fmt.Sprintf("unknown preset %q", presetName)}
	}

	w, h, err := imgio.Dimensions(inputPath)
	if err != nil {
		return removal.Result{InputPath: inputPath, Error: err.Error()}
	}
	box, ok := detect.PresetBox(w, h, *preset)
	if !ok {
		return removal.Result{InputPath: inputPath, Error: fmt.Sprintf("preset %q degenerates on a %dx%d image", presetName, w, h)}
	}
	return p.remover.RemoveFile(inputPath, outputPath, box, detect.ModeConservative, 1.0, nil)
}

// BatchRemove creates a task for the folder and starts processing it on
// a background goroutine. Callers poll progress through Task snapshots.
func (p *Pipeline) BatchRemove(inputFolder, outputFolder string) (*batch.Task, error) {
	info, err := os.Stat(inputFolder)
	if err != nil {
		return nil, fmt.Errorf("input folder: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input folder %s is not a directory", inputFolder)
	}

	task := p.store.Create(inputFolder, outputFolder)
	go p.proc.Process(task, p.cfg.Batch.SkipLowConfidence, nil)
	return task, nil
}

// BatchRemoveSync processes the folder on the calling goroutine, for CLI
// use. The progress callback may be nil.
func (p *Pipeline) BatchRemoveSync(inputFolder, outputFolder string, progress func(batch.Snapshot)) (batch.Snapshot, error) {
	if _, err := os.Stat(inputFolder); err != nil {
		return batch.Snapshot{}, fmt.Errorf("input folder: %w", err)
	}
	task := p.store.Create(inputFolder, outputFolder)
	return p.proc.Process(task, p.cfg.Batch.SkipLowConfidence, progress), nil
}

// Task returns a snapshot of the task by id.
func (p *Pipeline) Task(id string) (batch.Snapshot, error) {
	t, err := p.store.Get(id)
	if err != nil {
		return batch.Snapshot{}, err
	}
	return t.Snapshot(), nil
}

// Tasks lists all known task snapshots, newest first.
func (p *Pipeline) Tasks() []batch.Snapshot {
	return p.store.List()
}

// CleanupTasks evicts finished tasks older than the configured age.
func (p *Pipeline) CleanupTasks() int {
	maxAge := time.Duration(p.cfg.Batch.TaskMaxAgeSeconds) * time.Second
	return p.store.Evict(maxAge)
}

// CurrentStatus reports removal counters and inpainting backend health.
func (p *Pipeline) CurrentStatus() Status {
	return Status{
		Removal: p.remover.CurrentStats(),
		Inpaint: p.engine.CurrentStatus(),
		Tasks:   len(p.store.List()),
	}
}
