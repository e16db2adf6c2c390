// Package config loads and validates the engine configuration. Tuned
// detection constants (position presets, color profiles, texture windows,
// fusion weights) live here as data so deployments can override them from
// a YAML file without code changes.
package config

import (
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration. Zero sections fall back to defaults.
type Config struct {
	Debug bool `yaml:"debug"`
	Human bool `yaml:"human"`

	Detection DetectionConfig `yaml:"detection"`
	Removal   RemovalConfig   `yaml:"removal"`
	Lama      LamaConfig      `yaml:"lama"`
	Batch     BatchConfig     `yaml:"batch"`
	Server    ServerConfig    `yaml:"server"`
}

// Thresholds are the fusion confidence cutoffs. High and Medium pick the
// removal mode, Low rejects the detection outright.
type Thresholds struct {
	High   float64 `yaml:"high"`
	Medium float64 `yaml:"medium"`
	Low    float64 `yaml:"low"`
}

// DetectionConfig drives the strategies and the fusion engine.
type DetectionConfig struct {
	// Profile selects a named threshold set: default, conservative or
	// aggressive. Explicit Thresholds win over the profile.
	Profile    string     `yaml:"profile"`
	Thresholds Thresholds `yaml:"thresholds"`

	// Weights maps strategy name to its fusion weight. Strategies not
	// listed fall back to DefaultWeight.
	Weights       map[string]float64 `yaml:"weights"`
	DefaultWeight float64            `yaml:"default_weight"`

	// ClusterIoU is the overlap above which candidates merge into one
	// cluster during fusion.
	ClusterIoU float64 `yaml:"cluster_iou"`

	Presets        []PositionPreset `yaml:"position_presets"`
	ColorProfiles  []ColorProfile   `yaml:"color_profiles"`
	TextureWindows []TextureWindow  `yaml:"texture_windows"`

	// EdgeDensity is the Canny edge fill ratio above which a texture
	// window counts as a hotspot.
	EdgeDensity float64 `yaml:"edge_density"`
}

// PositionPreset describes one gravity-anchored candidate region. All
// margins and sizes are percentages of the image dimensions.
type PositionPreset struct {
	Name      string  `yaml:"name"`
	Gravity   string  `yaml:"gravity"` // south_east, south_west, south, north_east
	MarginX   float64 `yaml:"margin_x_pct"`
	MarginY   float64 `yaml:"margin_y_pct"`
	WidthPct  float64 `yaml:"width_pct"`
	HeightPct float64 `yaml:"height_pct"`
	Priority  int     `yaml:"priority"`
}

// HSV is an OpenCV-convention HSV triple (H in [0,180], S and V in [0,255]).
type HSV struct {
	H float64 `yaml:"h"`
	S float64 `yaml:"s"`
	V float64 `yaml:"v"`
}

// ColorProfile describes one watermark color family as an HSV range plus
// the minimum in-range pixel ratio for the profile to apply.
type ColorProfile struct {
	Name     string  `yaml:"name"`
	Lower    HSV     `yaml:"lower"`
	Upper    HSV     `yaml:"upper"`
	MinRatio float64 `yaml:"min_ratio"`
}

// TextureWindow is one sliding-window size for the texture strategy.
type TextureWindow struct {
	Height int `yaml:"height"`
	Width  int `yaml:"width"`
}

// RemovalConfig holds output encoding defaults.
type RemovalConfig struct {
	// OutputFormat forces the result container: auto, png or jpeg.
	OutputFormat string `yaml:"output_format"`
	JPEGQuality  int    `yaml:"jpeg_quality"`
}

// LamaConfig describes the optional neural inpainting backend.
type LamaConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Endpoint       string `yaml:"endpoint"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	// ResizeLimit is the maximum dimension sent to the backend; larger
	// images are downscaled for inference and upscaled after.
	ResizeLimit int `yaml:"resize_limit"`
}

// BatchConfig drives folder processing.
type BatchConfig struct {
	SampleSize        int      `yaml:"sample_size"`
	PositionTolerance float64  `yaml:"position_tolerance"`
	Extensions        []string `yaml:"extensions"`
	SkipLowConfidence bool     `yaml:"skip_low_confidence"`
	MinConfidence     float64  `yaml:"min_confidence"`
	TaskMaxAgeSeconds int      `yaml:"task_max_age_seconds"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MaxUploadMB int64  `yaml:"max_upload_mb"`
}

// Default returns the full built-in configuration.
func Default() Config {
	return Config{
		Detection: DetectionConfig{
			Profile: "default",
			Weights: map[string]float64{
				"position": 0.40,
				"color":    0.35,
				"texture":  0.15,
			},
			DefaultWeight: 0.10,
			ClusterIoU:    0.5,
			Presets: []PositionPreset{
				{Name: "bottom-right-1", Gravity: "south_east", MarginX: 3, MarginY: 3, WidthPct: 18, HeightPct: 8, Priority: 1},
				{Name: "bottom-right-2", Gravity: "south_east", MarginX: 2, MarginY: 2, WidthPct: 25, HeightPct: 12, Priority: 2},
				{Name: "bottom-left", Gravity: "south_west", MarginX: 3, MarginY: 3, WidthPct: 18, HeightPct: 8, Priority: 3},
				{Name: "bottom-center", Gravity: "south", MarginX: 0, MarginY: 2, WidthPct: 30, HeightPct: 10, Priority: 4},
				{Name: "top-right", Gravity: "north_east", MarginX: 3, MarginY: 3, WidthPct: 15, HeightPct: 8, Priority: 5},
			},
			ColorProfiles: []ColorProfile{
				{Name: "white_semi", Lower: HSV{0, 0, 180}, Upper: HSV{180, 80, 255}, MinRatio: 0.25},
				{Name: "light_gray", Lower: HSV{0, 0, 140}, Upper: HSV{180, 60, 220}, MinRatio: 0.20},
				{Name: "brand_blue", Lower: HSV{100, 50, 150}, Upper: HSV{140, 255, 255}, MinRatio: 0.15},
				{Name: "dark_text", Lower: HSV{0, 0, 0}, Upper: HSV{180, 255, 80}, MinRatio: 0.10},
			},
			TextureWindows: []TextureWindow{
				{Height: 40, Width: 120},
				{Height: 60, Width: 180},
			},
			EdgeDensity: 0.1,
		},
		Removal: RemovalConfig{
			OutputFormat: "auto",
			JPEGQuality:  95,
		},
		Lama: LamaConfig{
			Enabled:        true,
			Endpoint:       "http://127.0.0.1:8601",
			TimeoutSeconds: 60,
			ResizeLimit:    2048,
		},
		Batch: BatchConfig{
			SampleSize:        3,
			PositionTolerance: 0.05,
			Extensions:        []string{".jpg", ".jpeg", ".png", ".bmp", ".tiff", ".webp"},
			SkipLowConfidence: true,
			MinConfidence:     0.5,
			TaskMaxAgeSeconds: 3600,
		},
		Server: ServerConfig{
			Addr:        ":8080",
			MaxUploadMB: 20,
		},
	}
}

// Load reads the YAML file at path and overlays it onto the defaults. A
// missing file yields the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if _, ok := err.(*fs.PathError); ok && os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// FusionThresholds resolves the effective thresholds: explicit values win,
// then the named profile, then the default table.
func (d DetectionConfig) FusionThresholds() Thresholds {
	if d.Thresholds != (Thresholds{}) {
		return d.Thresholds
	}
	switch d.Profile {
	case "conservative":
		return Thresholds{High: 0.85, Medium: 0.65, Low: 0.45}
	case "aggressive":
		return Thresholds{High: 0.70, Medium: 0.40, Low: 0.20}
	default:
		return Thresholds{High: 0.80, Medium: 0.50, Low: 0.30}
	}
}

// Weight returns the fusion weight for a strategy name.
func (d DetectionConfig) Weight(strategy string) float64 {
	if w, ok := d.Weights[strategy]; ok {
		return w
	}
	return d.DefaultWeight
}

// Validate checks value ranges across all sections.
func (c Config) Validate() error {
	for name, w := range c.Detection.Weights {
		if w < 0 {
			return fmt.Errorf("detection weight %q is negative", name)
		}
	}
	t := c.Detection.FusionThresholds()
	if !(t.High > t.Medium && t.Medium > t.Low && t.Low > 0) {
		return fmt.Errorf("fusion thresholds must be ordered high > medium > low > 0, got %+v", t)
	}
	if c.Detection.ClusterIoU <= 0 || c.Detection.ClusterIoU >= 1 {
		return fmt.Errorf("cluster_iou must be in (0,1), got %v", c.Detection.ClusterIoU)
	}
	for _, p := range c.Detection.Presets {
		if p.WidthPct <= 0 || p.WidthPct > 100 || p.HeightPct <= 0 || p.HeightPct > 100 {
			return fmt.Errorf("preset %q has size outside (0,100]%%", p.Name)
		}
	}
	for _, cp := range c.Detection.ColorProfiles {
		if cp.MinRatio <= 0 || cp.MinRatio > 1 {
			return fmt.Errorf("color profile %q min_ratio outside (0,1]", cp.Name)
		}
	}
	if c.Batch.SampleSize < 1 {
		return fmt.Errorf("batch sample_size must be >= 1, got %d", c.Batch.SampleSize)
	}
	if c.Batch.PositionTolerance <= 0 || c.Batch.PositionTolerance >= 1 {
		return fmt.Errorf("batch position_tolerance must be in (0,1), got %v", c.Batch.PositionTolerance)
	}
	if c.Removal.JPEGQuality < 1 || c.Removal.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be in [1,100], got %d", c.Removal.JPEGQuality)
	}
	switch c.Removal.OutputFormat {
	case "auto", "png", "jpeg":
	default:
		return fmt.Errorf("output_format must be auto, png or jpeg, got %q", c.Removal.OutputFormat)
	}
	if c.Lama.ResizeLimit < 256 {
		return fmt.Errorf("lama resize_limit must be >= 256, got %d", c.Lama.ResizeLimit)
	}
	return nil
}
