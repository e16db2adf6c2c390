// Package detect locates watermarks in images. Three independent
// strategies (position presets, color profiles, texture windows) produce
// candidate boxes which a fusion engine merges into one decision.
package detect

import (
	"fmt"

	"github.com/striplab/markless/internal/geometry"
)

// Mode is the processing mode the fusion engine recommends for removal.
type Mode int

const (
	// ModeNone marks an unset mode, used on failed detections.
	ModeNone Mode = iota
	// ModeNormal applies the standard removal parameters.
	ModeNormal
	// ModeConservative widens feathering and shrinks the inpaint radius
	// for medium-confidence detections.
	ModeConservative
	// ModeLowConfidence marks detections callers may want to skip.
	ModeLowConfidence
)

// String returns the wire name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeConservative:
		return "conservative"
	case ModeLowConfidence:
		return "low_confidence"
	default:
		return ""
	}
}

// MarshalJSON encodes the mode as its wire name.
func (m Mode) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// DetectionResult is one candidate region from a single strategy.
type DetectionResult struct {
	Box        geometry.Box   `json:"bbox"`
	Confidence float64        `json:"confidence"`
	Method     string         `json:"method"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewDetection builds a validated candidate. Confidence outside [0,1] or
// a degenerate box is rejected.
func NewDetection(box geometry.Box, confidence float64, method string) (DetectionResult, error) {
	if confidence < 0 || confidence > 1 {
		return DetectionResult{}, fmt.Errorf("confidence must be in [0,1], got %v", confidence)
	}
	if !box.Valid() {
		return DetectionResult{}, fmt.Errorf("degenerate box %+v", box)
	}
	return DetectionResult{Box: box, Confidence: confidence, Method: method}, nil
}

// FusionResult is the final detection decision. Success false carries the
// reject reason; it is a result, not an error.
type FusionResult struct {
	Success      bool                         `json:"success"`
	Box          geometry.Box                 `json:"bbox"`
	Confidence   float64                      `json:"confidence"`
	Mode         Mode                         `json:"mode"`
	Contributors []string                     `json:"contributors,omitempty"`
	Reason       string                       `json:"reason,omitempty"`
	AllResults   map[string][]DetectionResult `json:"all_results,omitempty"`
}
