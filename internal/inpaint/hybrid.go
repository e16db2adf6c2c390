package inpaint

import (
	"sync"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

// Hybrid prefers the neural backend and falls back to OpenCV when it is
// unavailable or errors. A neural failure is logged, never surfaced.
type Hybrid struct {
	primary  Inpainter
	fallback Inpainter
	log      zerolog.Logger

	mu           sync.Mutex
	fallbackUsed bool
}

// Status is a snapshot of the engine for diagnostics endpoints.
type Status struct {
	Primary          string `json:"primary"`
	PrimaryAvailable bool   `json:"primary_available"`
	FallbackUsed     bool   `json:"fallback_used"`
}

// NewHybrid builds the engine. Fallback must always be able to serve.
func NewHybrid(primary, fallback Inpainter, log zerolog.Logger) *Hybrid {
	return &Hybrid{primary: primary, fallback: fallback, log: log}
}

// Name implements Inpainter.
func (h *Hybrid) Name() string { return "hybrid" }

// Available implements Inpainter. The fallback keeps the hybrid always
// serviceable.
func (h *Hybrid) Available() bool { return true }

// Inpaint implements Inpainter.
func (h *Hybrid) Inpaint(img, mask gocv.Mat) (gocv.Mat, error) {
	out, _, err := h.Run(img, mask)
	return out, err
}

// Run inpaints and reports the name of the backend that produced the
// result.
func (h *Hybrid) Run(img, mask gocv.Mat) (gocv.Mat, string, error) {
	return h.RunTuned(img, mask, Tuning{})
}

// RunTuned is Run with caller tuning for the classic path. The neural
// backend ignores tuning.
func (h *Hybrid) RunTuned(img, mask gocv.Mat, tune Tuning) (gocv.Mat, string, error) {
	if h.primary != nil && h.primary.Available() {
		out, err := h.primary.Inpaint(img, mask)
		if err == nil {
			h.setFallbackUsed(false)
			return out, h.primary.Name(), nil
		}
		out.Close()
		h.log.Warn().Err(err).Str("backend", h.primary.Name()).Msg("inpaint failed, falling back")
	}

	h.setFallbackUsed(true)
	if tb, ok := h.fallback.(Tunable); ok && tune != (Tuning{}) {
		out, err := tb.InpaintTuned(img, mask, tune)
		return out, h.fallback.Name(), err
	}
	out, err := h.fallback.Inpaint(img, mask)
	return out, h.fallback.Name(), err
}

// FallbackUsed reports whether the most recent Run used the fallback.
func (h *Hybrid) FallbackUsed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fallbackUsed
}

// CurrentStatus reports backend health for diagnostics.
func (h *Hybrid) CurrentStatus() Status {
	s := Status{FallbackUsed: h.FallbackUsed()}
	if h.primary != nil {
		s.Primary = h.primary.Name()
		s.PrimaryAvailable = h.primary.Available()
	}
	return s
}

func (h *Hybrid) setFallbackUsed(v bool) {
	h.mu.Lock()
	h.fallbackUsed = v
	h.mu.Unlock()
}
