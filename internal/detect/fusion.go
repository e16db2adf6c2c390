package detect

import (
	"fmt"
	"math"
	"sort"

	"github.com/striplab/markless/internal/config"
	"github.com/striplab/markless/internal/geometry"
)

// FusionEngine merges the candidates of all strategies into one decision.
// Overlapping candidates cluster by IoU; each cluster scores its weighted
// mean confidence plus bonuses for strategy diversity and member count.
type FusionEngine struct {
	weights       map[string]float64
	defaultWeight float64
	thresholds    config.Thresholds
	clusterIoU    float64
}

// NewFusionEngine builds the engine from detection config.
func NewFusionEngine(cfg config.DetectionConfig) *FusionEngine {
	return &FusionEngine{
		weights:       cfg.Weights,
		defaultWeight: cfg.DefaultWeight,
		thresholds:    cfg.FusionThresholds(),
		clusterIoU:    cfg.ClusterIoU,
	}
}

type candidate struct {
	box      geometry.Box
	conf     float64
	weighted float64
	method   string
	strategy string
	weight   float64
}

// Fuse combines per-strategy results into the final decision. An empty
// input or an all-weak field yields Success false with a reason, never an
// error.
func (e *FusionEngine) Fuse(all map[string][]DetectionResult) FusionResult {
	candidates := e.collect(all)
	if len(candidates) == 0 {
		return FusionResult{Success: false, Reason: "No detection candidates"}
	}

	boxes := make([]geometry.Box, len(candidates))
	for i, c := range candidates {
		boxes[i] = c.box
	}
	clusters := geometry.ClusterBoxes(boxes, e.clusterIoU)

	overlaps := false
	for _, cl := range clusters {
		if len(cl) >= 2 {
			overlaps = true
			break
		}
	}
	if !overlaps {
		return e.fromSingle(candidates)
	}

	// Every cluster competes, singletons included: a strong isolated
	// candidate must be able to beat a weak overlapping pair.
	var best []int
	bestScore := 0.0
	for _, cl := range clusters {
		if score := e.clusterScore(candidates, cl); score > bestScore {
			bestScore = score
			best = cl
		}
	}

	if best == nil || bestScore < e.thresholds.Low {
		return FusionResult{
			Success:    false,
			Confidence: bestScore,
			Reason:     fmt.Sprintf("Confidence too low: %.2f", bestScore),
		}
	}

	memberBoxes := make([]geometry.Box, 0, len(best))
	memberWeights := make([]float64, 0, len(best))
	contributors := make([]string, 0, len(best))
	seen := make(map[string]bool)
	for _, i := range best {
		memberBoxes = append(memberBoxes, candidates[i].box)
		memberWeights = append(memberWeights, candidates[i].weight)
		if !seen[candidates[i].method] {
			seen[candidates[i].method] = true
			contributors = append(contributors, candidates[i].method)
		}
	}

	return FusionResult{
		Success:      true,
		Box:          geometry.WeightedAverage(memberBoxes, memberWeights),
		Confidence:   round4(bestScore),
		Mode:         e.modeFor(bestScore),
		Contributors: contributors,
	}
}

// collect flattens the per-strategy results, attaching each strategy's
// fusion weight. Strategy order is fixed so equal-confidence fusions stay
// deterministic.
func (e *FusionEngine) collect(all map[string][]DetectionResult) []candidate {
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	var candidates []candidate
	for _, name := range names {
		weight := e.defaultWeight
		if w, ok := e.weights[name]; ok {
			weight = w
		}
		for _, r := range all[name] {
			candidates = append(candidates, candidate{
				box:      r.Box,
				conf:     r.Confidence,
				weighted: r.Confidence * weight,
				method:   r.Method,
				strategy: name,
				weight:   weight,
			})
		}
	}
	return candidates
}

// clusterScore is the weighted mean confidence of the cluster plus 0.05
// per extra distinct strategy and 0.03 per extra member (capped at 3),
// clamped to 1.
func (e *FusionEngine) clusterScore(candidates []candidate, cluster []int) float64 {
	var totalWeight, weightedSum float64
	strategies := make(map[string]bool)
	for _, i := range cluster {
		totalWeight += candidates[i].weight
		weightedSum += candidates[i].weighted
		strategies[candidates[i].strategy] = true
	}
	if totalWeight == 0 {
		return 0
	}

	score := weightedSum / totalWeight
	score += 0.05 * float64(len(strategies)-1)
	score += 0.03 * float64(min(len(cluster)-1, 3))
	return min(score, 1.0)
}

// fromSingle resolves the decision when no two candidates agree on a
// region: the best candidate by weighted confidence stands alone, judged
// by its raw confidence.
func (e *FusionEngine) fromSingle(candidates []candidate) FusionResult {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.weighted > best.weighted {
			best = c
		}
	}

	if best.conf < e.thresholds.Low {
		return FusionResult{
			Success:    false,
			Confidence: best.conf,
			Reason:     fmt.Sprintf("Single candidate confidence too low: %.2f", best.conf),
		}
	}
	return FusionResult{
		Success:      true,
		Box:          best.box,
		Confidence:   round4(best.conf),
		Mode:         e.modeFor(best.conf),
		Contributors: []string{best.method},
	}
}

func (e *FusionEngine) modeFor(score float64) Mode {
	switch {
	case score >= e.thresholds.High:
		return ModeNormal
	case score >= e.thresholds.Medium:
		return ModeConservative
	default:
		return ModeLowConfidence
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
