package cascade

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ironsheep/babelia-scout/internal/detection"
	"github.com/ironsheep/babelia-scout/internal/ocr"
)

// DefaultSignificanceThreshold is the combined score a sample must exceed
// to become a discovery.
const DefaultSignificanceThreshold = 0.75

// Weights are the relative contributions of the stage 3 components. They
// are normalized by their sum.
type Weights struct {
	Semantic float64 `yaml:"semantic" json:"semantic"`
	Edge     float64 `yaml:"edge" json:"edge"`
	Harmony  float64 `yaml:"harmony" json:"harmony"`
	Symmetry float64 `yaml:"symmetry" json:"symmetry"`
	Text     float64 `yaml:"text" json:"text"`
}

// DefaultWeights keeps the semantic margin dominant.
func DefaultWeights() Weights {
	return Weights{Semantic: 0.6, Edge: 0.1, Harmony: 0.1, Symmetry: 0.1, Text: 0.1}
}

func (w Weights) sum() float64 {
	return w.Semantic + w.Edge + w.Harmony + w.Symmetry + w.Text
}

// Validate rejects negative weights and an all-zero set.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"semantic": w.Semantic, "edge": w.Edge, "harmony": w.Harmony,
		"symmetry": w.Symmetry, "text": w.Text,
	} {
		if v < 0 {
			return fmt.Errorf("cascade: weight %s is negative", name)
		}
	}
	if w.sum() <= 0 {
		return errors.New("cascade: weights sum to zero")
	}
	return nil
}

// TextFunc rates how much a sample looks like it carries text (0-1).
type TextFunc func(s *Sample) float64

// EdgeText rates text structure from the edge mask of the analysis
// thumbnail.
func EdgeText(maxSide int) TextFunc {
	return func(s *Sample) float64 {
		return detection.TextLikelihood(s.Analysis(maxSide).EdgeMask())
	}
}

// OCRText rates text structure by OCR word confidence, falling back when
// recognition fails.
func OCRText(engine ocr.Engine, fallback TextFunc, logger zerolog.Logger) TextFunc {
	return func(s *Sample) float64 {
		res, err := engine.Recognize(s.Raw)
		if err != nil {
			logger.Debug().Err(err).Str("coord", s.Coord.Key()).Msg("ocr failed, using edge heuristic")
			return fallback(s)
		}
		return res.Score()
	}
}

// SignificanceConfig configures stage 3.
type SignificanceConfig struct {
	Threshold float64
	Weights   Weights
	MaxSide   int
	// Text rates text structure. Nil uses EdgeText.
	Text TextFunc
}

// SignificanceAggregator combines the semantic margin with structural
// features into the final score.
type SignificanceAggregator struct {
	cfg SignificanceConfig
}

// NewSignificanceAggregator validates cfg.
func NewSignificanceAggregator(cfg SignificanceConfig) (*SignificanceAggregator, error) {
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("cascade: significance threshold %v outside [0,1]", cfg.Threshold)
	}
	if err := cfg.Weights.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxSide <= 0 {
		cfg.MaxSide = DefaultAnalysisSide
	}
	if cfg.Text == nil {
		cfg.Text = EdgeText(cfg.MaxSide)
	}
	return &SignificanceAggregator{cfg: cfg}, nil
}

// Score computes the stage 3 result from s and the results of the earlier
// stages. prior must hold a passed noise result followed by a semantic
// result; anything else fails with reason "cascade_order".
//
// The sample passes only when the weighted score strictly exceeds the
// threshold and at least one concept prompt cleared its own floor. A
// symmetric, edge-rich pattern with no semantic match therefore never
// passes on structure alone.
func (a *SignificanceAggregator) Score(s *Sample, prior []StageResult) StageResult {
	if len(prior) < 2 || prior[0].Stage != StageNoise || !prior[0].Passed || prior[1].Stage != StageSemantic {
		return StageResult{Stage: StageSignificance, Reason: "cascade_order"}
	}
	sem := prior[1]

	an := s.Analysis(a.cfg.MaxSide)
	symmetry, _ := an.Symmetry()
	components := map[string]float64{
		"semantic":       clamp01(sem.Detail["margin"]),
		"edge_density":   an.EdgeDensity(),
		"color_harmony":  an.ColorHarmony(),
		"symmetry":       symmetry,
		"text_structure": clamp01(a.cfg.Text(s)),
	}

	w := a.cfg.Weights
	score := (w.Semantic*components["semantic"] +
		w.Edge*components["edge_density"] +
		w.Harmony*components["color_harmony"] +
		w.Symmetry*components["symmetry"] +
		w.Text*components["text_structure"]) / w.sum()
	score = clamp01(score)

	r := StageResult{Stage: StageSignificance, Score: score, Detail: components}
	aboveFloor := sem.Detail["above_floor"] > 0
	switch {
	case !aboveFloor:
		r.Reason = "no_prompt_above_floor"
	case score <= a.cfg.Threshold:
		r.Reason = "below_threshold"
	default:
		r.Passed = true
		r.Reason = sem.Reason
	}
	return r
}
