package cascade

import (
	"errors"
	"fmt"
)

// Noise filter defaults, tuned on 256x256 thumbnails: iid colour noise
// sits near entropy 0.95 with gradient variance below 1, while flat
// regions separated by contours push gradient variance well above 2.
const (
	DefaultEntropyMax   = 0.85
	DefaultVarianceMin  = 2.0
	DefaultAnalysisSide = 256
)

// NoiseConfig holds the stage 1 thresholds.
type NoiseConfig struct {
	// EntropyMax passes any image whose normalized entropy is at most this.
	EntropyMax float64
	// VarianceMin passes any image whose gradient variance is at least this.
	VarianceMin float64
	// MaxSide bounds the analysis thumbnail.
	MaxSide int
}

// NoiseFilter rejects images whose pixel statistics match uniform noise.
type NoiseFilter struct {
	cfg NoiseConfig
}

// NewNoiseFilter validates cfg.
func NewNoiseFilter(cfg NoiseConfig) (*NoiseFilter, error) {
	if cfg.EntropyMax < 0 || cfg.EntropyMax > 1 {
		return nil, fmt.Errorf("cascade: entropy max %v outside [0,1]", cfg.EntropyMax)
	}
	if cfg.VarianceMin < 0 {
		return nil, errors.New("cascade: variance min must not be negative")
	}
	if cfg.MaxSide <= 0 {
		cfg.MaxSide = DefaultAnalysisSide
	}
	return &NoiseFilter{cfg: cfg}, nil
}

// MaxSide is the thumbnail bound the filter analyzes at.
func (f *NoiseFilter) MaxSide() int { return f.cfg.MaxSide }

// Score computes the stage 1 result. It passes when the luminance entropy
// is low enough or the gradients are structured enough; noise has high
// entropy and evenly spread gradients.
//
// The score is 1 - entropy*flatness: near 0 for an image whose histogram
// is both rich and flat, near 1 for one dominated by a few levels.
func (f *NoiseFilter) Score(s *Sample) StageResult {
	a := s.Analysis(f.cfg.MaxSide)
	detail := map[string]float64{
		"width":  float64(a.Width()),
		"height": float64(a.Height()),
	}
	if a.TooSmall() {
		return StageResult{Stage: StageNoise, Detail: detail, Reason: "too_small"}
	}

	entropy := a.Entropy()
	flatness := a.Flatness()
	variance := a.GradientVariance()
	detail["entropy"] = entropy
	detail["flatness"] = flatness
	detail["gradient_variance"] = variance
	detail["edge_density"] = a.EdgeDensity()

	r := StageResult{
		Stage:  StageNoise,
		Score:  clamp01(1 - entropy*flatness),
		Detail: detail,
	}
	switch {
	case entropy <= f.cfg.EntropyMax:
		r.Passed = true
		r.Reason = "low_entropy"
	case variance >= f.cfg.VarianceMin:
		r.Passed = true
		r.Reason = "structured_gradients"
	default:
		r.Reason = "noise"
	}
	return r
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
