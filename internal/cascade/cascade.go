package cascade

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/ironsheep/babelia-scout/internal/coord"
	"github.com/ironsheep/babelia-scout/internal/imaging"
)

// Stage names a cascade stage.
type Stage string

const (
	StageNoise        Stage = "noise"
	StageSemantic     Stage = "semantic"
	StageSignificance Stage = "significance"
)

// StageResult is the verdict of one stage on one sample.
type StageResult struct {
	Stage  Stage              `json:"stage" yaml:"stage"`
	Passed bool               `json:"passed" yaml:"passed"`
	Score  float64            `json:"score" yaml:"score"`
	Detail map[string]float64 `json:"detail,omitempty" yaml:"detail,omitempty"`
	Reason string             `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Sample is one fetched image on its way through the cascade.
type Sample struct {
	Coord     coord.Coordinate
	Raw       []byte
	Format    string
	Image     image.Image
	FetchedAt time.Time

	once     sync.Once
	analysis *imaging.Analysis
}

// NewSample wraps a decoded image.
func NewSample(c coord.Coordinate, raw []byte, format string, img image.Image, fetchedAt time.Time) *Sample {
	return &Sample{Coord: c, Raw: raw, Format: format, Image: img, FetchedAt: fetchedAt}
}

// Analysis returns the pixel descriptors of the sample, computing them on
// first use. maxSide only matters on the first call.
func (s *Sample) Analysis(maxSide int) *imaging.Analysis {
	s.once.Do(func() {
		s.analysis = imaging.Analyze(s.Image, maxSide)
	})
	return s.analysis
}

// Verdict is the ordered list of stage results for one sample.
type Verdict struct {
	Stages []StageResult `json:"stages"`
}

// Passed reports whether all three stages ran and passed.
func (v Verdict) Passed() bool {
	if len(v.Stages) != 3 {
		return false
	}
	for _, r := range v.Stages {
		if !r.Passed {
			return false
		}
	}
	return true
}

// Last returns the final stage that ran.
func (v Verdict) Last() StageResult {
	if len(v.Stages) == 0 {
		return StageResult{}
	}
	return v.Stages[len(v.Stages)-1]
}

// FailedAt returns the stage that rejected the sample, or "" when none did.
func (v Verdict) FailedAt() Stage {
	for _, r := range v.Stages {
		if !r.Passed {
			return r.Stage
		}
	}
	return ""
}

// FinalScore is the significance score, or 0 when the cascade stopped
// earlier.
func (v Verdict) FinalScore() float64 {
	if last := v.Last(); last.Stage == StageSignificance {
		return last.Score
	}
	return 0
}

// TopPrompt is the best matching concept prompt, empty when the semantic
// stage did not pass.
func (v Verdict) TopPrompt() string {
	for _, r := range v.Stages {
		if r.Stage == StageSemantic && r.Passed {
			return r.Reason
		}
	}
	return ""
}

// SemanticStage scores one sample in stage 2. Batcher is the production
// implementation.
type SemanticStage interface {
	Score(ctx context.Context, s *Sample) (StageResult, error)
}

// Cascade runs the three stages in order.
type Cascade struct {
	Noise        *NoiseFilter
	Semantic     SemanticStage
	Significance *SignificanceAggregator
}

// Evaluate runs s through the stages, stopping at the first failure. The
// returned error is non-nil only when the semantic stage could not be
// computed or ctx ended between stages; the Verdict then holds the stages
// that did complete.
func (c *Cascade) Evaluate(ctx context.Context, s *Sample) (Verdict, error) {
	var v Verdict

	noise := c.Noise.Score(s)
	v.Stages = append(v.Stages, noise)
	if !noise.Passed {
		return v, nil
	}

	if err := ctx.Err(); err != nil {
		return v, err
	}
	sem, err := c.Semantic.Score(ctx, s)
	if err != nil {
		return v, fmt.Errorf("semantic: %w", err)
	}
	v.Stages = append(v.Stages, sem)
	if !sem.Passed {
		return v, nil
	}

	if err := ctx.Err(); err != nil {
		return v, err
	}
	v.Stages = append(v.Stages, c.Significance.Score(s, v.Stages))
	return v, nil
}
