package cascade

import (
	"context"
	"errors"
	"fmt"

	"github.com/ironsheep/babelia-scout/internal/oracle"
)

// DefaultSemanticThreshold is the similarity a concept prompt must exceed
// when it has no floor of its own.
const DefaultSemanticThreshold = 0.25

// Prompt is one text the oracle compares images against.
type Prompt struct {
	Name string `yaml:"name" json:"name"`
	Text string `yaml:"text" json:"text"`
	// Floor overrides the global semantic threshold for this prompt when
	// positive.
	Floor float64 `yaml:"floor,omitempty" json:"floor,omitempty"`
	// Negative prompts describe noise. They never pass a sample; their best
	// similarity is subtracted from the concept similarity.
	Negative bool `yaml:"negative,omitempty" json:"negative,omitempty"`
}

// DefaultPrompts returns the built-in prompt set: thirteen concepts worth a
// human look and five descriptions of noise.
func DefaultPrompts() []Prompt {
	return []Prompt{
		{Name: "face", Text: "a photograph of a human face"},
		{Name: "person", Text: "a photograph of a person"},
		{Name: "object", Text: "a clear recognizable object"},
		{Name: "text", Text: "readable text or writing"},
		{Name: "diagram", Text: "a scientific diagram or chart"},
		{Name: "map", Text: "a map or schematic"},
		{Name: "art", Text: "an artistic composition"},
		{Name: "animal", Text: "a photograph of an animal"},
		{Name: "building", Text: "a photograph of a building or structure"},
		{Name: "vehicle", Text: "a photograph of a vehicle"},
		{Name: "document", Text: "a historical document"},
		{Name: "disturbing", Text: "shocking or disturbing imagery"},
		{Name: "meaningful", Text: "a clear meaningful image"},

		{Name: "noise", Text: "random noise", Negative: true},
		{Name: "static", Text: "static", Negative: true},
		{Name: "randomness", Text: "pure randomness", Negative: true},
		{Name: "pixels", Text: "meaningless pixels", Negative: true},
		{Name: "visual_noise", Text: "visual noise", Negative: true},
	}
}

// SemanticScorer compares samples against the prompt set through the
// oracle.
type SemanticScorer struct {
	oracle    oracle.Oracle
	prompts   []Prompt
	texts     []string
	threshold float64
}

// NewSemanticScorer validates the prompt set. At least one concept prompt
// is required and names must be unique.
func NewSemanticScorer(o oracle.Oracle, prompts []Prompt, threshold float64) (*SemanticScorer, error) {
	if o == nil {
		return nil, errors.New("cascade: semantic scorer needs an oracle")
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("cascade: semantic threshold %v outside [0,1]", threshold)
	}
	if len(prompts) == 0 {
		prompts = DefaultPrompts()
	}

	seen := make(map[string]bool, len(prompts))
	concepts := 0
	texts := make([]string, len(prompts))
	for i, p := range prompts {
		if p.Name == "" || p.Text == "" {
			return nil, fmt.Errorf("cascade: prompt %d needs a name and a text", i)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("cascade: duplicate prompt name %q", p.Name)
		}
		if p.Floor < 0 || p.Floor > 1 {
			return nil, fmt.Errorf("cascade: prompt %q floor %v outside [0,1]", p.Name, p.Floor)
		}
		seen[p.Name] = true
		if !p.Negative {
			concepts++
		}
		texts[i] = p.Text
	}
	if concepts == 0 {
		return nil, errors.New("cascade: prompt set has no concept prompts")
	}

	return &SemanticScorer{
		oracle:    o,
		prompts:   append([]Prompt(nil), prompts...),
		texts:     texts,
		threshold: threshold,
	}, nil
}

// Prompts returns a copy of the prompt set.
func (s *SemanticScorer) Prompts() []Prompt {
	return append([]Prompt(nil), s.prompts...)
}

// floor returns the similarity p must exceed.
func (s *SemanticScorer) floor(p Prompt) float64 {
	if p.Floor > 0 {
		return p.Floor
	}
	return s.threshold
}

// ScoreBatch scores samples in one oracle call. Results follow the order
// of samples. An oracle failure fails the whole batch.
func (s *SemanticScorer) ScoreBatch(ctx context.Context, samples []*Sample) ([]StageResult, error) {
	if len(samples) == 0 {
		return []StageResult{}, nil
	}
	images := make([][]byte, len(samples))
	for i, smp := range samples {
		images[i] = smp.Raw
	}

	m, err := s.oracle.Similarity(ctx, images, s.texts)
	if err != nil {
		return nil, err
	}
	if err := oracle.Check(m, len(images), len(s.texts)); err != nil {
		return nil, err
	}

	out := make([]StageResult, len(samples))
	for i, row := range m {
		out[i] = s.result(row)
	}
	return out, nil
}

// result turns one similarity row into a stage result.
//
// Detail keys:
//   - sim:<name>: similarity to each prompt
//   - max_similarity: best concept similarity
//   - max_negative: best negative similarity (0 without negatives)
//   - margin: max_similarity - max_negative, clamped to [0,1]
//   - above_floor: number of concept prompts above their floor
func (s *SemanticScorer) result(row []float64) StageResult {
	detail := make(map[string]float64, len(row)+4)
	var maxSim, maxNeg float64
	top := ""
	above := 0
	for j, p := range s.prompts {
		v := row[j]
		detail["sim:"+p.Name] = v
		if p.Negative {
			maxNeg = max(maxNeg, v)
			continue
		}
		if top == "" || v > maxSim {
			maxSim = v
			top = p.Name
		}
		if v > s.floor(p) {
			above++
		}
	}
	detail["max_similarity"] = maxSim
	detail["max_negative"] = maxNeg
	detail["margin"] = clamp01(maxSim - maxNeg)
	detail["above_floor"] = float64(above)

	r := StageResult{
		Stage:  StageSemantic,
		Passed: above > 0,
		Score:  maxSim,
		Detail: detail,
		Reason: top,
	}
	if !r.Passed {
		r.Reason = "below_floor"
	}
	return r
}
