// Package notify delivers discovery alerts.
//
// Delivery is best effort and decoupled from recording: the recorder drops
// created discoveries into a Dispatcher queue and returns; the dispatcher
// goroutine sends them through a Notifier with retries. A failed alert is
// logged and forgotten.
package notify

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ironsheep/babelia-scout/internal/cascade"
	"github.com/ironsheep/babelia-scout/internal/recorder"
	"github.com/ironsheep/babelia-scout/internal/stats"
)

// Alert is one discovery together with the run it came from.
type Alert struct {
	Discovery recorder.Discovery
	Stats     stats.Snapshot
	// BaseURL is the archive root used to link the coordinate.
	BaseURL string
}

// Notifier sends alerts.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Match is one prompt similarity of a discovery.
type Match struct {
	Prompt     string
	Similarity float64
}

// TopMatches returns the n best concept similarities recorded by the
// semantic stage, best first.
func (a Alert) TopMatches(n int) []Match {
	var out []Match
	for _, st := range a.Discovery.Stages {
		if st.Stage != cascade.StageSemantic {
			continue
		}
		for k, v := range st.Detail {
			name, ok := strings.CutPrefix(k, "sim:")
			if !ok {
				continue
			}
			out = append(out, Match{Prompt: name, Similarity: v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Prompt < out[j].Prompt
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Log writes alerts to the logger.
type Log struct {
	logger zerolog.Logger
}

// NewLog returns a Notifier that only logs.
func NewLog(logger zerolog.Logger) *Log { return &Log{logger: logger} }

// Notify implements Notifier.
func (l *Log) Notify(_ context.Context, a Alert) error {
	d := a.Discovery
	ev := l.logger.Info().
		Str("coord", d.Coord.Key()).
		Str("url", d.Coord.URL(a.BaseURL)).
		Float64("score", d.FinalScore).
		Str("top_prompt", d.TopPrompt).
		Str("path", d.SavedPath)
	for _, m := range a.TopMatches(3) {
		ev = ev.Float64("sim_"+m.Prompt, m.Similarity)
	}
	ev.Msg("discovery alert")
	return nil
}

// Multi sends every alert through each notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
