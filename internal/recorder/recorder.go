// Package recorder persists accepted discoveries exactly once per
// coordinate.
//
// Recording is write-then-index: the image goes to an ImageSink first and
// the row is inserted afterwards, so an indexed discovery always points at
// a stored image. A crash between the two leaves an orphan image, never a
// dangling row. Created discoveries are handed to a Handoff (the notifier
// queue); what happens there never affects the outcome.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"github.com/ironsheep/babelia-scout/internal/cascade"
	"github.com/ironsheep/babelia-scout/internal/coord"
	"github.com/ironsheep/babelia-scout/internal/store"
)

// Outcome of a Record call.
type Outcome int

const (
	Created Outcome = iota + 1
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Duplicate:
		return "duplicate"
	}
	return "unknown"
}

// Discovery is a sample that passed every stage.
type Discovery struct {
	Coord      coord.Coordinate      `json:"coord" yaml:"coord"`
	FinalScore float64               `json:"final_score" yaml:"final_score"`
	TopPrompt  string                `json:"top_prompt" yaml:"top_prompt"`
	Stages     []cascade.StageResult `json:"stages" yaml:"stages"`
	ImageBytes []byte                `json:"-" yaml:"-"`
	Format     string                `json:"format" yaml:"format"`
	SavedPath  string                `json:"saved_path" yaml:"saved_path"`
	CreatedAt  time.Time             `json:"created_at" yaml:"created_at"`
	RunID      string                `json:"run_id" yaml:"run_id"`
}

// FromVerdict builds the discovery for s.
func FromVerdict(s *cascade.Sample, v cascade.Verdict, runID string) Discovery {
	return Discovery{
		Coord:      s.Coord,
		FinalScore: v.FinalScore(),
		TopPrompt:  v.TopPrompt(),
		Stages:     v.Stages,
		ImageBytes: s.Raw,
		Format:     s.Format,
		CreatedAt:  time.Now().UTC(),
		RunID:      runID,
	}
}

// ImageSink stores discovery images. Put returns where the image went.
type ImageSink interface {
	Put(ctx context.Context, d *Discovery) (string, error)
}

// Index is the discovery table. *store.Store implements it.
type Index interface {
	DiscoveryExists(ctx context.Context, key string) (bool, error)
	InsertDiscovery(ctx context.Context, d store.Discovery) (bool, error)
}

// Handoff accepts created discoveries without blocking. It reports false
// when the discovery was dropped.
type Handoff interface {
	Enqueue(d Discovery) bool
}

// Recorder records discoveries one at a time.
type Recorder struct {
	index   Index
	sink    ImageSink
	handoff Handoff
	logger  zerolog.Logger

	mu sync.Mutex
}

// New returns a Recorder. handoff may be nil.
func New(index Index, sink ImageSink, handoff Handoff, logger zerolog.Logger) *Recorder {
	return &Recorder{index: index, sink: sink, handoff: handoff, logger: logger}
}

// Record persists d unless its coordinate is already indexed. A known
// coordinate yields Duplicate with a nil error. Errors come only from the
// sink or the index and leave nothing indexed.
func (r *Recorder) Record(ctx context.Context, d Discovery) (Outcome, error) {
	if len(d.ImageBytes) == 0 {
		return 0, errors.New("recorder: discovery has no image")
	}
	key := d.Coord.Key()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	exists, err := r.index.DiscoveryExists(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("recorder: %w", err)
	}
	if exists {
		return Duplicate, nil
	}

	path, err := r.sink.Put(ctx, &d)
	if err != nil {
		return 0, fmt.Errorf("recorder: store image %s: %w", key, err)
	}
	d.SavedPath = path

	stages, err := sonic.MarshalString(d.Stages)
	if err != nil {
		return 0, fmt.Errorf("recorder: encode stages: %w", err)
	}
	created, err := r.index.InsertDiscovery(ctx, store.Discovery{
		Key:         key,
		Hex:         d.Coord.Hex,
		Wall:        d.Coord.Wall.String(),
		Shelf:       d.Coord.Shelf,
		Volume:      d.Coord.Volume,
		Page:        d.Coord.Page,
		Score:       d.FinalScore,
		TopPrompt:   d.TopPrompt,
		StagesJSON:  stages,
		ImagePath:   path,
		ImageFormat: d.Format,
		RunID:       d.RunID,
		CreatedAt:   d.CreatedAt,
	})
	if err != nil {
		return 0, fmt.Errorf("recorder: %w", err)
	}
	if !created {
		// Indexed by another process between the check and the insert.
		r.logger.Warn().Str("coord", key).Str("path", path).Msg("discovery indexed concurrently, image left unreferenced")
		return Duplicate, nil
	}

	r.logger.Info().
		Str("coord", key).
		Float64("score", d.FinalScore).
		Str("top_prompt", d.TopPrompt).
		Str("path", path).
		Msg("discovery recorded")

	if r.handoff != nil && !r.handoff.Enqueue(d) {
		r.logger.Warn().Str("coord", key).Msg("notification queue full, alert dropped")
	}
	return Created, nil
}
