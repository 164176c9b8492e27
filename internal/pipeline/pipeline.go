// Package pipeline drives a discovery run.
//
// One producer goroutine owns the sampler and hands coordinates over an
// unbuffered channel to a fixed pool of workers, so the sampler never runs
// ahead of the slowest worker by more than one reserved coordinate. Each
// worker takes a coordinate through fetch, the cascade and the recorder.
//
// Cancelling the context passed to Run is the shutdown signal. The producer
// stops drawing at once. Chains already in flight run on a separate work
// context that is cancelled only when the grace period expires.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ironsheep/babelia-scout/internal/cascade"
	"github.com/ironsheep/babelia-scout/internal/coord"
	"github.com/ironsheep/babelia-scout/internal/recorder"
	"github.com/ironsheep/babelia-scout/internal/retry"
	"github.com/ironsheep/babelia-scout/internal/sampler"
	"github.com/ironsheep/babelia-scout/internal/stats"
	"github.com/ironsheep/babelia-scout/internal/store"
	"github.com/ironsheep/babelia-scout/internal/visited"
)

// Defaults.
const (
	DefaultWorkers       = 4
	DefaultFlushInterval = 30 * time.Second
	DefaultShutdownGrace = 15 * time.Second
	DefaultProgressEvery = 100
)

// Sampler hands out reserved coordinates. Only the producer calls Next.
type Sampler interface {
	Next(ctx context.Context) (coord.Coordinate, error)
	State() store.SamplerState
}

// Fetcher downloads one coordinate.
type Fetcher interface {
	Fetch(ctx context.Context, c coord.Coordinate) (*cascade.Sample, error)
}

// Evaluator runs the cascade on a sample.
type Evaluator interface {
	Evaluate(ctx context.Context, s *cascade.Sample) (cascade.Verdict, error)
}

// Recorder persists discoveries.
type Recorder interface {
	Record(ctx context.Context, d recorder.Discovery) (recorder.Outcome, error)
}

// StateStore receives periodic checkpoints. *store.Store implements it.
type StateStore interface {
	SaveRunStats(ctx context.Context, snap stats.Snapshot) error
	SaveSamplerState(ctx context.Context, st store.SamplerState) error
}

// Config tunes a run.
type Config struct {
	Workers int
	// MaxImages bounds the coordinates drawn by this run; 0 means no
	// bound.
	MaxImages     int64
	FlushInterval time.Duration
	ShutdownGrace time.Duration
	ProgressEvery int64
	// Reserve bounds consecutive reservation failures before the run
	// gives up. The zero value means retry.Default().
	Reserve retry.Policy
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = DefaultProgressEvery
	}
	if c.Reserve.MaxAttempts <= 0 {
		c.Reserve = retry.Default()
	}
}

// Deps are the collaborators of an Orchestrator. State may be nil.
type Deps struct {
	Sampler  Sampler
	Visited  visited.Set
	Fetcher  Fetcher
	Cascade  Evaluator
	Recorder Recorder
	State    StateStore
	Run      *stats.Run
}

// Orchestrator runs the sample, fetch, score, record loop.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger

	flushMu sync.Mutex
}

// New checks deps and applies config defaults.
func New(cfg Config, deps Deps, logger zerolog.Logger) (*Orchestrator, error) {
	switch {
	case deps.Sampler == nil:
		return nil, errors.New("pipeline: sampler is required")
	case deps.Visited == nil:
		return nil, errors.New("pipeline: visited set is required")
	case deps.Fetcher == nil:
		return nil, errors.New("pipeline: fetcher is required")
	case deps.Cascade == nil:
		return nil, errors.New("pipeline: cascade is required")
	case deps.Recorder == nil:
		return nil, errors.New("pipeline: recorder is required")
	case deps.Run == nil:
		return nil, errors.New("pipeline: run stats are required")
	}
	if cfg.MaxImages < 0 {
		return nil, fmt.Errorf("pipeline: max images must not be negative, got %d", cfg.MaxImages)
	}
	cfg.defaults()
	return &Orchestrator{cfg: cfg, deps: deps, logger: logger}, nil
}

// Run processes coordinates until the budget is spent, the sampler is
// exhausted or ctx is cancelled, then flushes state. The snapshot is
// returned in every case. The error is non-nil only when the sampler or
// visited set fails in a way that cannot be skipped.
func (o *Orchestrator) Run(ctx context.Context) (stats.Snapshot, error) {
	run := o.deps.Run
	o.logger.Info().
		Str("run_id", run.ID()).
		Int("workers", o.cfg.Workers).
		Int64("max_images", o.cfg.MaxImages).
		Msg("run starting")

	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	done := make(chan struct{})
	defer close(done)
	go o.watchShutdown(ctx, done, cancelWork)

	flushDone := make(chan struct{})
	stopFlush := make(chan struct{})
	go func() {
		defer close(flushDone)
		o.flushLoop(workCtx, stopFlush)
	}()

	jobs := make(chan coord.Coordinate)
	g, gctx := errgroup.WithContext(workCtx)
	g.Go(func() error {
		defer close(jobs)
		return o.produce(ctx, gctx, jobs)
	})
	for i := 0; i < o.cfg.Workers; i++ {
		g.Go(func() error {
			for c := range jobs {
				o.process(gctx, c)
			}
			return nil
		})
	}
	err := g.Wait()

	close(stopFlush)
	<-flushDone

	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	o.flush(finalCtx)

	snap := run.Snapshot()
	o.logger.Info().
		Int64("sampled", snap.Sampled).
		Int64("noise_rejected", snap.NoiseRejected).
		Int64("semantic_rejected", snap.SemanticRejected).
		Int64("significance_rejected", snap.SignificanceRejected).
		Int64("discoveries", snap.Discoveries).
		Int64("duplicates", snap.Duplicates).
		Int64("errors", snap.Errors).
		Dur("elapsed", snap.Elapsed()).
		Msg("run finished")
	return snap, err
}

// watchShutdown cancels the work context once the grace period after a
// shutdown signal has passed.
func (o *Orchestrator) watchShutdown(ctx context.Context, done <-chan struct{}, cancelWork context.CancelFunc) {
	select {
	case <-done:
		return
	case <-ctx.Done():
	}
	o.logger.Info().Dur("grace", o.cfg.ShutdownGrace).Msg("shutdown requested, finishing in-flight work")
	t := time.NewTimer(o.cfg.ShutdownGrace)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		o.logger.Warn().Msg("grace period expired, aborting in-flight work")
		cancelWork()
	}
}

// produce draws coordinates until told to stop. A coordinate reserved but
// not yet handed to a worker when shutdown arrives stays reserved.
func (o *Orchestrator) produce(ctx, gctx context.Context, jobs chan<- coord.Coordinate) error {
	var drawn int64
	for {
		if o.cfg.MaxImages > 0 && drawn >= o.cfg.MaxImages {
			o.logger.Info().Int64("max_images", o.cfg.MaxImages).Msg("image budget reached")
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		c, err := o.next(ctx)
		switch {
		case errors.Is(err, sampler.ErrExhausted):
			o.logger.Info().Err(err).Msg("sampler exhausted")
			return nil
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			return fmt.Errorf("pipeline: sample: %w", err)
		}
		select {
		case jobs <- c:
			drawn++
		case <-ctx.Done():
			return nil
		case <-gctx.Done():
			return nil
		}
	}
}

// next draws one coordinate. A failed reservation is counted as an error
// and retried; only a streak of failures that outlasts cfg.Reserve is
// returned.
func (o *Orchestrator) next(ctx context.Context) (coord.Coordinate, error) {
	var c coord.Coordinate
	err := o.cfg.Reserve.Do(ctx, func(ctx context.Context, _ int) error {
		var err error
		c, err = o.deps.Sampler.Next(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, sampler.ErrExhausted) || ctx.Err() != nil:
			return retry.Permanent(err)
		}
		o.deps.Run.Error()
		o.logger.Warn().Err(err).Msg("reservation failed")
		return err
	}, nil)
	return c, err
}

// process runs one coordinate through the chain. Failures are counted and
// logged here and never leave the worker.
func (o *Orchestrator) process(ctx context.Context, c coord.Coordinate) {
	run := o.deps.Run
	n := run.Sampled()
	defer func() {
		if n%o.cfg.ProgressEvery == 0 {
			o.progress()
		}
	}()

	s, err := o.deps.Fetcher.Fetch(ctx, c)
	if err != nil {
		o.fail(c, "fetch", err)
		return
	}
	if err := ctx.Err(); err != nil {
		o.fail(c, "aborted", err)
		return
	}

	v, err := o.deps.Cascade.Evaluate(ctx, s)
	if err != nil {
		o.fail(c, "score", err)
		return
	}
	switch v.FailedAt() {
	case cascade.StageNoise:
		run.NoiseRejected()
		return
	case cascade.StageSemantic:
		run.SemanticRejected()
		return
	case cascade.StageSignificance:
		run.SignificanceRejected()
		o.logger.Debug().
			Str("coord", c.Short()).
			Float64("score", v.Last().Score).
			Str("reason", v.Last().Reason).
			Msg("below significance")
		return
	}
	if !v.Passed() {
		o.fail(c, "score", fmt.Errorf("cascade stopped after %d stages", len(v.Stages)))
		return
	}

	out, err := o.deps.Recorder.Record(ctx, recorder.FromVerdict(s, v, run.ID()))
	if err != nil {
		o.fail(c, "record", err)
		return
	}
	switch out {
	case recorder.Created:
		run.Discovery()
		o.logger.Info().
			Str("coord", c.Short()).
			Float64("score", v.FinalScore()).
			Str("top_prompt", v.TopPrompt()).
			Msg("discovery")
	case recorder.Duplicate:
		run.Duplicate()
		o.logger.Debug().Str("coord", c.Short()).Msg("discovery already recorded")
	}
}

func (o *Orchestrator) fail(c coord.Coordinate, reason string, err error) {
	o.deps.Run.Error()
	o.logger.Warn().Err(err).
		Str("coord", c.Key()).
		Str("reason", reason).
		Msg("coordinate abandoned")
}

func (o *Orchestrator) progress() {
	snap := o.deps.Run.Snapshot()
	o.logger.Info().
		Int64("sampled", snap.Sampled).
		Int64("noise_rejected", snap.NoiseRejected).
		Int64("semantic_rejected", snap.SemanticRejected).
		Int64("discoveries", snap.Discoveries).
		Int64("errors", snap.Errors).
		Float64("rate_per_sec", snap.Rate()).
		Msg("progress")
}

func (o *Orchestrator) flushLoop(ctx context.Context, stop <-chan struct{}) {
	t := time.NewTicker(o.cfg.FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			o.flush(ctx)
		}
	}
}

// flush persists visited keys, counters and the sampler cursor. Failures
// are logged; the next flush retries.
func (o *Orchestrator) flush(ctx context.Context) {
	o.flushMu.Lock()
	defer o.flushMu.Unlock()

	if err := o.deps.Visited.Flush(ctx); err != nil {
		o.logger.Error().Err(err).Msg("flush visited set")
	}
	if o.deps.State == nil {
		return
	}
	if err := o.deps.State.SaveRunStats(ctx, o.deps.Run.Snapshot()); err != nil {
		o.logger.Error().Err(err).Msg("flush run stats")
	}
	if err := o.deps.State.SaveSamplerState(ctx, o.deps.Sampler.State()); err != nil {
		o.logger.Error().Err(err).Msg("flush sampler state")
	}
}
