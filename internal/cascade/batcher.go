package cascade

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Batcher defaults.
const (
	DefaultBatchSize = 8
	DefaultBatchWait = 250 * time.Millisecond
)

// Batcher collects concurrent Score calls into oracle batches. A batch is
// sent when it holds Size samples or Wait after its first sample arrived,
// whichever comes first. With Size 1 every call is sent on its own.
type Batcher struct {
	scorer *SemanticScorer
	size   int
	wait   time.Duration
	logger zerolog.Logger

	mu      sync.Mutex
	pending []*batchItem
	gen     uint64
	timer   *time.Timer

	batches atomic.Int64
}

type batchItem struct {
	ctx    context.Context
	sample *Sample
	done   chan struct{}
	result StageResult
	err    error
}

// NewBatcher wraps scorer. Non-positive size or wait take the defaults.
func NewBatcher(scorer *SemanticScorer, size int, wait time.Duration, logger zerolog.Logger) *Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if wait <= 0 {
		wait = DefaultBatchWait
	}
	return &Batcher{scorer: scorer, size: size, wait: wait, logger: logger}
}

// Batches returns the number of oracle batches sent so far.
func (b *Batcher) Batches() int64 { return b.batches.Load() }

// Score implements SemanticStage. It blocks until the batch holding s has
// been scored or ctx ends.
func (b *Batcher) Score(ctx context.Context, s *Sample) (StageResult, error) {
	if err := ctx.Err(); err != nil {
		return StageResult{}, err
	}
	item := &batchItem{ctx: ctx, sample: s, done: make(chan struct{})}

	b.mu.Lock()
	b.pending = append(b.pending, item)
	if len(b.pending) >= b.size {
		batch := b.takeLocked()
		b.mu.Unlock()
		b.flush(batch)
	} else {
		if len(b.pending) == 1 {
			gen := b.gen
			b.timer = time.AfterFunc(b.wait, func() { b.expire(gen) })
		}
		b.mu.Unlock()
	}

	select {
	case <-item.done:
		return item.result, item.err
	case <-ctx.Done():
		return StageResult{}, ctx.Err()
	}
}

// takeLocked removes the pending batch and disarms its timer.
func (b *Batcher) takeLocked() []*batchItem {
	batch := b.pending
	b.pending = nil
	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	return batch
}

// expire flushes the batch generation gen when its window closes. A batch
// already taken by size has a newer generation and is left alone.
func (b *Batcher) expire(gen uint64) {
	b.mu.Lock()
	if gen != b.gen || len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.takeLocked()
	b.mu.Unlock()
	b.flush(batch)
}

// flush scores batch and wakes every caller in it. Callers that already
// gave up are dropped before the oracle call.
func (b *Batcher) flush(batch []*batchItem) {
	live := batch[:0:0]
	for _, it := range batch {
		if it.ctx.Err() != nil {
			it.err = it.ctx.Err()
			close(it.done)
			continue
		}
		live = append(live, it)
	}
	if len(live) == 0 {
		return
	}

	samples := make([]*Sample, len(live))
	for i, it := range live {
		samples[i] = it.sample
	}

	b.batches.Add(1)
	start := time.Now()
	ctx, cancel := batchContext(live)
	results, err := b.scorer.ScoreBatch(ctx, samples)
	cancel()
	if err == nil && len(results) != len(live) {
		err = errors.New("cascade: semantic result count mismatch")
	}
	b.logger.Debug().
		Int("batch", len(live)).
		Dur("took", time.Since(start)).
		Err(err).
		Msg("semantic batch scored")

	for i, it := range live {
		if err != nil {
			it.err = err
		} else {
			it.result = results[i]
		}
		close(it.done)
	}
}

// batchContext is cancelled once every caller in live has given up, so one
// caller leaving never fails the batch for the others. Values come from the
// first caller.
func batchContext(live []*batchItem) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(live[0].ctx))
	var remaining atomic.Int64
	remaining.Store(int64(len(live)))
	stops := make([]func() bool, len(live))
	for i, it := range live {
		stops[i] = context.AfterFunc(it.ctx, func() {
			if remaining.Add(-1) == 0 {
				cancel()
			}
		})
	}
	return ctx, func() {
		for _, stop := range stops {
			stop()
		}
		cancel()
	}
}
