// Package stats holds the per-run counters of a discovery run.
//
// A Run is created by main and passed by pointer into the orchestrator;
// workers bump counters with atomic adds and the orchestrator flushes
// snapshots to the store.
package stats

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Run counts what happened during one run.
type Run struct {
	id      string
	started time.Time

	sampled              atomic.Int64
	noiseRejected        atomic.Int64
	semanticRejected     atomic.Int64
	significanceRejected atomic.Int64
	discoveries          atomic.Int64
	duplicates           atomic.Int64
	errors               atomic.Int64
	alertsSent           atomic.Int64
}

// New starts a fresh run with a random id.
func New() *Run {
	return &Run{id: uuid.NewString(), started: time.Now().UTC()}
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// StartedAt returns when the run began.
func (r *Run) StartedAt() time.Time { return r.started }

// Counter increments. Sampled returns the new total so the caller can
// check the budget without a second load.
func (r *Run) Sampled() int64 { return r.sampled.Add(1) }
func (r *Run) NoiseRejected() { r.noiseRejected.Add(1) }
func (r *Run) SemanticRejected() { r.semanticRejected.Add(1) }
func (r *Run) SignificanceRejected() { r.significanceRejected.Add(1) }
func (r *Run) Discovery() { r.discoveries.Add(1) }
func (r *Run) Duplicate() { r.duplicates.Add(1) }
func (r *Run) Error() { r.errors.Add(1) }
func (r *Run) AlertSent() { r.alertsSent.Add(1) }
func (r *Run) SampledCount() int64 { return r.sampled.Load() }

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	RunID                string    `json:"run_id"`
	StartedAt            time.Time `json:"started_at"`
	TakenAt              time.Time `json:"taken_at"`
	Sampled              int64     `json:"sampled"`
	NoiseRejected        int64     `json:"noise_rejected"`
	SemanticRejected     int64     `json:"semantic_rejected"`
	SignificanceRejected int64     `json:"significance_rejected"`
	Discoveries          int64     `json:"discoveries"`
	Duplicates           int64     `json:"duplicates"`
	Errors               int64     `json:"errors"`
	AlertsSent           int64     `json:"alerts_sent"`
}

// Snapshot reads every counter. Counters are read one at a time, so a
// snapshot taken mid-run may be off by in-flight increments.
func (r *Run) Snapshot() Snapshot {
	return Snapshot{
		RunID:                r.id,
		StartedAt:            r.started,
		TakenAt:              time.Now().UTC(),
		Sampled:              r.sampled.Load(),
		NoiseRejected:        r.noiseRejected.Load(),
		SemanticRejected:     r.semanticRejected.Load(),
		SignificanceRejected: r.significanceRejected.Load(),
		Discoveries:          r.discoveries.Load(),
		Duplicates:           r.duplicates.Load(),
		Errors:               r.errors.Load(),
		AlertsSent:           r.alertsSent.Load(),
	}
}

// Elapsed is the wall time between start and the snapshot.
func (s Snapshot) Elapsed() time.Duration {
	return s.TakenAt.Sub(s.StartedAt)
}

// Rate is samples per second.
func (s Snapshot) Rate() float64 {
	secs := s.Elapsed().Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.Sampled) / secs
}

// DiscoveryRate is the percentage of samples that became discoveries.
func (s Snapshot) DiscoveryRate() float64 {
	if s.Sampled == 0 {
		return 0
	}
	return float64(s.Discoveries) / float64(s.Sampled) * 100
}
