package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ironsheep/babelia-scout/internal/recorder"
	"github.com/ironsheep/babelia-scout/internal/retry"
	"github.com/ironsheep/babelia-scout/internal/stats"
)

// DefaultQueueSize bounds the alerts waiting for delivery.
const DefaultQueueSize = 64

// Dispatcher queues created discoveries and delivers them from a single
// goroutine. It implements recorder.Handoff. The members of a Multi are
// retried one by one, so a flaky channel never repeats an alert on the
// others.
type Dispatcher struct {
	targets  []Notifier
	policy   retry.Policy
	run      *stats.Run
	baseURL  string
	logger   zerolog.Logger

	mu     sync.Mutex
	closed bool
	queue  chan recorder.Discovery
}

// NewDispatcher returns a dispatcher. run may be nil; when set, alerts
// carry its snapshot and successful deliveries are counted.
func NewDispatcher(n Notifier, size int, policy retry.Policy, run *stats.Run, baseURL string, logger zerolog.Logger) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Dispatcher{
		targets:  flatten(n),
		policy:   policy,
		run:      run,
		baseURL:  baseURL,
		logger:   logger,
		queue:    make(chan recorder.Discovery, size),
	}
}

// Enqueue implements recorder.Handoff. It never blocks and reports false
// when the queue is full or closed.
func (d *Dispatcher) Enqueue(disc recorder.Discovery) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- disc:
		return true
	default:
		return false
	}
}

// Close stops accepting alerts. Run delivers what is queued and returns.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
}

// Run delivers queued alerts until Close has been called and the queue is
// drained, or ctx ends. Alerts still queued when ctx ends are dropped.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if n := len(d.queue); n > 0 {
				d.logger.Warn().Int("dropped", n).Msg("alert delivery stopped with alerts queued")
			}
			return nil
		case disc, ok := <-d.queue:
			if !ok {
				return nil
			}
			d.deliver(ctx, disc)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, disc recorder.Discovery) {
	a := Alert{Discovery: disc, BaseURL: d.baseURL}
	if d.run != nil {
		a.Stats = d.run.Snapshot()
	}

	failed := 0
	for _, n := range d.targets {
		if err := d.send(ctx, n, a); err != nil {
			failed++
			d.logger.Error().Err(err).
				Str("coord", disc.Coord.Key()).
				Str("channel", fmt.Sprintf("%T", n)).
				Msg("alert not delivered")
		}
	}
	if failed == 0 && d.run != nil {
		d.run.AlertSent()
	}
}

func (d *Dispatcher) send(ctx context.Context, n Notifier, a Alert) error {
	return d.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		return n.Notify(ctx, a)
	}, func(attempt int, err error, next time.Duration) {
		d.logger.Warn().Err(err).
			Str("coord", a.Discovery.Coord.Key()).
			Str("channel", fmt.Sprintf("%T", n)).
			Int("attempt", attempt).
			Dur("retry_in", next).
			Msg("alert failed, retrying")
	})
}

// flatten expands nested Multi values into their members.
func flatten(n Notifier) []Notifier {
	m, ok := n.(Multi)
	if !ok {
		return []Notifier{n}
	}
	var out []Notifier
	for _, member := range m {
		out = append(out, flatten(member)...)
	}
	return out
}
