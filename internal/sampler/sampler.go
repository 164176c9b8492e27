// Package sampler draws candidate coordinates for a run.
//
// Random mode draws uniformly and re-draws on collision up to a bound.
// Sequential mode walks the space in index order. Both reserve each key in
// the visited set before returning it, so a coordinate handed out is never
// handed out again, even if its fetch later fails.
//
// A Sampler has a single writer: only one goroutine may call Next. State may
// be read concurrently.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/ironsheep/babelia-scout/internal/coord"
	"github.com/ironsheep/babelia-scout/internal/store"
	"github.com/ironsheep/babelia-scout/internal/visited"
)

// Mode selects how coordinates are generated.
type Mode string

const (
	Random     Mode = "random"
	Sequential Mode = "sequential"
)

// ParseMode accepts "random" or "sequential", case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case Random:
		return Random, nil
	case Sequential:
		return Sequential, nil
	}
	return "", fmt.Errorf("sampler: unknown mode %q", s)
}

// ErrExhausted ends a run: no further coordinate can be produced.
var ErrExhausted = errors.New("sampler: exhausted")

// ErrSaturated is returned by random mode after MaxRetries consecutive
// collisions. It wraps ErrExhausted.
var ErrSaturated = fmt.Errorf("%w: random draws saturated", ErrExhausted)

// DefaultMaxRetries bounds consecutive random collisions.
const DefaultMaxRetries = 64

// Options configures a Sampler.
type Options struct {
	Mode    Mode
	Space   coord.Space
	Visited visited.Set

	// Seed fixes the random stream; 0 picks a fresh seed.
	Seed       uint64
	MaxRetries int

	// Resume is the state saved by a previous run for this mode.
	Resume *store.SamplerState
}

// Sampler produces coordinates.
type Sampler struct {
	mode       Mode
	space      coord.Space
	set        visited.Set
	maxRetries int

	rng *rand.Rand

	mu       sync.Mutex
	seed     uint64
	position uint64
}

// New validates opts and restores the saved position.
//
// A random sampler resumes only when the saved seed equals the configured
// one; it then replays the saved number of draws so the stream continues
// where it stopped instead of re-drawing coordinates already reserved.
func New(opts Options) (*Sampler, error) {
	if opts.Visited == nil {
		return nil, errors.New("sampler: visited set is required")
	}
	if err := opts.Space.Validate(); err != nil {
		return nil, err
	}
	s := &Sampler{
		mode:       opts.Mode,
		space:      opts.Space,
		set:        opts.Visited,
		maxRetries: opts.MaxRetries,
	}
	if s.maxRetries <= 0 {
		s.maxRetries = DefaultMaxRetries
	}

	switch opts.Mode {
	case Sequential:
		if opts.Resume != nil && opts.Resume.Mode == string(Sequential) {
			s.position = opts.Resume.Position
		}
	case Random:
		s.seed = opts.Seed
		if s.seed == 0 {
			s.seed = rand.Uint64() | 1
		}
		s.rng = rand.New(rand.NewPCG(s.seed, s.seed^0x9e3779b97f4a7c15))
		if opts.Seed != 0 && opts.Resume != nil && opts.Resume.Mode == string(Random) && opts.Resume.Seed == opts.Seed {
			for i := uint64(0); i < opts.Resume.Position; i++ {
				s.space.Random(s.rng)
			}
			s.position = opts.Resume.Position
		}
	default:
		return nil, fmt.Errorf("sampler: unknown mode %q", opts.Mode)
	}
	return s, nil
}

// Mode returns the sampling mode.
func (s *Sampler) Mode() Mode { return s.mode }

// Next returns a freshly reserved coordinate, ErrExhausted when the
// sequential range is consumed, or ErrSaturated when random draws keep
// colliding.
func (s *Sampler) Next(ctx context.Context) (coord.Coordinate, error) {
	if s.mode == Sequential {
		return s.nextSequential(ctx)
	}
	return s.nextRandom(ctx)
}

func (s *Sampler) nextSequential(ctx context.Context) (coord.Coordinate, error) {
	size := s.space.Size()
	for {
		if err := ctx.Err(); err != nil {
			return coord.Coordinate{}, err
		}
		s.mu.Lock()
		pos := s.position
		if pos >= size {
			s.mu.Unlock()
			return coord.Coordinate{}, ErrExhausted
		}
		s.position++
		s.mu.Unlock()

		c := s.space.At(pos)
		ok, err := s.set.Reserve(ctx, c.Key())
		if err != nil {
			return coord.Coordinate{}, fmt.Errorf("sampler: reserve %s: %w", c.Key(), err)
		}
		if ok {
			return c, nil
		}
	}
}

func (s *Sampler) nextRandom(ctx context.Context) (coord.Coordinate, error) {
	for range s.maxRetries {
		if err := ctx.Err(); err != nil {
			return coord.Coordinate{}, err
		}
		c := s.space.Random(s.rng)
		s.mu.Lock()
		s.position++
		s.mu.Unlock()

		ok, err := s.set.Reserve(ctx, c.Key())
		if err != nil {
			return coord.Coordinate{}, fmt.Errorf("sampler: reserve %s: %w", c.Key(), err)
		}
		if ok {
			return c, nil
		}
	}
	return coord.Coordinate{}, ErrSaturated
}

// State returns the cursor to persist: the next sequential index, or the
// seed and number of random draws taken.
func (s *Sampler) State() store.SamplerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return store.SamplerState{Mode: string(s.mode), Seed: s.seed, Position: s.position}
}
