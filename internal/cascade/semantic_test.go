package cascade

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/babelia-scout/internal/oracle"
)

func TestDefaultPrompts(t *testing.T) {
	var concepts, negatives int
	for _, p := range DefaultPrompts() {
		if p.Negative {
			negatives++
		} else {
			concepts++
		}
	}
	assert.Equal(t, 13, concepts)
	assert.Equal(t, 5, negatives)

	_, err := NewSemanticScorer(&hashOracle{}, nil, DefaultSemanticThreshold)
	assert.NoError(t, err)
}

func TestNewSemanticScorer_Validation(t *testing.T) {
	o := &hashOracle{}
	tests := []struct {
		name      string
		prompts   []Prompt
		threshold float64
	}{
		{"threshold", testPrompts, 1.5},
		{"no concepts", []Prompt{{Name: "n", Text: "noise", Negative: true}}, 0.3},
		{"duplicate", []Prompt{{Name: "a", Text: "x"}, {Name: "a", Text: "y"}}, 0.3},
		{"missing text", []Prompt{{Name: "a"}}, 0.3},
		{"floor", []Prompt{{Name: "a", Text: "x", Floor: 2}}, 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSemanticScorer(o, tt.prompts, tt.threshold)
			assert.Error(t, err)
		})
	}
	_, err := NewSemanticScorer(nil, testPrompts, 0.3)
	assert.Error(t, err)
}

func TestSemanticScorer_Result(t *testing.T) {
	tests := []struct {
		name   string
		row    []float64
		passed bool
		reason string
		margin float64
	}{
		// face floor is the 0.3 global threshold, text has its own 0.5
		{"face above threshold", []float64{0.35, 0.1, 0.2}, true, "face", 0.15},
		{"text under own floor", []float64{0.1, 0.45, 0.0}, false, "below_floor", 0.45},
		{"text above own floor", []float64{0.1, 0.55, 0.6}, true, "text", 0},
		{"equal to floor fails", []float64{0.3, 0.5, 0.0}, false, "below_floor", 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSemanticScorer(fixedOracle(tt.row...), testPrompts, 0.3)
			require.NoError(t, err)
			res, err := s.ScoreBatch(context.Background(), []*Sample{newSample(t, 0, squareImage(16, 16))})
			require.NoError(t, err)
			require.Len(t, res, 1)

			r := res[0]
			assert.Equal(t, StageSemantic, r.Stage)
			assert.Equal(t, tt.passed, r.Passed)
			assert.Equal(t, tt.reason, r.Reason)
			assert.InDelta(t, tt.margin, r.Detail["margin"], 1e-9)
			assert.Equal(t, tt.row[0], r.Detail["sim:face"])
			assert.Equal(t, tt.row[2], r.Detail["max_negative"])
			assert.Equal(t, max(tt.row[0], tt.row[1]), r.Score)
		})
	}
}

func TestSemanticScorer_BatchEquivalence(t *testing.T) {
	s, err := NewSemanticScorer(&hashOracle{}, DefaultPrompts(), 0.3)
	require.NoError(t, err)
	a := newSample(t, 1, noiseImage(32, 32, 1))
	b := newSample(t, 2, noiseImage(32, 32, 2))
	ctx := context.Background()

	both, err := s.ScoreBatch(ctx, []*Sample{a, b})
	require.NoError(t, err)
	onlyA, err := s.ScoreBatch(ctx, []*Sample{a})
	require.NoError(t, err)
	onlyB, err := s.ScoreBatch(ctx, []*Sample{b})
	require.NoError(t, err)

	require.Len(t, both, 2)
	assertSameResult(t, onlyA[0], both[0])
	assertSameResult(t, onlyB[0], both[1])
}

func assertSameResult(t *testing.T, want, got StageResult) {
	t.Helper()
	assert.Equal(t, want.Passed, got.Passed)
	assert.InDelta(t, want.Score, got.Score, 1e-9)
	assert.Equal(t, want.Reason, got.Reason)
	require.Equal(t, len(want.Detail), len(got.Detail))
	for k, v := range want.Detail {
		assert.InDelta(t, v, got.Detail[k], 1e-9, k)
	}
}

func TestSemanticScorer_OracleErrors(t *testing.T) {
	bad := oracle.Func(func(context.Context, [][]byte, []string) ([][]float64, error) {
		return [][]float64{{0.1}}, nil
	})
	s, err := NewSemanticScorer(bad, testPrompts, 0.3)
	require.NoError(t, err)
	_, err = s.ScoreBatch(context.Background(), []*Sample{newSample(t, 0, squareImage(16, 16))})
	assert.Error(t, err)

	res, err := s.ScoreBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestBatcher_FlushOnSize(t *testing.T) {
	o := &hashOracle{}
	s, err := NewSemanticScorer(o, testPrompts, 0.3)
	require.NoError(t, err)
	b := NewBatcher(s, 3, time.Hour, zerolog.Nop())

	var wg sync.WaitGroup
	for i := range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Score(context.Background(), newSample(t, uint64(i), squareImage(16, 16)))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, []int{3}, o.batchSizes())
	assert.Equal(t, int64(1), b.Batches())
}

func TestBatcher_FlushOnWindow(t *testing.T) {
	o := &hashOracle{}
	s, err := NewSemanticScorer(o, testPrompts, 0.3)
	require.NoError(t, err)
	b := NewBatcher(s, 100, 50*time.Millisecond, zerolog.Nop())

	start := time.Now()
	_, err = b.Score(context.Background(), newSample(t, 0, squareImage(16, 16)))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, []int{1}, o.batchSizes())
}

func TestBatcher_SizeOneIsSingleCalls(t *testing.T) {
	o := &hashOracle{}
	s, err := NewSemanticScorer(o, testPrompts, 0.3)
	require.NoError(t, err)
	b := NewBatcher(s, 1, time.Hour, zerolog.Nop())

	for i := range 4 {
		_, err := b.Score(context.Background(), newSample(t, uint64(i), squareImage(16, 16)))
		require.NoError(t, err)
	}
	assert.Equal(t, []int{1, 1, 1, 1}, o.batchSizes())
}

func TestBatcher_MatchesDirectScoring(t *testing.T) {
	o := &hashOracle{}
	s, err := NewSemanticScorer(o, DefaultPrompts(), 0.3)
	require.NoError(t, err)
	b := NewBatcher(s, 2, time.Hour, zerolog.Nop())
	samples := []*Sample{newSample(t, 1, noiseImage(32, 32, 11)), newSample(t, 2, noiseImage(32, 32, 12))}

	got := make([]StageResult, 2)
	var wg sync.WaitGroup
	for i, smp := range samples {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := b.Score(context.Background(), smp)
			assert.NoError(t, err)
			got[i] = r
		}()
	}
	wg.Wait()

	for i, smp := range samples {
		want, err := s.ScoreBatch(context.Background(), []*Sample{smp})
		require.NoError(t, err)
		assertSameResult(t, want[0], got[i])
	}
}

func TestBatcher_OracleErrorFailsBatch(t *testing.T) {
	boom := errors.New("boom")
	o := &hashOracle{err: boom}
	s, err := NewSemanticScorer(o, testPrompts, 0.3)
	require.NoError(t, err)
	b := NewBatcher(s, 2, time.Hour, zerolog.Nop())

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = b.Score(context.Background(), newSample(t, uint64(i), squareImage(16, 16)))
		}()
	}
	wg.Wait()
	for _, err := range errs {
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, int64(1), o.calls.Load())
}

func TestBatcher_CallerCancel(t *testing.T) {
	o := &hashOracle{}
	s, err := NewSemanticScorer(o, testPrompts, 0.3)
	require.NoError(t, err)
	b := NewBatcher(s, 10, 30*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err = b.Score(ctx, newSample(t, 0, squareImage(16, 16)))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the abandoned item must not reach the oracle when its window closes
	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, o.calls.Load())
}

// gatedOracle blocks each call until release closes or its context ends.
type gatedOracle struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	ctxErr  chan error
}

func newGatedOracle() *gatedOracle {
	return &gatedOracle{entered: make(chan struct{}), release: make(chan struct{}), ctxErr: make(chan error, 1)}
}

func (g *gatedOracle) Similarity(ctx context.Context, images [][]byte, prompts []string) ([][]float64, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
		return fixedOracle(0.9, 0.6, 0.1)(ctx, images, prompts)
	case <-ctx.Done():
		g.ctxErr <- ctx.Err()
		return nil, ctx.Err()
	}
}

// scoreInOrder starts one Score call per context and waits until each has
// joined the pending batch before starting the next.
func scoreInOrder(t *testing.T, b *Batcher, ctxs ...context.Context) []chan error {
	t.Helper()
	out := make([]chan error, len(ctxs))
	for i, ctx := range ctxs {
		out[i] = make(chan error, 1)
		go func() {
			_, err := b.Score(ctx, newSample(t, uint64(i), squareImage(16, 16)))
			out[i] <- err
		}()
		if i < len(ctxs)-1 {
			require.Eventually(t, func() bool {
				b.mu.Lock()
				defer b.mu.Unlock()
				return len(b.pending) == i+1
			}, time.Second, time.Millisecond)
		}
	}
	return out
}

func TestBatcher_FirstCallerLeavingKeepsBatch(t *testing.T) {
	g := newGatedOracle()
	s, err := NewSemanticScorer(g, testPrompts, 0.3)
	require.NoError(t, err)
	b := NewBatcher(s, 2, time.Hour, zerolog.Nop())

	first, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	errs := scoreInOrder(t, b, first, context.Background())

	<-g.entered
	cancelFirst()
	assert.ErrorIs(t, <-errs[0], context.Canceled)

	close(g.release)
	assert.NoError(t, <-errs[1])
	assert.Empty(t, g.ctxErr)
}

func TestBatcher_AllCallersLeavingCancelsCall(t *testing.T) {
	g := newGatedOracle()
	s, err := NewSemanticScorer(g, testPrompts, 0.3)
	require.NoError(t, err)
	b := NewBatcher(s, 2, time.Hour, zerolog.Nop())

	first, cancelFirst := context.WithCancel(context.Background())
	second, cancelSecond := context.WithCancel(context.Background())
	errs := scoreInOrder(t, b, first, second)

	<-g.entered
	cancelFirst()
	cancelSecond()
	for _, ch := range errs {
		assert.ErrorIs(t, <-ch, context.Canceled)
	}
	select {
	case err := <-g.ctxErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("oracle call was not cancelled")
	}
}
