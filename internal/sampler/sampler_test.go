package sampler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/babelia-scout/internal/coord"
	"github.com/ironsheep/babelia-scout/internal/visited"
)

func tinySpace() coord.Space {
	return coord.Space{
		Walls:       []coord.Wall{coord.North},
		Shelves:     1,
		Volumes:     2,
		Pages:       5,
		SeqHexCount: 1,
	}
}

func newSet(t *testing.T) *visited.Local {
	t.Helper()
	s, err := visited.NewLocal(context.Background(), nil)
	require.NoError(t, err)
	return s
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Random ")
	require.NoError(t, err)
	assert.Equal(t, Random, m)
	m, err = ParseMode("sequential")
	require.NoError(t, err)
	assert.Equal(t, Sequential, m)
	_, err = ParseMode("spiral")
	assert.Error(t, err)
}

func TestSequential_WalksWholeRangeThenExhausts(t *testing.T) {
	ctx := context.Background()
	set := newSet(t)
	s, err := New(Options{Mode: Sequential, Space: tinySpace(), Visited: set})
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		c, err := s.Next(ctx)
		require.NoError(t, err)
		assert.False(t, seen[c.Key()], "duplicate %s", c.Key())
		seen[c.Key()] = true

		// Reserved before it was returned.
		ok, _ := set.Contains(ctx, c.Key())
		assert.True(t, ok)
	}
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, uint64(10), s.State().Position)
}

func TestSequential_SkipsVisited(t *testing.T) {
	ctx := context.Background()
	space := tinySpace()
	set := newSet(t)
	_, _ = set.Reserve(ctx, space.At(0).Key())
	_, _ = set.Reserve(ctx, space.At(1).Key())

	s, err := New(Options{Mode: Sequential, Space: space, Visited: set})
	require.NoError(t, err)
	c, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, space.At(2), c)
}

func TestSequential_ResumesFromSavedPosition(t *testing.T) {
	ctx := context.Background()
	space := tinySpace()
	set := newSet(t)

	first, err := New(Options{Mode: Sequential, Space: space, Visited: set})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := first.Next(ctx)
		require.NoError(t, err)
	}
	st := first.State()

	second, err := New(Options{Mode: Sequential, Space: space, Visited: set, Resume: &st})
	require.NoError(t, err)
	c, err := second.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, space.At(4), c)
}

func TestRandom_SeededStreamResumes(t *testing.T) {
	ctx := context.Background()
	space := coord.DefaultSpace()

	ref, err := New(Options{Mode: Random, Space: space, Visited: newSet(t), Seed: 42})
	require.NoError(t, err)
	var want []coord.Coordinate
	for i := 0; i < 5; i++ {
		c, err := ref.Next(ctx)
		require.NoError(t, err)
		want = append(want, c)
	}

	set := newSet(t)
	a, err := New(Options{Mode: Random, Space: space, Visited: set, Seed: 42})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		c, err := a.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, want[i], c)
	}
	st := a.State()
	assert.Equal(t, uint64(3), st.Position)

	b, err := New(Options{Mode: Random, Space: space, Visited: set, Seed: 42, Resume: &st})
	require.NoError(t, err)
	c, err := b.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, want[3], c)
}

func TestRandom_DrawsAreInRange(t *testing.T) {
	ctx := context.Background()
	space := coord.DefaultSpace()
	s, err := New(Options{Mode: Random, Space: space, Visited: newSet(t)})
	require.NoError(t, err)
	assert.NotZero(t, s.State().Seed)
	for i := 0; i < 50; i++ {
		c, err := s.Next(ctx)
		require.NoError(t, err)
		require.NoError(t, space.Contains(c))
	}
}

type fullSet struct{ visited.Local }

func (*fullSet) Reserve(context.Context, string) (bool, error) { return false, nil }

func TestRandom_SaturationIsBounded(t *testing.T) {
	s, err := New(Options{Mode: Random, Space: tinySpace(), Visited: &fullSet{}, Seed: 1, MaxRetries: 8})
	require.NoError(t, err)
	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, ErrSaturated)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, uint64(8), s.State().Position)
}

func TestNext_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, err := New(Options{Mode: Sequential, Space: tinySpace(), Visited: newSet(t)})
	require.NoError(t, err)
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Mode: Sequential, Space: tinySpace()})
	assert.Error(t, err)
	_, err = New(Options{Mode: "spiral", Space: tinySpace(), Visited: newSet(t)})
	assert.Error(t, err)
}
