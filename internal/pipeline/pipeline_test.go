package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/babelia-scout/internal/cascade"
	"github.com/ironsheep/babelia-scout/internal/coord"
	"github.com/ironsheep/babelia-scout/internal/fetch"
	"github.com/ironsheep/babelia-scout/internal/imaging"
	"github.com/ironsheep/babelia-scout/internal/oracle"
	"github.com/ironsheep/babelia-scout/internal/recorder"
	"github.com/ironsheep/babelia-scout/internal/retry"
	"github.com/ironsheep/babelia-scout/internal/sampler"
	"github.com/ironsheep/babelia-scout/internal/stats"
	"github.com/ironsheep/babelia-scout/internal/store"
	"github.com/ironsheep/babelia-scout/internal/visited"
)

func noisePNG(t *testing.T, seed uint64) []byte {
	t.Helper()
	r := rand.New(rand.NewPCG(seed, seed+1))
	img := image.NewRGBA(image.Rect(0, 0, 128, 128))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(r.UintN(256))
		img.Pix[i+1] = uint8(r.UintN(256))
		img.Pix[i+2] = uint8(r.UintN(256))
		img.Pix[i+3] = 255
	}
	return encode(t, img)
}

// squarePNG is a black square on white.
func squarePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 128, 128))
	for y := 0; y < 128; y++ {
		for x := 0; x < 128; x++ {
			c := color.RGBA{255, 255, 255, 255}
			if x >= 32 && x < 96 && y >= 32 && y < 96 {
				c = color.RGBA{0, 0, 0, 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return encode(t, img)
}

// stripesPNG is vertical black and white bands.
func stripesPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 128, 128))
	for y := 0; y < 128; y++ {
		for x := 0; x < 128; x++ {
			c := color.RGBA{255, 255, 255, 255}
			if (x/16)%2 == 0 {
				c = color.RGBA{0, 0, 0, 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return encode(t, img)
}

func encode(t *testing.T, img image.Image) []byte {
	t.Helper()
	raw, err := imaging.Encode(img, "png")
	require.NoError(t, err)
	return raw
}

// tinySpace holds n coordinates, all in one hexagon.
func tinySpace(n int) coord.Space {
	return coord.Space{
		Walls:       []coord.Wall{coord.North},
		Shelves:     1,
		Volumes:     1,
		Pages:       n,
		SeqHexStart: 7,
		SeqHexCount: 1,
	}
}

type archive struct {
	images   map[string][]byte
	requests atomic.Int64
	inFlight atomic.Int64
	release  chan struct{}
}

func (a *archive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.requests.Add(1)
	if a.release != nil {
		a.inFlight.Add(1)
		defer a.inFlight.Add(-1)
		select {
		case <-a.release:
		case <-r.Context().Done():
			return
		}
	}
	raw, ok := a.images[r.URL.RawQuery]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(raw)
}

// pickyOracle loves one image and is lukewarm about everything else.
func pickyOracle(favorite []byte, calls *atomic.Int64) oracle.Func {
	return func(_ context.Context, images [][]byte, prompts []string) ([][]float64, error) {
		calls.Add(1)
		out := make([][]float64, len(images))
		for i, img := range images {
			if bytes.Equal(img, favorite) {
				out[i] = []float64{1.0, 0.2, 0.0}
			} else {
				out[i] = []float64{0.1, 0.2, 0.1}
			}
		}
		return out, nil
	}
}

var testPrompts = []cascade.Prompt{
	{Name: "face", Text: "a face"},
	{Name: "text", Text: "some text", Floor: 0.5},
	{Name: "noise", Text: "random noise", Negative: true},
}

type harness struct {
	store   *store.Store
	set     *visited.Local
	run     *stats.Run
	archive *archive
	oracle  atomic.Int64
	orch    *Orchestrator
	space   coord.Space
}

func newHarness(t *testing.T, space coord.Space, images map[string][]byte, favorite []byte, cfg Config, release chan struct{}) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{store: store.OpenMemory(t), run: stats.New(), space: space}

	set, err := visited.NewLocal(ctx, h.store)
	require.NoError(t, err)
	h.set = set

	smp, err := sampler.New(sampler.Options{Mode: sampler.Sequential, Space: space, Visited: set})
	require.NoError(t, err)

	h.archive = &archive{images: images, release: release}
	srv := httptest.NewServer(h.archive)
	t.Cleanup(srv.Close)

	fetcher := fetch.New(fetch.Config{
		BaseURL: srv.URL,
		Retry:   retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 2 * time.Millisecond},
	}, fetch.NewGate(0), zerolog.Nop())

	noise, err := cascade.NewNoiseFilter(cascade.NoiseConfig{EntropyMax: 0.5, VarianceMin: 5, MaxSide: 128})
	require.NoError(t, err)
	scorer, err := cascade.NewSemanticScorer(pickyOracle(favorite, &h.oracle), testPrompts, 0.3)
	require.NoError(t, err)
	sig, err := cascade.NewSignificanceAggregator(cascade.SignificanceConfig{Threshold: 0.75, Weights: cascade.DefaultWeights(), MaxSide: 128})
	require.NoError(t, err)
	casc := &cascade.Cascade{
		Noise:        noise,
		Semantic:     cascade.NewBatcher(scorer, 4, 5*time.Millisecond, zerolog.Nop()),
		Significance: sig,
	}

	sink, err := recorder.NewFileSink(t.TempDir(), srv.URL)
	require.NoError(t, err)
	rec := recorder.New(h.store, sink, nil, zerolog.Nop())

	h.orch, err = New(cfg, Deps{
		Sampler:  smp,
		Visited:  set,
		Fetcher:  fetcher,
		Cascade:  casc,
		Recorder: rec,
		State:    h.store,
		Run:      h.run,
	}, zerolog.Nop())
	require.NoError(t, err)
	return h
}

// tenImages serves eight noise pages, one stripes page and one square page.
func tenImages(t *testing.T, space coord.Space) (map[string][]byte, []byte, coord.Coordinate) {
	t.Helper()
	square := squarePNG(t)
	images := make(map[string][]byte)
	for i := uint64(0); i < 10; i++ {
		images[space.At(i).Key()] = noisePNG(t, i+1)
	}
	images[space.At(3).Key()] = stripesPNG(t)
	images[space.At(6).Key()] = square
	return images, square, space.At(6)
}

func TestRun_EndToEndSequential(t *testing.T) {
	space := tinySpace(10)
	images, square, want := tenImages(t, space)
	h := newHarness(t, space, images, square, Config{Workers: 3}, nil)

	snap, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(10), snap.Sampled)
	assert.Equal(t, int64(8), snap.NoiseRejected)
	assert.Equal(t, int64(1), snap.SemanticRejected)
	assert.Equal(t, int64(0), snap.SignificanceRejected)
	assert.Equal(t, int64(1), snap.Discoveries)
	assert.Equal(t, int64(0), snap.Errors)

	ctx := context.Background()
	n, err := h.store.CountDiscoveries(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	d, err := h.store.GetDiscovery(ctx, want.Key())
	require.NoError(t, err)
	assert.Equal(t, "face", d.TopPrompt)
	assert.FileExists(t, d.ImagePath)

	// Noise never reaches the oracle.
	assert.LessOrEqual(t, h.oracle.Load(), int64(2))
	assert.Equal(t, int64(10), h.archive.requests.Load())
}

func TestRun_FlushesState(t *testing.T) {
	space := tinySpace(10)
	images, square, _ := tenImages(t, space)
	h := newHarness(t, space, images, square, Config{Workers: 2}, nil)

	_, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	ctx := context.Background()
	saved, err := h.store.LatestRunStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, h.run.ID(), saved.RunID)
	assert.Equal(t, int64(10), saved.Sampled)

	st, ok, err := h.store.LoadSamplerState(ctx, string(sampler.Sequential))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(10), st.Position)

	visitedRows, err := h.store.CountVisited(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), visitedRows)
}

func TestRun_ResumeSkipsVisited(t *testing.T) {
	space := tinySpace(10)
	images, square, _ := tenImages(t, space)
	h := newHarness(t, space, images, square, Config{Workers: 2, MaxImages: 4}, nil)
	_, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	// A second run over the same store sees the first run's keys.
	ctx := context.Background()
	set, err := visited.NewLocal(ctx, h.store)
	require.NoError(t, err)
	smp, err := sampler.New(sampler.Options{Mode: sampler.Sequential, Space: space, Visited: set})
	require.NoError(t, err)

	var seen []string
	for {
		c, err := smp.Next(ctx)
		if err != nil {
			require.ErrorIs(t, err, sampler.ErrExhausted)
			break
		}
		seen = append(seen, c.Key())
	}
	assert.Len(t, seen, 6)
	assert.NotContains(t, seen, space.At(0).Key())
}

func TestRun_Budget(t *testing.T) {
	space := tinySpace(10)
	images, square, _ := tenImages(t, space)
	h := newHarness(t, space, images, square, Config{Workers: 2, MaxImages: 4}, nil)

	snap, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), snap.Sampled)
	assert.Equal(t, int64(4), h.archive.requests.Load())
}

func TestRun_FetchFailureCountedAndNotResampled(t *testing.T) {
	space := tinySpace(10)
	images, square, _ := tenImages(t, space)
	missing := space.At(2).Key()
	delete(images, missing)
	h := newHarness(t, space, images, square, Config{Workers: 2}, nil)

	snap, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), snap.Sampled)
	assert.Equal(t, int64(1), snap.Errors)
	assert.Equal(t, int64(7), snap.NoiseRejected)

	ok, err := h.set.Contains(context.Background(), missing)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRun_ShutdownFinishesInFlight(t *testing.T) {
	space := tinySpace(100)
	images := make(map[string][]byte)
	for i := uint64(0); i < 100; i++ {
		images[space.At(i).Key()] = noisePNG(t, i+1)
	}
	release := make(chan struct{})
	h := newHarness(t, space, images, nil, Config{Workers: 3, ShutdownGrace: 5 * time.Second}, release)

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		snap stats.Snapshot
		err  error
	}
	done := make(chan result, 1)
	go func() {
		snap, err := h.orch.Run(ctx)
		done <- result{snap, err}
	}()

	require.Eventually(t, func() bool { return h.archive.inFlight.Load() == 3 }, 5*time.Second, time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(release)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, int64(3), res.snap.Sampled)
	assert.Equal(t, int64(3), res.snap.NoiseRejected)
	assert.Zero(t, res.snap.Errors)
	assert.Equal(t, int64(3), h.archive.requests.Load())

	// The producer may have reserved one more coordinate while every
	// worker was busy.
	n, err := h.set.Len(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(3))
	assert.LessOrEqual(t, n, int64(4))
}

func TestRun_GraceExpiryAborts(t *testing.T) {
	space := tinySpace(100)
	release := make(chan struct{})
	defer close(release)
	h := newHarness(t, space, map[string][]byte{}, nil, Config{Workers: 2, ShutdownGrace: 20 * time.Millisecond}, release)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan stats.Snapshot, 1)
	go func() {
		snap, _ := h.orch.Run(ctx)
		done <- snap
	}()

	require.Eventually(t, func() bool { return h.archive.inFlight.Load() == 2 }, 5*time.Second, time.Millisecond)
	cancel()

	select {
	case snap := <-done:
		assert.Equal(t, int64(2), snap.Sampled)
		assert.Equal(t, int64(2), snap.Errors)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after the grace period")
	}
}

// flakySampler fails the first failures draws the way a dropped Redis
// connection would.
type flakySampler struct {
	Sampler
	failures int
}

func (f *flakySampler) Next(ctx context.Context) (coord.Coordinate, error) {
	if f.failures > 0 {
		f.failures--
		return coord.Coordinate{}, errors.New("visited: redis sadd: i/o timeout")
	}
	return f.Sampler.Next(ctx)
}

func fastReserve(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 2 * time.Millisecond}
}

func TestRun_ReservationFailureIsNotFatal(t *testing.T) {
	space := tinySpace(10)
	images, square, _ := tenImages(t, space)
	h := newHarness(t, space, images, square, Config{Workers: 2, MaxImages: 5, Reserve: fastReserve(3)}, nil)
	h.orch.deps.Sampler = &flakySampler{Sampler: h.orch.deps.Sampler, failures: 1}

	snap, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), snap.Sampled)
	assert.Equal(t, int64(1), snap.Errors)
	assert.Equal(t, int64(5), h.archive.requests.Load())
}

func TestRun_ReservationOutage(t *testing.T) {
	space := tinySpace(10)
	images, square, _ := tenImages(t, space)
	h := newHarness(t, space, images, square, Config{Workers: 2, Reserve: fastReserve(2)}, nil)
	h.orch.deps.Sampler = &flakySampler{Sampler: h.orch.deps.Sampler, failures: 100}

	snap, err := h.orch.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "i/o timeout")
	assert.Equal(t, int64(0), snap.Sampled)
	assert.Equal(t, int64(2), snap.Errors)
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Config{}, Deps{}, zerolog.Nop())
	assert.Error(t, err)
}
