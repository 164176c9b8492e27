package cascade

import (
	"context"
	"hash/fnv"
	"image"
	"image/color"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ironsheep/babelia-scout/internal/coord"
	"github.com/ironsheep/babelia-scout/internal/imaging"
	"github.com/ironsheep/babelia-scout/internal/oracle"
)

func noiseImage(w, h int, seed uint64) *image.RGBA {
	r := rand.New(rand.NewPCG(seed, seed+1))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(r.UintN(256))
		img.Pix[i+1] = uint8(r.UintN(256))
		img.Pix[i+2] = uint8(r.UintN(256))
		img.Pix[i+3] = 255
	}
	return img
}

// squareImage draws a centered black square on white.
func squareImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{255, 255, 255, 255}
			if x >= w/4 && x < 3*w/4 && y >= h/4 && y < 3*h/4 {
				c = color.RGBA{0, 0, 0, 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func newSample(t *testing.T, idx uint64, img image.Image) *Sample {
	t.Helper()
	raw, err := imaging.Encode(img, "png")
	require.NoError(t, err)
	return NewSample(coord.DefaultSpace().At(idx), raw, "png", img, time.Now())
}

// hashOracle returns a similarity derived from the image bytes and prompt
// position, so the same image always scores the same regardless of the
// batch it arrives in.
type hashOracle struct {
	calls   atomic.Int64
	mu      sync.Mutex
	batches []int
	err     error
}

func (o *hashOracle) Similarity(_ context.Context, images [][]byte, prompts []string) ([][]float64, error) {
	o.calls.Add(1)
	o.mu.Lock()
	o.batches = append(o.batches, len(images))
	o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	out := make([][]float64, len(images))
	for i, img := range images {
		row := make([]float64, len(prompts))
		for j, p := range prompts {
			h := fnv.New64a()
			h.Write(img)
			h.Write([]byte(p))
			row[j] = float64(h.Sum64()%1000) / 1000
		}
		out[i] = row
	}
	return out, nil
}

func (o *hashOracle) batchSizes() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.batches...)
}

// fixedOracle answers every image with the same row.
func fixedOracle(row ...float64) oracle.Func {
	return func(_ context.Context, images [][]byte, prompts []string) ([][]float64, error) {
		out := make([][]float64, len(images))
		for i := range out {
			out[i] = append([]float64(nil), row...)
		}
		return out, nil
	}
}

var testPrompts = []Prompt{
	{Name: "face", Text: "a face"},
	{Name: "text", Text: "some text", Floor: 0.5},
	{Name: "noise", Text: "random noise", Negative: true},
}

func testNoise(t *testing.T) *NoiseFilter {
	t.Helper()
	f, err := NewNoiseFilter(NoiseConfig{EntropyMax: 0.5, VarianceMin: 5, MaxSide: 128})
	require.NoError(t, err)
	return f
}
