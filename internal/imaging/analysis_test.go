package imaging

import (
	"image/color"
	"math"
	"testing"
)

func TestAnalyze_Uniform(t *testing.T) {
	a := Analyze(createInMemoryImage(64, 64, color.White), 512)
	if a.Entropy() != 0 {
		t.Errorf("Entropy: got %f, want 0", a.Entropy())
	}
	// One occupied bin of 4096 pixels, add-one smoothed across 256 bins.
	want := math.Pow(4097, 1.0/256) / 17
	if math.Abs(a.Flatness()-want) > 1e-9 {
		t.Errorf("Flatness: got %f, want %f", a.Flatness(), want)
	}
	if a.EdgeDensity() != 0 || a.GradientVariance() != 0 {
		t.Errorf("gradients: density=%f cv2=%f, want 0", a.EdgeDensity(), a.GradientVariance())
	}
	if a.TooSmall() {
		t.Error("64x64 should not be too small")
	}
}

func TestAnalyze_Noise(t *testing.T) {
	a := Analyze(createNoiseImage(128, 128, 11), 512)
	if a.Entropy() < 0.85 {
		t.Errorf("Entropy: got %f, want >= 0.85", a.Entropy())
	}
	if a.Flatness() < 0.3 {
		t.Errorf("Flatness: got %f, want >= 0.3", a.Flatness())
	}
	if a.EdgeDensity() < 0.8 {
		t.Errorf("EdgeDensity: got %f, want >= 0.8", a.EdgeDensity())
	}
}

func TestAnalyze_Deterministic(t *testing.T) {
	img := createNoiseImage(64, 64, 5)
	a, b := Analyze(img, 512), Analyze(img, 512)
	if a.Entropy() != b.Entropy() || a.Flatness() != b.Flatness() ||
		a.GradientVariance() != b.GradientVariance() || a.EdgeDensity() != b.EdgeDensity() {
		t.Error("Analyze is not deterministic")
	}
}

func TestAnalyze_Downsamples(t *testing.T) {
	a := Analyze(createInMemoryImage(1000, 500, color.White), 100)
	if a.Width() != 100 || a.Height() != 50 {
		t.Errorf("thumbnail: got %dx%d, want 100x50", a.Width(), a.Height())
	}
}

func TestAnalyze_TooSmall(t *testing.T) {
	a := Analyze(createInMemoryImage(4, 20, color.White), 512)
	if !a.TooSmall() {
		t.Error("4x20 should be too small")
	}
}

func TestAnalyze_Symmetry(t *testing.T) {
	sq := Analyze(createSquareImage(128, 128), 512)
	if s, _ := sq.Symmetry(); s != 1 {
		t.Errorf("centered square symmetry: got %f, want 1", s)
	}

	halves := Analyze(createLeftHalfImage(64, 64), 512)
	s, axis := halves.Symmetry()
	if s != 1 || axis != "vertical" {
		t.Errorf("left/right halves: got %f on %s, want 1 on vertical", s, axis)
	}

	noise := Analyze(createNoiseImage(128, 128, 9), 512)
	if s, _ := noise.Symmetry(); s > 0.5 {
		t.Errorf("noise symmetry: got %f, want <= 0.5", s)
	}
}

func TestAnalyze_EdgeMaskMatchesSize(t *testing.T) {
	a := Analyze(createSquareImage(40, 30), 512)
	mask := a.EdgeMask()
	if len(mask) != 30 || len(mask[0]) != 40 {
		t.Fatalf("mask: got %dx%d, want 40x30", len(mask[0]), len(mask))
	}
	if !mask[15][9] && !mask[15][10] {
		t.Error("left side of the square should be marked")
	}
}

func TestHistogramEntropy_Uniform(t *testing.T) {
	var hist [256]int
	for i := range hist {
		hist[i] = 10
	}
	if got := histogramEntropy(hist[:], 2560); got != 1 {
		t.Errorf("flat histogram entropy: got %f, want 1", got)
	}
	if got := histogramFlatness(hist[:], 2560); got < 0.999 {
		t.Errorf("flat histogram flatness: got %f, want 1", got)
	}
	if histogramEntropy(hist[:], 0) != 0 || histogramFlatness(hist[:], 0) != 0 {
		t.Error("empty histogram should be 0")
	}
}
