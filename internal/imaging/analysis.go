package imaging

import (
	"image"
	"math"
)

// MinSide is the smallest width or height an Analysis can describe
// meaningfully.
const MinSide = 8

// Analysis holds the thumbnail of one image and the descriptors derived
// from it. Structural descriptors are computed on first use.
type Analysis struct {
	Thumb *image.NRGBA
	Gray  *image.Gray
	Mag   *image.Gray

	hist     [256]int
	pixels   int
	entropy  float64
	flatness float64
	density  float64
	cv2      float64

	structDone bool
	harmony    float64
	symmetry   float64
	symAxis    string
}

// Analyze downsamples img to fit maxSide and computes the noise
// descriptors: luminance histogram, entropy, flatness, gradient variance
// and edge density.
//
// Parameters:
//   - img: Decoded source image.
//   - maxSide: Thumbnail bound in pixels; non-positive keeps full size.
//
// Returns an Analysis. Callers should check TooSmall before trusting the
// descriptors.
func Analyze(img image.Image, maxSide int) *Analysis {
	thumb := Thumbnail(img, maxSide)
	gray := grayscale(thumb)
	a := &Analysis{Thumb: thumb, Gray: gray}

	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	a.pixels = w * h
	for y := 0; y < h; y++ {
		for _, v := range gray.Pix[y*gray.Stride : y*gray.Stride+w] {
			a.hist[v]++
		}
	}
	a.entropy = histogramEntropy(a.hist[:], a.pixels)
	a.flatness = histogramFlatness(a.hist[:], a.pixels)

	a.Mag = sobel(gray)
	a.density, a.cv2 = gradientStats(a.Mag, DefaultEdgeThreshold)
	return a
}

// Width of the thumbnail in pixels.
func (a *Analysis) Width() int { return a.Gray.Rect.Dx() }

// Height of the thumbnail in pixels.
func (a *Analysis) Height() int { return a.Gray.Rect.Dy() }

// TooSmall reports whether either side is below MinSide.
func (a *Analysis) TooSmall() bool {
	return a.Width() < MinSide || a.Height() < MinSide
}

// Entropy is the Shannon entropy of the luminance histogram in bits,
// divided by 8 (0-1).
func (a *Analysis) Entropy() float64 { return a.entropy }

// Flatness is the geometric mean of the histogram bins over their
// arithmetic mean (0-1), with one count added to every bin. It is 1 for a
// perfectly flat histogram and near 0 for one or two luminance levels.
func (a *Analysis) Flatness() float64 { return a.flatness }

// GradientVariance is the squared coefficient of variation of the Sobel
// magnitude. See gradientStats.
func (a *Analysis) GradientVariance() float64 { return a.cv2 }

// EdgeDensity is the share of pixels whose Sobel magnitude exceeds
// DefaultEdgeThreshold (0-1).
func (a *Analysis) EdgeDensity() float64 { return a.density }

// ColorHarmony is the hue coherence of the thumbnail (0-1).
func (a *Analysis) ColorHarmony() float64 {
	a.structure()
	return a.harmony
}

// Symmetry is the best mirror agreement of the thumbnail (0-1) and the
// axis it was found on.
func (a *Analysis) Symmetry() (float64, string) {
	a.structure()
	return a.symmetry, a.symAxis
}

// Hue returns the hue distribution summary of the thumbnail.
func (a *Analysis) Hue() HueStats {
	return hueStats(a.Thumb)
}

// EdgeMask marks pixels above DefaultEdgeThreshold. See EdgeMask.
func (a *Analysis) EdgeMask() [][]bool {
	return EdgeMask(a.Mag, DefaultEdgeThreshold)
}

func (a *Analysis) structure() {
	if a.structDone {
		return
	}
	a.harmony = colorHarmony(a.Thumb)
	a.symmetry, a.symAxis = symmetry(a.Gray)
	a.structDone = true
}

// histogramEntropy returns the Shannon entropy of hist normalized by the
// 8 bits a 256-bin histogram can carry at most.
func histogramEntropy(hist []int, total int) float64 {
	if total == 0 {
		return 0
	}
	var e float64
	for _, c := range hist {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		e -= p * math.Log2(p)
	}
	return clamp01(e / 8)
}

// histogramFlatness returns the geometric over arithmetic mean of the
// histogram bins, each smoothed by one count so that a single empty bin
// does not zero the measure.
func histogramFlatness(hist []int, total int) float64 {
	if total == 0 {
		return 0
	}
	var logSum float64
	for _, c := range hist {
		logSum += math.Log(float64(c + 1))
	}
	geo := math.Exp(logSum / float64(len(hist)))
	arith := float64(total+len(hist)) / float64(len(hist))
	return clamp01(geo / arith)
}
