package imaging

import (
	"image"
	"image/draw"
	"math"

	"github.com/anthonynsimon/bild/effect"
)

// DefaultEdgeThreshold is the Sobel magnitude (0-255) above which a pixel
// counts as an edge.
const DefaultEdgeThreshold = 30

// grayscale converts img to luminance anchored at (0,0).
func grayscale(img image.Image) *image.Gray {
	return toGray(effect.Grayscale(img))
}

// sobel returns the Sobel gradient magnitude of gray on the 0-255 scale,
// clamped to 255.
//
// The magnitude is sqrt(Gx² + Gy²) with the 3x3 Sobel kernels:
//
//	Gx: -1 0 1    Gy: -1 -2 -1
//	    -2 0 2         0  0  0
//	    -1 0 1         1  2  1
//
// Border pixels use clamped (replicated) edge values.
func sobel(gray *image.Gray) *image.Gray {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))

	sobelX := [3][3]float64{
		{-1, 0, 1},
		{-2, 0, 2},
		{-1, 0, 1},
	}
	sobelY := [3][3]float64{
		{-1, -2, -1},
		{0, 0, 0},
		{1, 2, 1},
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var gx, gy float64
			for ky := -1; ky <= 1; ky++ {
				py := clamp(y+ky, 0, h-1)
				for kx := -1; kx <= 1; kx++ {
					px := clamp(x+kx, 0, w-1)
					v := float64(gray.Pix[py*gray.Stride+px])
					gx += v * sobelX[ky+1][kx+1]
					gy += v * sobelY[ky+1][kx+1]
				}
			}
			mag := math.Sqrt(gx*gx + gy*gy)
			if mag > 255 {
				mag = 255
			}
			out.Pix[y*out.Stride+x] = uint8(mag)
		}
	}
	return out
}

// toGray returns img as *image.Gray with bounds at (0,0), copying only when
// img is some other type.
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Rect, img, b.Min, draw.Src)
	return g
}

// gradientStats returns the edge density and the squared coefficient of
// variation of the gradient magnitude.
//
// Parameters:
//   - mag: Sobel magnitude image.
//   - threshold: Edge cutoff on the 0-255 magnitude scale.
//
// Returns:
//   - density: Share of pixels with magnitude strictly above threshold.
//   - cv2: Var(mag) / Mean(mag)². Zero when the mean is zero.
//
// # Interpretation
//
// Independent per-pixel noise produces large gradients almost everywhere,
// so the magnitude is high with a small spread and cv2 stays well below 1.
// Structured content concentrates gradients on a few contours separated by
// flat areas, which drives cv2 up. A flat image has no gradient at all and
// reports zero for both values.
func gradientStats(mag *image.Gray, threshold uint8) (density, cv2 float64) {
	w, h := mag.Rect.Dx(), mag.Rect.Dy()
	n := w * h
	if n == 0 {
		return 0, 0
	}

	var sum, sumSq float64
	edges := 0
	for y := 0; y < h; y++ {
		row := mag.Pix[y*mag.Stride : y*mag.Stride+w]
		for _, v := range row {
			f := float64(v) / 255.0
			sum += f
			sumSq += f * f
			if v > threshold {
				edges++
			}
		}
	}

	mean := sum / float64(n)
	density = float64(edges) / float64(n)
	if mean == 0 {
		return density, 0
	}
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return density, variance / (mean * mean)
}

// EdgeMask returns a row-major boolean grid marking pixels whose gradient
// magnitude exceeds threshold. Border pixels are never marked.
func EdgeMask(mag *image.Gray, threshold uint8) [][]bool {
	w, h := mag.Rect.Dx(), mag.Rect.Dy()
	mask := make([][]bool, h)
	for y := 0; y < h; y++ {
		mask[y] = make([]bool, w)
		if y == 0 || y == h-1 {
			continue
		}
		row := mag.Pix[y*mag.Stride : y*mag.Stride+w]
		for x := 1; x < w-1; x++ {
			mask[y][x] = row[x] > threshold
		}
	}
	return mask
}

// clamp constrains an integer value to the range [lo, hi].
func clamp(val, lo, hi int) int {
	if val < lo {
		return lo
	}
	if val > hi {
		return hi
	}
	return val
}

// clamp01 constrains f to [0, 1].
func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
