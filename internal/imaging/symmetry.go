package imaging

import (
	"image"

	"github.com/disintegration/imaging"
)

// mirrorAgreement compares gray with its mirror image (0-1).
//
// The mean absolute difference d between the two (0-1 scale) is mapped to
// 1 - 3d. Two independent uniform values differ by 1/3 on average, so an
// image with no mirror correlation scores 0 and a perfectly symmetric one
// scores 1.
func mirrorAgreement(gray *image.Gray, flipped *image.NRGBA) float64 {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	n := w * h
	if n == 0 {
		return 0
	}
	var diff float64
	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+w]
		frow := flipped.Pix[y*flipped.Stride : y*flipped.Stride+w*4]
		for x, v := range row {
			// Flipped pixels are gray replicated over R, G and B.
			d := int(v) - int(frow[x*4])
			if d < 0 {
				d = -d
			}
			diff += float64(d)
		}
	}
	d := diff / float64(n) / 255.0
	return clamp01(1 - 3*d)
}

// symmetry returns the better of the left-right and top-bottom mirror
// agreement of gray, with the axis that produced it ("horizontal" for a
// left-right mirror, "vertical" for top-bottom).
func symmetry(gray *image.Gray) (float64, string) {
	lr := mirrorAgreement(gray, imaging.FlipH(gray))
	tb := mirrorAgreement(gray, imaging.FlipV(gray))
	if tb > lr {
		return tb, "vertical"
	}
	return lr, "horizontal"
}
