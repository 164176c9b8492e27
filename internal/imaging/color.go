package imaging

import (
	"image"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Pixels below these HSV saturation/value levels carry no reliable hue.
const (
	harmonyMinSaturation = 0.25
	harmonyMinValue      = 0.2
	harmonyMinChromatic  = 0.01
)

// HueStats summarizes the hue distribution of the chromatic pixels of an
// image.
type HueStats struct {
	// Chromatic is the share of pixels saturated and bright enough to have
	// a meaningful hue (0-1).
	Chromatic float64 `json:"chromatic"`

	// Concentration is the mean resultant length of the hue angles (0-1):
	// 1 when every chromatic pixel has the same hue, near 0 when hues are
	// spread evenly around the wheel.
	Concentration float64 `json:"concentration"`

	// MeanHue is the circular mean hue in degrees (0-360). Meaningless
	// when Concentration is near 0.
	MeanHue float64 `json:"mean_hue"`
}

// hueStats computes HueStats over img.
//
// Each pixel is converted to HSV through go-colorful. Pixels below
// harmonyMinSaturation or harmonyMinValue are treated as achromatic and
// skipped. The hue angles of the remaining pixels are averaged as unit
// vectors, so 350° and 10° average to 0° rather than 180°.
func hueStats(img *image.NRGBA) HueStats {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	total := w * h
	if total == 0 {
		return HueStats{}
	}

	var sumCos, sumSin float64
	n := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c, ok := colorful.MakeColor(img.NRGBAAt(x, y))
			if !ok {
				continue
			}
			hue, s, v := c.Hsv()
			if s < harmonyMinSaturation || v < harmonyMinValue {
				continue
			}
			rad := hue * math.Pi / 180
			sumCos += math.Cos(rad)
			sumSin += math.Sin(rad)
			n++
		}
	}

	st := HueStats{Chromatic: float64(n) / float64(total)}
	if n == 0 {
		return st
	}
	st.Concentration = math.Hypot(sumCos, sumSin) / float64(n)
	mean := math.Atan2(sumSin, sumCos) * 180 / math.Pi
	if mean < 0 {
		mean += 360
	}
	st.MeanHue = mean
	return st
}

// colorHarmony scores how coherent the palette of img is (0-1).
//
// Images with almost no chromatic pixels (grayscale, line art, text on
// paper) score 1. Otherwise the score is the hue concentration, which is
// close to 0 for per-pixel random color and high for analogous palettes.
func colorHarmony(img *image.NRGBA) float64 {
	st := hueStats(img)
	if st.Chromatic < harmonyMinChromatic {
		return 1
	}
	return clamp01(st.Concentration)
}
