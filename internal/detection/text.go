package detection

import (
	"math"
	"sort"
)

// Bounds represents a rectangular bounding box in pixel coordinates.
//
// The coordinate convention follows standard image bounds:
//   - (X1, Y1) is the top-left corner (inclusive)
//   - (X2, Y2) is the bottom-right corner (exclusive)
type Bounds struct {
	X1 int `json:"x1"` // Left edge (inclusive)
	Y1 int `json:"y1"` // Top edge (inclusive)
	X2 int `json:"x2"` // Right edge
	Y2 int `json:"y2"` // Bottom edge
}

// TextRegion represents a detected text region
type TextRegion struct {
	Bounds     Bounds  `json:"bounds"`
	Confidence float64 `json:"confidence"`
	Area       int     `json:"area"`
}

// TextRegionsResult contains detected text regions
type TextRegionsResult struct {
	Regions []TextRegion `json:"regions"`
	Count   int          `json:"count"`
}

// Window sizes sized for thumbnails of at most a few hundred pixels.
var windowSizes = []struct{ w, h int }{
	{64, 16},  // Small text
	{96, 24},  // Medium text
	{128, 32}, // Large text
	{48, 12},  // Very small text
}

// DetectTextRegions finds regions of mask likely to contain text.
//
// Parameters:
//   - mask: Row-major edge mask, all rows the same length.
//   - minConfidence: Windows scoring below this are discarded (0-1).
//
// Returns the merged regions sorted by confidence, highest first.
func DetectTextRegions(mask [][]bool, minConfidence float64) *TextRegionsResult {
	height := len(mask)
	if height == 0 {
		return &TextRegionsResult{Regions: []TextRegion{}}
	}
	width := len(mask[0])
	integral := integralMask(mask, width, height)

	candidates := make([]TextRegion, 0)

	for _, ws := range windowSizes {
		if ws.w > width || ws.h > height {
			continue
		}
		stepX := ws.w / 2
		stepY := ws.h / 2

		for y := 0; y <= height-ws.h; y += stepY {
			for x := 0; x <= width-ws.w; x += stepX {
				edgeCount := windowSum(integral, x, y, ws.w, ws.h)

				area := ws.w * ws.h
				density := float64(edgeCount) / float64(area)

				// Text typically has medium edge density (not too sparse, not too dense)
				if density < 0.05 || density > 0.4 {
					continue
				}

				horizontalScore := calculateHorizontalScore(mask, x, y, ws.w, ws.h)
				confidence := horizontalScore * (1.0 - math.Abs(density-0.2)/0.2)
				if confidence < minConfidence {
					continue
				}

				candidates = append(candidates, TextRegion{
					Bounds:     Bounds{X1: x, Y1: y, X2: x + ws.w, Y2: y + ws.h},
					Confidence: math.Round(confidence*1000) / 1000,
					Area:       area,
				})
			}
		}
	}

	merged := mergeOverlappingRegions(candidates)

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Confidence > merged[j].Confidence
	})

	return &TextRegionsResult{
		Regions: merged,
		Count:   len(merged),
	}
}

// TextLikelihood returns the best region confidence in mask, or 0 when no
// window looks like text.
func TextLikelihood(mask [][]bool) float64 {
	res := DetectTextRegions(mask, 0)
	if res.Count == 0 {
		return 0
	}
	return res.Regions[0].Confidence
}

// integralMask returns the summed-area table of mask with one row and
// column of zero padding.
func integralMask(mask [][]bool, width, height int) [][]int {
	sat := make([][]int, height+1)
	sat[0] = make([]int, width+1)
	for y := 0; y < height; y++ {
		sat[y+1] = make([]int, width+1)
		rowSum := 0
		for x := 0; x < width; x++ {
			if mask[y][x] {
				rowSum++
			}
			sat[y+1][x+1] = sat[y][x+1] + rowSum
		}
	}
	return sat
}

// windowSum counts the set pixels in the w x h window at (x, y).
func windowSum(sat [][]int, x, y, w, h int) int {
	return sat[y+h][x+w] - sat[y][x+w] - sat[y+h][x] + sat[y][x]
}

// calculateHorizontalScore calculates how "horizontal" the edge distribution is
func calculateHorizontalScore(edges [][]bool, x, y, w, h int) float64 {
	horizontalRuns := 0
	verticalRuns := 0

	// Count horizontal edge runs
	for row := y; row < y+h; row++ {
		inRun := false
		for col := x; col < x+w; col++ {
			if edges[row][col] {
				if !inRun {
					horizontalRuns++
					inRun = true
				}
			} else {
				inRun = false
			}
		}
	}

	// Count vertical edge runs
	for col := x; col < x+w; col++ {
		inRun := false
		for row := y; row < y+h; row++ {
			if edges[row][col] {
				if !inRun {
					verticalRuns++
					inRun = true
				}
			} else {
				inRun = false
			}
		}
	}

	// A row through a line of text crosses many glyph strokes, a column
	// only a few.
	if horizontalRuns+verticalRuns == 0 {
		return 0
	}
	return float64(horizontalRuns) / float64(horizontalRuns+verticalRuns)
}

// mergeOverlappingRegions combines overlapping text regions
func mergeOverlappingRegions(regions []TextRegion) []TextRegion {
	if len(regions) == 0 {
		return regions
	}

	merged := make([]TextRegion, 0)

	for _, r := range regions {
		foundMerge := false
		for i := range merged {
			if regionsOverlap(r.Bounds, merged[i].Bounds) {
				merged[i].Bounds = mergeBounds(r.Bounds, merged[i].Bounds)
				merged[i].Confidence = math.Max(r.Confidence, merged[i].Confidence)
				merged[i].Area = (merged[i].Bounds.X2 - merged[i].Bounds.X1) *
					(merged[i].Bounds.Y2 - merged[i].Bounds.Y1)
				foundMerge = true
				break
			}
		}
		if !foundMerge {
			merged = append(merged, r)
		}
	}

	return merged
}

// regionsOverlap checks if two bounds overlap
func regionsOverlap(a, b Bounds) bool {
	return a.X1 < b.X2 && a.X2 > b.X1 && a.Y1 < b.Y2 && a.Y2 > b.Y1
}

// mergeBounds combines two bounds into their union
func mergeBounds(a, b Bounds) Bounds {
	return Bounds{
		X1: min(a.X1, b.X1),
		Y1: min(a.Y1, b.Y1),
		X2: max(a.X2, b.X2),
		Y2: max(a.Y2, b.Y2),
	}
}
