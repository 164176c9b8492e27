// Package imaging computes the pixel descriptors the filter cascade scores on.
//
// Every sample is decoded once and downsampled to a bounded thumbnail. An
// Analysis then derives everything the stages need from that thumbnail:
//
//   - Luminance histogram: entropy and flatness
//   - Sobel gradient magnitude: gradient variance and edge density
//   - HSV hue distribution: color harmony
//   - Mirror agreement: symmetry
//
// All descriptors are normalized to [0,1] except gradient variance, which
// is a squared coefficient of variation and unbounded above.
//
// # Coordinate System
//
// Pixel coordinates are 0-based with the origin at the top-left corner.
// Thumbnails always have their bounds anchored at (0,0).
//
// # Thread Safety
//
// Analysis values are immutable after Analyze returns except for lazily
// computed fields, so an Analysis must stay with the goroutine that built
// it. ImageCache is safe for concurrent use.
//
// # Performance Considerations
//
// All descriptors are O(pixels) over the thumbnail. The thumbnail side is
// bounded by the caller (analysis_max_side), which caps the cost per sample
// regardless of the source resolution.
package imaging
