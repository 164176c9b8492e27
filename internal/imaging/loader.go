package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"os"
	"sync"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // Register WebP format decoder
)

// Decode errors. All of them mean the bytes will never become a usable
// image, so callers treat them as permanent.
var (
	ErrEmpty       = errors.New("imaging: empty image data")
	ErrTooLarge    = errors.New("imaging: image exceeds pixel limit")
	ErrUnsupported = errors.New("imaging: unsupported or corrupt image")
)

// Decoded is a decoded image together with what was learned while
// decoding it.
type Decoded struct {
	// Image is the decoded image, EXIF orientation applied.
	Image image.Image

	// Format is the registered format name: "png", "jpeg", "gif", ...
	Format string

	// Width and Height are the source dimensions in pixels.
	Width  int
	Height int
}

// Decode decodes raw image bytes.
//
// Parameters:
//   - raw: Encoded image bytes (PNG, JPEG, GIF, BMP, TIFF or WebP).
//   - maxPixels: Upper bound on width*height, checked against the header
//     before the pixel data is decoded. Zero disables the check.
//
// Returns:
//   - *Decoded: The image and its format.
//   - error: ErrEmpty, ErrTooLarge or ErrUnsupported (wrapped).
func Decode(raw []byte, maxPixels int) (*Decoded, error) {
	if len(raw) == 0 {
		return nil, ErrEmpty
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: zero dimension %dx%d", ErrUnsupported, cfg.Width, cfg.Height)
	}
	if maxPixels > 0 && cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d > %d", ErrTooLarge, cfg.Width, cfg.Height, maxPixels)
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}

	b := img.Bounds()
	return &Decoded{Image: img, Format: format, Width: b.Dx(), Height: b.Dy()}, nil
}

// Thumbnail returns img scaled to fit within maxSide x maxSide, anchored at
// (0,0). Images already small enough are copied unscaled. A non-positive
// maxSide disables scaling.
func Thumbnail(img image.Image, maxSide int) *image.NRGBA {
	b := img.Bounds()
	if maxSide > 0 && (b.Dx() > maxSide || b.Dy() > maxSide) {
		return imaging.Fit(img, maxSide, maxSide, imaging.Box)
	}
	return imaging.Clone(img)
}

// Encode writes img in the given format ("png" or "jpeg") and returns the
// bytes.
func Encode(img image.Image, format string) ([]byte, error) {
	f, err := imaging.FormatFromExtension(format)
	if err != nil {
		return nil, fmt.Errorf("imaging: %w", err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, f); err != nil {
		return nil, fmt.Errorf("imaging: encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// ImageCache caches decoded local files by path.
//
// It backs the inspection tools, which may be asked to analyze the same
// file repeatedly. Entries stay until Evict or Clear.
type ImageCache struct {
	maxPixels int

	mu      sync.RWMutex
	entries map[string]*CachedFile
}

// CachedFile is one cached entry.
type CachedFile struct {
	Raw     []byte
	Decoded *Decoded
}

// NewImageCache creates an empty cache that decodes with the given pixel
// limit.
func NewImageCache(maxPixels int) *ImageCache {
	return &ImageCache{maxPixels: maxPixels, entries: make(map[string]*CachedFile)}
}

// Load returns the cached entry for path, reading and decoding it on first
// use.
func (c *ImageCache) Load(path string) (*CachedFile, error) {
	c.mu.RLock()
	if e, ok := c.entries[path]; ok {
		c.mu.RUnlock()
		return e, nil
	}
	c.mu.RUnlock()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("imaging: read %s: %w", path, err)
	}
	dec, err := Decode(raw, c.maxPixels)
	if err != nil {
		return nil, err
	}

	e := &CachedFile{Raw: raw, Decoded: dec}
	c.mu.Lock()
	c.entries[path] = e
	c.mu.Unlock()
	return e, nil
}

// Evict removes path from the cache.
func (c *ImageCache) Evict(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

// Clear empties the cache.
func (c *ImageCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*CachedFile)
	c.mu.Unlock()
}

// Len returns the number of cached files.
func (c *ImageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
