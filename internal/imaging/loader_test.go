package imaging

import (
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

func TestDecode_PNGRoundTrip(t *testing.T) {
	raw, err := Encode(createInMemoryImage(40, 30, color.RGBA{255, 0, 0, 255}), "png")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	dec, err := Decode(raw, 0)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if dec.Format != "png" {
		t.Errorf("Format: got %s, want png", dec.Format)
	}
	if dec.Width != 40 || dec.Height != 30 {
		t.Errorf("dimensions: got %dx%d, want 40x30", dec.Width, dec.Height)
	}
}

func TestDecode_JPEG(t *testing.T) {
	raw, err := Encode(createSquareImage(32, 32), "jpeg")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	dec, err := Decode(raw, 0)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if dec.Format != "jpeg" {
		t.Errorf("Format: got %s, want jpeg", dec.Format)
	}
}

func TestDecode_Errors(t *testing.T) {
	if _, err := Decode(nil, 0); !errors.Is(err, ErrEmpty) {
		t.Errorf("empty: got %v, want ErrEmpty", err)
	}
	if _, err := Decode([]byte("<html>not an image</html>"), 0); !errors.Is(err, ErrUnsupported) {
		t.Errorf("garbage: got %v, want ErrUnsupported", err)
	}

	raw, _ := Encode(createInMemoryImage(100, 100, color.White), "png")
	if _, err := Decode(raw, 99*100); !errors.Is(err, ErrTooLarge) {
		t.Errorf("too large: got %v, want ErrTooLarge", err)
	}
	if _, err := Decode(raw, 100*100); err != nil {
		t.Errorf("exact limit should decode: %v", err)
	}
}

func TestThumbnail(t *testing.T) {
	big := createInMemoryImage(400, 200, color.White)
	th := Thumbnail(big, 100)
	if th.Bounds().Dx() != 100 || th.Bounds().Dy() != 50 {
		t.Errorf("thumbnail: got %dx%d, want 100x50", th.Bounds().Dx(), th.Bounds().Dy())
	}

	small := createInMemoryImage(50, 20, color.White)
	th = Thumbnail(small, 100)
	if th.Bounds().Dx() != 50 || th.Bounds().Dy() != 20 {
		t.Errorf("small image should not be scaled: got %dx%d", th.Bounds().Dx(), th.Bounds().Dy())
	}
	if th.Bounds().Min.X != 0 || th.Bounds().Min.Y != 0 {
		t.Errorf("thumbnail not anchored at origin: %v", th.Bounds())
	}
}

func TestEncode_UnknownFormat(t *testing.T) {
	if _, err := Encode(createInMemoryImage(4, 4, color.White), "webp"); err == nil {
		t.Error("Encode should reject unknown formats")
	}
}

func TestImageCache_Load(t *testing.T) {
	raw, _ := Encode(createInMemoryImage(20, 20, color.White), "png")
	path := filepath.Join(t.TempDir(), "white.png")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cache := NewImageCache(0)
	first, err := cache.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	second, err := cache.Load(path)
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if first != second {
		t.Error("second Load did not return cached entry")
	}
	if cache.Len() != 1 {
		t.Errorf("Len: got %d, want 1", cache.Len())
	}

	cache.Evict(path)
	if cache.Len() != 0 {
		t.Errorf("Len after Evict: got %d, want 0", cache.Len())
	}

	_, _ = cache.Load(path)
	cache.Clear()
	if cache.Len() != 0 {
		t.Errorf("Len after Clear: got %d, want 0", cache.Len())
	}
}

func TestImageCache_Load_Errors(t *testing.T) {
	cache := NewImageCache(0)
	if _, err := cache.Load("/nonexistent/path/to/image.png"); err == nil {
		t.Error("Load should fail for non-existent file")
	}

	path := filepath.Join(t.TempDir(), "bad.png")
	_ = os.WriteFile(path, []byte("not an image"), 0o644)
	if _, err := cache.Load(path); !errors.Is(err, ErrUnsupported) {
		t.Errorf("invalid data: got %v, want ErrUnsupported", err)
	}
}
