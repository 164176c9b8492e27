//go:build !tesseract

package ocr

// New reports ErrUnavailable; rebuild with -tags tesseract to enable OCR.
func New(language string) (Engine, error) {
	return nil, ErrUnavailable
}

// Available reports whether OCR support was compiled in.
func Available() bool { return false }
