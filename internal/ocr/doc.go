// Package ocr measures how confidently Tesseract reads text in an image.
//
// The Tesseract engine is linked through gosseract/v2, which needs cgo and
// the Tesseract and Leptonica development libraries. It is compiled only
// with the build tag "tesseract":
//
//	go build -tags tesseract ./cmd/babelia-scout
//
// Without the tag, New returns ErrUnavailable and callers fall back to the
// edge-based heuristic in package detection.
//
// # Prerequisites
//
// With the tag, Tesseract must be installed together with the language data
// for the configured language:
//   - Ubuntu/Debian: apt-get install libtesseract-dev tesseract-ocr-eng
//   - macOS: brew install tesseract
//
// # Thread Safety
//
// An Engine may be shared by all workers. Each Recognize call uses its own
// Tesseract client.
package ocr
