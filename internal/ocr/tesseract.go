//go:build tesseract

package ocr

import (
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract recognizes text with a local Tesseract installation.
type Tesseract struct {
	language string
}

// New checks that Tesseract can load language and returns an engine
// for it. An empty language uses DefaultLanguage.
func New(language string) (Engine, error) {
	if language == "" {
		language = DefaultLanguage
	}
	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetLanguage(language); err != nil {
		return nil, fmt.Errorf("ocr: set language %q: %w", language, err)
	}
	return &Tesseract{language: language}, nil
}

// Available reports whether OCR support was compiled in.
func Available() bool { return true }

// Recognize runs word-level OCR over raw.
//
// If word bounding boxes cannot be extracted the full text is still
// returned, with no words.
func (t *Tesseract) Recognize(raw []byte) (*Result, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.language); err != nil {
		return nil, fmt.Errorf("ocr: set language: %w", err)
	}
	if err := client.SetImageFromBytes(raw); err != nil {
		return nil, fmt.Errorf("ocr: set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("ocr: recognize: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return &Result{FullText: text, Words: []Word{}}, nil
	}

	words := make([]Word, 0, len(boxes))
	for _, box := range boxes {
		if box.Word == "" {
			continue
		}
		words = append(words, Word{
			Text:       box.Word,
			Confidence: float64(box.Confidence) / 100.0,
		})
	}
	return &Result{FullText: text, Words: words}, nil
}
