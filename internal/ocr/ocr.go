package ocr

import (
	"errors"
	"strings"
	"unicode"
)

// ErrUnavailable is returned by New when the binary was built without
// Tesseract support.
var ErrUnavailable = errors.New("ocr: built without tesseract support")

// DefaultLanguage is the Tesseract language used when none is configured.
const DefaultLanguage = "eng"

// Word is one recognized word.
type Word struct {
	Text string `json:"text"`

	// Confidence is Tesseract's word confidence (0.0 to 1.0).
	Confidence float64 `json:"confidence"`
}

// Result is the outcome of one recognition.
type Result struct {
	// FullText is all recognized text with Tesseract's spacing.
	FullText string `json:"full_text"`

	// Words are the recognized words, empty ones removed.
	Words []Word `json:"words"`
}

// Engine recognizes text in encoded image bytes.
type Engine interface {
	Recognize(raw []byte) (*Result, error)
}

// wordsForFull is the number of plausible words at which Score stops
// growing with word count.
const wordsForFull = 5

// Score condenses r into a text-structure signal (0-1): the mean
// confidence of plausible words, scaled down when fewer than five were
// found. A plausible word has at least two characters and at least one
// letter or digit, which drops the single-glyph hits Tesseract reports on
// noise.
func (r *Result) Score() float64 {
	if r == nil {
		return 0
	}
	var sum float64
	n := 0
	for _, w := range r.Words {
		if !plausible(w.Text) {
			continue
		}
		sum += w.Confidence
		n++
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	coverage := float64(n) / wordsForFull
	if coverage > 1 {
		coverage = 1
	}
	return mean * coverage
}

func plausible(word string) bool {
	word = strings.TrimSpace(word)
	if len([]rune(word)) < 2 {
		return false
	}
	return strings.IndexFunc(word, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) >= 0
}
