// Package oracle is the boundary to the image/text embedding model.
//
// The model is opaque: given a batch of images and a set of prompts it
// returns one similarity in [0,1] per (image, prompt) pair. Calling it with
// one image or with many gives the same numbers; only throughput differs.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Oracle scores images against prompts.
type Oracle interface {
	// Similarity returns a len(images) x len(prompts) matrix.
	Similarity(ctx context.Context, images [][]byte, prompts []string) ([][]float64, error)
}

// Func adapts a function to Oracle.
type Func func(ctx context.Context, images [][]byte, prompts []string) ([][]float64, error)

// Similarity implements Oracle.
func (f Func) Similarity(ctx context.Context, images [][]byte, prompts []string) ([][]float64, error) {
	return f(ctx, images, prompts)
}

// Kind classifies an oracle failure.
type Kind int

const (
	// Transient failures (timeouts, 5xx, 429, connection errors) may
	// succeed on retry.
	Transient Kind = iota + 1
	// Permanent failures (4xx, malformed or out-of-range responses) will
	// not.
	Permanent
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	}
	return "unknown"
}

// Error is returned for every failed oracle call.
type Error struct {
	Kind   Kind
	Status int // HTTP status, 0 when none was received
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("oracle: %s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("oracle: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is an oracle Error of kind Transient.
func IsTransient(err error) bool {
	var oe *Error
	return errors.As(err, &oe) && oe.Kind == Transient
}

// Check validates the shape and range of a similarity matrix. Violations
// are permanent errors.
func Check(m [][]float64, images, prompts int) error {
	if len(m) != images {
		return &Error{Kind: Permanent, Err: fmt.Errorf("got %d rows for %d images", len(m), images)}
	}
	for i, row := range m {
		if len(row) != prompts {
			return &Error{Kind: Permanent, Err: fmt.Errorf("row %d has %d values for %d prompts", i, len(row), prompts)}
		}
		for j, v := range row {
			if math.IsNaN(v) || v < 0 || v > 1 {
				return &Error{Kind: Permanent, Err: fmt.Errorf("similarity [%d][%d] = %v outside [0,1]", i, j, v)}
			}
		}
	}
	return nil
}
