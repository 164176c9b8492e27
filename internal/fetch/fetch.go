// Package fetch downloads archive images for coordinates.
//
// Every attempt passes through a shared Gate first, so the archive sees at
// most one request per configured interval no matter how many workers run.
// Failures are classified: transient ones are retried with backoff,
// permanent ones end the coordinate at once.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ironsheep/babelia-scout/internal/cascade"
	"github.com/ironsheep/babelia-scout/internal/coord"
	"github.com/ironsheep/babelia-scout/internal/imaging"
	"github.com/ironsheep/babelia-scout/internal/retry"
)

// UserAgent identifies the scout to the archive.
const UserAgent = "BabeliaScout/1.0 (Research Project)"

// Defaults.
const (
	DefaultTimeout       = 10 * time.Second
	DefaultMaxImageBytes = 8 << 20
	DefaultMaxPixels     = 4096 * 4096
)

// Kind classifies a fetch failure.
type Kind int

const (
	Transient Kind = iota + 1
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

// Error is returned for every failed fetch.
type Error struct {
	Kind   Kind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch: %s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a transient fetch Error.
func IsTransient(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == Transient
}

// Config configures a Fetcher.
type Config struct {
	// BaseURL of the archive. Default coord.DefaultBaseURL.
	BaseURL string
	// Timeout bounds each attempt. Default 10s.
	Timeout time.Duration
	// MaxImageBytes caps the body size. Default 8 MiB.
	MaxImageBytes int64
	// MaxPixels rejects decoded images above width*height. Default 4096².
	MaxPixels int
	Retry     retry.Policy
	Client    *http.Client
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = coord.DefaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxImageBytes <= 0 {
		c.MaxImageBytes = DefaultMaxImageBytes
	}
	if c.MaxPixels <= 0 {
		c.MaxPixels = DefaultMaxPixels
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.Default()
	}
	if c.Client == nil {
		c.Client = &http.Client{}
	}
}

// Fetcher downloads and decodes one coordinate at a time. It is safe for
// concurrent use; the Gate serializes the requests.
type Fetcher struct {
	cfg    Config
	gate   *Gate
	logger zerolog.Logger
}

// New returns a Fetcher. A nil gate means no spacing.
func New(cfg Config, gate *Gate, logger zerolog.Logger) *Fetcher {
	cfg.defaults()
	if gate == nil {
		gate = NewGate(0)
	}
	return &Fetcher{cfg: cfg, gate: gate, logger: logger}
}

// Fetch downloads the image at c and decodes it into a sample.
func (f *Fetcher) Fetch(ctx context.Context, c coord.Coordinate) (*cascade.Sample, error) {
	url := c.URL(f.cfg.BaseURL)

	var raw []byte
	err := f.cfg.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := f.gate.Wait(ctx); err != nil {
			return retry.Permanent(&Error{Kind: Transient, Err: err})
		}
		b, err := f.get(ctx, url)
		if err != nil {
			if IsTransient(err) {
				return err
			}
			return retry.Permanent(err)
		}
		raw = b
		return nil
	}, func(attempt int, err error, next time.Duration) {
		f.logger.Debug().Err(err).
			Str("coord", c.Key()).
			Int("attempt", attempt).
			Dur("retry_in", next).
			Msg("fetch failed, retrying")
	})
	if err != nil {
		var fe *Error
		if errors.As(err, &fe) {
			return nil, fe
		}
		return nil, &Error{Kind: Transient, Err: err}
	}

	dec, err := imaging.Decode(raw, f.cfg.MaxPixels)
	if err != nil {
		return nil, &Error{Kind: Permanent, Err: err}
	}
	return cascade.NewSample(c, raw, dec.Format, dec.Image, time.Now().UTC()), nil
}

// get performs one GET and returns the body.
func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Kind: Permanent, Err: err}
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := f.cfg.Client.Do(req)
	if err != nil {
		return nil, &Error{Kind: Transient, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		kind := Permanent
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			kind = Transient
		}
		return nil, &Error{Kind: kind, Status: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxImageBytes+1))
	if err != nil {
		return nil, &Error{Kind: Transient, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > f.cfg.MaxImageBytes {
		return nil, &Error{Kind: Permanent, Status: resp.StatusCode, Err: fmt.Errorf("body exceeds %d bytes", f.cfg.MaxImageBytes)}
	}
	if len(body) == 0 {
		return nil, &Error{Kind: Permanent, Status: resp.StatusCode, Err: imaging.ErrEmpty}
	}
	return body, nil
}
