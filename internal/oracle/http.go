package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"github.com/ironsheep/babelia-scout/internal/retry"
)

// maxResponseBytes caps the similarity response body.
const maxResponseBytes = 16 << 20

// Config configures the HTTP oracle client.
type Config struct {
	// URL is the service root; requests go to {URL}/similarity and
	// {URL}/health.
	URL string
	// Timeout bounds each HTTP attempt. Default 30s.
	Timeout time.Duration
	Retry   retry.Policy
	// Client overrides the HTTP client (tests).
	Client *http.Client
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.Default()
	}
	if c.Client == nil {
		c.Client = &http.Client{}
	}
}

// HTTP calls a similarity service over JSON.
//
//	POST {url}/similarity  {"images": [base64...], "prompts": [...]}
//	  -> {"similarities": [[...], ...]}
//	GET  {url}/health      -> 2xx when ready
type HTTP struct {
	base   string
	cfg    Config
	logger zerolog.Logger
}

type similarityRequest struct {
	Images  []string `json:"images"`
	Prompts []string `json:"prompts"`
}

type similarityResponse struct {
	Similarities [][]float64 `json:"similarities"`
	Error        string      `json:"error,omitempty"`
}

// NewHTTP validates cfg.URL and returns a client.
func NewHTTP(cfg Config, logger zerolog.Logger) (*HTTP, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("oracle: invalid url %q", cfg.URL)
	}
	cfg.defaults()
	return &HTTP{
		base:   strings.TrimRight(cfg.URL, "/"),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Similarity implements Oracle. Transient failures are retried under the
// configured policy.
func (h *HTTP) Similarity(ctx context.Context, images [][]byte, prompts []string) ([][]float64, error) {
	if len(images) == 0 {
		return [][]float64{}, nil
	}
	req := similarityRequest{Images: make([]string, len(images)), Prompts: prompts}
	for i, img := range images {
		req.Images[i] = base64.StdEncoding.EncodeToString(img)
	}
	body, err := sonic.Marshal(req)
	if err != nil {
		return nil, &Error{Kind: Permanent, Err: fmt.Errorf("encode request: %w", err)}
	}

	var out [][]float64
	err = h.cfg.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		m, err := h.post(ctx, body)
		if err != nil {
			if IsTransient(err) {
				return err
			}
			return retry.Permanent(err)
		}
		out = m
		return nil
	}, func(attempt int, err error, next time.Duration) {
		h.logger.Warn().Err(err).
			Int("attempt", attempt).
			Int("batch", len(images)).
			Dur("retry_in", next).
			Msg("oracle call failed, retrying")
	})
	if err != nil {
		var oe *Error
		if errors.As(err, &oe) {
			return nil, err
		}
		// Context cancellation surfaces unclassified.
		return nil, &Error{Kind: Transient, Err: err}
	}
	if err := Check(out, len(images), len(prompts)); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *HTTP) post(ctx context.Context, body []byte) ([][]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+"/similarity", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: Permanent, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := h.cfg.Client.Do(req)
	if err != nil {
		return nil, &Error{Kind: Transient, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Kind: Transient, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		kind := Permanent
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			kind = Transient
		}
		return nil, &Error{Kind: kind, Status: resp.StatusCode, Err: fmt.Errorf("%s", snippet(raw))}
	}

	var sr similarityResponse
	if err := sonic.Unmarshal(raw, &sr); err != nil {
		return nil, &Error{Kind: Permanent, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if sr.Error != "" {
		return nil, &Error{Kind: Permanent, Status: resp.StatusCode, Err: errors.New(sr.Error)}
	}
	return sr.Similarities, nil
}

// Health probes {url}/health once.
func (h *HTTP) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.base+"/health", nil)
	if err != nil {
		return &Error{Kind: Permanent, Err: err}
	}
	resp, err := h.cfg.Client.Do(req)
	if err != nil {
		return &Error{Kind: Transient, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Kind: Transient, Status: resp.StatusCode, Err: errors.New("health check failed")}
	}
	return nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		s = "empty body"
	}
	return s
}
