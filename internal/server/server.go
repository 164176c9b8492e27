package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"github.com/ironsheep/babelia-scout/internal/cascade"
	"github.com/ironsheep/babelia-scout/internal/coord"
	"github.com/ironsheep/babelia-scout/internal/detection"
	"github.com/ironsheep/babelia-scout/internal/imaging"
	"github.com/ironsheep/babelia-scout/internal/stats"
	"github.com/ironsheep/babelia-scout/internal/store"
)

// Discovery listing bounds.
const (
	DefaultListLimit = 20
	MaxListLimit     = 500
)

// ErrBadKey marks a malformed coordinate key.
var ErrBadKey = errors.New("server: bad coordinate key")

// minTextConfidence filters the text regions reported by Analyze.
const minTextConfidence = 0.5

// Store is the read side of the scout database. *store.Store implements
// it.
type Store interface {
	Ping(ctx context.Context) error
	CountDiscoveries(ctx context.Context) (int64, error)
	ListDiscoveries(ctx context.Context, limit int) ([]store.Discovery, error)
	GetDiscovery(ctx context.Context, key string) (*store.Discovery, error)
	LatestRunStats(ctx context.Context) (stats.Snapshot, error)
	CountVisited(ctx context.Context) (int64, error)
}

// Options configures a Server.
type Options struct {
	Store Store
	// Live is the run in progress, nil when the server runs on its own.
	Live *stats.Run
	// Cascade scores files for scout_analyze. Nil limits analysis to
	// image descriptors.
	Cascade *cascade.Cascade
	// MaxPixels bounds decoded files. Default 4096*4096.
	MaxPixels int
	// BaseURL links discoveries to the archive.
	BaseURL string
	Version string
	Logger  zerolog.Logger
}

// Server answers status queries.
type Server struct {
	store   Store
	live    *stats.Run
	cascade *cascade.Cascade
	cache   *imaging.ImageCache
	maxSide int
	baseURL string
	version string
	logger  zerolog.Logger
}

// New returns a Server. A store is required.
func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("server: store is required")
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = 4096 * 4096
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	maxSide := cascade.DefaultAnalysisSide
	if opts.Cascade != nil && opts.Cascade.Noise != nil {
		maxSide = opts.Cascade.Noise.MaxSide()
	}
	return &Server{
		store:   opts.Store,
		live:    opts.Live,
		cascade: opts.Cascade,
		cache:   imaging.NewImageCache(opts.MaxPixels),
		maxSide: maxSide,
		baseURL: opts.BaseURL,
		version: opts.Version,
		logger:  opts.Logger,
	}, nil
}

// StatsReport describes the live or latest run.
type StatsReport struct {
	Run              stats.Snapshot `json:"run"`
	Live             bool           `json:"live"`
	RatePerSec       float64        `json:"rate_per_sec"`
	DiscoveryRatePct float64        `json:"discovery_rate_pct"`
	TotalDiscoveries int64          `json:"total_discoveries"`
	Visited          int64          `json:"visited"`
}

// Stats reports the live run when there is one, otherwise the last run
// flushed to the store.
func (s *Server) Stats(ctx context.Context) (*StatsReport, error) {
	rep := &StatsReport{}
	if s.live != nil {
		rep.Run = s.live.Snapshot()
		rep.Live = true
	} else {
		snap, err := s.store.LatestRunStats(ctx)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		rep.Run = snap
	}
	rep.RatePerSec = rep.Run.Rate()
	rep.DiscoveryRatePct = rep.Run.DiscoveryRate()

	var err error
	if rep.TotalDiscoveries, err = s.store.CountDiscoveries(ctx); err != nil {
		return nil, err
	}
	if rep.Visited, err = s.store.CountVisited(ctx); err != nil {
		return nil, err
	}
	return rep, nil
}

// DiscoveryView is a discovery row with its stages decoded.
type DiscoveryView struct {
	store.Discovery
	URL    string                `json:"url"`
	Stages []cascade.StageResult `json:"stages"`
}

func (s *Server) view(d store.Discovery) DiscoveryView {
	v := DiscoveryView{Discovery: d}
	if c, err := coord.Parse(d.Key); err == nil {
		v.URL = c.URL(s.baseURL)
	}
	if d.StagesJSON != "" {
		if err := sonic.UnmarshalString(d.StagesJSON, &v.Stages); err != nil {
			s.logger.Warn().Err(err).Str("coord", d.Key).Msg("undecodable stage breakdown")
		}
	}
	return v
}

// Discoveries lists discoveries, best score first. limit is clamped to
// [1, MaxListLimit]; 0 means DefaultListLimit.
func (s *Server) Discoveries(ctx context.Context, limit int) ([]DiscoveryView, error) {
	switch {
	case limit == 0:
		limit = DefaultListLimit
	case limit < 0:
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	rows, err := s.store.ListDiscoveries(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]DiscoveryView, 0, len(rows))
	for _, d := range rows {
		out = append(out, s.view(d))
	}
	return out, nil
}

// Discovery returns the discovery at key. It fails with ErrBadKey for a
// malformed key and store.ErrNotFound for an unknown one.
func (s *Server) Discovery(ctx context.Context, key string) (*DiscoveryView, error) {
	c, err := coord.Parse(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	d, err := s.store.GetDiscovery(ctx, c.Key())
	if err != nil {
		return nil, err
	}
	v := s.view(*d)
	return &v, nil
}

// Descriptors are the image statistics the cascade works from.
type Descriptors struct {
	Entropy          float64                `json:"entropy"`
	Flatness         float64                `json:"flatness"`
	GradientVariance float64                `json:"gradient_variance"`
	EdgeDensity      float64                `json:"edge_density"`
	ColorHarmony     float64                `json:"color_harmony"`
	Hue              imaging.HueStats       `json:"hue"`
	Symmetry         float64                `json:"symmetry"`
	SymmetryAxis     string                 `json:"symmetry_axis"`
	TextLikelihood   float64                `json:"text_likelihood"`
	TextRegions      []detection.TextRegion `json:"text_regions"`
}

// AnalyzeReport is the result of scoring a local file.
type AnalyzeReport struct {
	Path         string           `json:"path"`
	Format       string           `json:"format"`
	Width        int              `json:"width"`
	Height       int              `json:"height"`
	AnalyzedSide int              `json:"analyzed_side"`
	Descriptors  Descriptors      `json:"descriptors"`
	Verdict      *cascade.Verdict `json:"verdict,omitempty"`
	Passed       bool             `json:"passed"`
	FinalScore   float64          `json:"final_score"`
	TopPrompt    string           `json:"top_prompt,omitempty"`
}

// Analyze scores the image file at path. key optionally names the
// coordinate the file came from. Without a cascade only descriptors are
// reported.
func (s *Server) Analyze(ctx context.Context, path, key string) (*AnalyzeReport, error) {
	var c coord.Coordinate
	if key != "" {
		var err error
		if c, err = coord.Parse(key); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
		}
	}
	f, err := s.cache.Load(path)
	if err != nil {
		return nil, err
	}

	smp := cascade.NewSample(c, f.Raw, f.Decoded.Format, f.Decoded.Image, time.Now().UTC())
	a := smp.Analysis(s.maxSide)
	sym, axis := a.Symmetry()
	mask := a.EdgeMask()
	regions := detection.DetectTextRegions(mask, minTextConfidence)

	rep := &AnalyzeReport{
		Path:         path,
		Format:       f.Decoded.Format,
		Width:        f.Decoded.Width,
		Height:       f.Decoded.Height,
		AnalyzedSide: max(a.Width(), a.Height()),
		Descriptors: Descriptors{
			Entropy:          a.Entropy(),
			Flatness:         a.Flatness(),
			GradientVariance: a.GradientVariance(),
			EdgeDensity:      a.EdgeDensity(),
			ColorHarmony:     a.ColorHarmony(),
			Hue:              a.Hue(),
			Symmetry:         sym,
			SymmetryAxis:     axis,
			TextLikelihood:   detection.TextLikelihood(mask),
			TextRegions:      regions.Regions,
		},
	}
	if s.cascade == nil {
		return rep, nil
	}

	v, err := s.cascade.Evaluate(ctx, smp)
	if err != nil {
		return nil, err
	}
	rep.Verdict = &v
	rep.Passed = v.Passed()
	rep.FinalScore = v.FinalScore()
	rep.TopPrompt = v.TopPrompt()
	return rep, nil
}
