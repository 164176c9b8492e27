package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ironsheep/babelia-scout/internal/cascade"
	"github.com/ironsheep/babelia-scout/internal/config"
	"github.com/ironsheep/babelia-scout/internal/coord"
	"github.com/ironsheep/babelia-scout/internal/fetch"
	"github.com/ironsheep/babelia-scout/internal/imaging"
	"github.com/ironsheep/babelia-scout/internal/logging"
	"github.com/ironsheep/babelia-scout/internal/notify"
	"github.com/ironsheep/babelia-scout/internal/ocr"
	"github.com/ironsheep/babelia-scout/internal/oracle"
	"github.com/ironsheep/babelia-scout/internal/pipeline"
	"github.com/ironsheep/babelia-scout/internal/recorder"
	"github.com/ironsheep/babelia-scout/internal/retry"
	"github.com/ironsheep/babelia-scout/internal/sampler"
	"github.com/ironsheep/babelia-scout/internal/server"
	"github.com/ironsheep/babelia-scout/internal/stats"
	"github.com/ironsheep/babelia-scout/internal/store"
	"github.com/ironsheep/babelia-scout/internal/visited"
)

// alertDrainTimeout bounds delivery of alerts still queued at exit.
const alertDrainTimeout = 30 * time.Second

// runScout runs the discovery loop until the budget is spent, the sampler
// is exhausted or ctx is cancelled.
func runScout(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	logger.Info().
		Str("version", Version).
		Str("mode", string(cfg.Mode())).
		Int64("max_images", cfg.MaxImages).
		Float64("threshold", cfg.SignificanceThreshold).
		Int("workers", cfg.WorkerCount).
		Msg("babelia scout starting")

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		if rdb, err = store.OpenRedis(ctx, cfg.RedisURL); err != nil {
			return err
		}
		defer rdb.Close()
	}

	orc, err := openOracle(ctx, cfg, logger)
	if err != nil {
		return err
	}
	casc, err := buildCascade(cfg, orc, logger)
	if err != nil {
		return err
	}

	var set visited.Set
	if rdb != nil {
		set = visited.NewRedis(rdb, visited.DefaultRedisKey)
	} else {
		local, err := visited.NewLocal(ctx, st)
		if err != nil {
			return err
		}
		set = local
	}
	if n, err := set.Len(ctx); err == nil {
		logger.Info().Int64("visited", n).Msg("visited set loaded")
	}

	var resume *store.SamplerState
	if saved, ok, err := st.LoadSamplerState(ctx, string(cfg.Mode())); err != nil {
		return err
	} else if ok {
		resume = &saved
		logger.Info().Uint64("position", saved.Position).Msg("resuming sampler")
	}
	smp, err := sampler.New(sampler.Options{
		Mode:    cfg.Mode(),
		Space:   coord.DefaultSpace(),
		Visited: set,
		Seed:    cfg.RandomSeed,
		Resume:  resume,
	})
	if err != nil {
		return err
	}

	fetcher := fetch.New(fetch.Config{
		BaseURL:       cfg.BaseURL,
		Timeout:       cfg.FetchTimeout,
		MaxImageBytes: cfg.MaxImageBytes,
		Retry:         cfg.FetchRetry(),
	}, fetch.NewGate(cfg.RateLimit()), logging.For(logger, "fetch"))

	sink, err := buildSink(ctx, cfg)
	if err != nil {
		return err
	}

	run := stats.New()
	notifier, err := buildNotifier(cfg, rdb, logger)
	if err != nil {
		return err
	}
	dispatcher := notify.NewDispatcher(notifier, notify.DefaultQueueSize, retry.Default(), run, cfg.BaseURL, logging.For(logger, "notify"))
	rec := recorder.New(st, sink, dispatcher, logging.For(logger, "recorder"))

	orch, err := pipeline.New(pipeline.Config{
		Workers:       cfg.WorkerCount,
		MaxImages:     cfg.MaxImages,
		FlushInterval: cfg.FlushInterval,
		ShutdownGrace: cfg.ShutdownGrace,
	}, pipeline.Deps{
		Sampler:  smp,
		Visited:  set,
		Fetcher:  fetcher,
		Cascade:  casc,
		Recorder: rec,
		State:    st,
		Run:      run,
	}, logging.For(logger, "pipeline"))
	if err != nil {
		return err
	}

	// Alert delivery and the status server outlive the scan by a bounded
	// drain, so they run on a context detached from the signal.
	bg, cancelBg := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBg()

	alertsDone := make(chan struct{})
	go func() {
		defer close(alertsDone)
		dispatcher.Run(bg)
	}()

	var serverDone chan error
	if cfg.StatusAddr != "" {
		srv, err := server.New(server.Options{
			Store:   st,
			Live:    run,
			Cascade: casc,
			BaseURL: cfg.BaseURL,
			Version: Version,
			Logger:  logging.For(logger, "server"),
		})
		if err != nil {
			return err
		}
		serverDone = make(chan error, 1)
		go func() { serverDone <- srv.ListenAndServe(bg, cfg.StatusAddr) }()
	}

	snap, runErr := orch.Run(ctx)

	dispatcher.Close()
	select {
	case <-alertsDone:
	case <-time.After(alertDrainTimeout):
		logger.Warn().Dur("timeout", alertDrainTimeout).Msg("alert drain timed out")
	}
	cancelBg()
	<-alertsDone
	if serverDone != nil {
		if err := <-serverDone; err != nil {
			logger.Warn().Err(err).Msg("status server failed")
		}
	}

	logger.Info().
		Int64("sampled", snap.Sampled).
		Int64("discoveries", snap.Discoveries).
		Int64("alerts_sent", run.Snapshot().AlertsSent).
		Str("elapsed", snap.Elapsed().Round(time.Second).String()).
		Msg("babelia scout stopped")
	return runErr
}

// openOracle connects to the embedding service. An unreachable service is
// a startup failure.
func openOracle(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*oracle.HTTP, error) {
	orc, err := oracle.NewHTTP(oracle.Config{
		URL:     cfg.OracleURL,
		Timeout: cfg.OracleTimeout,
		Retry:   cfg.FetchRetry(),
	}, logging.For(logger, "oracle"))
	if err != nil {
		return nil, err
	}
	hctx, cancel := context.WithTimeout(ctx, cfg.OracleTimeout)
	defer cancel()
	if err := orc.Health(hctx); err != nil {
		return nil, fmt.Errorf("embedding service at %s: %w", cfg.OracleURL, err)
	}
	return orc, nil
}

func buildCascade(cfg config.Config, orc oracle.Oracle, logger zerolog.Logger) (*cascade.Cascade, error) {
	noise, err := cascade.NewNoiseFilter(cascade.NoiseConfig{
		EntropyMax:  cfg.NoiseEntropyMax,
		VarianceMin: cfg.NoiseVarianceMin,
		MaxSide:     cfg.AnalysisMaxSide,
	})
	if err != nil {
		return nil, err
	}
	scorer, err := cascade.NewSemanticScorer(orc, nil, cfg.SemanticThreshold)
	if err != nil {
		return nil, err
	}

	text := cascade.EdgeText(cfg.AnalysisMaxSide)
	if cfg.OCREnabled {
		if engine, err := ocr.New("eng"); err != nil {
			logger.Warn().Err(err).Msg("ocr unavailable, using edge heuristic for text structure")
		} else {
			text = cascade.OCRText(engine, text, logging.For(logger, "ocr"))
		}
	}
	sig, err := cascade.NewSignificanceAggregator(cascade.SignificanceConfig{
		Threshold: cfg.SignificanceThreshold,
		Weights:   cfg.Weights(),
		MaxSide:   cfg.AnalysisMaxSide,
		Text:      text,
	})
	if err != nil {
		return nil, err
	}

	return &cascade.Cascade{
		Noise:        noise,
		Semantic:     cascade.NewBatcher(scorer, cfg.Stage2BatchSize, cfg.BatchWait(), logging.For(logger, "semantic")),
		Significance: sig,
	}, nil
}

// buildSink prefers the object store when one is configured.
func buildSink(ctx context.Context, cfg config.Config) (recorder.ImageSink, error) {
	if mc, ok := cfg.Minio(); ok {
		return recorder.NewMinioSink(ctx, mc)
	}
	return recorder.NewFileSink(cfg.SaveDir, cfg.BaseURL)
}

func buildNotifier(cfg config.Config, rdb *redis.Client, logger zerolog.Logger) (notify.Notifier, error) {
	n := notify.Multi{notify.NewLog(logging.For(logger, "alert"))}
	if cfg.EmailEnabled {
		mail, err := notify.NewSMTP(cfg.SMTP(), nil)
		if err != nil {
			return nil, err
		}
		n = append(n, mail)
	}
	if rdb != nil {
		n = append(n, notify.NewRedis(rdb, cfg.RedisChannel))
	}
	return n, nil
}

// runSelfTest checks the embedding service, pushes one synthetic image
// through the cascade and sends a test email when email is enabled.
func runSelfTest(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	orc, err := openOracle(ctx, cfg, logger)
	if err != nil {
		return err
	}
	logger.Info().Str("url", cfg.OracleURL).Msg("embedding service healthy")

	casc, err := buildCascade(cfg, orc, logger)
	if err != nil {
		return err
	}
	img := testPattern(256)
	raw, err := imaging.Encode(img, "png")
	if err != nil {
		return err
	}
	v, err := casc.Evaluate(ctx, cascade.NewSample(coord.DefaultSpace().At(0), raw, "png", img, time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("cascade: %w", err)
	}
	for _, r := range v.Stages {
		logger.Info().
			Str("stage", string(r.Stage)).
			Bool("passed", r.Passed).
			Float64("score", r.Score).
			Str("reason", r.Reason).
			Msg("test image")
	}

	if !cfg.EmailEnabled {
		logger.Info().Msg("email disabled, skipping test email")
		return nil
	}
	mail, err := notify.NewSMTP(cfg.SMTP(), nil)
	if err != nil {
		return err
	}
	if err := mail.SendTest(ctx); err != nil {
		return fmt.Errorf("test email: %w", err)
	}
	logger.Info().Str("to", cfg.AlertEmail).Msg("test email sent")
	return nil
}

// testPattern draws a white canvas with a centered dark disc.
func testPattern(side int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, side, side))
	c, r := float64(side)/2, float64(side)/4
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			dx, dy := float64(x)-c, float64(y)-c
			if dx*dx+dy*dy <= r*r {
				img.SetRGBA(x, y, color.RGBA{30, 60, 120, 255})
			} else {
				img.SetRGBA(x, y, color.RGBA{255, 255, 255, 255})
			}
		}
	}
	return img
}

// runMCP serves the MCP tools. Without a reachable embedding service the
// analyze tool reports descriptors only.
func runMCP(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	var casc *cascade.Cascade
	if orc, err := openOracle(ctx, cfg, logger); err != nil {
		logger.Warn().Err(err).Msg("cascade disabled for analysis")
	} else if casc, err = buildCascade(cfg, orc, logger); err != nil {
		return err
	}

	srv, err := server.New(server.Options{
		Store:   st,
		Cascade: casc,
		BaseURL: cfg.BaseURL,
		Version: Version,
		Logger:  logging.For(logger, "mcp"),
	})
	if err != nil {
		return err
	}
	logger.Info().Str("version", Version).Msg("mcp server starting on stdio")
	if err := srv.RunMCP(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
