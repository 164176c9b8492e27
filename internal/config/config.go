// Package config loads the scout configuration.
//
// Values are layered, later layers winning: built-in defaults, an optional
// YAML file, a .env file, BABELIA_* environment variables and finally
// command-line flags (applied by the caller). Validate runs after the last
// layer.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/ironsheep/babelia-scout/internal/cascade"
	"github.com/ironsheep/babelia-scout/internal/coord"
	"github.com/ironsheep/babelia-scout/internal/notify"
	"github.com/ironsheep/babelia-scout/internal/recorder"
	"github.com/ironsheep/babelia-scout/internal/retry"
	"github.com/ironsheep/babelia-scout/internal/sampler"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "BABELIA"

// Config is the full set of options.
type Config struct {
	// Sampling
	SamplingMode string `yaml:"sampling_mode" envconfig:"SAMPLING_MODE"`
	MaxImages    int64  `yaml:"max_images" envconfig:"MAX_IMAGES"`
	RandomSeed   uint64 `yaml:"random_seed" envconfig:"RANDOM_SEED"`

	// Fetching
	BaseURL          string        `yaml:"babelia_base_url" envconfig:"BASE_URL"`
	RateLimitSeconds float64       `yaml:"rate_limit_seconds" envconfig:"RATE_LIMIT_SECONDS"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout" envconfig:"FETCH_TIMEOUT"`
	FetchAttempts    int           `yaml:"fetch_attempts" envconfig:"FETCH_ATTEMPTS"`
	FetchBaseDelay   time.Duration `yaml:"fetch_base_delay" envconfig:"FETCH_BASE_DELAY"`
	RetryMultiplier  float64       `yaml:"retry_multiplier" envconfig:"RETRY_MULTIPLIER"`
	MaxImageBytes    int64         `yaml:"max_image_bytes" envconfig:"MAX_IMAGE_BYTES"`

	// Cascade
	NoiseEntropyMax       float64 `yaml:"noise_entropy_max" envconfig:"NOISE_ENTROPY_MAX"`
	NoiseVarianceMin      float64 `yaml:"noise_variance_min" envconfig:"NOISE_VARIANCE_MIN"`
	AnalysisMaxSide       int     `yaml:"analysis_max_side" envconfig:"ANALYSIS_MAX_SIDE"`
	SemanticThreshold     float64 `yaml:"semantic_threshold" envconfig:"SEMANTIC_THRESHOLD"`
	SignificanceThreshold float64 `yaml:"significance_threshold" envconfig:"SIGNIFICANCE_THRESHOLD"`
	Stage2BatchSize       int     `yaml:"stage2_batch_size" envconfig:"STAGE2_BATCH_SIZE"`
	Stage2BatchWaitMS     float64 `yaml:"stage2_batch_wait_ms" envconfig:"STAGE2_BATCH_WAIT_MS"`
	WeightSemantic        float64 `yaml:"weight_semantic" envconfig:"WEIGHT_SEMANTIC"`
	WeightEdge            float64 `yaml:"weight_edge" envconfig:"WEIGHT_EDGE"`
	WeightHarmony         float64 `yaml:"weight_harmony" envconfig:"WEIGHT_HARMONY"`
	WeightSymmetry        float64 `yaml:"weight_symmetry" envconfig:"WEIGHT_SYMMETRY"`
	WeightText            float64 `yaml:"weight_text" envconfig:"WEIGHT_TEXT"`
	OCREnabled            bool    `yaml:"ocr_enabled" envconfig:"OCR_ENABLED"`

	// Oracle
	OracleURL     string        `yaml:"oracle_url" envconfig:"ORACLE_URL"`
	OracleTimeout time.Duration `yaml:"oracle_timeout" envconfig:"ORACLE_TIMEOUT"`

	// Run
	WorkerCount   int           `yaml:"worker_count" envconfig:"WORKER_COUNT"`
	FlushInterval time.Duration `yaml:"flush_interval" envconfig:"FLUSH_INTERVAL"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace" envconfig:"SHUTDOWN_GRACE"`

	// Storage
	SaveDir      string `yaml:"save_dir" envconfig:"SAVE_DIR"`
	DatabasePath string `yaml:"database_path" envconfig:"DATABASE_PATH"`
	RedisURL     string `yaml:"redis_url" envconfig:"REDIS_URL"`
	RedisChannel string `yaml:"redis_channel" envconfig:"REDIS_CHANNEL"`

	MinioEndpoint  string `yaml:"minio_endpoint" envconfig:"MINIO_ENDPOINT"`
	MinioAccessKey string `yaml:"minio_access_key" envconfig:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `yaml:"minio_secret_key" envconfig:"MINIO_SECRET_KEY"`
	MinioBucket    string `yaml:"minio_bucket" envconfig:"MINIO_BUCKET"`
	MinioPrefix    string `yaml:"minio_prefix" envconfig:"MINIO_PREFIX"`
	MinioSecure    bool   `yaml:"minio_secure" envconfig:"MINIO_SECURE"`

	// Alerts
	EmailEnabled bool   `yaml:"email_enabled" envconfig:"EMAIL_ENABLED"`
	SMTPServer   string `yaml:"smtp_server" envconfig:"SMTP_SERVER"`
	SMTPPort     int    `yaml:"smtp_port" envconfig:"SMTP_PORT"`
	SMTPUsername string `yaml:"smtp_username" envconfig:"SMTP_USERNAME"`
	SMTPPassword string `yaml:"smtp_password" envconfig:"SMTP_PASSWORD"`
	AlertEmail   string `yaml:"alert_email" envconfig:"ALERT_EMAIL"`

	// Surfaces
	StatusAddr string `yaml:"status_addr" envconfig:"STATUS_ADDR"`
	LogLevel   string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat  string `yaml:"log_format" envconfig:"LOG_FORMAT"`
	LogFile    string `yaml:"log_file" envconfig:"LOG_FILE"`
}

// Default returns the built-in configuration.
func Default() Config {
	w := cascade.DefaultWeights()
	return Config{
		SamplingMode: string(sampler.Random),

		BaseURL:          coord.DefaultBaseURL,
		RateLimitSeconds: 2.0,
		FetchTimeout:     10 * time.Second,
		FetchAttempts:    3,
		FetchBaseDelay:   500 * time.Millisecond,
		RetryMultiplier:  2,
		MaxImageBytes:    8 << 20,

		NoiseEntropyMax:       cascade.DefaultEntropyMax,
		NoiseVarianceMin:      cascade.DefaultVarianceMin,
		AnalysisMaxSide:       cascade.DefaultAnalysisSide,
		SemanticThreshold:     cascade.DefaultSemanticThreshold,
		SignificanceThreshold: cascade.DefaultSignificanceThreshold,
		Stage2BatchSize:       cascade.DefaultBatchSize,
		Stage2BatchWaitMS:     float64(cascade.DefaultBatchWait / time.Millisecond),
		WeightSemantic:        w.Semantic,
		WeightEdge:            w.Edge,
		WeightHarmony:         w.Harmony,
		WeightSymmetry:        w.Symmetry,
		WeightText:            w.Text,

		OracleURL:     "http://localhost:8765",
		OracleTimeout: 30 * time.Second,

		WorkerCount:   4,
		FlushInterval: 30 * time.Second,
		ShutdownGrace: 15 * time.Second,

		SaveDir:      "./discoveries",
		DatabasePath: "./babelia_discoveries.db",
		RedisChannel: notify.DefaultChannel,
		MinioBucket:  "babelia-discoveries",

		SMTPServer: "smtp.gmail.com",
		SMTPPort:   587,

		LogLevel:  "info",
		LogFormat: "console",
	}
}

// Load layers the YAML file at path (optional), the .env file at envFile
// (skipped when missing) and the environment over Default. It does not
// validate.
func Load(path, envFile string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return cfg, err
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("config: environment: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	_, err := sampler.ParseMode(c.SamplingMode)
	check(err == nil, "sampling_mode must be random or sequential, got %q", c.SamplingMode)
	check(c.MaxImages >= 0, "max_images must not be negative")
	check(c.RateLimitSeconds >= 0, "rate_limit_seconds must not be negative")
	check(c.FetchTimeout > 0, "fetch_timeout must be positive")
	check(c.FetchAttempts >= 1, "fetch_attempts must be at least 1")
	check(c.RetryMultiplier >= 1, "retry_multiplier must be at least 1")
	check(c.MaxImageBytes > 0, "max_image_bytes must be positive")

	check(unit(c.NoiseEntropyMax), "noise_entropy_max must be in [0,1]")
	check(c.NoiseVarianceMin >= 0, "noise_variance_min must not be negative")
	check(c.AnalysisMaxSide >= 8, "analysis_max_side must be at least 8")
	check(unit(c.SemanticThreshold), "semantic_threshold must be in [0,1]")
	check(unit(c.SignificanceThreshold), "significance_threshold must be in [0,1]")
	check(c.Stage2BatchSize >= 1, "stage2_batch_size must be at least 1")
	check(c.Stage2BatchWaitMS >= 0, "stage2_batch_wait_ms must not be negative")
	if err := c.Weights().Validate(); err != nil {
		errs = append(errs, err)
	}

	check(c.OracleURL != "", "oracle_url is required")
	check(c.WorkerCount >= 1, "worker_count must be at least 1")
	check(c.FlushInterval > 0, "flush_interval must be positive")
	check(c.ShutdownGrace >= 0, "shutdown_grace must not be negative")
	check(c.SaveDir != "" || c.MinioEndpoint != "", "save_dir or minio_endpoint is required")
	check(c.DatabasePath != "", "database_path is required")

	if c.EmailEnabled {
		check(c.SMTP().Enabled(), "email alerts need smtp_server, smtp_username, smtp_password and alert_email")
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be console or json, got %q", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func unit(f float64) bool { return f >= 0 && f <= 1 }

// Mode is the parsed sampling mode.
func (c Config) Mode() sampler.Mode {
	m, err := sampler.ParseMode(c.SamplingMode)
	if err != nil {
		return sampler.Random
	}
	return m
}

// RateLimit is the minimum gap between archive requests.
func (c Config) RateLimit() time.Duration {
	return time.Duration(c.RateLimitSeconds * float64(time.Second))
}

// BatchWait is the stage 2 collection window.
func (c Config) BatchWait() time.Duration {
	return time.Duration(c.Stage2BatchWaitMS * float64(time.Millisecond))
}

// Weights are the stage 3 feature weights.
func (c Config) Weights() cascade.Weights {
	return cascade.Weights{
		Semantic: c.WeightSemantic,
		Edge:     c.WeightEdge,
		Harmony:  c.WeightHarmony,
		Symmetry: c.WeightSymmetry,
		Text:     c.WeightText,
	}
}

// FetchRetry is the retry policy shared by the fetcher and the oracle.
func (c Config) FetchRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.FetchAttempts,
		BaseDelay:   c.FetchBaseDelay,
		Multiplier:  c.RetryMultiplier,
		MaxDelay:    30 * time.Second,
	}
}

// SMTP is the email notifier configuration.
func (c Config) SMTP() notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:     c.SMTPServer,
		Port:     c.SMTPPort,
		Username: c.SMTPUsername,
		Password: c.SMTPPassword,
		To:       c.AlertEmail,
	}
}

// Minio is the object store sink configuration, ok false when no
// endpoint is set.
func (c Config) Minio() (recorder.MinioConfig, bool) {
	return recorder.MinioConfig{
		Endpoint:  c.MinioEndpoint,
		AccessKey: c.MinioAccessKey,
		SecretKey: c.MinioSecretKey,
		Bucket:    c.MinioBucket,
		Prefix:    c.MinioPrefix,
		Secure:    c.MinioSecure,
	}, c.MinioEndpoint != ""
}
