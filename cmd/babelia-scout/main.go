// Command babelia-scout samples the Babelia image archive, filters the
// images through a three stage cascade and records the ones that look
// meaningful.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ironsheep/babelia-scout/internal/config"
	"github.com/ironsheep/babelia-scout/internal/logging"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

type flags struct {
	configPath string
	envFile    string
	maxImages  int64
	threshold  float64
	sampling   string
	email      bool
	test       bool
	workers    int
	statusAddr string
	logLevel   string
	logFile    string
}

func main() {
	if err := newRootCmd(&flags{}).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(f *flags) *cobra.Command {
	root := &cobra.Command{
		Use:   "babelia-scout",
		Short: "Search the Babelia image archive for meaningful images",
		Long: `babelia-scout draws coordinates from the Babelia image archive, rejects
noise, scores the remaining images against concept prompts through an
embedding service and records the significant ones.

Configuration is read from an optional YAML file, a .env file and
BABELIA_* environment variables; flags override all of them.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd, f)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if f.test {
				return runSelfTest(ctx, cfg, logger)
			}
			return runScout(ctx, cfg, logger)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "YAML configuration file")
	pf.StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before the environment")
	pf.StringVar(&f.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	pf.StringVar(&f.logFile, "log-file", "", "also write debug logs as JSON to this file")

	fl := root.Flags()
	fl.Int64Var(&f.maxImages, "max-images", 0, "stop after this many coordinates (0 = unlimited)")
	fl.Float64Var(&f.threshold, "threshold", 0, "significance threshold (0-1)")
	fl.StringVar(&f.sampling, "sampling", "", "sampling mode: random or sequential")
	fl.BoolVar(&f.email, "email", false, "send email alerts for discoveries")
	fl.BoolVar(&f.test, "test", false, "check the oracle, run the cascade once and send a test email, then exit")
	fl.IntVar(&f.workers, "workers", 0, "number of concurrent workers")
	fl.StringVar(&f.statusAddr, "status-addr", "", "serve the HTTP status API on this address")

	root.AddCommand(newMCPCmd(f), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "babelia-scout %s\n", Version)
			fmt.Fprintf(out, "  Build time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git commit: %s\n", GitCommit)
		},
	}
}

func newMCPCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the discovery database as MCP tools over stdin/stdout",
		Long: `mcp exposes scout statistics, recorded discoveries and on-demand cascade
analysis of local files to an MCP client. Logs go to stderr; stdout carries
the protocol.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd, f)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMCP(ctx, cfg, logger)
		},
	}
}

// setup loads the configuration, applies the flags that were set and
// builds the logger.
func setup(cmd *cobra.Command, f *flags) (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(f.configPath, f.envFile)
	if err != nil {
		return cfg, zerolog.Nop(), err
	}

	changed := cmd.Flags().Changed
	if changed("max-images") {
		cfg.MaxImages = f.maxImages
	}
	if changed("threshold") {
		cfg.SignificanceThreshold = f.threshold
	}
	if changed("sampling") {
		cfg.SamplingMode = f.sampling
	}
	if changed("email") {
		cfg.EmailEnabled = f.email
	}
	if changed("workers") {
		cfg.WorkerCount = f.workers
	}
	if changed("status-addr") {
		cfg.StatusAddr = f.statusAddr
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("log-file") {
		cfg.LogFile = f.logFile
	}

	if err := cfg.Validate(); err != nil {
		return cfg, zerolog.Nop(), err
	}
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		return cfg, zerolog.Nop(), err
	}
	return cfg, logger, nil
}
