package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chantier/internal/app"
	"github.com/ternarybob/chantier/internal/common"
	"github.com/ternarybob/chantier/internal/server"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles configPaths // Multiple -config flags supported
	serverPort  = flag.Int("port", 0, "Server port (overrides config)")
	serverHost  = flag.String("host", "", "Server host (overrides config)")
	showVersion = flag.Bool("version", false, "Print version information")
	reindex     = flag.Bool("reindex", false, "Run one full reindex and exit")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Chantier RAG version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	if len(configFiles) == 0 {
		if _, err := os.Stat("chantier.toml"); err == nil {
			configFiles = append(configFiles, "chantier.toml")
		} else if _, err := os.Stat("deployments/local/chantier.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/chantier.toml")
		}
	}

	// 1. Load configuration (default -> file1 -> file2 -> ... -> env)
	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := common.GetLogger()
		tempLogger.Error().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	// 2. Apply command-line flag overrides (highest priority)
	common.ApplyFlagOverrides(config, *serverPort, *serverHost)

	// 3. Initialize logger with final configuration
	logger := common.InitLogger(config)

	// 4. Print banner
	common.PrintBanner(config, logger)

	logger.Debug().
		Strs("config_files", configFiles).
		Str("log_level", config.Logging.Level).
		Str("fixtures", config.Data.FixturesPath).
		Msg("Resolved configuration")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize application")
		os.Exit(1)
	}

	if *reindex {
		os.Exit(runReindex(application, logger))
	}

	serve(application, logger)
}

// runReindex runs a single IndexAll and returns the process exit code
func runReindex(application *app.App, logger arbor.ILogger) int {
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := application.Indexer.IndexAll(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Reindex failed")
		return 1
	}

	totals := report.Totals()
	logger.Info().
		Str("run_id", report.RunID).
		Int("processed", totals.Processed).
		Int("skipped", totals.Skipped).
		Int("failed", totals.Failed).
		Int("reused", totals.Reused).
		Int64("duration_ms", report.DurationMs).
		Msg("Reindex complete")

	if totals.Failed > 0 {
		return 2
	}
	return 0
}

func serve(application *app.App, logger arbor.ILogger) {
	defer application.Close()

	srv := server.New(application)

	errChan := make(chan error, 1)
	common.SafeGo(logger, "http-server", func() {
		errChan <- srv.Start()
	})

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", application.Config.Server.Host, application.Config.Server.Port)).
		Msg("Server ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info().Msg("Interrupt signal received")
	case err := <-errChan:
		if err != nil {
			logger.Error().Err(err).Msg("Server failed")
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}

	logger.Info().Msg("Server stopped")
}
