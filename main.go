package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/wagnerlima/memory-cloud/insight-kb/internal/config"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/knowledge"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/logger"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/metrics"
)

// --- Global flags ---
var (
	configPath string
	dataDir    string
	logMode    string

	rootCmd = &cobra.Command{
		Use:   "insightkb",
		Short: "Persistent, searchable knowledge base of insights mined from videos",
		Long: `insightkb stores mined insights in a local SQLite database, deduplicates
near-identical ones, indexes them for ranked full-text search and maintains a
relationship graph between them. Serve it to MCP clients or query it directly.`,
		SilenceUsage: true,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory holding the database and backups (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logMode, "log-mode", "", "Log encoding: dev or prod (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(validateCmd)
}

// app is what every subcommand opens: resolved config, logger, metrics
// registry and the knowledge engine.
type app struct {
	cfg      config.Config
	log      logger.Logger
	registry *prometheus.Registry
	engine   *knowledge.Engine
}

// loadConfig resolves file, environment and flag settings in that order.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logMode != "" {
		cfg.LogMode = logMode
	}
	return cfg, cfg.Validate()
}

func openApp(cfg config.Config) (*app, error) {
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine, err := knowledge.Open(cfg,
		knowledge.WithLogger(log),
		knowledge.WithMetrics(metrics.New(reg)),
	)
	if err != nil {
		log.Sync()
		return nil, err
	}
	return &app{cfg: cfg, log: log, registry: reg, engine: engine}, nil
}

func (a *app) Close() {
	if err := a.engine.Close(); err != nil {
		a.log.Error("close knowledge base", "error", err)
	}
	a.log.Sync()
}

// withApp opens the knowledge base for the duration of fn.
func withApp(fn func(*app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
