// Package config loads insightkb settings from an optional YAML file and the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	DataDir  string `yaml:"data_dir"`
	Database string `yaml:"database"`
	LogMode  string `yaml:"log_mode"`

	Dedup         DedupConfig         `yaml:"dedup"`
	Relationships RelationshipsConfig `yaml:"relationships"`
	Search        SearchConfig        `yaml:"search"`
	Server        ServerConfig        `yaml:"server"`
}

// DedupConfig controls duplicate detection during ingestion.
type DedupConfig struct {
	Threshold      float64 `yaml:"threshold"`
	CandidateLimit int     `yaml:"candidate_limit"`
	BumpConfidence bool    `yaml:"bump_confidence"`
}

// RelationshipsConfig controls relationship discovery.
type RelationshipsConfig struct {
	MaxPerInsight       int     `yaml:"max_per_insight"`
	MinStrength         float64 `yaml:"min_strength"`
	SupersedeSimilarity float64 `yaml:"supersede_similarity"`
}

// SearchConfig controls derived search views.
type SearchConfig struct {
	TrendingDays  int `yaml:"trending_days"`
	TrendingLimit int `yaml:"trending_limit"`
}

// ServerConfig controls the serve command.
type ServerConfig struct {
	Transport string `yaml:"transport"`
	Addr      string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:  "./data",
		Database: "knowledge.db",
		LogMode:  "dev",
		Dedup: DedupConfig{
			Threshold:      0.85,
			CandidateLimit: 20,
			BumpConfidence: true,
		},
		Relationships: RelationshipsConfig{
			MaxPerInsight:       5,
			MinStrength:         0.2,
			SupersedeSimilarity: 0.7,
		},
		Search: SearchConfig{
			TrendingDays:  7,
			TrendingLimit: 10,
		},
		Server: ServerConfig{
			Transport: "stdio",
			Addr:      ":8081",
		},
	}
}

// Load reads path (if non-empty) over the defaults, then applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// DBPath is the absolute-or-relative path of the database file.
func (c Config) DBPath() string {
	if filepath.IsAbs(c.Database) {
		return c.Database
	}
	return filepath.Join(c.DataDir, c.Database)
}

// BackupDir is where timestamped backups are written.
func (c Config) BackupDir() string {
	return filepath.Join(c.DataDir, "backups")
}

// Validate rejects out-of-range thresholds and non-positive limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	if strings.TrimSpace(c.Database) == "" {
		return fmt.Errorf("config: database is required")
	}
	for name, v := range map[string]float64{
		"dedup.threshold":                    c.Dedup.Threshold,
		"relationships.min_strength":         c.Relationships.MinStrength,
		"relationships.supersede_similarity": c.Relationships.SupersedeSimilarity,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("config: %s must be within [0, 1], got %v", name, v)
		}
	}
	for name, v := range map[string]int{
		"dedup.candidate_limit":         c.Dedup.CandidateLimit,
		"relationships.max_per_insight": c.Relationships.MaxPerInsight,
		"search.trending_days":          c.Search.TrendingDays,
		"search.trending_limit":         c.Search.TrendingLimit,
	} {
		if v <= 0 {
			return fmt.Errorf("config: %s must be positive, got %d", name, v)
		}
	}
	switch c.Server.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("config: unknown transport %q (use stdio or http)", c.Server.Transport)
	}
	return nil
}

func applyEnv(c *Config) {
	c.DataDir = envString("INSIGHTKB_DATA_DIR", c.DataDir)
	c.Database = envString("INSIGHTKB_DATABASE", c.Database)
	c.LogMode = envString("INSIGHTKB_LOG_MODE", c.LogMode)
	c.Dedup.Threshold = envFloat("INSIGHTKB_DEDUP_THRESHOLD", c.Dedup.Threshold)
	c.Dedup.CandidateLimit = envInt("INSIGHTKB_CANDIDATE_LIMIT", c.Dedup.CandidateLimit)
	c.Server.Transport = envString("INSIGHTKB_TRANSPORT", c.Server.Transport)
	c.Server.Addr = envString("INSIGHTKB_ADDR", c.Server.Addr)
}

func envString(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

func envInt(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func envFloat(name string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
