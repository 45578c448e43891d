package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0.85, cfg.Dedup.Threshold)
	assert.Equal(t, 20, cfg.Dedup.CandidateLimit)
	assert.Equal(t, 5, cfg.Relationships.MaxPerInsight)
	assert.Equal(t, filepath.Join("data", "knowledge.db"), cfg.DBPath())
}

func TestLoadYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "insightkb.yaml")
	yaml := []byte(`
data_dir: /var/lib/insightkb
dedup:
  threshold: 0.9
  candidate_limit: 40
relationships:
  max_per_insight: 3
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o644))
	t.Setenv("INSIGHTKB_CANDIDATE_LIMIT", "25")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/insightkb", cfg.DataDir)
	assert.Equal(t, 0.9, cfg.Dedup.Threshold)
	assert.Equal(t, 25, cfg.Dedup.CandidateLimit)
	assert.Equal(t, 3, cfg.Relationships.MaxPerInsight)
	// untouched keys keep their defaults
	assert.Equal(t, 0.7, cfg.Relationships.SupersedeSimilarity)
	assert.Equal(t, "/var/lib/insightkb/backups", cfg.BackupDir())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Dedup.Threshold = 1.2
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Dedup.CandidateLimit = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Server.Transport = "grpc"
	assert.Error(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
