package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoadFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("DEEDB_WAL_DIR", "/tmp/custom-wal")
	t.Setenv("DEEDB_POOL_MAX_SIZE", "25")
	t.Setenv("DEEDB_SCORE_DECAY_RATE", "0.2")
	t.Setenv("DEEDB_METRICS_ENABLED", "false")

	c := LoadFromEnv()
	assert.Equal(t, "/tmp/custom-wal", c.WAL.Dir)
	assert.Equal(t, 25, c.Pool.MaxSize)
	assert.InDelta(t, 0.2, c.Score.DecayRate, 1e-9)
	assert.False(t, c.Metrics.Enabled)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty wal dir", func(c *Config) { c.WAL.Dir = "" }, "wal.dir"},
		{"zero pool max", func(c *Config) { c.Pool.MaxSize = 0 }, "pool.max_size"},
		{"min exceeds max", func(c *Config) { c.Pool.MinSize = 20 }, "pool.min_size"},
		{"zero plan cache", func(c *Config) { c.Optimizer.PlanCacheSize = 0 }, "optimizer.plan_cache_size"},
		{"decay rate out of range", func(c *Config) { c.Score.DecayRate = 1.5 }, "score.decay_rate"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMergeFileOverlaysOnlyProvidedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deedb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pool:\n  max_size: 42\n"), 0o644))

	c := DefaultConfig()
	require.NoError(t, c.MergeFile(path))

	assert.Equal(t, 42, c.Pool.MaxSize)
	assert.Equal(t, DefaultConfig().WAL.Dir, c.WAL.Dir)
}

func TestStringIncludesKeyFields(t *testing.T) {
	s := DefaultConfig().String()
	assert.Contains(t, s, "wal.dir=")
	assert.Contains(t, s, "pool.min=")
	assert.Contains(t, s, "score.decay_rate=")
}
