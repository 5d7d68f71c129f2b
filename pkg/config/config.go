// Package config loads the engine's tunables from environment variables,
// with an optional YAML file layered on top for values an operator wants
// to pin in source control rather than in the process environment.
//
// Configuration is organized into the same kind of logical, independently
// documented sections the Neo4j-compatible config this package descends
// from used, trimmed down to the handful of fields §6 of the specification
// actually names: where the write-ahead log lives, how long an idle
// session-pool handle survives, how large the plan cache is, and the
// adaptive-score decay rate and floor.
//
// Example Usage:
//
//	cfg := config.LoadFromEnv()
//	if path := os.Getenv("DEEDB_CONFIG_FILE"); path != "" {
//		if err := cfg.MergeFile(path); err != nil {
//			log.Fatalf("config: %v", err)
//		}
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/deedb/deedb/pkg/convert"
)

// Config holds every tunable the engine reads at startup. Use LoadFromEnv
// to build one from the process environment, then optionally MergeFile to
// layer a YAML file's overrides on top.
type Config struct {
	WAL       WALConfig       `yaml:"wal"`
	Pool      PoolConfig      `yaml:"pool"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Score     ScoreConfig     `yaml:"score"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// WALConfig controls the write-ahead log's on-disk location and fsync
// behavior.
type WALConfig struct {
	// Dir is the directory the WAL segment file and backup/restore
	// artifacts are written under.
	Dir string `yaml:"dir"`

	// SyncOnCommit is loaded, validated and printed, but the engine does
	// not read it: every commit is fsynced before it is acknowledged,
	// whatever its value.
	SyncOnCommit bool `yaml:"sync_on_commit"`

	// BatchSyncInterval is how often a background loop flushes and fsyncs
	// buffered WAL writes; zero disables the loop. Commits are fsynced
	// whether or not the loop runs.
	BatchSyncInterval time.Duration `yaml:"batch_sync_interval"`
}

// PoolConfig controls the session connection pool (§4.L).
type PoolConfig struct {
	// MinSize is checked against MaxSize and reported in pool stats. The
	// pool does not pre-open or keep warm any sessions; each one is
	// created on first use.
	MinSize int `yaml:"min_size"`

	// MaxSize is the maximum number of sessions the pool will open.
	MaxSize int `yaml:"max_size"`

	// MaxIdle is how long an unused session may sit idle in the pool
	// before it is eligible for eviction on the next checkout sweep.
	MaxIdle time.Duration `yaml:"max_idle"`

	// AcquireTimeout bounds how long Acquire waits for a free session
	// before giving up and returning an error.
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

// OptimizerConfig controls the query planner's plan cache.
type OptimizerConfig struct {
	// PlanCacheSize bounds how many distinct query fingerprints the plan
	// cache retains before evicting the lowest-scoring entry.
	PlanCacheSize int `yaml:"plan_cache_size"`
}

// ScoreConfig controls the adaptive edge-score decay applied on each
// evaporation tick (§4.A, §4.I).
type ScoreConfig struct {
	// DecayRate is the fraction an edge's score loses per evaporation
	// tick. It is loaded and validated but not applied: evaporation always
	// multiplies by the fixed value.ScoreDecayRate (0.95).
	DecayRate float64 `yaml:"decay_rate"`

	// DecayFloor is the minimum value a score decays to. It is loaded and
	// validated but not applied: evaporation always clamps at the fixed
	// value.ScoreFloor (0.01).
	DecayFloor float64 `yaml:"decay_floor"`

	// EvaporateInterval is how often the background evaporation tick runs.
	EvaporateInterval time.Duration `yaml:"evaporate_interval"`
}

// SnapshotConfig describes the backup facility's settings. The fields are
// loaded, validated and printed, but nothing in the engine or the CLI
// reads them: the backup commands take their directory and compression
// from their own --snapshot-dir and --compress flags.
type SnapshotConfig struct {
	// Dir is the backup directory for full/incremental backup files and
	// their metadata sidecars.
	Dir string `yaml:"dir"`

	// Interval is the cadence for automatic full backups. The engine takes
	// no automatic backups; backups are made only by the backup command.
	Interval time.Duration `yaml:"interval"`

	// Compress gzip-compresses the serialized snapshot before it is
	// written to disk.
	Compress bool `yaml:"compress"`
}

// MetricsConfig controls the OpenTelemetry metrics exporter.
type MetricsConfig struct {
	// Enabled toggles whether the admin stats gauges and per-query spans
	// are registered at all.
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig names a verbosity for the standard-library logger. It is
// loaded, validated and printed; no logger in the engine reads it.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level"`
}

// DefaultConfig returns the built-in defaults, used as the base LoadFromEnv
// overrides and MergeFile layers onto.
func DefaultConfig() *Config {
	return &Config{
		WAL: WALConfig{
			Dir:               "./data/wal",
			SyncOnCommit:      false,
			BatchSyncInterval: 50 * time.Millisecond,
		},
		Pool: PoolConfig{
			MinSize:        2,
			MaxSize:        10,
			MaxIdle:        5 * time.Minute,
			AcquireTimeout: 5 * time.Second,
		},
		Optimizer: OptimizerConfig{
			PlanCacheSize: 1000,
		},
		Score: ScoreConfig{
			DecayRate:         0.05,
			DecayFloor:        0.01,
			EvaporateInterval: time.Minute,
		},
		Snapshot: SnapshotConfig{
			Dir:      "./data/backups",
			Interval: 0,
			Compress: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv builds a Config from DEEDB_* environment variables layered
// on top of DefaultConfig.
func LoadFromEnv() *Config {
	c := DefaultConfig()

	c.WAL.Dir = getEnv("DEEDB_WAL_DIR", c.WAL.Dir)
	c.WAL.SyncOnCommit = getEnvBool("DEEDB_WAL_SYNC_ON_COMMIT", c.WAL.SyncOnCommit)
	c.WAL.BatchSyncInterval = getEnvDuration("DEEDB_WAL_BATCH_SYNC_INTERVAL", c.WAL.BatchSyncInterval)

	c.Pool.MinSize = getEnvInt("DEEDB_POOL_MIN_SIZE", c.Pool.MinSize)
	c.Pool.MaxSize = getEnvInt("DEEDB_POOL_MAX_SIZE", c.Pool.MaxSize)
	c.Pool.MaxIdle = getEnvDuration("DEEDB_POOL_MAX_IDLE", c.Pool.MaxIdle)
	c.Pool.AcquireTimeout = getEnvDuration("DEEDB_POOL_ACQUIRE_TIMEOUT", c.Pool.AcquireTimeout)

	c.Optimizer.PlanCacheSize = getEnvInt("DEEDB_OPTIMIZER_PLAN_CACHE_SIZE", c.Optimizer.PlanCacheSize)

	c.Score.DecayRate = getEnvFloat("DEEDB_SCORE_DECAY_RATE", c.Score.DecayRate)
	c.Score.DecayFloor = getEnvFloat("DEEDB_SCORE_DECAY_FLOOR", c.Score.DecayFloor)
	c.Score.EvaporateInterval = getEnvDuration("DEEDB_SCORE_EVAPORATE_INTERVAL", c.Score.EvaporateInterval)

	c.Snapshot.Dir = getEnv("DEEDB_SNAPSHOT_DIR", c.Snapshot.Dir)
	c.Snapshot.Interval = getEnvDuration("DEEDB_SNAPSHOT_INTERVAL", c.Snapshot.Interval)
	c.Snapshot.Compress = getEnvBool("DEEDB_SNAPSHOT_COMPRESS", c.Snapshot.Compress)

	c.Metrics.Enabled = getEnvBool("DEEDB_METRICS_ENABLED", c.Metrics.Enabled)

	c.Logging.Level = getEnv("DEEDB_LOG_LEVEL", c.Logging.Level)

	return c
}

// MergeFile layers a YAML config file's values on top of c. Only fields
// present in the file are overridden; anything the file omits keeps c's
// current value. This lets an operator pin a handful of settings in
// source control while leaving the rest to environment-variable defaults.
func (c *Config) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Validate checks that every field holds a usable value.
func (c *Config) Validate() error {
	if c.WAL.Dir == "" {
		return fmt.Errorf("config: wal.dir must not be empty")
	}
	if c.Pool.MinSize < 0 {
		return fmt.Errorf("config: pool.min_size must be >= 0")
	}
	if c.Pool.MaxSize <= 0 {
		return fmt.Errorf("config: pool.max_size must be > 0")
	}
	if c.Pool.MinSize > c.Pool.MaxSize {
		return fmt.Errorf("config: pool.min_size (%d) exceeds pool.max_size (%d)", c.Pool.MinSize, c.Pool.MaxSize)
	}
	if c.Optimizer.PlanCacheSize <= 0 {
		return fmt.Errorf("config: optimizer.plan_cache_size must be > 0")
	}
	if c.Score.DecayRate < 0 || c.Score.DecayRate > 1 {
		return fmt.Errorf("config: score.decay_rate must be in [0, 1]")
	}
	if c.Score.DecayFloor < 0 || c.Score.DecayFloor > 1 {
		return fmt.Errorf("config: score.decay_floor must be in [0, 1]")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.level %q is not one of debug/info/warn/error", c.Logging.Level)
	}
	return nil
}

// String renders the configuration for startup logging.
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "wal.dir=%s sync_on_commit=%t\n", c.WAL.Dir, c.WAL.SyncOnCommit)
	fmt.Fprintf(&b, "pool.min=%d max=%d max_idle=%s\n", c.Pool.MinSize, c.Pool.MaxSize, c.Pool.MaxIdle)
	fmt.Fprintf(&b, "optimizer.plan_cache_size=%d\n", c.Optimizer.PlanCacheSize)
	fmt.Fprintf(&b, "score.decay_rate=%.4f decay_floor=%.4f\n", c.Score.DecayRate, c.Score.DecayFloor)
	fmt.Fprintf(&b, "snapshot.dir=%s interval=%s compress=%t\n", c.Snapshot.Dir, c.Snapshot.Interval, c.Snapshot.Compress)
	fmt.Fprintf(&b, "metrics.enabled=%t logging.level=%s", c.Metrics.Enabled, c.Logging.Level)
	return b.String()
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, ok := convert.ToFloat64(v); ok {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
