// Package tuxconf loads the core's runtime configuration from TOML,
// the way geth's own node config loader does, using the same decoder
// (github.com/naoina/toml) present in the teacher's go.mod.
package tuxconf

import (
	"os"

	"github.com/naoina/toml"
)

// PoolMode selects between the two buffer-pool disciplines described in
// spec.md §9 ("Pre-allocated pool vs. debug path"): production
// preallocates every buffer up front and recycles freed shells, debug
// allocates a fresh shell on demand and never recycles one. Debug mode
// does not reclaim buffers any earlier than production mode does.
type PoolMode string

const (
	PoolModeProduction PoolMode = "production"
	PoolModeDebug      PoolMode = "debug"
)

// Config is the core's tunable surface. Field names mirror the spec's
// own vocabulary (TUX3_MAX_DELTA, BUFFER_BUCKETS) so operators reading
// spec.md and the config file side by side aren't translating names.
type Config struct {
	// DataDir holds the device file, log chain, and otable database.
	DataDir string `toml:"data_dir"`

	// MaxDelta is TUX3_MAX_DELTA: the number of concurrently live delta
	// slots. Must be a small power of two.
	MaxDelta uint32 `toml:"max_delta"`

	// BufferBuckets is the hash bucket count for the block cache;
	// must be a power of two.
	BufferBuckets uint32 `toml:"buffer_buckets"`

	// MaxBuffers bounds the cache's pool size.
	MaxBuffers int `toml:"max_buffers"`

	// MaxEvict bounds how many buffers a single eviction scan reclaims.
	MaxEvict int `toml:"max_evict"`

	// PoolMode selects production vs debug pool discipline.
	PoolMode PoolMode `toml:"pool_mode"`

	// BlockBits is log2 of the device block size (1 << BlockBits bytes).
	BlockBits uint16 `toml:"block_bits"`
}

// Default returns sane defaults matching the spec's "typical" values:
// TUX3_MAX_DELTA=4, BUFFER_BUCKETS=1024.
func Default() Config {
	return Config{
		DataDir:       ".",
		MaxDelta:      4,
		BufferBuckets: 1024,
		MaxBuffers:    10000,
		MaxEvict:      100,
		PoolMode:      PoolModeProduction,
		BlockBits:     12,
	}
}

// Load reads and decodes a TOML config file, filling in any zero-valued
// field from Default().
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return applyDefaults(cfg), nil
}

func applyDefaults(cfg Config) Config {
	d := Default()
	if cfg.DataDir == "" {
		cfg.DataDir = d.DataDir
	}
	if cfg.MaxDelta == 0 {
		cfg.MaxDelta = d.MaxDelta
	}
	if cfg.BufferBuckets == 0 {
		cfg.BufferBuckets = d.BufferBuckets
	}
	if cfg.MaxBuffers == 0 {
		cfg.MaxBuffers = d.MaxBuffers
	}
	if cfg.MaxEvict == 0 {
		cfg.MaxEvict = d.MaxEvict
	}
	if cfg.PoolMode == "" {
		cfg.PoolMode = d.PoolMode
	}
	if cfg.BlockBits == 0 {
		cfg.BlockBits = d.BlockBits
	}
	return cfg
}
