package tuxconf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultFillsEverything(t *testing.T) {
	d := Default()
	require.Equal(t, ".", d.DataDir)
	require.Equal(t, PoolModeProduction, d.PoolMode)
	require.NotZero(t, d.BufferBuckets)
	require.NotZero(t, d.MaxBuffers)
}

func TestLoadAppliesDefaultsForZeroFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tux3.toml")
	require.NoError(t, os.WriteFile(path, []byte(`pool_mode = "debug"`+"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, PoolModeDebug, cfg.PoolMode)
	require.Equal(t, Default().BufferBuckets, cfg.BufferBuckets)
	require.Equal(t, Default().MaxBuffers, cfg.MaxBuffers)
}
