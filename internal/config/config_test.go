package config

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/srnet/models"
)

func TestLoadEmptyPathGivesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, models.ArchEDSR, cfg.Model.Arch)
	assert.Equal(t, 32, cfg.Model.NumBlock)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "srnet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model:
  arch: rrdbnet
  scale: 2
  num_block: 4
runtime:
  backend: gpu
  workers: 3
  seed: 42
logging:
  level: debug
  development: true
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, models.ArchRRDBNet, cfg.Model.Arch)
	assert.Equal(t, 2, cfg.Model.Scale)
	assert.Equal(t, 4, cfg.Model.NumBlock)
	assert.Equal(t, 64, cfg.Model.NumFeat, "unset keys keep defaults")
	assert.Equal(t, RuntimeConfig{Backend: BackendGPU, Workers: 3, Seed: 42}, cfg.Runtime)
	assert.Equal(t, LoggingConfig{Level: "debug", Development: true}, cfg.Logging)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("bad yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("model: [unclosed"), 0644))
		_, err := Load(path)
		assert.ErrorContains(t, err, "failed to parse config")
	})

	t.Run("unknown arch", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "arch.yaml")
		require.NoError(t, os.WriteFile(path, []byte("model:\n  arch: vdsr\n"), 0644))
		_, err := Load(path)
		assert.ErrorIs(t, err, models.ErrUnknownArch)
	})
}

func TestEnvOverrides(t *testing.T) {
	t.Run("all variables", func(t *testing.T) {
		t.Setenv(EnvBackend, "gpu")
		t.Setenv(EnvWorkers, "7")
		t.Setenv(EnvLogLevel, "warn")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, BackendGPU, cfg.Runtime.Backend)
		assert.Equal(t, 7, cfg.Runtime.Workers)
		assert.Equal(t, "warn", cfg.Logging.Level)
	})

	t.Run("env beats file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "srnet.yaml")
		require.NoError(t, os.WriteFile(path, []byte("runtime:\n  backend: gpu\n"), 0644))
		t.Setenv(EnvBackend, "cpu")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, BackendCPU, cfg.Runtime.Backend)
	})

	t.Run("bad workers", func(t *testing.T) {
		t.Setenv(EnvWorkers, "many")
		_, err := Load("")
		assert.ErrorContains(t, err, EnvWorkers)
	})

	t.Run("bad backend", func(t *testing.T) {
		t.Setenv(EnvBackend, "tpu")
		_, err := Load("")
		assert.ErrorContains(t, err, "runtime.backend")
	})
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.Arch = models.ArchRRDBNet
	cfg.Model.NumBlock = 23
	cfg.Runtime.Seed = 9

	path := filepath.Join(t.TempDir(), "nested", "srnet.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadedModelConfigBuilds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "srnet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model:
  arch: rrdbnet
  scale: 2
  num_feat: 8
  num_block: 1
  num_grow_ch: 4
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	m, err := models.Build(cfg.Model, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, "RRDBNet", m.Kind())

	cfg, err = Load("")
	require.NoError(t, err)
	cfg.Model.NumFeat, cfg.Model.NumBlock = 4, 1
	m, err = models.Build(cfg.Model, rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	assert.Equal(t, "Generator", m.Kind())
	assert.Contains(t, models.Architectures(), cfg.Model.Arch)
}
