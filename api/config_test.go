package api

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Cache.BatchSize)
	assert.Equal(t, runtime.NumCPU(), cfg.Resolver.Workers)
	assert.Equal(t, 1, cfg.Resolver.RequeueWorkers)
	assert.Equal(t, "en", cfg.Resolver.Locale)
	assert.Equal(t, ".", cfg.Files.Root)
	assert.Equal(t, "info", cfg.Log.Level)

	assert.ErrorContains(t, cfg.Validate(), "database.path is required")
	cfg.Database.Path = "city.db"
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigHCL(t *testing.T) {
	path := writeConfig(t, "cityxlink.hcl", `
cache {
  dir         = "/var/tmp/xlink"
  batch_size  = 250
  min_free_mb = 64
}

resolver {
  workers = 3
  locale  = "de"
}

database {
  path = "city.db"
}

log {
  level       = "debug"
  development = true
}
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/tmp/xlink", cfg.Cache.Dir)
	assert.Equal(t, 250, cfg.Cache.BatchSize)
	assert.Equal(t, uint64(64<<20), cfg.Cache.MinFreeBytes())
	assert.Equal(t, 3, cfg.Resolver.Workers)
	assert.Equal(t, 1, cfg.Resolver.RequeueWorkers)
	assert.Equal(t, "de", cfg.Resolver.Locale)
	assert.Equal(t, "city.db", cfg.Database.Path)
	assert.Equal(t, ".", cfg.Files.Root, "omitted block gets defaults")
	require.NoError(t, cfg.Validate())

	logger, err := cfg.Log.Build()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestLoadConfigJSON(t *testing.T) {
	path := writeConfig(t, "cityxlink.json", `{
  "database": {"path": "city.db"},
  "files": {"root": "/data/import"}
}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "city.db", cfg.Database.Path)
	assert.Equal(t, "/data/import", cfg.Files.Root)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"negative workers", `resolver { workers = -2 }`, "resolver.workers"},
		{"bad level", `log { level = "loud" }`, "log.level"},
		{"unknown attribute", `cache { size = 1 }`, "size"},
		{"syntax", `cache {`, "cityxlink.hcl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, "cityxlink.hcl", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.hcl"))
	assert.Error(t, err)
}
