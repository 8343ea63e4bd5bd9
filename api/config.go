// Package api holds the user-facing configuration of a resolution run.
package api

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the decoded configuration file with defaults applied.
type Config struct {
	Cache    CacheConfig
	Resolver ResolverConfig
	Database DatabaseConfig
	Files    FilesConfig
	Log      LogConfig
}

// CacheConfig controls the staging cache database.
type CacheConfig struct {
	// Dir holds temporary cache databases. Empty means the OS temp dir.
	Dir string `hcl:"dir,optional"`
	// Path attaches to an existing staged cache instead of a fresh one.
	Path      string `hcl:"path,optional"`
	BatchSize int    `hcl:"batch_size,optional"`
	// MinFreeMB is the free space required before a table is mirrored.
	MinFreeMB int `hcl:"min_free_mb,optional"`
	// Keep leaves the cache file in place after the run.
	Keep bool `hcl:"keep,optional"`
}

// ResolverConfig sizes the worker pools.
type ResolverConfig struct {
	Workers        int    `hcl:"workers,optional"`
	RequeueWorkers int    `hcl:"requeue_workers,optional"`
	Locale         string `hcl:"locale,optional"`
}

// DatabaseConfig names the city database written by the import.
type DatabaseConfig struct {
	Path string `hcl:"path,optional"`
}

// FilesConfig is the base directory for relative texture and library
// object references.
type FilesConfig struct {
	Root string `hcl:"root,optional"`
}

// LogConfig selects the zap logger.
type LogConfig struct {
	Level         string `hcl:"level,optional"`
	Development   bool   `hcl:"development,optional"`
	ProgressEvery int    `hcl:"progress_every,optional"`
}

// file mirrors Config with optional blocks.
type file struct {
	Cache    *CacheConfig    `hcl:"cache,block"`
	Resolver *ResolverConfig `hcl:"resolver,block"`
	Database *DatabaseConfig `hcl:"database,block"`
	Files    *FilesConfig    `hcl:"files,block"`
	Log      *LogConfig      `hcl:"log,block"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// LoadConfig decodes an .hcl or .json file. An empty path yields the
// defaults. The database path may still be empty; call Validate once
// command line overrides are applied.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	var f file
	if err := hclsimple.DecodeFile(path, nil, &f); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	c := &Config{}
	if f.Cache != nil {
		c.Cache = *f.Cache
	}
	if f.Resolver != nil {
		c.Resolver = *f.Resolver
	}
	if f.Database != nil {
		c.Database = *f.Database
	}
	if f.Files != nil {
		c.Files = *f.Files
	}
	if f.Log != nil {
		c.Log = *f.Log
	}
	c.applyDefaults()

	if err := c.check(); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Cache.BatchSize == 0 {
		c.Cache.BatchSize = 1000
	}
	if c.Resolver.Workers == 0 {
		c.Resolver.Workers = runtime.NumCPU()
	}
	if c.Resolver.RequeueWorkers == 0 {
		c.Resolver.RequeueWorkers = 1
	}
	if c.Resolver.Locale == "" {
		c.Resolver.Locale = "en"
	}
	if c.Files.Root == "" {
		c.Files.Root = "."
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.ProgressEvery == 0 {
		c.Log.ProgressEvery = 10000
	}
}

// Validate checks the complete configuration of a resolve run.
func (c *Config) Validate() error {
	errs := []error{c.check()}
	if strings.TrimSpace(c.Database.Path) == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	return errors.Join(errs...)
}

func (c *Config) check() error {
	var errs []error
	if c.Cache.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("cache.batch_size must be positive, got %d", c.Cache.BatchSize))
	}
	if c.Cache.MinFreeMB < 0 {
		errs = append(errs, fmt.Errorf("cache.min_free_mb must not be negative, got %d", c.Cache.MinFreeMB))
	}
	if c.Resolver.Workers < 0 {
		errs = append(errs, fmt.Errorf("resolver.workers must be positive, got %d", c.Resolver.Workers))
	}
	if c.Resolver.RequeueWorkers < 0 {
		errs = append(errs, fmt.Errorf("resolver.requeue_workers must be positive, got %d", c.Resolver.RequeueWorkers))
	}
	if c.Log.ProgressEvery < 0 {
		errs = append(errs, fmt.Errorf("log.progress_every must be positive, got %d", c.Log.ProgressEvery))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// MinFreeBytes converts the configured free space threshold.
func (c CacheConfig) MinFreeBytes() uint64 {
	return uint64(c.MinFreeMB) << 20
}

// Build creates the configured logger.
func (c LogConfig) Build() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
