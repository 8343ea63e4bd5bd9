// Package importer runs the resolution stage of an import: it stages the
// pending references produced by the streaming pass and resolves them into
// the city database.
package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentic-research/cityxlink/api"
	"github.com/agentic-research/cityxlink/internal/cache"
	"github.com/agentic-research/cityxlink/internal/citydb"
	"github.com/agentic-research/cityxlink/internal/event"
	"github.com/agentic-research/cityxlink/internal/pool"
	"github.com/agentic-research/cityxlink/internal/resolver"
	"github.com/agentic-research/cityxlink/internal/splitter"
	"github.com/agentic-research/cityxlink/internal/xlink"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Producer writes pending references into the cache. It stands in for the
// streaming pass over the input document.
type Producer func(cm *cache.Manager) error

// Summary describes a finished run.
type Summary struct {
	RunID    string
	Staged   map[xlink.Model]int64
	Outcomes map[xlink.Model]resolver.Stats
	Report   splitter.Report
	Duration time.Duration
}

// Options configures a Controller. Config is required.
type Options struct {
	Config *api.Config
	// FS serves texture and library object files. Defaults to the
	// configured files root on disk.
	FS     billy.Filesystem
	Logger *zap.Logger
	// Sink receives progress and status updates in addition to the log.
	Sink event.Sink
}

// Controller owns the resources of one resolution run.
type Controller struct {
	cfg    *api.Config
	fs     billy.Filesystem
	logger *zap.Logger
	sink   event.Sink

	mu       sync.Mutex
	active   *splitter.Splitter
	shutdown bool
}

// New validates the configuration and returns a controller.
func New(opts Options) (*Controller, error) {
	if opts.Config == nil {
		return nil, errors.New("importer: config is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("importer: %w", err)
	}
	c := &Controller{
		cfg:    opts.Config,
		fs:     opts.FS,
		logger: opts.Logger,
		sink:   opts.Sink,
	}
	if c.fs == nil {
		c.fs = osfs.New(c.cfg.Files.Root)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.sink == nil {
		c.sink = event.Nop{}
	}
	return c, nil
}

// Shutdown asks a running resolution to stop after the items in flight.
// A controller that was shut down before Run starts no work.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdown = true
	if c.active != nil {
		c.active.Shutdown()
	}
}

func (c *Controller) openCache() (*cache.Manager, error) {
	opts := cache.Options{
		Dir:          c.cfg.Cache.Dir,
		BatchSize:    c.cfg.Cache.BatchSize,
		MinFreeBytes: c.cfg.Cache.MinFreeBytes(),
		Logger:       c.logger,
	}
	if c.cfg.Cache.Path != "" {
		return cache.Open(c.cfg.Cache.Path, opts)
	}
	return cache.NewManager(opts)
}

// Run stages pending references through produce (which may be nil when an
// existing cache is configured), resolves them and releases the cache.
func (c *Controller) Run(ctx context.Context, produce Producer) (sum Summary, err error) {
	start := time.Now()
	sum.RunID = uuid.NewString()
	logger := c.logger.With(zap.String("run_id", sum.RunID))

	store, err := citydb.Open(c.cfg.Database.Path, logger)
	if err != nil {
		return sum, err
	}
	defer func() { _ = store.Close() }()

	cm, err := c.openCache()
	if err != nil {
		return sum, err
	}
	defer func() {
		release := cm.Cleanup
		if c.cfg.Cache.Keep {
			release = cm.Close
		}
		if relErr := release(); relErr != nil && err == nil {
			err = fmt.Errorf("release cache: %w", relErr)
		}
	}()

	if produce != nil {
		if err := produce(cm); err != nil {
			return sum, fmt.Errorf("stage pending references: %w", err)
		}
	}
	if err := cm.Flush(); err != nil {
		return sum, err
	}
	if sum.Staged, err = cm.Stats(); err != nil {
		return sum, err
	}
	logger.Info("pending references staged", zap.String("cache", cm.Path()), zap.Any("counts", modelCounts(sum.Staged)))

	tmp := pool.New[xlink.Item]("requeue", c.cfg.Resolver.RequeueWorkers, func(_ context.Context, it xlink.Item) error {
		return cm.Insert(it)
	})
	resolvers := newResolverManager(logger, store, c.fs, cm, func(ctx context.Context, it xlink.Item) error {
		return tmp.Submit(ctx, it)
	})
	workers := pool.New[xlink.Item]("resolver", c.cfg.Resolver.Workers, resolvers.Handle)

	sp := splitter.New(splitter.FromCache(cm), workers, tmp, splitter.Options{
		Sink:     event.Multi{&event.LogSink{Logger: logger, Every: int64(c.cfg.Log.ProgressEvery)}, c.sink},
		Messages: event.NewMessages(c.cfg.Resolver.Locale),
		Logger:   logger,
	})
	c.mu.Lock()
	c.active = sp
	if c.shutdown {
		sp.Shutdown()
	}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.active = nil
		c.mu.Unlock()
	}()

	sum.Report, err = sp.Start(ctx)
	sum.Outcomes = resolvers.Stats()
	sum.Duration = time.Since(start)
	if err != nil {
		return sum, fmt.Errorf("resolve xlinks: %w", err)
	}

	logger.Info("xlink resolution finished",
		zap.Duration("duration", sum.Duration),
		zap.Int("cycles", len(sum.Report.Cycles)),
		zap.Bool("stopped", sum.Report.Stopped))
	return sum, nil
}

// newResolverManager registers a resolver for every dispatched category.
func newResolverManager(logger *zap.Logger, store *citydb.Store, fs billy.Filesystem, cm *cache.Manager, requeue resolver.RequeueFunc) *resolver.Manager {
	lookup := resolver.CacheLookup{Cache: cm}
	m := resolver.NewManager(logger, requeue)
	m.Register(xlink.ModelBasic, &resolver.Basic{Store: store})
	m.Register(xlink.ModelGroupToCityObject, &resolver.Group{Store: store})
	m.Register(xlink.ModelTextureParam, &resolver.TextureParam{Store: store, Associations: lookup})
	m.Register(xlink.ModelTextureFile, &resolver.TextureFile{Store: store, FS: fs})
	m.Register(xlink.ModelLibraryObject, &resolver.LibraryObject{Store: store, FS: fs})
	m.Register(xlink.ModelDeprecatedMaterial, &resolver.DeprecatedMaterial{Store: store})
	m.Register(xlink.ModelSurfaceGeometry, &resolver.SurfaceGeometry{Store: store, Pending: lookup})
	return m
}

func modelCounts(counts map[xlink.Model]int64) map[string]int64 {
	out := make(map[string]int64, len(counts))
	for m, n := range counts {
		out[m.String()] = n
	}
	return out
}
