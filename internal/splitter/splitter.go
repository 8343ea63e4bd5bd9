// Package splitter sequences the deferred XLink resolution of an import.
// It reads each category's staging table in a fixed order, hands the rows
// to the resolver pool and repeats self-referential categories until no
// further progress is made.
package splitter

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/agentic-research/cityxlink/internal/event"
	"github.com/agentic-research/cityxlink/internal/xlink"
	"go.uber.org/zap"
)

// errStopped ends a scan early after a stop request.
var errStopped = errors.New("splitter stopped")

// CycleError describes a recursive category whose unresolved rows stopped
// shrinking. Its rows are abandoned; the run continues.
type CycleError struct {
	Model     xlink.Model
	Pass      int
	Remaining int64
	// Owners holds the owner ids of the abandoned rows.
	Owners *roaring64.Bitmap
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("illegal graph cycle in %s after pass %d: %d references cannot be resolved",
		e.Model, e.Pass, e.Remaining)
}

// Report summarizes a run.
type Report struct {
	// Passes is the number of passes run per recursive category.
	Passes map[xlink.Model]int
	// Submitted counts work items handed to the resolver pool per category.
	Submitted map[xlink.Model]int64
	Cycles    []*CycleError
	Stopped   bool
}

// Options configures a Splitter. Zero values are usable.
type Options struct {
	Sink     event.Sink
	Messages *event.Messages
	Logger   *zap.Logger
}

// Splitter drives resolution over the staged cache tables. The cache table
// manager is owned by the splitter for the duration of Start.
type Splitter struct {
	tables  CacheTableManager
	pool    Pool
	tmpPool Pool
	sink    event.Sink
	msgs    *event.Messages
	logger  *zap.Logger

	stop atomic.Bool
}

// New creates a splitter. pool receives the work items; tmpPool is the
// secondary pool resolvers use for re-queue writes and is joined together
// with pool at every barrier.
func New(tables CacheTableManager, pool, tmpPool Pool, opts Options) *Splitter {
	s := &Splitter{
		tables:  tables,
		pool:    pool,
		tmpPool: tmpPool,
		sink:    opts.Sink,
		msgs:    opts.Messages,
		logger:  opts.Logger,
	}
	if s.sink == nil {
		s.sink = event.Nop{}
	}
	if s.msgs == nil {
		s.msgs = event.NewMessages("en")
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Shutdown requests a cooperative stop. In-flight items finish; no new
// phase, pass or item is started. Safe to call from any goroutine.
func (s *Splitter) Shutdown() {
	s.stop.Store(true)
}

// Start runs all phases in order. Only fatal I/O errors are returned;
// unresolvable references and cycles are logged and reported. A stop
// request or ctx cancellation ends the run early without an error.
func (s *Splitter) Start(ctx context.Context) (Report, error) {
	r := &run{
		Splitter: s,
		ctx:      ctx,
		report: &Report{
			Passes:    make(map[xlink.Model]int),
			Submitted: make(map[xlink.Model]int64),
		},
	}

	phases := []func() error{
		r.basicXlinks,
		r.groupXlinks,
		r.appearanceXlinks,
		r.libraryObjectXlinks,
		r.deprecatedMaterialXlinks,
		r.surfaceGeometryXlinks,
	}
	for _, phase := range phases {
		if r.stopped() {
			break
		}
		if err := phase(); err != nil {
			return *r.report, err
		}
	}
	if err := r.join(); err != nil {
		return *r.report, err
	}
	return *r.report, nil
}

// run holds the state of one Start call.
type run struct {
	*Splitter
	ctx    context.Context
	report *Report
}

func (r *run) stopped() bool {
	if r.stop.Load() || r.ctx.Err() != nil {
		r.report.Stopped = true
		return true
	}
	return false
}

// status announces a phase or pass and resets the progress counter.
func (r *run) status(key string, args ...any) {
	msg := r.msgs.Text(key, args...)
	r.logger.Debug("xlink phase", zap.String("status", msg))
	r.sink.Progress(0, 0)
	r.sink.Status(msg)
}

// join drains the resolver pool and then the secondary pool, so that all
// re-queue writes issued by resolver items are durable.
func (r *run) join() error {
	if err := r.pool.Join(); err != nil {
		return fmt.Errorf("resolver pool: %w", err)
	}
	if r.tmpPool != nil {
		if err := r.tmpPool.Join(); err != nil {
			return fmt.Errorf("requeue pool: %w", err)
		}
	}
	return nil
}

// submitAll streams table into the resolver pool. keep filters rows; nil
// keeps all. It returns errStopped when a stop was observed.
func (r *run) submitAll(model xlink.Model, table CacheTable, total int64, keep func(xlink.Item) bool) error {
	var count int64
	err := table.Scan(r.ctx, func(it xlink.Item) error {
		if r.stopped() {
			return errStopped
		}
		if keep != nil && !keep(it) {
			return nil
		}
		count++
		r.sink.Progress(count, total)
		r.report.Submitted[model]++
		return r.pool.Submit(r.ctx, it)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, errStopped) || r.stopped() {
		return errStopped
	}
	// A failed pool rejects submits; its Join carries the cause.
	return errors.Join(fmt.Errorf("dispatch %s: %w", model, err), r.join())
}

// singlePass submits every row of a one-shot category once. The live table
// is dropped afterwards unless drop is false.
func (r *run) singlePass(model xlink.Model, key string, keep func(xlink.Item) bool, drop bool) error {
	table, ok := r.tables.GetCacheTable(model)
	if !ok {
		return nil
	}
	r.status(key)

	total, err := table.Size()
	if err != nil {
		return fmt.Errorf("size %s: %w", model, err)
	}
	if err := r.submitAll(model, table, total, keep); err != nil {
		if errors.Is(err, errStopped) {
			return nil
		}
		return err
	}
	if drop {
		if err := table.Drop(); err != nil {
			return fmt.Errorf("drop %s: %w", model, err)
		}
	}
	return nil
}

func (r *run) basicXlinks() error {
	return r.singlePass(xlink.ModelBasic, event.MsgBasicXlink, nil, true)
}

func (r *run) groupXlinks() error {
	return r.fixedPoint(xlink.ModelGroupToCityObject, event.MsgGroupXlink)
}

func isAssociationXlink(it xlink.Item) bool {
	p, ok := it.(*xlink.TextureParam)
	return ok && p.Type == xlink.TextureParamXlinkTextureAssociation
}

func notAssociationXlink(it xlink.Item) bool { return !isAssociationXlink(it) }

// appearanceXlinks resolves texture parameterizations, imports texture
// files and, after both have drained, copies texture association xlinks.
// Association xlinks are only dispatched when texture associations were
// staged.
func (r *run) appearanceXlinks() error {
	hasParams := r.tables.ExistsCacheTable(xlink.ModelTextureParam)
	hasFiles := r.tables.ExistsCacheTable(xlink.ModelTextureFile)
	if !hasParams && !hasFiles {
		return nil
	}

	if hasParams {
		if err := r.singlePass(xlink.ModelTextureParam, event.MsgAppearanceXlink, notAssociationXlink, false); err != nil {
			return err
		}
	}
	if r.stopped() {
		return nil
	}
	if hasFiles {
		if err := r.singlePass(xlink.ModelTextureFile, event.MsgTextureImage, nil, true); err != nil {
			return err
		}
	}
	if !hasParams || r.stopped() {
		return nil
	}

	assoc, ok := r.tables.GetCacheTable(xlink.ModelTextureAssociation)
	if !ok {
		// Nothing to copy from.
		if params, ok := r.tables.GetCacheTable(xlink.ModelTextureParam); ok {
			return r.dropTable(xlink.ModelTextureParam, params)
		}
		return nil
	}

	// Association targets must exist before association xlinks are
	// dispatched.
	if err := r.join(); err != nil {
		return err
	}
	if r.stopped() {
		return nil
	}
	if err := assoc.EnableIndexes(); err != nil {
		return fmt.Errorf("index %s: %w", xlink.ModelTextureAssociation, err)
	}
	return r.singlePass(xlink.ModelTextureParam, event.MsgAppearanceXlink, isAssociationXlink, true)
}

func (r *run) libraryObjectXlinks() error {
	return r.singlePass(xlink.ModelLibraryObject, event.MsgLibraryObject, nil, true)
}

// deprecatedMaterialXlinks runs after the appearance work has fully
// drained.
func (r *run) deprecatedMaterialXlinks() error {
	if err := r.join(); err != nil {
		return err
	}
	if r.stopped() {
		return nil
	}
	if assoc, ok := r.tables.GetCacheTable(xlink.ModelTextureAssociation); ok {
		if err := assoc.Drop(); err != nil {
			return fmt.Errorf("drop %s: %w", xlink.ModelTextureAssociation, err)
		}
	}
	return r.singlePass(xlink.ModelDeprecatedMaterial, event.MsgDeprecatedMaterial, nil, true)
}

func (r *run) surfaceGeometryXlinks() error {
	return r.fixedPoint(xlink.ModelSurfaceGeometry, event.MsgGeometryXlink)
}
