package splitter

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/agentic-research/cityxlink/internal/xlink"
	"go.uber.org/zap"
)

// unknownRemaining marks the first pass, before any count is known.
const unknownRemaining = -1

// fixedPoint resolves a self-referential category in generations. Each
// pass mirrors the live table, dispatches the mirror and lets resolvers
// re-queue what is not yet resolvable into the emptied live table. The
// loop ends when nothing is left, or with a CycleError when a pass made
// no progress.
func (r *run) fixedPoint(model xlink.Model, key string) error {
	table, ok := r.tables.GetCacheTable(model)
	if !ok {
		return nil
	}

	remaining := int64(unknownRemaining)
	for pass := 1; ; pass++ {
		if r.stopped() {
			return nil
		}
		r.report.Passes[model] = pass
		r.status(key, pass)

		unresolved, err := r.runPass(model, table, remaining)
		if errors.Is(err, errStopped) {
			return nil
		}
		if err != nil {
			return err
		}
		r.logger.Debug("xlink pass finished",
			zap.String("model", model.String()),
			zap.Int("pass", pass),
			zap.Int64("unresolved", unresolved))

		switch {
		case unresolved == 0:
			return r.dropTable(model, table)
		case remaining == unknownRemaining || unresolved < remaining:
			remaining = unresolved
		default:
			return r.abandon(model, table, pass, unresolved)
		}
	}
}

// runPass runs one generation and returns the number of re-queued rows.
// The mirror is dropped on every exit.
func (r *run) runPass(model xlink.Model, table CacheTable, remaining int64) (unresolved int64, err error) {
	mirror, err := table.MirrorAndIndex()
	if err != nil {
		return 0, fmt.Errorf("mirror %s: %w", model, err)
	}
	defer func() {
		if dropErr := table.DropMirrorTable(); dropErr != nil && err == nil {
			err = fmt.Errorf("drop mirror %s: %w", model, dropErr)
		}
	}()

	total := remaining
	if total == unknownRemaining {
		if total, err = mirror.Size(); err != nil {
			return 0, fmt.Errorf("size %s mirror: %w", model, err)
		}
	}
	if err := r.submitAll(model, mirror, total, nil); err != nil {
		if errors.Is(err, errStopped) {
			// In-flight items may still read the mirror.
			if joinErr := r.join(); joinErr != nil {
				return 0, joinErr
			}
		}
		return 0, err
	}

	// Re-queue writes of this pass must land before counting.
	if err := r.join(); err != nil {
		return 0, err
	}
	if r.stopped() {
		return 0, errStopped
	}

	unresolved, err = table.Size()
	if err != nil {
		return 0, fmt.Errorf("size %s: %w", model, err)
	}
	return unresolved, nil
}

// abandon reports a cycle and drops the rows that could not be resolved.
func (r *run) abandon(model xlink.Model, table CacheTable, pass int, unresolved int64) error {
	owners := roaring64.New()
	err := table.Scan(r.ctx, func(it xlink.Item) error {
		owners.Add(uint64(it.OwnerID()))
		return nil
	})
	if err != nil {
		if r.stopped() {
			return nil
		}
		return fmt.Errorf("collect %s cycle: %w", model, err)
	}

	cycle := &CycleError{Model: model, Pass: pass, Remaining: unresolved, Owners: owners}
	r.report.Cycles = append(r.report.Cycles, cycle)
	r.logger.Error("illegal graph cycle detected, xlink references cannot be resolved",
		zap.String("model", model.String()),
		zap.Int("pass", pass),
		zap.Int64("remaining", unresolved),
		zap.Uint64s("owner_ids", sample(owners, maxLoggedOwners)),
	)
	return r.dropTable(model, table)
}

// maxLoggedOwners caps the owner ids written to the cycle log entry.
const maxLoggedOwners = 100

func sample(b *roaring64.Bitmap, n int) []uint64 {
	out := make([]uint64, 0, n)
	it := b.Iterator()
	for it.HasNext() && len(out) < n {
		out = append(out, it.Next())
	}
	return out
}

func (r *run) dropTable(model xlink.Model, table CacheTable) error {
	if err := table.Drop(); err != nil {
		return fmt.Errorf("drop %s: %w", model, err)
	}
	return nil
}
