package resolver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/agentic-research/cityxlink/internal/xlink"
	"go.uber.org/zap"
)

// RequeueFunc hands an item back for the next pass, typically by
// submitting it to the secondary pool that writes the live cache table.
type RequeueFunc func(ctx context.Context, item xlink.Item) error

// Stats counts outcomes for one category.
type Stats struct {
	Resolved int64
	Requeued int64
	Invalid  int64
}

type counters struct {
	resolved, requeued, invalid atomic.Int64
}

// Manager dispatches work items to the resolver registered for their
// category. Its Handle method is the primary pool's handler.
type Manager struct {
	logger  *zap.Logger
	requeue RequeueFunc

	mu        sync.RWMutex
	resolvers map[xlink.Model]Resolver
	counters  map[xlink.Model]*counters
}

// NewManager returns a manager with no resolvers. requeue may be nil when
// no recursive category is registered.
func NewManager(logger *zap.Logger, requeue RequeueFunc) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		logger:    logger,
		requeue:   requeue,
		resolvers: make(map[xlink.Model]Resolver),
		counters:  make(map[xlink.Model]*counters),
	}
	for _, model := range xlink.Models {
		m.counters[model] = &counters{}
	}
	return m
}

// Register installs r for model, replacing any previous resolver.
func (m *Manager) Register(model xlink.Model, r Resolver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolvers[model] = r
}

// Handle resolves one item and applies the outcome. Only infrastructure
// failures are returned.
func (m *Manager) Handle(ctx context.Context, item xlink.Item) error {
	model := item.Model()
	m.mu.RLock()
	r, ok := m.resolvers[model]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no resolver registered for %s", model)
	}

	out, err := r.Resolve(ctx, item)
	if err != nil {
		return fmt.Errorf("resolve %s owner %d: %w", model, item.OwnerID(), err)
	}

	c := m.counters[model]
	switch out.Kind {
	case OutcomeResolved:
		c.resolved.Add(1)
		return nil
	case OutcomeRequeue:
		if !model.Recursive() {
			// One-shot categories are never retried.
			out = Invalid("target %q not available", item.TargetGmlID())
			break
		}
		if m.requeue == nil {
			return fmt.Errorf("requeue %s: no requeue target configured", model)
		}
		if err := m.requeue(ctx, item); err != nil {
			return fmt.Errorf("requeue %s owner %d: %w", model, item.OwnerID(), err)
		}
		c.requeued.Add(1)
		return nil
	}

	c.invalid.Add(1)
	m.logger.Error("unresolvable xlink",
		zap.String("model", model.String()),
		zap.Int64("owner_id", item.OwnerID()),
		zap.String("gml_id", item.TargetGmlID()),
		zap.String("reason", out.Reason),
	)
	return nil
}

// Stats returns a snapshot of the outcome counters per category. Categories
// without any outcome are omitted.
func (m *Manager) Stats() map[xlink.Model]Stats {
	out := make(map[xlink.Model]Stats)
	for model, c := range m.counters {
		s := Stats{Resolved: c.resolved.Load(), Requeued: c.requeued.Load(), Invalid: c.invalid.Load()}
		if s != (Stats{}) {
			out[model] = s
		}
	}
	return out
}
