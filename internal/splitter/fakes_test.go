package splitter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/agentic-research/cityxlink/internal/xlink"
)

// stagedRow is a row plus the generation it was written in.
type stagedRow struct {
	item xlink.Item
	gen  int
}

// scanRecord is one row observed by a scan.
type scanRecord struct {
	table   string
	scanGen int
	rowGen  int
	owner   int64
}

// fakeTable is an in-memory cache table that tracks generations: rows
// inserted after the n-th mirror carry generation n.
type fakeTable struct {
	name  string
	world *fakeWorld

	mu       sync.Mutex
	rows     []stagedRow
	gen      int
	mirror   *fakeTable
	dropped  bool
	isMirror bool

	mirrorErr error
}

func (t *fakeTable) record(call string) {
	t.world.mu.Lock()
	defer t.world.mu.Unlock()
	t.world.calls = append(t.world.calls, t.name+"."+call)
}

func (t *fakeTable) insert(it xlink.Item) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = append(t.rows, stagedRow{item: it, gen: t.gen})
}

func (t *fakeTable) Size() (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dropped {
		return 0, errors.New("dropped")
	}
	return int64(len(t.rows)), nil
}

func (t *fakeTable) Scan(ctx context.Context, fn func(xlink.Item) error) error {
	t.record("scan")
	t.mu.Lock()
	rows := append([]stagedRow(nil), t.rows...)
	gen := t.gen
	t.mu.Unlock()

	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.world.mu.Lock()
		t.world.scans = append(t.world.scans, scanRecord{table: t.name, scanGen: gen, rowGen: r.gen, owner: r.item.OwnerID()})
		t.world.mu.Unlock()
		if err := fn(r.item); err != nil {
			return err
		}
	}
	return nil
}

func (t *fakeTable) MirrorAndIndex() (CacheTable, error) {
	t.record("mirror")
	if t.mirrorErr != nil {
		return nil, t.mirrorErr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	m := &fakeTable{
		name:     t.name + "_mirror",
		world:    t.world,
		rows:     t.rows,
		gen:      t.gen,
		isMirror: true,
	}
	t.rows = nil
	t.mirror = m
	return m, nil
}

func (t *fakeTable) Truncate() error {
	t.record("truncate")
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = nil
	return nil
}

func (t *fakeTable) DropMirrorTable() error {
	t.record("dropMirror")
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mirror = nil
	return nil
}

func (t *fakeTable) Drop() error {
	t.record("drop")
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropped = true
	t.mirror = nil
	return nil
}

func (t *fakeTable) EnableIndexes() error {
	t.record("index")
	return nil
}

// fakeWorld is the cache table manager plus a shared call log.
type fakeWorld struct {
	mu     sync.Mutex
	tables map[xlink.Model]*fakeTable
	calls  []string
	scans  []scanRecord
}

func newWorld(items ...xlink.Item) *fakeWorld {
	w := &fakeWorld{tables: make(map[xlink.Model]*fakeTable)}
	for _, it := range items {
		w.insert(it)
	}
	return w
}

func (w *fakeWorld) table(m xlink.Model) *fakeTable {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.tables[m]
	if !ok || t.dropped {
		t = &fakeTable{name: m.String(), world: w}
		w.tables[m] = t
	}
	return t
}

func (w *fakeWorld) insert(it xlink.Item) {
	w.table(it.Model()).insert(it)
}

func (w *fakeWorld) GetCacheTable(m xlink.Model) (CacheTable, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.tables[m]
	if !ok || t.dropped {
		return nil, false
	}
	return t, true
}

func (w *fakeWorld) ExistsCacheTable(m xlink.Model) bool {
	_, ok := w.GetCacheTable(m)
	return ok
}

func (w *fakeWorld) callLog() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.calls...)
}

// fakePool records submissions and joins in a shared sequence. In
// deferred mode items are only handled at Join, which makes barriers
// observable; otherwise they are handled inside Submit.
type fakePool struct {
	name     string
	seq      *sequence
	handler  func(ctx context.Context, it xlink.Item) error
	deferred bool
	onSubmit func(it xlink.Item)

	mu      sync.Mutex
	queue   []xlink.Item
	err     error
	joinErr error
}

func (p *fakePool) Submit(ctx context.Context, it xlink.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.seq.add(fmt.Sprintf("%s.submit:%s", p.name, label(it)))
	if p.onSubmit != nil {
		p.onSubmit(it)
	}
	if !p.deferred {
		return p.handle(ctx, it)
	}
	p.mu.Lock()
	p.queue = append(p.queue, it)
	p.mu.Unlock()
	return nil
}

func (p *fakePool) handle(ctx context.Context, it xlink.Item) error {
	if p.handler == nil {
		return nil
	}
	if err := p.handler(ctx, it); err != nil {
		p.mu.Lock()
		if p.err == nil {
			p.err = err
		}
		p.mu.Unlock()
	}
	p.seq.add(fmt.Sprintf("%s.done:%s", p.name, label(it)))
	return nil
}

func (p *fakePool) Join() error {
	for {
		p.mu.Lock()
		queue := p.queue
		p.queue = nil
		p.mu.Unlock()
		if len(queue) == 0 {
			break
		}
		for _, it := range queue {
			_ = p.handle(context.Background(), it)
		}
	}
	p.seq.add(p.name + ".join")
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.joinErr != nil {
		return p.joinErr
	}
	return p.err
}

func label(it xlink.Item) string {
	if tp, ok := it.(*xlink.TextureParam); ok {
		return fmt.Sprintf("%s/%s/%d", it.Model(), tp.Type, it.OwnerID())
	}
	return fmt.Sprintf("%s/%d", it.Model(), it.OwnerID())
}

type sequence struct {
	mu     sync.Mutex
	events []string
}

func (s *sequence) add(e string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *sequence) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

// harness wires a fake world to a primary pool whose handler decides per
// item, and a requeue pool writing back into the world.
type harness struct {
	world *fakeWorld
	seq   *sequence
	pool  *fakePool
	tmp   *fakePool
}

// decision is what the fake resolver does with an item: true resolves it,
// false re-queues it.
type decision func(it xlink.Item) bool

func newHarness(world *fakeWorld, deferred bool, decide decision) *harness {
	h := &harness{world: world, seq: &sequence{}}
	h.tmp = &fakePool{name: "tmp", seq: h.seq, deferred: deferred, handler: func(_ context.Context, it xlink.Item) error {
		world.insert(it)
		return nil
	}}
	h.pool = &fakePool{name: "pool", seq: h.seq, deferred: deferred, handler: func(ctx context.Context, it xlink.Item) error {
		if decide == nil || decide(it) {
			return nil
		}
		return h.tmp.Submit(ctx, it)
	}}
	return h
}

// submitted lists the labels submitted to the primary pool, in order.
func (h *harness) submitted() []string {
	var out []string
	for _, e := range h.seq.all() {
		var l string
		if _, err := fmt.Sscanf(e, "pool.submit:%s", &l); err == nil {
			out = append(out, l)
		}
	}
	return out
}
