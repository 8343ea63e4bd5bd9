package splitter

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/agentic-research/cityxlink/internal/cache"
	"github.com/agentic-research/cityxlink/internal/event"
	"github.com/agentic-research/cityxlink/internal/pool"
	"github.com/agentic-research/cityxlink/internal/xlink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func group(id int64, target string) *xlink.GroupToCityObject {
	return &xlink.GroupToCityObject{GroupID: id, GmlID: target}
}

// resolvedSet is a concurrency-safe set of resolved owner ids.
type resolvedSet struct {
	mu  sync.Mutex
	ids map[int64]bool
}

func (s *resolvedSet) add(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids == nil {
		s.ids = make(map[int64]bool)
	}
	s.ids[id] = true
}

func (s *resolvedSet) has(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids[id]
}

// chain builds groups 1..n where group i references group i+1 and the
// last one references an existing feature.
func chain(n int) []xlink.Item {
	items := make([]xlink.Item, 0, n)
	for i := 1; i <= n; i++ {
		target := fmt.Sprintf("group-%d", i+1)
		if i == n {
			target = "feature"
		}
		items = append(items, group(int64(i), target))
	}
	return items
}

// chainDecision resolves a group once the group it references is resolved.
func chainDecision(n int) decision {
	done := &resolvedSet{}
	return func(it xlink.Item) bool {
		id := it.OwnerID()
		if id == int64(n) || done.has(id+1) {
			done.add(id)
			return true
		}
		return false
	}
}

func TestFixedPointTerminatesOnChain(t *testing.T) {
	for _, n := range []int{1, 2, 5, 12} {
		t.Run(fmt.Sprintf("length %d", n), func(t *testing.T) {
			h := newHarness(newWorld(chain(n)...), false, chainDecision(n))
			s := New(h.world, h.pool, h.tmp, Options{})

			report, err := s.Start(context.Background())
			require.NoError(t, err)
			assert.Empty(t, report.Cycles)
			assert.LessOrEqual(t, report.Passes[xlink.ModelGroupToCityObject], n+1)
			assert.False(t, h.world.ExistsCacheTable(xlink.ModelGroupToCityObject))
		})
	}
}

func TestFixedPointScansOnlyPreviousGeneration(t *testing.T) {
	const n = 6
	h := newHarness(newWorld(chain(n)...), false, chainDecision(n))
	s := New(h.world, h.pool, h.tmp, Options{})

	_, err := s.Start(context.Background())
	require.NoError(t, err)

	perPass := make(map[int]int)
	for _, rec := range h.world.scans {
		require.Equal(t, "group_to_cityobject_mirror", rec.table, "live table must not be scanned")
		assert.Less(t, rec.rowGen, rec.scanGen, "row %d re-queued in pass %d leaked into the same pass", rec.owner, rec.rowGen)
		perPass[rec.scanGen]++
	}
	// Each pass resolves exactly the tail of the chain.
	for pass := 1; pass <= n; pass++ {
		assert.Equal(t, n-pass+1, perPass[pass], "pass %d", pass)
	}
}

func TestTwoRowCycle(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	world := newWorld(group(1, "group-2"), group(2, "group-1"))
	h := newHarness(world, true, func(xlink.Item) bool { return false })
	s := New(world, h.pool, h.tmp, Options{Logger: zap.New(core)})

	report, err := s.Start(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Passes[xlink.ModelGroupToCityObject])
	require.Len(t, report.Cycles, 1)
	cycle := report.Cycles[0]
	assert.Equal(t, xlink.ModelGroupToCityObject, cycle.Model)
	assert.Equal(t, 2, cycle.Pass)
	assert.EqualValues(t, 2, cycle.Remaining)
	assert.Equal(t, []uint64{1, 2}, cycle.Owners.ToArray())
	assert.Contains(t, cycle.Error(), "illegal graph cycle")

	assert.False(t, world.ExistsCacheTable(xlink.ModelGroupToCityObject))
	entries := logs.FilterMessageSnippet("illegal graph cycle").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "group_to_cityobject", entries[0].ContextMap()["model"])
}

func TestGroupScenarios(t *testing.T) {
	t.Run("member resolvable in one pass", func(t *testing.T) {
		world := newWorld(group(1, "group-2"), group(2, "feature-x"))
		h := newHarness(world, false, nil)
		report, err := New(world, h.pool, h.tmp, Options{}).Start(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.Passes[xlink.ModelGroupToCityObject])
		assert.Empty(t, report.Cycles)
		assert.EqualValues(t, 2, report.Submitted[xlink.ModelGroupToCityObject])
	})

	t.Run("cycle does not block later phases", func(t *testing.T) {
		world := newWorld(
			group(1, "group-2"),
			group(2, "group-1"),
			&xlink.SurfaceGeometry{ID: 7, GmlID: "poly"},
		)
		h := newHarness(world, false, func(it xlink.Item) bool {
			return it.Model() != xlink.ModelGroupToCityObject
		})
		report, err := New(world, h.pool, h.tmp, Options{}).Start(context.Background())
		require.NoError(t, err)
		require.Len(t, report.Cycles, 1)
		assert.Equal(t, 1, report.Passes[xlink.ModelSurfaceGeometry])
		assert.Contains(t, h.submitted(), "surface_geometry/7")
	})
}

func TestPhaseOrder(t *testing.T) {
	world := newWorld(
		&xlink.SurfaceGeometry{ID: 8, GmlID: "g"},
		&xlink.DeprecatedMaterial{ID: 7, GmlID: "m"},
		&xlink.LibraryObject{ID: 6, FileURI: "lib.gml"},
		&xlink.TextureFile{ID: 5, FileURI: "tex.png"},
		&xlink.TextureParam{ID: 4, GmlID: "ta", Type: xlink.TextureParamXlinkTextureAssociation},
		&xlink.TextureParam{ID: 3, GmlID: "g", Type: xlink.TextureParamTexCoordList},
		&xlink.TextureAssociation{ID: 3, GmlID: "ta", SurfaceGeometryID: 9},
		group(2, "x"),
		&xlink.Basic{ID: 1, GmlID: "b"},
	)
	rec := &event.Recorder{}
	h := newHarness(world, false, nil)
	report, err := New(world, h.pool, h.tmp, Options{Sink: rec}).Start(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Stopped)

	assert.Equal(t, []string{
		"basic/1",
		"group_to_cityobject/2",
		"texture_param/TexCoordList/3",
		"texture_file/5",
		"texture_param/XlinkTextureAssociation/4",
		"library_object/6",
		"deprecated_material/7",
		"surface_geometry/8",
	}, h.submitted())

	assert.Equal(t, []string{
		"Resolving feature XLinks...",
		"Resolving CityObjectGroup XLinks (pass 1)...",
		"Resolving appearance XLinks...",
		"Importing texture images...",
		"Resolving appearance XLinks...",
		"Importing library objects...",
		"Resolving TexturedSurface XLinks...",
		"Resolving geometry XLinks (pass 1)...",
	}, rec.Statuses())

	var resets int
	for _, u := range rec.ProgressUpdates() {
		if u == (event.ProgressUpdate{}) {
			resets++
		}
	}
	assert.Equal(t, len(rec.Statuses()), resets, "every phase and pass restarts progress")
	assert.Equal(t, event.ProgressUpdate{}, rec.ProgressUpdates()[0])

	for _, m := range xlink.Models {
		assert.False(t, world.ExistsCacheTable(m), "%s not dropped", m)
	}
}

func TestTextureAssociationBarrier(t *testing.T) {
	world := newWorld(
		&xlink.TextureParam{ID: 1, GmlID: "a", Type: xlink.TextureParamTexCoordList},
		&xlink.TextureParam{ID: 2, GmlID: "ta-1", Type: xlink.TextureParamXlinkTextureAssociation},
		&xlink.TextureParam{ID: 3, GmlID: "b", Type: xlink.TextureParamTexCoordGen},
		&xlink.TextureFile{ID: 10, FileURI: "a.png"},
		&xlink.TextureAssociation{ID: 1, GmlID: "ta-1", SurfaceGeometryID: 4},
	)
	h := newHarness(world, true, nil)
	_, err := New(world, h.pool, h.tmp, Options{}).Start(context.Background())
	require.NoError(t, err)

	events := h.seq.all()
	assoc := slices.Index(events, "pool.submit:texture_param/XlinkTextureAssociation/2")
	require.NotEqual(t, -1, assoc)
	for _, before := range []string{
		"pool.done:texture_param/TexCoordList/1",
		"pool.done:texture_param/TexCoordGen/3",
		"pool.done:texture_file/10",
	} {
		i := slices.Index(events, before)
		require.NotEqual(t, -1, i, before)
		assert.Less(t, i, assoc, "%s must finish before association xlinks", before)
	}
	assert.Contains(t, events[:assoc], "pool.join")

	calls := world.callLog()
	index := slices.Index(calls, "texture_association.index")
	dropAssoc := slices.Index(calls, "texture_association.drop")
	dropParams := slices.Index(calls, "texture_param.drop")
	dropFiles := slices.Index(calls, "texture_file.drop")
	require.NotEqual(t, -1, index)
	assert.Less(t, dropFiles, index)
	assert.Less(t, index, dropParams)
	assert.Less(t, dropParams, dropAssoc, "association lookup table outlives association xlinks")
}

func TestAssociationXlinksNeedStagedAssociations(t *testing.T) {
	world := newWorld(
		&xlink.TextureParam{ID: 1, GmlID: "a", Type: xlink.TextureParamTexCoordList},
		&xlink.TextureParam{ID: 2, GmlID: "ta-1", Type: xlink.TextureParamXlinkTextureAssociation},
	)
	rec := &event.Recorder{}
	h := newHarness(world, false, nil)
	_, err := New(world, h.pool, h.tmp, Options{Sink: rec}).Start(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"texture_param/TexCoordList/1"}, h.submitted())
	assert.Equal(t, []string{"Resolving appearance XLinks..."}, rec.Statuses())
	assert.False(t, world.ExistsCacheTable(xlink.ModelTextureParam))
	assert.Contains(t, world.callLog(), "texture_param.drop")
	assert.NotContains(t, world.callLog(), "texture_association.index")
}

func TestMissingTablesAreSkipped(t *testing.T) {
	world := newWorld()
	rec := &event.Recorder{}
	h := newHarness(world, false, nil)
	report, err := New(world, h.pool, h.tmp, Options{Sink: rec}).Start(context.Background())
	require.NoError(t, err)

	assert.Empty(t, report.Passes)
	assert.Empty(t, report.Submitted)
	assert.Empty(t, h.submitted())
	assert.Empty(t, rec.Statuses())
	for _, c := range world.callLog() {
		assert.NotRegexp(t, `\.(mirror|scan)$`, c)
	}
}

func TestShutdown(t *testing.T) {
	t.Run("before start", func(t *testing.T) {
		world := newWorld(&xlink.Basic{ID: 1, GmlID: "a"})
		h := newHarness(world, false, nil)
		s := New(world, h.pool, h.tmp, Options{})
		s.Shutdown()

		report, err := s.Start(context.Background())
		require.NoError(t, err)
		assert.True(t, report.Stopped)
		assert.Empty(t, h.submitted())
		assert.True(t, world.ExistsCacheTable(xlink.ModelBasic))
	})

	t.Run("during fixed point", func(t *testing.T) {
		world := newWorld(chain(4)...)
		world.insert(&xlink.SurfaceGeometry{ID: 9, GmlID: "g"})
		h := newHarness(world, false, func(xlink.Item) bool { return false })
		s := New(world, h.pool, h.tmp, Options{})
		var once sync.Once
		h.pool.onSubmit = func(xlink.Item) { once.Do(s.Shutdown) }

		report, err := s.Start(context.Background())
		require.NoError(t, err)
		assert.True(t, report.Stopped)
		assert.Equal(t, []string{"group_to_cityobject/1"}, h.submitted())
		assert.Empty(t, report.Cycles)
		assert.NotContains(t, report.Passes, xlink.ModelSurfaceGeometry)
		assert.True(t, world.ExistsCacheTable(xlink.ModelGroupToCityObject), "stopped table is kept")
		assert.Contains(t, world.callLog(), "group_to_cityobject.dropMirror")
	})

	t.Run("context cancelled", func(t *testing.T) {
		world := newWorld(&xlink.Basic{ID: 1, GmlID: "a"}, &xlink.Basic{ID: 2, GmlID: "b"})
		ctx, cancel := context.WithCancel(context.Background())
		h := newHarness(world, false, nil)
		h.pool.onSubmit = func(xlink.Item) { cancel() }

		report, err := New(world, h.pool, h.tmp, Options{}).Start(ctx)
		require.NoError(t, err)
		assert.True(t, report.Stopped)
		assert.Len(t, h.submitted(), 1)
	})
}

func TestFatalErrors(t *testing.T) {
	t.Run("mirror failure", func(t *testing.T) {
		world := newWorld(group(1, "x"))
		world.table(xlink.ModelGroupToCityObject).mirrorErr = errors.New("disk full")
		h := newHarness(world, false, nil)

		_, err := New(world, h.pool, h.tmp, Options{}).Start(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
	})

	t.Run("pool failure", func(t *testing.T) {
		world := newWorld(&xlink.Basic{ID: 1, GmlID: "a"})
		h := newHarness(world, false, nil)
		h.pool.joinErr = errors.New("database is locked")

		_, err := New(world, h.pool, h.tmp, Options{}).Start(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "resolver pool")
	})
}

// TestCacheBackedCycle runs the fixed point against real cache tables and
// worker pools.
func TestCacheBackedCycle(t *testing.T) {
	cm, err := cache.NewManager(cache.Options{Dir: t.TempDir(), BatchSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cm.Cleanup() })

	for _, it := range []xlink.Item{
		group(1, "group-2"),
		group(2, "group-1"),
		group(3, "feature"),
		&xlink.Basic{ID: 4, GmlID: "b", FromTable: xlink.TableCityObject, ToTable: xlink.TableCityObject},
	} {
		require.NoError(t, cm.Insert(it))
	}
	require.NoError(t, cm.Flush())

	tmp := pool.New[xlink.Item]("requeue", 1, func(_ context.Context, it xlink.Item) error {
		return cm.Insert(it)
	})
	var handled sync.Map
	resolvers := pool.New[xlink.Item]("resolver", 4, func(ctx context.Context, it xlink.Item) error {
		handled.Store(label(it), true)
		if it.Model() == xlink.ModelGroupToCityObject && strings.HasPrefix(it.TargetGmlID(), "group-") {
			return tmp.Submit(ctx, it)
		}
		return nil
	})

	report, err := New(FromCache(cm), resolvers, tmp, Options{}).Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Passes[xlink.ModelGroupToCityObject])
	require.Len(t, report.Cycles, 1)
	assert.Equal(t, []uint64{1, 2}, report.Cycles[0].Owners.ToArray())
	assert.EqualValues(t, 5, report.Submitted[xlink.ModelGroupToCityObject])

	_, ok := handled.Load("basic/4")
	assert.True(t, ok)
	stats, err := cm.Stats()
	require.NoError(t, err)
	assert.Empty(t, stats)
}

// cancelAt cancels the run's context when the n-th item is submitted.
type cancelAt struct {
	Pool
	n      int
	seen   int
	cancel context.CancelFunc
}

func (c *cancelAt) Submit(ctx context.Context, it xlink.Item) error {
	c.seen++
	if c.seen == c.n {
		c.cancel()
	}
	return c.Pool.Submit(ctx, it)
}

func TestCancelWithContextAwareResolvers(t *testing.T) {
	cm, err := cache.NewManager(cache.Options{Dir: t.TempDir(), BatchSize: 50})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cm.Cleanup() })
	for i := int64(1); i <= 200; i++ {
		require.NoError(t, cm.Insert(&xlink.Basic{ID: i, GmlID: fmt.Sprintf("addr-%d", i), ToTable: xlink.TableAddress}))
	}
	require.NoError(t, cm.Flush())

	tmp := pool.New[xlink.Item]("requeue", 1, func(_ context.Context, it xlink.Item) error {
		return cm.Insert(it)
	})
	// Store queries fail the same way once their context is done.
	resolvers := pool.New[xlink.Item]("resolver", 4, func(ctx context.Context, _ xlink.Item) error {
		return ctx.Err()
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tables := FromCache(cm)
	report, err := New(tables, &cancelAt{Pool: resolvers, n: 5, cancel: cancel}, tmp, Options{}).Start(ctx)
	require.NoError(t, err)
	assert.True(t, report.Stopped)
	assert.LessOrEqual(t, report.Submitted[xlink.ModelBasic], int64(5))
	assert.True(t, tables.ExistsCacheTable(xlink.ModelBasic), "stopped table is kept")
	require.NoError(t, resolvers.Join())
}
