package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/agentic-research/cityxlink/internal/cache"
	"github.com/agentic-research/cityxlink/internal/citydb"
	"github.com/agentic-research/cityxlink/internal/importer"
	"github.com/agentic-research/cityxlink/internal/splitter"
	"github.com/agentic-research/cityxlink/internal/xlink"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stagedCache writes a cache file holding items and returns its path.
func stagedCache(t *testing.T, items ...xlink.Item) string {
	t.Helper()
	cm, err := cache.NewManager(cache.Options{Dir: t.TempDir()})
	require.NoError(t, err)
	for _, it := range items {
		require.NoError(t, cm.Insert(it))
	}
	require.NoError(t, cm.Close())
	return cm.Path()
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestInspect(t *testing.T) {
	path := stagedCache(t,
		&xlink.Basic{ID: 1, GmlID: "a", ToTable: xlink.TableCityObject},
		&xlink.Basic{ID: 2, GmlID: "b", ToTable: xlink.TableCityObject},
		&xlink.GroupToCityObject{GroupID: 3, GmlID: "c"},
	)

	out, err := run(t, "inspect", path)
	require.NoError(t, err)
	assert.Contains(t, out, "basic")
	assert.Contains(t, out, "group_to_cityobject         1 (recursive)")
	assert.Contains(t, out, "total                       3")

	out, err = run(t, "inspect", "--json", path)
	require.NoError(t, err)
	doc, err := oj.ParseString(out)
	require.NoError(t, err)
	assert.EqualValues(t, 2, jp.MustParseString("$.basic").First(doc))
	assert.EqualValues(t, 1, jp.MustParseString("$.group_to_cityobject").First(doc))

	_, err = run(t, "inspect", filepath.Join(t.TempDir(), "none.db"))
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "city.db")
	store, err := citydb.Open(dbPath, nil)
	require.NoError(t, err)
	bldg, err := store.InsertCityObject(ctx, xlink.TableBuilding, "bldg-1")
	require.NoError(t, err)
	_, err = store.InsertAddress(ctx, "addr-1", "Main St")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	path := stagedCache(t,
		&xlink.Basic{ID: bldg, FromTable: xlink.TableAddressToBuilding, GmlID: "addr-1", ToTable: xlink.TableAddress},
		&xlink.Basic{ID: bldg, FromTable: xlink.TableAddressToBuilding, GmlID: "addr-2", ToTable: xlink.TableAddress},
	)

	out, err := run(t, "resolve", path, "--database", dbPath, "--json", "--log-level", "fatal", "--keep")
	require.NoError(t, err)
	doc, err := oj.ParseString(out)
	require.NoError(t, err)
	assert.EqualValues(t, 2, jp.MustParseString("$.categories.basic.staged").First(doc))
	assert.EqualValues(t, 1, jp.MustParseString("$.categories.basic.resolved").First(doc))
	assert.EqualValues(t, 1, jp.MustParseString("$.categories.basic.invalid").First(doc))
	assert.Equal(t, false, jp.MustParseString("$.stopped").First(doc))

	// The kept cache has been consumed by the splitter.
	out, err = run(t, "inspect", path)
	require.NoError(t, err)
	assert.Contains(t, out, "total                       0")
}

func TestResolveFlagErrors(t *testing.T) {
	_, err := run(t, "resolve", "--database", filepath.Join(t.TempDir(), "city.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no staged cache")

	path := stagedCache(t)
	_, err = run(t, "resolve", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path is required")

	_, err = run(t, "resolve", path, "--config", filepath.Join(t.TempDir(), "missing.hcl"))
	assert.Error(t, err)
}

func TestPrintSummaryStopped(t *testing.T) {
	sum := importer.Summary{RunID: "run-1", Report: splitter.Report{Stopped: true}}

	var out bytes.Buffer
	require.NoError(t, printSummary(&out, sum, false, true))
	assert.Contains(t, out.String(), "rerun with the kept cache")

	out.Reset()
	require.NoError(t, printSummary(&out, sum, false, false))
	assert.NotContains(t, out.String(), "rerun")
	assert.Contains(t, out.String(), "the staged cache was discarded")
}
