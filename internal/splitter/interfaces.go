package splitter

import (
	"context"

	"github.com/agentic-research/cityxlink/internal/cache"
	"github.com/agentic-research/cityxlink/internal/xlink"
)

// CacheTable is the staging table of one category as seen by the splitter.
type CacheTable interface {
	Size() (int64, error)
	Scan(ctx context.Context, fn func(xlink.Item) error) error
	MirrorAndIndex() (CacheTable, error)
	Truncate() error
	DropMirrorTable() error
	Drop() error
	EnableIndexes() error
}

// CacheTableManager gives access to the live table of each category.
type CacheTableManager interface {
	GetCacheTable(model xlink.Model) (CacheTable, bool)
	ExistsCacheTable(model xlink.Model) bool
}

// Pool accepts work items for concurrent resolution.
type Pool interface {
	Submit(ctx context.Context, item xlink.Item) error
	Join() error
}

// FromCache adapts a cache manager.
func FromCache(m *cache.Manager) CacheTableManager {
	return cacheManager{m: m}
}

type cacheManager struct {
	m *cache.Manager
}

func (c cacheManager) GetCacheTable(model xlink.Model) (CacheTable, bool) {
	t, ok := c.m.GetCacheTable(model)
	if !ok {
		return nil, false
	}
	return cacheTable{t}, true
}

func (c cacheManager) ExistsCacheTable(model xlink.Model) bool {
	return c.m.ExistsCacheTable(model)
}

type cacheTable struct {
	*cache.Table
}

func (t cacheTable) MirrorAndIndex() (CacheTable, error) {
	mirror, err := t.Table.MirrorAndIndex()
	if err != nil {
		return nil, err
	}
	return cacheTable{mirror}, nil
}
