package resolver

import (
	"context"
	"fmt"

	"github.com/agentic-research/cityxlink/internal/cache"
	"github.com/agentic-research/cityxlink/internal/xlink"
)

// CacheLookup answers resolver queries from the staging cache.
type CacheLookup struct {
	Cache *cache.Manager
}

// Associations returns the staged texture associations with gmlID.
func (c CacheLookup) Associations(ctx context.Context, gmlID string) ([]*xlink.TextureAssociation, error) {
	tbl, ok := c.Cache.GetCacheTable(xlink.ModelTextureAssociation)
	if !ok {
		return nil, nil
	}
	items, err := tbl.Lookup(ctx, "GMLID", gmlID)
	if err != nil {
		return nil, fmt.Errorf("lookup texture association: %w", err)
	}
	out := make([]*xlink.TextureAssociation, 0, len(items))
	for _, it := range items {
		if ta, ok := it.(*xlink.TextureAssociation); ok {
			out = append(out, ta)
		}
	}
	return out, nil
}

// PendingBelow checks the mirror of the current geometry pass for rows
// whose parent is one of nodeIDs.
func (c CacheLookup) PendingBelow(ctx context.Context, nodeIDs []int64) (bool, error) {
	tbl, ok := c.Cache.GetCacheTable(xlink.ModelSurfaceGeometry)
	if !ok {
		return false, nil
	}
	mirror := tbl.Mirror()
	if mirror == nil {
		return false, nil
	}
	found, err := mirror.ContainsAny(ctx, "PARENT_ID", nodeIDs)
	if err != nil {
		return false, fmt.Errorf("check pending geometry xlinks: %w", err)
	}
	return found, nil
}
