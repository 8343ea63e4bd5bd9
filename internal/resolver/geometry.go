package resolver

import (
	"context"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/agentic-research/cityxlink/internal/citydb"
	"github.com/agentic-research/cityxlink/internal/xlink"
)

// PendingGeometry reports whether a geometry xlink of the current pass is
// still waiting to be copied below one of the given nodes.
type PendingGeometry interface {
	PendingBelow(ctx context.Context, nodeIDs []int64) (bool, error)
}

// SurfaceGeometry materializes references to shared geometry trees by
// copying the referenced subtree. A subtree that still contains pending
// references is copied in a later pass, once it is complete.
type SurfaceGeometry struct {
	Store   *citydb.Store
	Pending PendingGeometry
}

func (r *SurfaceGeometry) Resolve(ctx context.Context, item xlink.Item) (Outcome, error) {
	x, ok := item.(*xlink.SurfaceGeometry)
	if !ok {
		return Outcome{}, unexpected(item)
	}

	target, err := r.Store.GeometryByGmlID(ctx, trimRef(x.GmlID))
	if err != nil {
		return classify(err)
	}
	nodes, err := r.Store.Subtree(ctx, target.ID)
	if err != nil {
		return classify(err)
	}

	subtree := roaring64.New()
	for _, n := range nodes {
		subtree.Add(uint64(n.ID))
	}
	if x.ParentID != 0 && subtree.Contains(uint64(x.ParentID)) {
		return Invalid("geometry %q is referenced from inside itself", x.GmlID), nil
	}

	if r.Pending != nil {
		ids := make([]int64, 0, subtree.GetCardinality())
		it := subtree.Iterator()
		for it.HasNext() {
			ids = append(ids, int64(it.Next()))
		}
		pending, err := r.Pending.PendingBelow(ctx, ids)
		if err != nil {
			return Outcome{}, err
		}
		if pending {
			return Requeue(), nil
		}
	}

	if x.ParentID == 0 {
		ref := target.ID
		if x.Reverse || target.ID != target.RootID {
			if ref, err = r.Store.CopySubtree(ctx, nodes, 0, 0, x.CityObjectID, x.Reverse); err != nil {
				return classify(err)
			}
		}
		return classify(r.Store.SetReference(ctx, x.FromTable, x.ID, x.AttrName, ref))
	}

	rootID := x.RootID
	if rootID == 0 {
		parent, err := r.Store.Geometry(ctx, x.ParentID)
		if err != nil {
			return classify(err)
		}
		rootID = parent.RootID
	}
	_, err = r.Store.CopySubtree(ctx, nodes, x.ParentID, rootID, x.CityObjectID, x.Reverse)
	return classify(err)
}
