package resolver

import (
	"context"
	"errors"

	"github.com/agentic-research/cityxlink/internal/citydb"
	"github.com/agentic-research/cityxlink/internal/xlink"
)

// Basic resolves feature references: a foreign key column on the owner row
// or a row in an n:m link table.
type Basic struct {
	Store *citydb.Store
}

func (r *Basic) Resolve(ctx context.Context, item xlink.Item) (Outcome, error) {
	x, ok := item.(*xlink.Basic)
	if !ok {
		return Outcome{}, unexpected(item)
	}
	if x.FromTable == xlink.TableUnknown || x.ToTable == xlink.TableUnknown {
		return Invalid("unknown table in reference"), nil
	}

	target, err := r.Store.LookupID(ctx, x.ToTable, trimRef(x.GmlID))
	if errors.Is(err, citydb.ErrNotFound) {
		return Invalid("no %s with gml:id %q", x.ToTable, x.GmlID), nil
	}
	if err != nil {
		return classify(err)
	}

	if citydb.IsLinkTable(x.FromTable) {
		return classify(r.Store.Link(ctx, x.FromTable, x.ID, target))
	}
	return classify(r.Store.SetReference(ctx, x.FromTable, x.ID, x.AttrName, target))
}

// Group resolves CityObjectGroup members and parents. A member that does
// not exist yet is retried in the next pass.
type Group struct {
	Store *citydb.Store
}

func (r *Group) Resolve(ctx context.Context, item xlink.Item) (Outcome, error) {
	x, ok := item.(*xlink.GroupToCityObject)
	if !ok {
		return Outcome{}, unexpected(item)
	}

	member, err := r.Store.LookupID(ctx, xlink.TableCityObject, trimRef(x.GmlID))
	if errors.Is(err, citydb.ErrNotFound) {
		return Requeue(), nil
	}
	if err != nil {
		return classify(err)
	}
	if member == x.GroupID {
		return Invalid("group %d references itself", x.GroupID), nil
	}

	if x.IsParent {
		return classify(r.Store.SetReference(ctx, xlink.TableCityObjectGroup, x.GroupID, "PARENT_CITYOBJECT_ID", member))
	}
	return classify(r.Store.AddGroupMember(ctx, x.GroupID, member, x.Role))
}
