package citydb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/agentic-research/cityxlink/internal/xlink"
)

var (
	// ErrUnsupportedTable is returned for tables a reference cannot target.
	ErrUnsupportedTable = errors.New("unsupported table")
	// ErrInvalidColumn is returned for reference columns outside the
	// table's known foreign keys.
	ErrInvalidColumn = errors.New("invalid reference column")
)

// Object class ids written to CITYOBJECT.OBJECTCLASS_ID.
const (
	ClassGenericCityObject = 5
	ClassCityObjectGroup   = 23
	ClassBuilding          = 26
	ClassWallSurface       = 34
	ClassWindow            = 38
)

// featureClasses maps feature tables to the class of newly inserted rows.
var featureClasses = map[xlink.Table]int{
	xlink.TableCityObject:      ClassGenericCityObject,
	xlink.TableBuilding:        ClassBuilding,
	xlink.TableThematicSurface: ClassWallSurface,
	xlink.TableOpening:         ClassWindow,
	xlink.TableCityObjectGroup: ClassCityObjectGroup,
}

type linkDef struct {
	owner, target string
}

// linkTables are n:m tables; resolving a reference inserts a row.
var linkTables = map[xlink.Table]linkDef{
	xlink.TableAddressToBuilding:    {owner: "BUILDING_ID", target: "ADDRESS_ID"},
	xlink.TableOpeningToThemSurface: {owner: "THEMATIC_SURFACE_ID", target: "OPENING_ID"},
	xlink.TableGeneralization:       {owner: "CITYOBJECT_ID", target: "GENERALIZES_TO_ID"},
	xlink.TableGroupToCityObject:    {owner: "CITYOBJECTGROUP_ID", target: "CITYOBJECT_ID"},
	xlink.TableAppearToSurfaceData:  {owner: "APPEARANCE_ID", target: "SURFACE_DATA_ID"},
}

// refColumns lists the foreign key columns that may be set by a resolved
// reference, per table.
var refColumns = map[xlink.Table][]string{
	xlink.TableBuilding: {
		"BUILDING_PARENT_ID", "BUILDING_ROOT_ID", "LOD1_SOLID_ID", "LOD2_SOLID_ID",
		"LOD2_MULTI_SURFACE_ID", "LOD3_MULTI_SURFACE_ID", "LOD4_MULTI_SURFACE_ID",
	},
	xlink.TableThematicSurface:  {"BUILDING_ID", "LOD2_MULTI_SURFACE_ID", "LOD3_MULTI_SURFACE_ID", "LOD4_MULTI_SURFACE_ID"},
	xlink.TableOpening:          {"ADDRESS_ID", "LOD3_MULTI_SURFACE_ID", "LOD4_MULTI_SURFACE_ID"},
	xlink.TableCityObjectGroup:  {"PARENT_CITYOBJECT_ID", "SURFACE_GEOMETRY_ID"},
	xlink.TableImplicitGeometry: {"RELATIVE_BREP_ID"},
}

func knownTable(name string) bool {
	for t := xlink.TableCityObject; t.String() != ""; t++ {
		if t.String() == name {
			return true
		}
	}
	return false
}

// IsLinkTable reports whether t is an n:m link table.
func IsLinkTable(t xlink.Table) bool {
	_, ok := linkTables[t]
	return ok
}

func checkColumn(t xlink.Table, column string) error {
	for _, c := range refColumns[t] {
		if c == column {
			return nil
		}
	}
	return fmt.Errorf("%s.%s: %w", t, column, ErrInvalidColumn)
}

// InsertCityObject creates a feature row in CITYOBJECT and, for subtype
// tables, in t.
func (s *Store) InsertCityObject(ctx context.Context, t xlink.Table, gmlID string) (int64, error) {
	class, ok := featureClasses[t]
	if !ok {
		return 0, fmt.Errorf("insert into %s: %w", t, ErrUnsupportedTable)
	}
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "INSERT INTO CITYOBJECT (OBJECTCLASS_ID, GMLID) VALUES (?, ?)", class, gmlID)
		if err != nil {
			return fmt.Errorf("insert cityobject: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		if t == xlink.TableCityObject {
			return nil
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO "+t.String()+" (ID) VALUES (?)", id); err != nil {
			return fmt.Errorf("insert %s: %w", t, err)
		}
		return nil
	})
	return id, err
}

// InsertAddress creates an ADDRESS row.
func (s *Store) InsertAddress(ctx context.Context, gmlID, street string) (int64, error) {
	res, err := s.exec(ctx, "INSERT INTO ADDRESS (GMLID, STREET) VALUES (?, ?)", gmlID, street)
	if err != nil {
		return 0, fmt.Errorf("insert address: %w", err)
	}
	return res.LastInsertId()
}

// LookupID resolves gmlID to the internal id of a row in t.
func (s *Store) LookupID(ctx context.Context, t xlink.Table, gmlID string) (int64, error) {
	var (
		id  int64
		err error
	)
	switch t {
	case xlink.TableCityObject:
		id, err = s.queryID(ctx, "SELECT ID FROM CITYOBJECT WHERE GMLID = ? ORDER BY ID LIMIT 1", gmlID)
	case xlink.TableBuilding, xlink.TableThematicSurface, xlink.TableOpening, xlink.TableCityObjectGroup:
		id, err = s.queryID(ctx,
			"SELECT c.ID FROM CITYOBJECT c JOIN "+t.String()+" f ON f.ID = c.ID WHERE c.GMLID = ? ORDER BY c.ID LIMIT 1", gmlID)
	case xlink.TableAddress, xlink.TableAppearance, xlink.TableSurfaceData:
		id, err = s.queryID(ctx, "SELECT ID FROM "+t.String()+" WHERE GMLID = ? ORDER BY ID LIMIT 1", gmlID)
	case xlink.TableSurfaceGeometry:
		id, err = s.queryID(ctx, "SELECT ID FROM SURFACE_GEOMETRY WHERE GMLID = ? AND IS_XLINK = 0 ORDER BY ID LIMIT 1", gmlID)
	default:
		return 0, fmt.Errorf("lookup in %q: %w", t.String(), ErrUnsupportedTable)
	}
	if err != nil {
		return 0, fmt.Errorf("lookup %s %q: %w", t, gmlID, err)
	}
	return id, nil
}

// Link inserts an n:m row into a link table. Existing links are kept.
func (s *Store) Link(ctx context.Context, t xlink.Table, ownerID, targetID int64) error {
	def, ok := linkTables[t]
	if !ok {
		return fmt.Errorf("link %q: %w", t.String(), ErrUnsupportedTable)
	}
	q := fmt.Sprintf("INSERT OR IGNORE INTO %s (%s, %s) VALUES (?, ?)", t, def.owner, def.target)
	if _, err := s.exec(ctx, q, ownerID, targetID); err != nil {
		return fmt.Errorf("link %s: %w", t, err)
	}
	return nil
}

// Linked reports whether a link row exists.
func (s *Store) Linked(ctx context.Context, t xlink.Table, ownerID, targetID int64) (bool, error) {
	def, ok := linkTables[t]
	if !ok {
		return false, fmt.Errorf("link %q: %w", t.String(), ErrUnsupportedTable)
	}
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ? AND %s = ?", t, def.owner, def.target)
	var n int
	if err := s.db.QueryRowContext(ctx, q, ownerID, targetID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetReference points t.column of row id at value.
func (s *Store) SetReference(ctx context.Context, t xlink.Table, id int64, column string, value int64) error {
	if err := checkColumn(t, column); err != nil {
		return err
	}
	res, err := s.exec(ctx, fmt.Sprintf("UPDATE %s SET %s = ? WHERE ID = ?", t, column), value, id)
	if err != nil {
		return fmt.Errorf("update %s.%s: %w", t, column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s row %d: %w", t, id, ErrNotFound)
	}
	return nil
}

// Reference reads t.column of row id. A NULL column yields ok == false.
func (s *Store) Reference(ctx context.Context, t xlink.Table, id int64, column string) (value int64, ok bool, err error) {
	if err := checkColumn(t, column); err != nil {
		return 0, false, err
	}
	var v sql.NullInt64
	err = s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE ID = ?", column, t), id).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, ErrNotFound
	}
	if err != nil {
		return 0, false, err
	}
	return v.Int64, v.Valid, nil
}

// AddGroupMember records memberID as a member of groupID.
func (s *Store) AddGroupMember(ctx context.Context, groupID, memberID int64, role string) error {
	var r any
	if role != "" {
		r = role
	}
	_, err := s.exec(ctx,
		"INSERT OR IGNORE INTO GROUP_TO_CITYOBJECT (CITYOBJECT_ID, CITYOBJECTGROUP_ID, ROLE) VALUES (?, ?, ?)",
		memberID, groupID, r)
	if err != nil {
		return fmt.Errorf("add group member: %w", err)
	}
	return nil
}

// GroupMembers lists the member ids of a group in ascending order.
func (s *Store) GroupMembers(ctx context.Context, groupID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT CITYOBJECT_ID FROM GROUP_TO_CITYOBJECT WHERE CITYOBJECTGROUP_ID = ? ORDER BY CITYOBJECT_ID", groupID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
