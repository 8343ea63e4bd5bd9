package citydb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// ErrInvalidGeometry is returned for rings that cannot be stored.
var ErrInvalidGeometry = errors.New("invalid geometry")

// Geometry is one SURFACE_GEOMETRY node. Aggregate nodes (solids,
// composite and multi surfaces) carry no Shape.
type Geometry struct {
	ID           int64
	GmlID        string
	ParentID     int64
	RootID       int64
	IsSolid      bool
	IsComposite  bool
	IsXlink      bool
	IsReverse    bool
	Shape        orb.Polygon
	CityObjectID int64
}

// maxTreeDepth bounds subtree queries against corrupt PARENT_ID chains.
const maxTreeDepth = 1000

const geometryColumns = "ID, GMLID, PARENT_ID, ROOT_ID, IS_SOLID, IS_COMPOSITE, IS_XLINK, IS_REVERSE, GEOMETRY, CITYOBJECT_ID"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGeometry(r rowScanner) (*Geometry, error) {
	var (
		g                                  Geometry
		gmlID                              sql.NullString
		parent, root, cityObject           sql.NullInt64
		solid, composite, isXlink, reverse int
		blob                               []byte
	)
	if err := r.Scan(&g.ID, &gmlID, &parent, &root, &solid, &composite, &isXlink, &reverse, &blob, &cityObject); err != nil {
		return nil, err
	}
	g.GmlID = gmlID.String
	g.ParentID = parent.Int64
	g.RootID = root.Int64
	g.CityObjectID = cityObject.Int64
	g.IsSolid = solid != 0
	g.IsComposite = composite != 0
	g.IsXlink = isXlink != 0
	g.IsReverse = reverse != 0
	if len(blob) > 0 {
		shape, err := decodePolygon(blob)
		if err != nil {
			return nil, fmt.Errorf("geometry %d: %w", g.ID, err)
		}
		g.Shape = shape
	}
	return &g, nil
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// NormalizeRings closes unclosed rings and rejects rings with fewer than
// four points.
func NormalizeRings(p orb.Polygon) (orb.Polygon, error) {
	out := make(orb.Polygon, 0, len(p))
	for i, r := range p {
		if len(r) > 0 && !r.Closed() {
			r = append(r.Clone(), r[0])
		}
		if len(r) < 4 {
			return nil, fmt.Errorf("ring %d has too few points: %w", i, ErrInvalidGeometry)
		}
		out = append(out, r)
	}
	return out, nil
}

// reversed returns p with every ring in opposite orientation.
func reversed(p orb.Polygon) orb.Polygon {
	if p == nil {
		return nil
	}
	c := p.Clone()
	for _, r := range c {
		r.Reverse()
	}
	return c
}

func encodePolygon(p orb.Polygon) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return wkb.Marshal(p)
}

func decodePolygon(b []byte) (orb.Polygon, error) {
	g, err := wkb.Unmarshal(b)
	if err != nil {
		return nil, err
	}
	p, ok := g.(orb.Polygon)
	if !ok {
		return nil, fmt.Errorf("unexpected %s: %w", g.GeoJSONType(), ErrInvalidGeometry)
	}
	return p, nil
}

// ParseTextureCoordinates parses a whitespace separated list of s t pairs.
func ParseTextureCoordinates(s string) (orb.LineString, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 || len(fields)%2 != 0 {
		return nil, fmt.Errorf("texture coordinates %q: odd or empty list: %w", s, ErrInvalidGeometry)
	}
	ls := make(orb.LineString, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		u, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, fmt.Errorf("texture coordinate %q: %w", fields[i], ErrInvalidGeometry)
		}
		v, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return nil, fmt.Errorf("texture coordinate %q: %w", fields[i+1], ErrInvalidGeometry)
		}
		ls = append(ls, orb.Point{u, v})
	}
	return ls, nil
}

// InsertGeometry stores g and returns its id. A node without parent and
// root becomes the root of its own tree.
func (s *Store) InsertGeometry(ctx context.Context, g *Geometry) (int64, error) {
	var blob []byte
	if g.Shape != nil {
		shape, err := NormalizeRings(g.Shape)
		if err != nil {
			return 0, fmt.Errorf("geometry %q: %w", g.GmlID, err)
		}
		if blob, err = encodePolygon(shape); err != nil {
			return 0, fmt.Errorf("encode geometry %q: %w", g.GmlID, err)
		}
	}

	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = insertGeometry(ctx, tx, g, blob)
		return err
	})
	return id, err
}

func insertGeometry(ctx context.Context, tx *sql.Tx, g *Geometry, blob []byte) (int64, error) {
	var gmlID any
	if g.GmlID != "" {
		gmlID = g.GmlID
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO SURFACE_GEOMETRY
		(GMLID, PARENT_ID, ROOT_ID, IS_SOLID, IS_COMPOSITE, IS_XLINK, IS_REVERSE, GEOMETRY, CITYOBJECT_ID)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		gmlID, nullID(g.ParentID), nullID(g.RootID), boolInt(g.IsSolid), boolInt(g.IsComposite),
		boolInt(g.IsXlink), boolInt(g.IsReverse), blob, nullID(g.CityObjectID))
	if err != nil {
		return 0, fmt.Errorf("insert geometry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if g.RootID == 0 {
		if _, err := tx.ExecContext(ctx, "UPDATE SURFACE_GEOMETRY SET ROOT_ID = ? WHERE ID = ?", id, id); err != nil {
			return 0, fmt.Errorf("set root id: %w", err)
		}
	}
	return id, nil
}

// Geometry loads one node by id.
func (s *Store) Geometry(ctx context.Context, id int64) (*Geometry, error) {
	g, err := scanGeometry(s.db.QueryRowContext(ctx,
		"SELECT "+geometryColumns+" FROM SURFACE_GEOMETRY WHERE ID = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("geometry %d: %w", id, ErrNotFound)
	}
	return g, err
}

// GeometryByGmlID loads the original (non-xlink) node with gmlID.
func (s *Store) GeometryByGmlID(ctx context.Context, gmlID string) (*Geometry, error) {
	g, err := scanGeometry(s.db.QueryRowContext(ctx,
		"SELECT "+geometryColumns+" FROM SURFACE_GEOMETRY WHERE GMLID = ? AND IS_XLINK = 0 ORDER BY ID LIMIT 1", gmlID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("geometry %q: %w", gmlID, ErrNotFound)
	}
	return g, err
}

// Subtree returns the node id and all its descendants, parents before
// children.
func (s *Store) Subtree(ctx context.Context, id int64) ([]*Geometry, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE sub(ID, DEPTH) AS (
			SELECT ?, 0
			UNION
			SELECT g.ID, sub.DEPTH + 1 FROM SURFACE_GEOMETRY g JOIN sub ON g.PARENT_ID = sub.ID
			WHERE sub.DEPTH < ?
		)
		SELECT `+qualified("g", geometryColumns)+` FROM SURFACE_GEOMETRY g JOIN sub ON sub.ID = g.ID
		ORDER BY sub.DEPTH, g.ID`, id, maxTreeDepth)
	if err != nil {
		return nil, fmt.Errorf("query subtree %d: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Geometry
	for rows.Next() {
		g, err := scanGeometry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("geometry %d: %w", id, ErrNotFound)
	}
	return out, nil
}

func qualified(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}

// CopySubtree copies nodes (as returned by Subtree) below parentID within
// the tree rootID. With parentID == 0 the copy becomes a new root. Copied
// nodes are flagged IS_XLINK; with reverse set their orientation flips.
// It returns the id of the copied top node.
func (s *Store) CopySubtree(ctx context.Context, nodes []*Geometry, parentID, rootID, cityObjectID int64, reverse bool) (int64, error) {
	if len(nodes) == 0 {
		return 0, fmt.Errorf("copy subtree: %w", ErrNotFound)
	}
	var top int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ids := make(map[int64]int64, len(nodes))
		for i, n := range nodes {
			cp := *n
			cp.IsXlink = true
			cp.IsReverse = n.IsReverse != reverse
			if cityObjectID != 0 {
				cp.CityObjectID = cityObjectID
			}
			if i == 0 {
				cp.ParentID, cp.RootID = parentID, rootID
			} else {
				p, ok := ids[n.ParentID]
				if !ok {
					return fmt.Errorf("copy subtree: node %d precedes its parent %d", n.ID, n.ParentID)
				}
				cp.ParentID, cp.RootID = p, rootID
				if rootID == 0 {
					cp.RootID = top
				}
			}
			shape := cp.Shape
			if reverse {
				shape = reversed(shape)
			}
			blob, err := encodePolygon(shape)
			if err != nil {
				return fmt.Errorf("encode geometry %d: %w", n.ID, err)
			}
			id, err := insertGeometry(ctx, tx, &cp, blob)
			if err != nil {
				return err
			}
			if i == 0 {
				top = id
			}
			ids[n.ID] = id
		}
		return nil
	})
	return top, err
}

// Children returns the direct child ids of a node in ascending order.
func (s *Store) Children(ctx context.Context, id int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT ID FROM SURFACE_GEOMETRY WHERE PARENT_ID = ? ORDER BY ID", id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []int64
	for rows.Next() {
		var c int64
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
