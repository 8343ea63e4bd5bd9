package citydb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// TextureParam is one TEXTUREPARAM row binding surface data to a geometry.
type TextureParam struct {
	SurfaceGeometryID        int64
	SurfaceDataID            int64
	IsTextureParametrization bool
	WorldToTexture           string
	TextureCoordinates       orb.LineString
}

// InsertAppearance creates an APPEARANCE row.
func (s *Store) InsertAppearance(ctx context.Context, gmlID, theme string, cityObjectID int64) (int64, error) {
	res, err := s.exec(ctx, "INSERT INTO APPEARANCE (GMLID, THEME, CITYOBJECT_ID) VALUES (?, ?, ?)",
		gmlID, theme, nullID(cityObjectID))
	if err != nil {
		return 0, fmt.Errorf("insert appearance: %w", err)
	}
	return res.LastInsertId()
}

// InsertSurfaceData creates a SURFACE_DATA row, linked to appearanceID when
// it is non-zero.
func (s *Store) InsertSurfaceData(ctx context.Context, gmlID string, appearanceID int64) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "INSERT INTO SURFACE_DATA (GMLID) VALUES (?)", gmlID)
		if err != nil {
			return fmt.Errorf("insert surface data: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		if appearanceID == 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO APPEAR_TO_SURFACE_DATA (SURFACE_DATA_ID, APPEARANCE_ID) VALUES (?, ?)", id, appearanceID)
		return err
	})
	return id, err
}

// InsertTextureParam writes p, replacing an existing row for the same
// geometry and surface data.
func (s *Store) InsertTextureParam(ctx context.Context, p TextureParam) error {
	var coords []byte
	if len(p.TextureCoordinates) > 0 {
		b, err := wkb.Marshal(p.TextureCoordinates)
		if err != nil {
			return fmt.Errorf("encode texture coordinates: %w", err)
		}
		coords = b
	}
	var w2t any
	if p.WorldToTexture != "" {
		w2t = p.WorldToTexture
	}
	_, err := s.exec(ctx, `INSERT OR REPLACE INTO TEXTUREPARAM
		(SURFACE_GEOMETRY_ID, IS_TEXTURE_PARAMETRIZATION, WORLD_TO_TEXTURE, TEXTURE_COORDINATES, SURFACE_DATA_ID)
		VALUES (?, ?, ?, ?, ?)`,
		p.SurfaceGeometryID, boolInt(p.IsTextureParametrization), w2t, coords, p.SurfaceDataID)
	if err != nil {
		return fmt.Errorf("insert textureparam: %w", err)
	}
	return nil
}

// TextureParamFor loads the row binding surfaceDataID to geometryID.
func (s *Store) TextureParamFor(ctx context.Context, surfaceDataID, geometryID int64) (TextureParam, error) {
	p := TextureParam{SurfaceDataID: surfaceDataID, SurfaceGeometryID: geometryID}
	var (
		param  int
		w2t    sql.NullString
		coords []byte
	)
	err := s.db.QueryRowContext(ctx, `SELECT IS_TEXTURE_PARAMETRIZATION, WORLD_TO_TEXTURE, TEXTURE_COORDINATES
		FROM TEXTUREPARAM WHERE SURFACE_DATA_ID = ? AND SURFACE_GEOMETRY_ID = ?`,
		surfaceDataID, geometryID).Scan(&param, &w2t, &coords)
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("textureparam %d/%d: %w", surfaceDataID, geometryID, ErrNotFound)
	}
	if err != nil {
		return p, err
	}
	p.IsTextureParametrization = param != 0
	p.WorldToTexture = w2t.String
	if len(coords) > 0 {
		g, err := wkb.Unmarshal(coords)
		if err != nil {
			return p, fmt.Errorf("decode texture coordinates: %w", err)
		}
		ls, ok := g.(orb.LineString)
		if !ok {
			return p, fmt.Errorf("texture coordinates are %s: %w", g.GeoJSONType(), ErrInvalidGeometry)
		}
		p.TextureCoordinates = ls
	}
	return p, nil
}

// InsertTexImage creates a TEX_IMAGE row whose data is imported later.
func (s *Store) InsertTexImage(ctx context.Context, uri string) (int64, error) {
	res, err := s.exec(ctx, "INSERT INTO TEX_IMAGE (TEX_IMAGE_URI) VALUES (?)", uri)
	if err != nil {
		return 0, fmt.Errorf("insert tex image: %w", err)
	}
	return res.LastInsertId()
}

// SetTexImageData stores the image bytes of row id.
func (s *Store) SetTexImageData(ctx context.Context, id int64, data []byte, mimeType string) error {
	return s.updateOne(ctx, "TEX_IMAGE", id,
		"UPDATE TEX_IMAGE SET TEX_IMAGE_DATA = ?, TEX_MIME_TYPE = ? WHERE ID = ?", data, mimeType, id)
}

// TexImage returns the stored image bytes and MIME type of row id.
func (s *Store) TexImage(ctx context.Context, id int64) (data []byte, mimeType string, err error) {
	var mt sql.NullString
	err = s.db.QueryRowContext(ctx, "SELECT TEX_IMAGE_DATA, TEX_MIME_TYPE FROM TEX_IMAGE WHERE ID = ?", id).Scan(&data, &mt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("tex image %d: %w", id, ErrNotFound)
	}
	return data, mt.String, err
}

// SetGeoreference stores a world file's orientation matrix and reference
// point on a georeferenced texture.
func (s *Store) SetGeoreference(ctx context.Context, surfaceDataID int64, orientation string, ref orb.Point) error {
	pt, err := wkb.Marshal(ref)
	if err != nil {
		return fmt.Errorf("encode reference point: %w", err)
	}
	return s.updateOne(ctx, "SURFACE_DATA", surfaceDataID,
		"UPDATE SURFACE_DATA SET GT_ORIENTATION = ?, GT_REFERENCE_POINT = ? WHERE ID = ?", orientation, pt, surfaceDataID)
}

// Georeference reads back what SetGeoreference stored.
func (s *Store) Georeference(ctx context.Context, surfaceDataID int64) (string, orb.Point, error) {
	var (
		orientation sql.NullString
		blob        []byte
	)
	err := s.db.QueryRowContext(ctx, "SELECT GT_ORIENTATION, GT_REFERENCE_POINT FROM SURFACE_DATA WHERE ID = ?",
		surfaceDataID).Scan(&orientation, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return "", orb.Point{}, fmt.Errorf("surface data %d: %w", surfaceDataID, ErrNotFound)
	}
	if err != nil || len(blob) == 0 {
		return orientation.String, orb.Point{}, err
	}
	g, err := wkb.Unmarshal(blob)
	if err != nil {
		return "", orb.Point{}, fmt.Errorf("decode reference point: %w", err)
	}
	pt, _ := g.(orb.Point)
	return orientation.String, pt, nil
}

// InsertImplicitGeometry creates an IMPLICIT_GEOMETRY row referencing a
// library object file.
func (s *Store) InsertImplicitGeometry(ctx context.Context, reference string) (int64, error) {
	res, err := s.exec(ctx, "INSERT INTO IMPLICIT_GEOMETRY (REFERENCE_TO_LIBRARY) VALUES (?)", reference)
	if err != nil {
		return 0, fmt.Errorf("insert implicit geometry: %w", err)
	}
	return res.LastInsertId()
}

// SetLibraryObject stores the library object bytes of implicit geometry id.
func (s *Store) SetLibraryObject(ctx context.Context, id int64, data []byte, mimeType string) error {
	return s.updateOne(ctx, "IMPLICIT_GEOMETRY", id,
		"UPDATE IMPLICIT_GEOMETRY SET LIBRARY_OBJECT = ?, MIME_TYPE = ? WHERE ID = ?", data, mimeType, id)
}

// LibraryObject returns the stored library object and its MIME type.
func (s *Store) LibraryObject(ctx context.Context, id int64) (data []byte, mimeType string, err error) {
	var mt sql.NullString
	err = s.db.QueryRowContext(ctx, "SELECT LIBRARY_OBJECT, MIME_TYPE FROM IMPLICIT_GEOMETRY WHERE ID = ?", id).Scan(&data, &mt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("implicit geometry %d: %w", id, ErrNotFound)
	}
	return data, mt.String, err
}

func (s *Store) updateOne(ctx context.Context, table string, id int64, query string, args ...any) error {
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s %d: %w", table, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", table, id, ErrNotFound)
	}
	return nil
}
