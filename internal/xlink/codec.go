package xlink

import (
	"database/sql"
	"fmt"
)

// RowScanner is satisfied by *sql.Rows and *sql.Row.
type RowScanner interface {
	Scan(dest ...any) error
}

// Values returns the column values of an item in the order of its model's
// Columns, ready to be bound to an insert statement.
func Values(it Item) []any {
	return it.values()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (x *Basic) values() []any {
	return []any{x.ID, int(x.FromTable), x.GmlID, int(x.ToTable), nullable(x.AttrName)}
}

func (x *GroupToCityObject) values() []any {
	return []any{x.GroupID, x.GmlID, boolInt(x.IsParent), nullable(x.Role)}
}

func (x *TextureParam) values() []any {
	return []any{
		x.ID,
		x.GmlID,
		int(x.Type),
		boolInt(x.IsTextureParameterization),
		nullable(x.TexParamGmlID),
		nullable(x.WorldToTexture),
		nullable(x.TextureCoord),
		nullable(x.TargetURI),
		nullable(x.TexCoordListID),
	}
}

func (x *TextureFile) values() []any {
	return []any{x.ID, x.FileURI, boolInt(x.IsWorldFile)}
}

func (x *TextureAssociation) values() []any {
	return []any{x.ID, x.GmlID, x.SurfaceGeometryID}
}

func (x *LibraryObject) values() []any {
	return []any{x.ID, x.FileURI}
}

func (x *DeprecatedMaterial) values() []any {
	return []any{x.ID, x.GmlID, x.SurfaceGeometryID}
}

func (x *SurfaceGeometry) values() []any {
	return []any{
		x.ID,
		x.ParentID,
		x.RootID,
		boolInt(x.Reverse),
		x.GmlID,
		x.CityObjectID,
		int(x.FromTable),
		nullable(x.AttrName),
	}
}

// Decode reads one cache row of the given model. The scanner must yield the
// model's Columns in order.
func Decode(m Model, r RowScanner) (Item, error) {
	switch m {
	case ModelBasic:
		var (
			x        Basic
			from, to int
			attr     sql.NullString
			gmlID    sql.NullString
		)
		if err := r.Scan(&x.ID, &from, &gmlID, &to, &attr); err != nil {
			return nil, err
		}
		x.FromTable, x.ToTable = TableFromInt(from), TableFromInt(to)
		x.GmlID, x.AttrName = gmlID.String, attr.String
		return &x, nil

	case ModelGroupToCityObject:
		var (
			x           GroupToCityObject
			isParent    int
			gmlID, role sql.NullString
		)
		if err := r.Scan(&x.GroupID, &gmlID, &isParent, &role); err != nil {
			return nil, err
		}
		x.GmlID, x.IsParent, x.Role = gmlID.String, isParent == 1, role.String
		return &x, nil

	case ModelTextureParam:
		var (
			x                                 TextureParam
			typ                               int
			isTexParam                        sql.NullInt64
			gmlID, texParamGmlID, worldToTex  sql.NullString
			texCoord, targetURI, texCoordList sql.NullString
		)
		if err := r.Scan(&x.ID, &gmlID, &typ, &isTexParam, &texParamGmlID, &worldToTex,
			&texCoord, &targetURI, &texCoordList); err != nil {
			return nil, err
		}
		x.GmlID = gmlID.String
		x.Type = TextureParamTypeFromInt(typ)
		x.IsTextureParameterization = isTexParam.Valid && isTexParam.Int64 != 0
		x.TexParamGmlID = texParamGmlID.String
		x.WorldToTexture = worldToTex.String
		x.TextureCoord = texCoord.String
		x.TargetURI = targetURI.String
		x.TexCoordListID = texCoordList.String
		return &x, nil

	case ModelTextureFile:
		var (
			x       TextureFile
			uri     sql.NullString
			isWorld int
		)
		if err := r.Scan(&x.ID, &uri, &isWorld); err != nil {
			return nil, err
		}
		x.FileURI, x.IsWorldFile = uri.String, isWorld == 1
		return &x, nil

	case ModelTextureAssociation:
		var (
			x     TextureAssociation
			gmlID sql.NullString
		)
		if err := r.Scan(&x.ID, &gmlID, &x.SurfaceGeometryID); err != nil {
			return nil, err
		}
		x.GmlID = gmlID.String
		return &x, nil

	case ModelLibraryObject:
		var (
			x   LibraryObject
			uri sql.NullString
		)
		if err := r.Scan(&x.ID, &uri); err != nil {
			return nil, err
		}
		x.FileURI = uri.String
		return &x, nil

	case ModelDeprecatedMaterial:
		var (
			x     DeprecatedMaterial
			gmlID sql.NullString
		)
		if err := r.Scan(&x.ID, &gmlID, &x.SurfaceGeometryID); err != nil {
			return nil, err
		}
		x.GmlID = gmlID.String
		return &x, nil

	case ModelSurfaceGeometry:
		var (
			x            SurfaceGeometry
			reverse      int
			from         int
			gmlID, attr  sql.NullString
			parent, root sql.NullInt64
		)
		if err := r.Scan(&x.ID, &parent, &root, &reverse, &gmlID, &x.CityObjectID, &from, &attr); err != nil {
			return nil, err
		}
		x.ParentID, x.RootID = parent.Int64, root.Int64
		x.Reverse = reverse == 1
		x.GmlID = gmlID.String
		x.FromTable = TableFromInt(from)
		x.AttrName = attr.String
		return &x, nil
	}
	return nil, fmt.Errorf("decode: unknown xlink model %d", int(m))
}
