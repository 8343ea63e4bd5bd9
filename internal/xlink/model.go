// Package xlink defines the pending-reference rows written during the
// streaming import and the typed work items derived from them.
package xlink

import "fmt"

// Model identifies a category of pending references. Each model has its own
// cache table layout.
type Model int

const (
	ModelBasic Model = iota
	ModelGroupToCityObject
	ModelTextureParam
	ModelTextureFile
	ModelTextureAssociation
	ModelLibraryObject
	ModelDeprecatedMaterial
	ModelSurfaceGeometry
)

// Models lists every category in a stable order.
var Models = []Model{
	ModelBasic,
	ModelGroupToCityObject,
	ModelTextureParam,
	ModelTextureFile,
	ModelTextureAssociation,
	ModelLibraryObject,
	ModelDeprecatedMaterial,
	ModelSurfaceGeometry,
}

// Column describes one cache table column.
type Column struct {
	Name string
	Type string // SQLite type affinity
}

type modelDef struct {
	name      string
	table     string
	columns   []Column
	index     []string
	recursive bool
}

var modelDefs = map[Model]modelDef{
	ModelBasic: {
		name:  "basic",
		table: "TMP_XLINK_BASIC",
		columns: []Column{
			{"ID", "INTEGER"},
			{"FROM_TABLE", "INTEGER"},
			{"GMLID", "TEXT"},
			{"TO_TABLE", "INTEGER"},
			{"ATTRNAME", "TEXT"},
		},
		index: []string{"GMLID"},
	},
	ModelGroupToCityObject: {
		name:  "group_to_cityobject",
		table: "TMP_XLINK_GROUP_TO_CITYOBJECT",
		columns: []Column{
			{"GROUP_ID", "INTEGER"},
			{"GMLID", "TEXT"},
			{"IS_PARENT", "INTEGER"},
			{"ROLE", "TEXT"},
		},
		index:     []string{"GMLID", "GROUP_ID"},
		recursive: true,
	},
	ModelTextureParam: {
		name:  "texture_param",
		table: "TMP_XLINK_TEXTUREPARAM",
		columns: []Column{
			{"ID", "INTEGER"},
			{"GMLID", "TEXT"},
			{"TYPE", "INTEGER"},
			{"IS_TEXTURE_PARAMETERIZATION", "INTEGER"},
			{"TEXPARAM_GMLID", "TEXT"},
			{"WORLD_TO_TEXTURE", "TEXT"},
			{"TEXTURE_COORDINATES", "TEXT"},
			{"TARGET_URI", "TEXT"},
			{"TEXCOORDLIST_ID", "TEXT"},
		},
		index: []string{"GMLID", "TYPE"},
	},
	ModelTextureFile: {
		name:  "texture_file",
		table: "TMP_XLINK_TEXTURE_FILE",
		columns: []Column{
			{"ID", "INTEGER"},
			{"FILE_URI", "TEXT"},
			{"IS_WORLD_FILE", "INTEGER"},
		},
		index: []string{"FILE_URI"},
	},
	ModelTextureAssociation: {
		name:  "texture_association",
		table: "TMP_XLINK_TEXTUREASSOCIATION",
		columns: []Column{
			{"ID", "INTEGER"},
			{"GMLID", "TEXT"},
			{"SURFACE_GEOMETRY_ID", "INTEGER"},
		},
		index: []string{"GMLID"},
	},
	ModelLibraryObject: {
		name:  "library_object",
		table: "TMP_XLINK_LIBRARY_OBJECT",
		columns: []Column{
			{"ID", "INTEGER"},
			{"FILE_URI", "TEXT"},
		},
		index: []string{"FILE_URI"},
	},
	ModelDeprecatedMaterial: {
		name:  "deprecated_material",
		table: "TMP_XLINK_DEPRECATED_MATERIAL",
		columns: []Column{
			{"ID", "INTEGER"},
			{"GMLID", "TEXT"},
			{"SURFACE_GEOMETRY_ID", "INTEGER"},
		},
		index: []string{"GMLID"},
	},
	ModelSurfaceGeometry: {
		name:  "surface_geometry",
		table: "TMP_XLINK_SURFACE_GEOMETRY",
		columns: []Column{
			{"ID", "INTEGER"},
			{"PARENT_ID", "INTEGER"},
			{"ROOT_ID", "INTEGER"},
			{"REVERSE", "INTEGER"},
			{"GMLID", "TEXT"},
			{"CITYOBJECT_ID", "INTEGER"},
			{"FROM_TABLE", "INTEGER"},
			{"ATTRNAME", "TEXT"},
		},
		index:     []string{"GMLID", "PARENT_ID"},
		recursive: true,
	},
}

func (m Model) def() modelDef {
	d, ok := modelDefs[m]
	if !ok {
		panic(fmt.Sprintf("xlink: unknown model %d", int(m)))
	}
	return d
}

// Valid reports whether m is a known model.
func (m Model) Valid() bool {
	_, ok := modelDefs[m]
	return ok
}

func (m Model) String() string {
	if d, ok := modelDefs[m]; ok {
		return d.name
	}
	return fmt.Sprintf("model(%d)", int(m))
}

// TableName is the cache table name used for the live generation.
func (m Model) TableName() string { return m.def().table }

// Columns returns the cache table columns in scan order.
func (m Model) Columns() []Column { return m.def().columns }

// IndexColumns are indexed on every mirror and by EnableIndexes.
func (m Model) IndexColumns() []string { return m.def().index }

// Recursive reports whether unresolved rows of this model may be re-queued
// for a later pass.
func (m Model) Recursive() bool { return m.def().recursive }

// ParseModel maps a model name back to its Model.
func ParseModel(name string) (Model, error) {
	for m, d := range modelDefs {
		if d.name == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown xlink model %q", name)
}
