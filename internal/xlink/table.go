package xlink

// Table enumerates the city database tables a pending reference can point
// from or to. The ordinal is what gets stored in FROM_TABLE / TO_TABLE.
type Table int

const (
	TableUnknown Table = iota
	TableCityObject
	TableBuilding
	TableThematicSurface
	TableOpening
	TableOpeningToThemSurface
	TableAddress
	TableAddressToBuilding
	TableGeneralization
	TableCityObjectGroup
	TableGroupToCityObject
	TableSurfaceGeometry
	TableAppearance
	TableSurfaceData
	TableTextureParam
	TableAppearToSurfaceData
	TableTexImage
	TableImplicitGeometry
)

var tableNames = [...]string{
	TableUnknown:              "",
	TableCityObject:           "CITYOBJECT",
	TableBuilding:             "BUILDING",
	TableThematicSurface:      "THEMATIC_SURFACE",
	TableOpening:              "OPENING",
	TableOpeningToThemSurface: "OPENING_TO_THEM_SURFACE",
	TableAddress:              "ADDRESS",
	TableAddressToBuilding:    "ADDRESS_TO_BUILDING",
	TableGeneralization:       "GENERALIZATION",
	TableCityObjectGroup:      "CITYOBJECTGROUP",
	TableGroupToCityObject:    "GROUP_TO_CITYOBJECT",
	TableSurfaceGeometry:      "SURFACE_GEOMETRY",
	TableAppearance:           "APPEARANCE",
	TableSurfaceData:          "SURFACE_DATA",
	TableTextureParam:         "TEXTUREPARAM",
	TableAppearToSurfaceData:  "APPEAR_TO_SURFACE_DATA",
	TableTexImage:             "TEX_IMAGE",
	TableImplicitGeometry:     "IMPLICIT_GEOMETRY",
}

// TableFromInt decodes a stored ordinal. Out-of-range values map to
// TableUnknown.
func TableFromInt(i int) Table {
	if i <= 0 || i >= len(tableNames) {
		return TableUnknown
	}
	return Table(i)
}

// String returns the SQL table name, or "" for TableUnknown.
func (t Table) String() string {
	if t <= 0 || int(t) >= len(tableNames) {
		return ""
	}
	return tableNames[t]
}
