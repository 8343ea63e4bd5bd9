package xlink

// Item is a work item handed to the resolver pool. The set of item kinds is
// closed: only the types in this package implement it.
type Item interface {
	// Model returns the category the item belongs to.
	Model() Model
	// OwnerID is the database row holding the dangling reference.
	OwnerID() int64
	// TargetGmlID is the gml:id being referenced ("" for file references).
	TargetGmlID() string

	values() []any
}

// Basic is a reference from a feature column or link table to another
// feature, resolved by gml:id within ToTable.
type Basic struct {
	ID        int64
	FromTable Table
	GmlID     string
	ToTable   Table
	AttrName  string
}

// GroupToCityObject links a CityObjectGroup to a member, or to its parent
// when IsParent is set.
type GroupToCityObject struct {
	GroupID  int64
	GmlID    string
	IsParent bool
	Role     string
}

// TextureParamType distinguishes how a texture parameterization row is
// resolved.
type TextureParamType int

const (
	TextureParamUndefined TextureParamType = iota
	TextureParamTexCoordList
	TextureParamTexCoordGen
	TextureParamXlinkTextureAssociation
)

// TextureParamTypeFromInt decodes a stored TYPE value.
func TextureParamTypeFromInt(i int) TextureParamType {
	switch TextureParamType(i) {
	case TextureParamTexCoordList, TextureParamTexCoordGen, TextureParamXlinkTextureAssociation:
		return TextureParamType(i)
	}
	return TextureParamUndefined
}

func (t TextureParamType) String() string {
	switch t {
	case TextureParamTexCoordList:
		return "TexCoordList"
	case TextureParamTexCoordGen:
		return "TexCoordGen"
	case TextureParamXlinkTextureAssociation:
		return "XlinkTextureAssociation"
	}
	return "Undefined"
}

// TextureParam binds surface data (ID) to a target geometry (GmlID).
// For XlinkTextureAssociation rows, GmlID names the referenced
// TextureAssociation and TargetURI the target geometry.
type TextureParam struct {
	ID                        int64
	GmlID                     string
	Type                      TextureParamType
	IsTextureParameterization bool
	TexParamGmlID             string
	WorldToTexture            string
	TextureCoord              string
	TargetURI                 string
	TexCoordListID            string
}

// TextureFile imports a texture image (ID is a TEX_IMAGE row) or a world
// file (ID is a SURFACE_DATA row).
type TextureFile struct {
	ID          int64
	FileURI     string
	IsWorldFile bool
}

// TextureAssociation records where a TextureAssociation element with a
// gml:id was written, so that xlinks to it can be copied later. It is a
// lookup row and never dispatched to a resolver.
type TextureAssociation struct {
	ID                int64 // SURFACE_DATA row
	GmlID             string
	SurfaceGeometryID int64
}

// LibraryObject imports the library object of an implicit geometry.
type LibraryObject struct {
	ID      int64
	FileURI string
}

// DeprecatedMaterial is a TexturedSurface reference to a material or
// texture defined elsewhere.
type DeprecatedMaterial struct {
	ID                int64 // APPEARANCE row
	GmlID             string
	SurfaceGeometryID int64
}

// SurfaceGeometry references a geometry tree by gml:id. With a ParentID the
// referenced tree is copied below that node; with ParentID == 0 the
// reference sits directly on a feature column (FromTable.AttrName of row ID).
type SurfaceGeometry struct {
	ID           int64
	ParentID     int64
	RootID       int64
	Reverse      bool
	GmlID        string
	CityObjectID int64
	FromTable    Table
	AttrName     string
}

func (x *Basic) Model() Model { return ModelBasic }
func (x *GroupToCityObject) Model() Model { return ModelGroupToCityObject }
func (x *TextureParam) Model() Model { return ModelTextureParam }
func (x *TextureFile) Model() Model { return ModelTextureFile }
func (x *TextureAssociation) Model() Model { return ModelTextureAssociation }
func (x *LibraryObject) Model() Model { return ModelLibraryObject }
func (x *DeprecatedMaterial) Model() Model { return ModelDeprecatedMaterial }
func (x *SurfaceGeometry) Model() Model { return ModelSurfaceGeometry }

func (x *Basic) OwnerID() int64 { return x.ID }
func (x *GroupToCityObject) OwnerID() int64 { return x.GroupID }
func (x *TextureParam) OwnerID() int64 { return x.ID }
func (x *TextureFile) OwnerID() int64 { return x.ID }
func (x *TextureAssociation) OwnerID() int64 { return x.ID }
func (x *LibraryObject) OwnerID() int64 { return x.ID }
func (x *DeprecatedMaterial) OwnerID() int64 { return x.ID }
func (x *SurfaceGeometry) OwnerID() int64 { return x.ID }

func (x *Basic) TargetGmlID() string { return x.GmlID }
func (x *GroupToCityObject) TargetGmlID() string { return x.GmlID }
func (x *TextureParam) TargetGmlID() string { return x.GmlID }
func (x *TextureFile) TargetGmlID() string { return "" }
func (x *TextureAssociation) TargetGmlID() string { return x.GmlID }
func (x *LibraryObject) TargetGmlID() string { return "" }
func (x *DeprecatedMaterial) TargetGmlID() string { return x.GmlID }
func (x *SurfaceGeometry) TargetGmlID() string { return x.GmlID }
