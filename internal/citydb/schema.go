package citydb

// schema is the subset of the city database the resolution stage reads and
// writes. Geometries and texture coordinates are stored as WKB blobs.
const schema = `
CREATE TABLE IF NOT EXISTS CITYOBJECT (
	ID INTEGER PRIMARY KEY,
	OBJECTCLASS_ID INTEGER NOT NULL,
	GMLID TEXT
);
CREATE INDEX IF NOT EXISTS CITYOBJECT_GMLID_IDX ON CITYOBJECT(GMLID);

CREATE TABLE IF NOT EXISTS BUILDING (
	ID INTEGER PRIMARY KEY,
	BUILDING_PARENT_ID INTEGER,
	BUILDING_ROOT_ID INTEGER,
	LOD1_SOLID_ID INTEGER,
	LOD2_SOLID_ID INTEGER,
	LOD2_MULTI_SURFACE_ID INTEGER,
	LOD3_MULTI_SURFACE_ID INTEGER,
	LOD4_MULTI_SURFACE_ID INTEGER
);

CREATE TABLE IF NOT EXISTS THEMATIC_SURFACE (
	ID INTEGER PRIMARY KEY,
	BUILDING_ID INTEGER,
	LOD2_MULTI_SURFACE_ID INTEGER,
	LOD3_MULTI_SURFACE_ID INTEGER,
	LOD4_MULTI_SURFACE_ID INTEGER
);

CREATE TABLE IF NOT EXISTS OPENING (
	ID INTEGER PRIMARY KEY,
	ADDRESS_ID INTEGER,
	LOD3_MULTI_SURFACE_ID INTEGER,
	LOD4_MULTI_SURFACE_ID INTEGER
);

CREATE TABLE IF NOT EXISTS OPENING_TO_THEM_SURFACE (
	OPENING_ID INTEGER NOT NULL,
	THEMATIC_SURFACE_ID INTEGER NOT NULL,
	PRIMARY KEY (OPENING_ID, THEMATIC_SURFACE_ID)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS ADDRESS (
	ID INTEGER PRIMARY KEY,
	GMLID TEXT,
	STREET TEXT
);
CREATE INDEX IF NOT EXISTS ADDRESS_GMLID_IDX ON ADDRESS(GMLID);

CREATE TABLE IF NOT EXISTS ADDRESS_TO_BUILDING (
	BUILDING_ID INTEGER NOT NULL,
	ADDRESS_ID INTEGER NOT NULL,
	PRIMARY KEY (BUILDING_ID, ADDRESS_ID)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS GENERALIZATION (
	CITYOBJECT_ID INTEGER NOT NULL,
	GENERALIZES_TO_ID INTEGER NOT NULL,
	PRIMARY KEY (CITYOBJECT_ID, GENERALIZES_TO_ID)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS CITYOBJECTGROUP (
	ID INTEGER PRIMARY KEY,
	PARENT_CITYOBJECT_ID INTEGER,
	SURFACE_GEOMETRY_ID INTEGER
);

CREATE TABLE IF NOT EXISTS GROUP_TO_CITYOBJECT (
	CITYOBJECT_ID INTEGER NOT NULL,
	CITYOBJECTGROUP_ID INTEGER NOT NULL,
	ROLE TEXT,
	PRIMARY KEY (CITYOBJECT_ID, CITYOBJECTGROUP_ID)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS SURFACE_GEOMETRY (
	ID INTEGER PRIMARY KEY,
	GMLID TEXT,
	PARENT_ID INTEGER,
	ROOT_ID INTEGER,
	IS_SOLID INTEGER NOT NULL DEFAULT 0,
	IS_COMPOSITE INTEGER NOT NULL DEFAULT 0,
	IS_XLINK INTEGER NOT NULL DEFAULT 0,
	IS_REVERSE INTEGER NOT NULL DEFAULT 0,
	GEOMETRY BLOB,
	CITYOBJECT_ID INTEGER
);
CREATE INDEX IF NOT EXISTS SURFACE_GEOMETRY_GMLID_IDX ON SURFACE_GEOMETRY(GMLID);
CREATE INDEX IF NOT EXISTS SURFACE_GEOMETRY_PARENT_IDX ON SURFACE_GEOMETRY(PARENT_ID);
CREATE INDEX IF NOT EXISTS SURFACE_GEOMETRY_ROOT_IDX ON SURFACE_GEOMETRY(ROOT_ID);

CREATE TABLE IF NOT EXISTS APPEARANCE (
	ID INTEGER PRIMARY KEY,
	GMLID TEXT,
	THEME TEXT,
	CITYOBJECT_ID INTEGER
);

CREATE TABLE IF NOT EXISTS SURFACE_DATA (
	ID INTEGER PRIMARY KEY,
	GMLID TEXT,
	IS_FRONT INTEGER NOT NULL DEFAULT 1,
	TEX_IMAGE_ID INTEGER,
	GT_ORIENTATION TEXT,
	GT_REFERENCE_POINT BLOB
);
CREATE INDEX IF NOT EXISTS SURFACE_DATA_GMLID_IDX ON SURFACE_DATA(GMLID);

CREATE TABLE IF NOT EXISTS APPEAR_TO_SURFACE_DATA (
	SURFACE_DATA_ID INTEGER NOT NULL,
	APPEARANCE_ID INTEGER NOT NULL,
	PRIMARY KEY (SURFACE_DATA_ID, APPEARANCE_ID)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS TEXTUREPARAM (
	SURFACE_GEOMETRY_ID INTEGER NOT NULL,
	IS_TEXTURE_PARAMETRIZATION INTEGER NOT NULL DEFAULT 0,
	WORLD_TO_TEXTURE TEXT,
	TEXTURE_COORDINATES BLOB,
	SURFACE_DATA_ID INTEGER NOT NULL,
	PRIMARY KEY (SURFACE_GEOMETRY_ID, SURFACE_DATA_ID)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS TEX_IMAGE (
	ID INTEGER PRIMARY KEY,
	TEX_IMAGE_URI TEXT,
	TEX_IMAGE_DATA BLOB,
	TEX_MIME_TYPE TEXT
);

CREATE TABLE IF NOT EXISTS IMPLICIT_GEOMETRY (
	ID INTEGER PRIMARY KEY,
	MIME_TYPE TEXT,
	REFERENCE_TO_LIBRARY TEXT,
	LIBRARY_OBJECT BLOB,
	RELATIVE_BREP_ID INTEGER
);
`
