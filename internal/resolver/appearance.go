package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/agentic-research/cityxlink/internal/citydb"
	"github.com/agentic-research/cityxlink/internal/xlink"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/paulmach/orb"
)

// AssociationLookup finds the texture associations staged under a gml:id.
type AssociationLookup interface {
	Associations(ctx context.Context, gmlID string) ([]*xlink.TextureAssociation, error)
}

// TextureParam links surface data to target geometries. Rows of type
// XlinkTextureAssociation copy the parameterization of a referenced
// texture association instead.
type TextureParam struct {
	Store        *citydb.Store
	Associations AssociationLookup
}

func (r *TextureParam) Resolve(ctx context.Context, item xlink.Item) (Outcome, error) {
	x, ok := item.(*xlink.TextureParam)
	if !ok {
		return Outcome{}, unexpected(item)
	}
	if x.Type == xlink.TextureParamXlinkTextureAssociation {
		return r.resolveAssociation(ctx, x)
	}

	target, err := r.Store.GeometryByGmlID(ctx, trimRef(x.GmlID))
	if err != nil {
		return classify(err)
	}

	p := citydb.TextureParam{
		SurfaceGeometryID:        target.ID,
		SurfaceDataID:            x.ID,
		IsTextureParametrization: x.IsTextureParameterization,
	}
	switch x.Type {
	case xlink.TextureParamTexCoordList:
		coords, err := citydb.ParseTextureCoordinates(x.TextureCoord)
		if err != nil {
			return Invalid("%v", err), nil
		}
		p.TextureCoordinates = coords
		p.IsTextureParametrization = true
	case xlink.TextureParamTexCoordGen:
		if strings.TrimSpace(x.WorldToTexture) == "" {
			return Invalid("texture coordinate generation without worldToTexture matrix"), nil
		}
		p.WorldToTexture = x.WorldToTexture
		p.IsTextureParametrization = true
	}
	return classify(r.Store.InsertTextureParam(ctx, p))
}

func (r *TextureParam) resolveAssociation(ctx context.Context, x *xlink.TextureParam) (Outcome, error) {
	if r.Associations == nil {
		return Invalid("texture associations are not available"), nil
	}
	assocs, err := r.Associations.Associations(ctx, trimRef(x.GmlID))
	if err != nil {
		return Outcome{}, err
	}
	if len(assocs) == 0 {
		return Invalid("no texture association with gml:id %q", x.GmlID), nil
	}
	target, err := r.Store.GeometryByGmlID(ctx, trimRef(x.TargetURI))
	if err != nil {
		return classify(err)
	}

	copied := 0
	for _, a := range assocs {
		p, err := r.Store.TextureParamFor(ctx, a.ID, a.SurfaceGeometryID)
		if errors.Is(err, citydb.ErrNotFound) {
			continue
		}
		if err != nil {
			return classify(err)
		}
		p.SurfaceDataID = x.ID
		p.SurfaceGeometryID = target.ID
		if err := r.Store.InsertTextureParam(ctx, p); err != nil {
			return classify(err)
		}
		copied++
	}
	if copied == 0 {
		return Invalid("texture association %q has no parameterization", x.GmlID), nil
	}
	return Resolved(), nil
}

// readFile loads uri from fsys. Remote resources are not fetched.
func readFile(fsys billy.Filesystem, uri string) ([]byte, Outcome, bool) {
	if fsys == nil {
		return nil, Invalid("no import directory to read %q from", uri), false
	}
	if strings.Contains(uri, "://") && !strings.HasPrefix(uri, "file://") {
		return nil, Invalid("remote resource %q is not supported", uri), false
	}
	path := strings.TrimPrefix(uri, "file://")
	data, err := util.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, Invalid("file %q not found", uri), false
		}
		return nil, Invalid("read %q: %v", uri, err), false
	}
	return data, Outcome{}, true
}

// TextureFile imports texture images and world files.
type TextureFile struct {
	Store *citydb.Store
	FS    billy.Filesystem
}

func (r *TextureFile) Resolve(ctx context.Context, item xlink.Item) (Outcome, error) {
	x, ok := item.(*xlink.TextureFile)
	if !ok {
		return Outcome{}, unexpected(item)
	}
	data, out, ok := readFile(r.FS, x.FileURI)
	if !ok {
		return out, nil
	}

	if x.IsWorldFile {
		orientation, ref, err := ParseWorldFile(data)
		if err != nil {
			return Invalid("world file %q: %v", x.FileURI, err), nil
		}
		return classify(r.Store.SetGeoreference(ctx, x.ID, orientation, ref))
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return Invalid("texture %q is %s, not an image", x.FileURI, mt.String()), nil
	}
	return classify(r.Store.SetTexImageData(ctx, x.ID, data, mt.String()))
}

// ParseWorldFile reads the six parameters of an ESRI world file. The
// orientation is returned as the row-major 2x2 matrix "A B D E" and the
// reference point as (C, F).
func ParseWorldFile(data []byte) (string, orb.Point, error) {
	fields := strings.Fields(string(data))
	if len(fields) != 6 {
		return "", orb.Point{}, fmt.Errorf("expected 6 values, got %d", len(fields))
	}
	var v [6]float64
	for i, f := range fields {
		n, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return "", orb.Point{}, fmt.Errorf("value %d: %w", i+1, err)
		}
		v[i] = n
	}
	// Line order is A, D, B, E, C, F.
	a, d, b, e, c, f := v[0], v[1], v[2], v[3], v[4], v[5]
	orientation := strings.Join([]string{
		strconv.FormatFloat(a, 'g', -1, 64),
		strconv.FormatFloat(b, 'g', -1, 64),
		strconv.FormatFloat(d, 'g', -1, 64),
		strconv.FormatFloat(e, 'g', -1, 64),
	}, " ")
	return orientation, orb.Point{c, f}, nil
}

// LibraryObject imports the library object file of an implicit geometry.
type LibraryObject struct {
	Store *citydb.Store
	FS    billy.Filesystem
}

func (r *LibraryObject) Resolve(ctx context.Context, item xlink.Item) (Outcome, error) {
	x, ok := item.(*xlink.LibraryObject)
	if !ok {
		return Outcome{}, unexpected(item)
	}
	data, out, ok := readFile(r.FS, x.FileURI)
	if !ok {
		return out, nil
	}
	return classify(r.Store.SetLibraryObject(ctx, x.ID, data, mimetype.Detect(data).String()))
}

// DeprecatedMaterial resolves TexturedSurface references to a material or
// texture defined elsewhere in the document.
type DeprecatedMaterial struct {
	Store *citydb.Store
}

func (r *DeprecatedMaterial) Resolve(ctx context.Context, item xlink.Item) (Outcome, error) {
	x, ok := item.(*xlink.DeprecatedMaterial)
	if !ok {
		return Outcome{}, unexpected(item)
	}
	sd, err := r.Store.LookupID(ctx, xlink.TableSurfaceData, trimRef(x.GmlID))
	if err != nil {
		return classify(err)
	}
	if err := r.Store.Link(ctx, xlink.TableAppearToSurfaceData, x.ID, sd); err != nil {
		return classify(err)
	}
	return classify(r.Store.InsertTextureParam(ctx, citydb.TextureParam{
		SurfaceGeometryID: x.SurfaceGeometryID,
		SurfaceDataID:     sd,
	}))
}
