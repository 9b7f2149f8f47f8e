// Package projection implements the GeoTIFF projection layer: turning a
// GeoKeyDirectory plus a ModelTiepoint/ModelPixelScale pair into a
// world-coordinate mapping, and driving forward/inverse transforms through
// an external geodesy engine.
package projection

import (
	"errors"
	"fmt"
	"math"

	"github.com/geotiffio/cloudtiff/geokey"
)

// GeoKey codes this package reads out of a geokey.Directory.
const (
	keyGTModelType        = 1024
	keyGeographicType     = 2048
	keyGeogAngularUnits   = 2054
	keyProjectedCSType    = 3072
)

const geogAngularUnitDegree = 9102

var (
	// ErrUnsupportedModelTransformation is returned when a COG's geo model
	// is Transformed rather than Scaled -- the write path and the render
	// engine only ever produce/consume the Scaled model.
	ErrUnsupportedModelTransformation = errors.New("projection: transformed geo model not supported")
	// ErrNoEPSG is returned when neither ProjectedCSTypeGeoKey nor
	// GeographicTypeGeoKey is present.
	ErrNoEPSG = errors.New("projection: no ProjectedCSTypeGeoKey or GeographicTypeGeoKey")
	// ErrInvalidOrigin is returned when the tiepoint's world XYZ is not
	// finite.
	ErrInvalidOrigin = errors.New("projection: non-finite origin")
	// ErrInvalidScale is returned when the X or Y pixel scale is not a
	// normal, nonzero float.
	ErrInvalidScale = errors.New("projection: non-normal x/y scale")
)

// Engine is the opaque geodesy handle: a coordinate transform between two
// EPSG-identified coordinate reference systems. Implementations wrap a
// real geodesy library; see cloudtiff's use of github.com/twpayne/go-proj.
type Engine interface {
	Transform(srcEPSG, dstEPSG uint16, x, y, z float64) (float64, float64, float64, error)
}

// Projection is a COG's raster-to-world mapping: its own EPSG, the engine
// used to reach any other EPSG, and the affine origin/scale derived from
// the Scaled geo model.
type Projection struct {
	EPSG   uint16
	Engine Engine
	Origin [3]float64
	Scale  [3]float64
}

// New builds a Projection from a GeoKeyDirectory and geo model, scaled to
// an image of size w x h. Only the Scaled model is supported; a
// Transformed model is rejected with ErrUnsupportedModelTransformation.
func New(engine Engine, dir geokey.Directory, model geokey.Model, w, h int) (*Projection, error) {
	if model.Kind != geokey.ModelScaled {
		return nil, ErrUnsupportedModelTransformation
	}
	if len(model.Tiepoint) != 6 || len(model.PixelScale) != 3 {
		return nil, fmt.Errorf("projection: malformed scaled model (tiepoint=%d scale=%d)", len(model.Tiepoint), len(model.PixelScale))
	}

	epsg, err := extractEPSG(dir)
	if err != nil {
		return nil, err
	}

	unitGain := 1.0
	if epsg == 4326 {
		if k, ok := dir.Get(keyGeogAngularUnits); ok && k.Value.Kind == geokey.KindShort && len(k.Value.Short) > 0 && k.Value.Short[0] == geogAngularUnitDegree {
			unitGain = math.Pi / 180
		}
	}

	tp, ps := model.Tiepoint, model.PixelScale
	origin := [3]float64{tp[3] * unitGain, tp[4] * unitGain, tp[5] * unitGain}
	for _, v := range origin {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ErrInvalidOrigin
		}
	}

	scale := [3]float64{
		ps[0] * unitGain * float64(w),
		ps[1] * unitGain * float64(h),
		ps[2] * unitGain,
	}
	if !isNormalNonzero(scale[0]) || !isNormalNonzero(scale[1]) {
		return nil, ErrInvalidScale
	}

	return &Projection{EPSG: epsg, Engine: engine, Origin: origin, Scale: scale}, nil
}

func isNormalNonzero(f float64) bool {
	if f == 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return false
	}
	return math.Abs(f) >= 0x1p-1022 // smallest normal float64
}

func extractEPSG(dir geokey.Directory) (uint16, error) {
	if k, ok := dir.Get(keyProjectedCSType); ok && k.Value.Kind == geokey.KindShort && len(k.Value.Short) > 0 && k.Value.Short[0] != 0 {
		return k.Value.Short[0], nil
	}
	if k, ok := dir.Get(keyGeographicType); ok && k.Value.Kind == geokey.KindShort && len(k.Value.Short) > 0 && k.Value.Short[0] != 0 {
		return k.Value.Short[0], nil
	}
	return 0, ErrNoEPSG
}

// TransformInto maps a normalized image coordinate (u,v,w) -- u,v in
// [0,1], w a height offset -- into world coordinates in the target EPSG.
// The V axis flips: image rows grow downward, world Y grows upward.
func (p *Projection) TransformInto(u, v, w float64, epsg uint16) (x, y, z float64, err error) {
	x = p.Origin[0] + u*p.Scale[0]
	y = p.Origin[1] - v*p.Scale[1]
	z = p.Origin[2] + w
	x, y, z, err = p.Engine.Transform(p.EPSG, epsg, x, y, z)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("projection: transform into epsg %d: %w", epsg, err)
	}
	return x, y, z, nil
}

// TransformFrom is the inverse of TransformInto: world coordinates (x,y,z)
// in the given EPSG back to normalized image coordinates (u,v,w).
func (p *Projection) TransformFrom(x, y, z float64, epsg uint16) (u, v, w float64, err error) {
	x, y, z, err = p.Engine.Transform(epsg, p.EPSG, x, y, z)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("projection: transform from epsg %d: %w", epsg, err)
	}
	u = (x - p.Origin[0]) / p.Scale[0]
	v = (p.Origin[1] - y) / p.Scale[1]
	w = z - p.Origin[2]
	return u, v, w, nil
}

// TransformIntoLatLonDeg is a convenience wrapper around TransformInto
// targeting EPSG 4326, returning (lon, lat) in degrees.
func (p *Projection) TransformIntoLatLonDeg(u, v float64) (lon, lat float64, err error) {
	lon, lat, _, err = p.TransformInto(u, v, 0, 4326)
	return lon, lat, err
}

// TransformFromLatLonDeg is the inverse of TransformIntoLatLonDeg.
func (p *Projection) TransformFromLatLonDeg(lon, lat float64) (u, v float64, err error) {
	u, v, _, err = p.TransformFrom(lon, lat, 0, 4326)
	return u, v, err
}

// sampleUV are the 8 sample points bounds uses: the 4 corners plus the 4
// edge midpoints of the unit square.
var sampleUV = [8][2]float64{
	{0, 0}, {1, 0}, {0, 1}, {1, 1},
	{0.5, 0}, {0.5, 1}, {0, 0.5}, {1, 0.5},
}

// Bounds samples 8 points across the image (4 corners + 4 edge midpoints),
// transforms each into epsg, and returns the axis-aligned bounding box as
// (minX, minY, maxX, maxY).
func (p *Projection) Bounds(epsg uint16) (minX, minY, maxX, maxY float64, err error) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, uv := range sampleUV {
		x, y, _, err := p.TransformInto(uv[0], uv[1], 0, epsg)
		if err != nil {
			return 0, 0, 0, 0, err
		}
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	return minX, minY, maxX, maxY, nil
}
