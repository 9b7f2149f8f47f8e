// Package geokey implements the GeoKeyDirectory tag (OGC 19-008r4 / the
// classic GeoTIFF spec): parsing and serializing the GeoKeyDirectoryTag,
// GeoDoubleParamsTag, and GeoAsciiParamsTag triple into a typed key
// sequence, plus the ModelTiepoint/ModelPixelScale/ModelTransformation
// model-selection logic.
package geokey

import (
	"fmt"
	"strings"
)

// Tag IDs for the three tags a GeoKeyDirectory is spread across.
const (
	TagGeoKeyDirectory  = 34735
	TagGeoDoubleParams  = 34736
	TagGeoAsciiParams   = 34737
	TagModelPixelScale  = 33550
	TagModelTiepoint    = 33922
	TagModelTransform   = 34264
)

// ValueKind distinguishes the four shapes a GeoKey's value can take.
type ValueKind uint8

const (
	KindShort ValueKind = iota
	KindAscii
	KindDouble
	KindUndefined
)

// Value holds exactly one of Short, Ascii, or Double depending on Kind.
type Value struct {
	Kind   ValueKind
	Short  []uint16
	Ascii  string
	Double []float64
}

// GeoKey is one tag-like entry inside the GeoKeyDirectory.
type GeoKey struct {
	Code  uint16
	Value Value
}

// Directory is the parsed GeoKeyDirectoryTag plus its out-of-line data.
type Directory struct {
	Version  uint16
	Revision [2]uint16 // major, minor -- (1, 0) for every GeoTIFF in the wild
	Keys     []GeoKey
}

// Get returns the first key with the given code.
func (d Directory) Get(code uint16) (GeoKey, bool) {
	for _, k := range d.Keys {
		if k.Code == code {
			return k, true
		}
	}
	return GeoKey{}, false
}

// ParseDirectory decodes the raw GeoKeyDirectoryTag shorts plus the
// GeoDoubleParamsTag and GeoAsciiParamsTag payloads they reference.
func ParseDirectory(dir []uint16, doubleParams []float64, asciiParams string) (Directory, error) {
	if len(dir) < 4 {
		return Directory{}, fmt.Errorf("geokey: directory header truncated (%d shorts)", len(dir))
	}
	version, revMajor, revMinor, numKeys := dir[0], dir[1], dir[2], dir[3]
	if len(dir) < 4+4*int(numKeys) {
		return Directory{}, fmt.Errorf("geokey: directory declares %d keys but only has room for %d", numKeys, (len(dir)-4)/4)
	}

	keys := make([]GeoKey, 0, numKeys)
	for i := 0; i < int(numKeys); i++ {
		base := 4 + 4*i
		keyID, tagLoc, count, valueOffset := dir[base], dir[base+1], dir[base+2], dir[base+3]

		var v Value
		switch tagLoc {
		case 0:
			v = Value{Kind: KindShort, Short: []uint16{valueOffset}}
		case TagGeoDoubleParams:
			lo, hi := int(valueOffset), int(valueOffset)+int(count)
			if lo < 0 || hi > len(doubleParams) {
				return Directory{}, fmt.Errorf("geokey: key %d double range [%d,%d) out of bounds (%d doubles)", keyID, lo, hi, len(doubleParams))
			}
			vals := append([]float64(nil), doubleParams[lo:hi]...)
			v = Value{Kind: KindDouble, Double: vals}
		case TagGeoAsciiParams:
			lo, hi := int(valueOffset), int(valueOffset)+int(count)
			if lo < 0 || hi > len(asciiParams) {
				return Directory{}, fmt.Errorf("geokey: key %d ascii range [%d,%d) out of bounds (%d bytes)", keyID, lo, hi, len(asciiParams))
			}
			s := strings.TrimRight(asciiParams[lo:hi], "|\x00")
			v = Value{Kind: KindAscii, Ascii: s}
		default:
			return Directory{}, fmt.Errorf("geokey: key %d has unsupported tag location %d", keyID, tagLoc)
		}
		keys = append(keys, GeoKey{Code: keyID, Value: v})
	}
	return Directory{Version: version, Revision: [2]uint16{revMajor, revMinor}, Keys: keys}, nil
}

// Serialize is the inverse of ParseDirectory: it lays out the
// GeoKeyDirectoryTag shorts plus the accompanying double and ascii param
// blobs, ready to be written out as the corresponding TIFF tags.
func Serialize(d Directory) (dir []uint16, doubleParams []float64, asciiParams string) {
	dir = append(dir, d.Version, d.Revision[0], d.Revision[1], uint16(len(d.Keys)))
	var ascii strings.Builder
	for _, k := range d.Keys {
		switch k.Value.Kind {
		case KindShort:
			sv := uint16(0)
			if len(k.Value.Short) > 0 {
				sv = k.Value.Short[0]
			}
			dir = append(dir, k.Code, 0, 1, sv)
		case KindDouble:
			offset := uint16(len(doubleParams))
			doubleParams = append(doubleParams, k.Value.Double...)
			dir = append(dir, k.Code, TagGeoDoubleParams, uint16(len(k.Value.Double)), offset)
		case KindAscii:
			offset := uint16(ascii.Len())
			ascii.WriteString(k.Value.Ascii)
			ascii.WriteByte('|')
			dir = append(dir, k.Code, TagGeoAsciiParams, uint16(len(k.Value.Ascii)+1), offset)
		default:
			dir = append(dir, k.Code, 0, 0, 0)
		}
	}
	asciiParams = ascii.String()
	return dir, doubleParams, asciiParams
}

// ModelKind distinguishes the two ways a raster's pixels map to world
// coordinates.
type ModelKind uint8

const (
	ModelScaled ModelKind = iota
	ModelTransformed
)

// Model is the ModelTiepoint/ModelPixelScale/ModelTransformation geometry:
// either Scaled (a tiepoint plus an axis-aligned pixel scale) or
// Transformed (a full 4x4 affine, optionally anchored by a tiepoint too).
// Tiepoint format is [I,J,K, X,Y,Z]: image-space point and its world
// coordinates.
type Model struct {
	Kind           ModelKind
	Tiepoint       []float64 // len 6
	PixelScale     []float64 // len 3, Scaled only
	Transformation []float64 // len 16, Transformed only
}

// ModelFromTags builds a Model from the raw tag payloads, preferring
// ModelTransformationTag over ModelTiepointTag+ModelPixelScaleTag when both
// are present, matching how a GeoTIFF reader resolves the "xor" in
// practice.
func ModelFromTags(tiepoint, pixelScale, transformation []float64) (Model, error) {
	if len(transformation) > 0 {
		if len(transformation) != 16 {
			return Model{}, fmt.Errorf("geokey: ModelTransformationTag has %d elements, want 16", len(transformation))
		}
		if len(tiepoint) > 0 && len(tiepoint) != 6 {
			return Model{}, fmt.Errorf("geokey: ModelTiepointTag has %d elements, want 6", len(tiepoint))
		}
		return Model{Kind: ModelTransformed, Tiepoint: tiepoint, Transformation: transformation}, nil
	}
	if len(tiepoint) == 6 && len(pixelScale) == 3 {
		return Model{Kind: ModelScaled, Tiepoint: tiepoint, PixelScale: pixelScale}, nil
	}
	return Model{}, fmt.Errorf("geokey: no usable geo model (tiepoint=%d pixelscale=%d transform=%d)", len(tiepoint), len(pixelScale), len(transformation))
}
