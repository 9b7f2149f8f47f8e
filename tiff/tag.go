package tiff

import (
	"fmt"

	"github.com/geotiffio/cloudtiff/endian"
)

// TagType is a TIFF field datatype code.
type TagType uint16

const (
	TByte      TagType = 1
	TAscii     TagType = 2
	TShort     TagType = 3
	TLong      TagType = 4
	TRational  TagType = 5
	TSByte     TagType = 6
	TUndefined TagType = 7
	TSShort    TagType = 8
	TSLong     TagType = 9
	TSRational TagType = 10
	TFloat     TagType = 11
	TDouble    TagType = 12
	TIfd       TagType = 13
	TLong8     TagType = 16
	TSLong8    TagType = 17
	TIfd8      TagType = 18
	// TUnknown is not a real on-disk datatype code: it is the resolved Type
	// for any raw datatype value this codec does not recognize. The raw
	// code is preserved in Tag.RawType and the raw bytes in Tag.Data so the
	// tag round-trips unchanged even though its semantics are opaque to us.
	TUnknown TagType = 0
)

// elementSizes gives the fixed per-element byte size for every recognized
// TagType, per spec: 1/1/2/4/8/1/1/2/4/8/4/8/4/8/8/8 for
// Byte/Ascii/Short/Long/Rational/SByte/Undefined/SShort/SLong/SRational/
// Float/Double/Ifd/Long8/SLong8/Ifd8. TUnknown is 1.
var elementSizes = map[TagType]int{
	TByte: 1, TAscii: 1, TShort: 2, TLong: 4, TRational: 8,
	TSByte: 1, TUndefined: 1, TSShort: 2, TSLong: 4, TSRational: 8,
	TFloat: 4, TDouble: 8, TIfd: 4, TLong8: 8, TSLong8: 8, TIfd8: 8,
}

// resolveType maps a raw on-disk datatype code to a TagType and its element
// size, falling back to TUnknown/1 for anything not in elementSizes.
func resolveType(raw uint16) (TagType, int) {
	t := TagType(raw)
	if size, ok := elementSizes[t]; ok {
		return t, size
	}
	return TUnknown, 1
}

// Tag is a single typed, variable-arity metadata field in an IFD. Data is
// the raw little/big-endian byte image of Count elements; decoding is lazy
// through the typed value accessors below.
type Tag struct {
	Code    uint16
	Type    TagType
	RawType uint16 // on-disk datatype code, preserved even when Type == TUnknown
	Count   uint64
	Data    []byte
	Order   endian.Order
}

// Values decodes a tag's raw bytes into a []T under the tag's endian and
// datatype, casting each element to T. Rational/SRational decode each
// element as numerator/denominator in float64 before casting to T.
func Values[T endian.Numeric](t Tag) ([]T, error) {
	if t.Type == TRational || t.Type == TSRational {
		floats, err := rationalValues(t)
		if err != nil {
			return nil, err
		}
		out := make([]T, len(floats))
		for i, f := range floats {
			out[i] = T(f)
		}
		return out, nil
	}
	switch t.Type {
	case TByte, TUndefined, TAscii, TUnknown:
		return endian.Cast[uint8, T](t.Data), nil
	case TSByte:
		return endian.Cast[int8, T](endian.Decode[int8](t.Data, t.Order)), nil
	case TShort:
		return endian.Cast[uint16, T](endian.Decode[uint16](t.Data, t.Order)), nil
	case TSShort:
		return endian.Cast[int16, T](endian.Decode[int16](t.Data, t.Order)), nil
	case TLong, TIfd:
		return endian.Cast[uint32, T](endian.Decode[uint32](t.Data, t.Order)), nil
	case TSLong:
		return endian.Cast[int32, T](endian.Decode[int32](t.Data, t.Order)), nil
	case TLong8, TIfd8:
		return endian.Cast[uint64, T](endian.Decode[uint64](t.Data, t.Order)), nil
	case TSLong8:
		return endian.Cast[int64, T](endian.Decode[int64](t.Data, t.Order)), nil
	case TFloat:
		return endian.Cast[float32, T](endian.Decode[float32](t.Data, t.Order)), nil
	case TDouble:
		return endian.Cast[float64, T](endian.Decode[float64](t.Data, t.Order)), nil
	default:
		return nil, &BadTagError{Code: t.Code, Reason: fmt.Sprintf("unsupported datatype %d", t.RawType)}
	}
}

// Value decodes the first element of a tag via Values.
func Value[T endian.Numeric](t Tag) (T, error) {
	vals, err := Values[T](t)
	if err != nil {
		var zero T
		return zero, err
	}
	if len(vals) == 0 {
		var zero T
		return zero, &BadTagError{Code: t.Code, Reason: "empty value"}
	}
	return vals[0], nil
}

func rationalValues(t Tag) ([]float64, error) {
	if t.Type == TRational {
		raw := endian.Decode[uint32](t.Data, t.Order)
		if len(raw)%2 != 0 {
			return nil, &BadTagError{Code: t.Code, Reason: "rational data has odd element count"}
		}
		out := make([]float64, len(raw)/2)
		for i := range out {
			num, den := raw[2*i], raw[2*i+1]
			if den == 0 {
				out[i] = 0
				continue
			}
			out[i] = float64(num) / float64(den)
		}
		return out, nil
	}
	raw := endian.Decode[int32](t.Data, t.Order)
	if len(raw)%2 != 0 {
		return nil, &BadTagError{Code: t.Code, Reason: "srational data has odd element count"}
	}
	out := make([]float64, len(raw)/2)
	for i := range out {
		num, den := raw[2*i], raw[2*i+1]
		if den == 0 {
			out[i] = 0
			continue
		}
		out[i] = float64(num) / float64(den)
	}
	return out, nil
}

// Ascii decodes an Ascii tag's bytes as a (possibly invalid) UTF-8 string,
// trimming a single trailing NUL terminator if present.
func Ascii(t Tag) (string, error) {
	if t.Type != TAscii {
		return "", &BadTagError{Code: t.Code, Reason: fmt.Sprintf("not ascii (datatype %d)", t.RawType)}
	}
	s := t.Data
	if n := len(s); n > 0 && s[n-1] == 0 {
		s = s[:n-1]
	}
	return string(s), nil
}

// Ifd is a TIFF Image File Directory: an ordered sequence of tags. Order on
// read is input order; on write, Encode sorts ascending by code.
type Ifd []Tag

// Get returns the first tag with the given code.
func (ifd Ifd) Get(code uint16) (Tag, bool) {
	for _, t := range ifd {
		if t.Code == code {
			return t, true
		}
	}
	return Tag{}, false
}
