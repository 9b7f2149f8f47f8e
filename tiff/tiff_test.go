package tiff

import (
	"bytes"
	"testing"

	"github.com/geotiffio/cloudtiff/endian"
	"github.com/stretchr/testify/require"
)

func shortTag(code uint16, vals ...uint16) Tag {
	return Tag{Code: code, Type: TShort, Count: uint64(len(vals)), Data: endian.Encode(vals, endian.Little), Order: endian.Little}
}

func longTag(code uint16, vals ...uint32) Tag {
	return Tag{Code: code, Type: TLong, Count: uint64(len(vals)), Data: endian.Encode(vals, endian.Little), Order: endian.Little}
}

func asciiTag(code uint16, s string) Tag {
	b := append([]byte(s), 0)
	return Tag{Code: code, Type: TAscii, Count: uint64(len(b)), Data: b, Order: endian.Little}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	for _, variant := range []Variant{Normal, BigTIFF} {
		for _, order := range []endian.Order{endian.Little, endian.Big} {
			ifd0 := Ifd{
				shortTag(256, 64),       // ImageWidth
				shortTag(257, 64),       // ImageLength
				longTag(324, 1, 2, 3, 4, 5, 6), // a long array forced indirect
				asciiTag(269, "hello cog"),
			}
			ifd1 := Ifd{
				shortTag(256, 32),
				shortTag(257, 32),
			}

			var buf bytes.Buffer
			offsets, err := Encode(&buf, order, variant, []Ifd{ifd0, ifd1})
			require.NoError(t, err)
			require.Len(t, offsets, 2)

			parsed, err := Parse(bytes.NewReader(buf.Bytes()))
			require.NoError(t, err)
			require.Equal(t, order, parsed.Order)
			require.Equal(t, variant, parsed.Variant)
			require.Len(t, parsed.Ifds, 2)

			for i, want := range []Ifd{ifd0, ifd1} {
				got := parsed.Ifds[i]
				require.Len(t, got, len(want))
				// Encode writes tags sorted ascending by code, so match by code.
				for j := 1; j < len(got); j++ {
					require.Less(t, got[j-1].Code, got[j].Code)
				}
				for _, wt := range want {
					gt, ok := got.Get(wt.Code)
					require.True(t, ok)
					require.Equal(t, wt.Code, gt.Code)
					require.Equal(t, wt.Type, gt.Type)
					wv, err := Values[uint64](wt)
					require.NoError(t, err)
					gv, err := Values[uint64](gt)
					require.NoError(t, err)
					require.Equal(t, wv, gv)
				}
			}
		}
	}
}

func TestAsciiRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	ifd := Ifd{asciiTag(42112, "GDAL metadata blob")}
	_, err := Encode(&buf, endian.Little, Normal, []Ifd{ifd})
	require.NoError(t, err)

	parsed, err := Parse(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	s, err := Ascii(parsed.Ifds[0][0])
	require.NoError(t, err)
	require.Equal(t, "GDAL metadata blob", s)
}

func TestBadMagic(t *testing.T) {
	_, err := Parse(bytes.NewReader([]byte("XX\x2a\x00")))
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestUnknownDatatypePreserved(t *testing.T) {
	// Hand-craft a minimal normal TIFF with one tag of an unrecognized
	// datatype code (9999), 4 bytes of payload stored inline.
	var buf bytes.Buffer
	buf.Write([]byte("II"))
	require.NoError(t, endian.Write[uint16](&buf, endian.Little, 42))
	require.NoError(t, endian.Write[uint32](&buf, endian.Little, 8))
	// ifd at offset 8
	require.NoError(t, endian.Write[uint16](&buf, endian.Little, 1)) // 1 tag
	require.NoError(t, endian.Write[uint16](&buf, endian.Little, 999))
	require.NoError(t, endian.Write[uint16](&buf, endian.Little, 9999)) // unknown datatype
	require.NoError(t, endian.Write[uint32](&buf, endian.Little, 4))   // count=4 (elemsize falls back to 1)
	buf.Write([]byte{1, 2, 3, 4})                                      // inline field (4 bytes)
	require.NoError(t, endian.Write[uint32](&buf, endian.Little, 0))   // next ifd = 0

	parsed, err := Parse(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	tag := parsed.Ifds[0][0]
	require.Equal(t, TUnknown, tag.Type)
	require.Equal(t, uint16(9999), tag.RawType)
	require.Equal(t, []byte{1, 2, 3, 4}, tag.Data)
}

func TestUnknownDatatypeRoundTripsThroughEncode(t *testing.T) {
	// A tag whose datatype this codec doesn't recognize must re-encode with
	// its original raw datatype code (9999), not 0 (TUnknown's zero value).
	var buf bytes.Buffer
	buf.Write([]byte("II"))
	require.NoError(t, endian.Write[uint16](&buf, endian.Little, 42))
	require.NoError(t, endian.Write[uint32](&buf, endian.Little, 8))
	require.NoError(t, endian.Write[uint16](&buf, endian.Little, 1))
	require.NoError(t, endian.Write[uint16](&buf, endian.Little, 999))
	require.NoError(t, endian.Write[uint16](&buf, endian.Little, 9999))
	require.NoError(t, endian.Write[uint32](&buf, endian.Little, 4))
	buf.Write([]byte{1, 2, 3, 4})
	require.NoError(t, endian.Write[uint32](&buf, endian.Little, 0))

	parsed, err := Parse(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	var reencoded bytes.Buffer
	_, err = Encode(&reencoded, endian.Little, Normal, parsed.Ifds)
	require.NoError(t, err)

	reparsed, err := Parse(bytes.NewReader(reencoded.Bytes()))
	require.NoError(t, err)
	tag := reparsed.Ifds[0][0]
	require.Equal(t, TUnknown, tag.Type)
	require.Equal(t, uint16(9999), tag.RawType)
	require.Equal(t, []byte{1, 2, 3, 4}, tag.Data)
}
