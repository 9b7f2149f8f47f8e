package raster

import (
	"testing"

	"github.com/geotiffio/cloudtiff/endian"
	"github.com/stretchr/testify/require"
)

func rgb8(w, h int, fill byte) *Raster {
	buf := make([]byte, w*h*3)
	for i := range buf {
		buf[i] = fill
	}
	r, _ := New(w, h, buf, []uint16{8, 8, 8}, PhotometricRGB, []SampleFormat{SampleUnsigned, SampleUnsigned, SampleUnsigned}, nil, endian.Little)
	return r
}

func TestNewValidatesBufferLength(t *testing.T) {
	_, err := New(2, 2, make([]byte, 10), []uint16{8, 8, 8}, PhotometricRGB, nil, nil, endian.Little)
	require.Error(t, err)

	r, err := New(2, 2, make([]byte, 12), []uint16{8, 8, 8}, PhotometricRGB, nil, nil, endian.Little)
	require.NoError(t, err)
	require.Equal(t, 24, r.BitsPerPixel)
}

func TestPutPixelGetPixelRoundTrip(t *testing.T) {
	r := rgb8(4, 4, 0)
	px := []byte{10, 20, 30}
	require.NoError(t, r.PutPixel(2, 1, px))
	require.Equal(t, px, r.GetPixel(2, 1))

	// Invariant: put_pixel(x,y,get_pixel(x,y)) is a no-op for byte-aligned pixels.
	before := append([]byte(nil), r.Buffer...)
	require.NoError(t, r.PutPixel(2, 1, r.GetPixel(2, 1)))
	require.Equal(t, before, r.Buffer)
}

func TestSubBytePixelRoundTrip(t *testing.T) {
	// 1 bit-per-pixel, 8x1 raster, one byte.
	r, err := New(8, 1, []byte{0b10110010}, []uint16{1}, PhotometricBlackIsZero, nil, nil, endian.Little)
	require.NoError(t, err)
	for x := 0; x < 8; x++ {
		px := r.GetPixel(x, 0)
		require.Len(t, px, 1)
	}
	require.NoError(t, r.PutPixel(0, 0, []byte{0x80}))
	require.Equal(t, []byte{0x80}, r.GetPixel(0, 0))
}

func TestResizeNearest(t *testing.T) {
	r := rgb8(4, 4, 0)
	require.NoError(t, r.PutPixel(0, 0, []byte{1, 2, 3}))
	require.NoError(t, r.PutPixel(3, 3, []byte{9, 9, 9}))

	out, err := r.Resize(2, 2, FilterNearest)
	require.NoError(t, err)
	require.Equal(t, 2, out.Width)
	require.Equal(t, []byte{1, 2, 3}, out.GetPixel(0, 0))
}

func TestResizeMaximumRequires8Bit(t *testing.T) {
	r, err := New(2, 2, make([]byte, 2), []uint16{8}, PhotometricBlackIsZero, nil, nil, endian.Little)
	require.NoError(t, err)
	_, err = r.Resize(1, 1, FilterMaximum)
	require.NoError(t, err)

	r16, err := New(2, 2, make([]byte, 8), []uint16{16}, PhotometricBlackIsZero, nil, nil, endian.Little)
	require.NoError(t, err)
	_, err = r16.Resize(1, 1, FilterMaximum)
	require.Error(t, err)
}

func TestResizeMaximumTakesBoxMax(t *testing.T) {
	buf := []byte{10, 20, 30, 40}
	r, err := New(2, 2, buf, []uint16{8}, PhotometricBlackIsZero, nil, nil, endian.Little)
	require.NoError(t, err)
	out, err := r.Resize(1, 1, FilterMaximum)
	require.NoError(t, err)
	require.Equal(t, byte(40), out.Buffer[0])
}

func TestGetRegionExclusiveUpperBound(t *testing.T) {
	r := rgb8(4, 4, 0)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			require.NoError(t, r.PutPixel(x, y, []byte{byte(x), byte(y), 0}))
		}
	}
	// Asking for the full raster back comes back one pixel short on the
	// right and bottom edges: this mirrors the off-by-one documented on
	// GetRegion.
	out, err := r.GetRegion(0, 0, 4, 4)
	require.NoError(t, err)
	require.Equal(t, 3, out.Width)
	require.Equal(t, 3, out.Height)
}

func TestGetRegionSubRect(t *testing.T) {
	r := rgb8(4, 4, 0)
	require.NoError(t, r.PutPixel(1, 1, []byte{5, 5, 5}))
	out, err := r.GetRegion(1, 1, 3, 3)
	require.NoError(t, err)
	require.Equal(t, 2, out.Width)
	require.Equal(t, []byte{5, 5, 5}, out.GetPixel(0, 0))
}

func TestResizeRejectsNonByteAligned(t *testing.T) {
	r, err := New(8, 1, []byte{0xFF}, []uint16{1}, PhotometricBlackIsZero, nil, nil, endian.Little)
	require.NoError(t, err)
	_, err = r.Resize(4, 1, FilterNearest)
	require.Error(t, err)
	_, err = r.GetRegion(0, 0, 4, 1)
	require.Error(t, err)
}

func TestResizeCatmullRomRGB(t *testing.T) {
	r := rgb8(4, 4, 100)
	out, err := r.Resize(2, 2, FilterCatmullRom)
	require.NoError(t, err)
	require.Equal(t, 2, out.Width)
	require.Equal(t, 2, out.Height)
}
