package encode

import (
	"bytes"
	"testing"

	"github.com/geotiffio/cloudtiff/endian"
	"github.com/geotiffio/cloudtiff/imgcodec"
	"github.com/geotiffio/cloudtiff/level"
	"github.com/geotiffio/cloudtiff/raster"
	"github.com/geotiffio/cloudtiff/tiff"
	"github.com/stretchr/testify/require"
)

// seekBuffer is a slice-backed io.WriteSeeker for tests, since bytes.Buffer
// itself has no Seek.
type seekBuffer struct {
	buf []byte
	pos int64
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + int64(len(p))
	if end > int64(len(s.buf)) {
		grown := make([]byte, end)
		copy(grown, s.buf)
		s.buf = grown
	}
	n := copy(s.buf[s.pos:end], p)
	s.pos = end
	return n, nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		s.pos = offset
	case 1:
		s.pos += offset
	case 2:
		s.pos = int64(len(s.buf)) + offset
	}
	return s.pos, nil
}

func smallImage(w, h int) *raster.Raster {
	buf := make([]byte, w*h)
	for i := range buf {
		buf[i] = byte(i % 256)
	}
	r, _ := raster.New(w, h, buf, []uint16{8}, raster.PhotometricBlackIsZero, []raster.SampleFormat{raster.SampleUnsigned}, nil, endian.Little)
	return r
}

func TestEncodeRejectsUnsupportedProjection(t *testing.T) {
	img := smallImage(4, 4)
	sb := &seekBuffer{}
	err := FromImage(img).WithRegion(3857, 0, 0, 1, 1).Encode(sb)
	var upErr *UnsupportedProjectionError
	require.ErrorAs(t, err, &upErr)
}

func TestEncodeRequiresRegion(t *testing.T) {
	img := smallImage(4, 4)
	sb := &seekBuffer{}
	err := FromImage(img).Encode(sb)
	require.Error(t, err)
}

func TestEncodeSingleTileRoundTrip(t *testing.T) {
	img := smallImage(8, 8)
	sb := &seekBuffer{}
	err := FromImage(img).
		WithRegion(4326, 0, 0, 1, 1).
		WithTileSize(8).
		WithCompression(imgcodec.Uncompressed).
		Encode(sb)
	require.NoError(t, err)

	parsed, err := tiff.Parse(bytes.NewReader(sb.buf))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(parsed.Ifds), 1)

	lvl0, err := level.FromIFD(parsed.Ifds[0], parsed.Order)
	require.NoError(t, err)
	require.Equal(t, 8, lvl0.Width)
	require.Equal(t, 8, lvl0.Height)
	require.Len(t, lvl0.TileOffsets, 1)
	require.Greater(t, lvl0.TileOffsets[0], uint64(0))

	start, end, err := lvl0.TileByteRange(0)
	require.NoError(t, err)
	raw := sb.buf[start:end]
	tileRaster, err := lvl0.ExtractTileFromBytes(raw)
	require.NoError(t, err)

	// GetRegion's exclusive-upper-bound clamp (preserved verbatim, see
	// raster.GetRegion) means a crop spanning the full 8x8 raster only
	// copies a 7x7 block; the tile's last row/column come back zero.
	expected := make([]byte, 64)
	for j := 0; j < 7; j++ {
		for i := 0; i < 7; i++ {
			expected[j*8+i] = img.Buffer[j*8+i]
		}
	}
	require.Equal(t, expected, tileRaster.Buffer)
}

func TestEncodeMultiLevelPyramid(t *testing.T) {
	img := smallImage(32, 32)
	sb := &seekBuffer{}
	err := FromImage(img).
		WithRegion(4326, -1, -1, 1, 1).
		WithTileSize(16).
		WithCompression(imgcodec.Uncompressed).
		Encode(sb)
	require.NoError(t, err)

	parsed, err := tiff.Parse(bytes.NewReader(sb.buf))
	require.NoError(t, err)
	require.Greater(t, len(parsed.Ifds), 1)

	lvl1, err := level.FromIFD(parsed.Ifds[1], parsed.Order)
	require.NoError(t, err)
	require.Equal(t, 16, lvl1.Width)
	require.Equal(t, 16, lvl1.Height)
}
