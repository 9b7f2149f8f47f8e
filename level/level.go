// Package level implements one pyramid rung of a COG: the tile geometry
// (index <-> row/col, byte-range lookup) and tile decode (decompress +
// predictor reversal) for a single IFD.
package level

import (
	"fmt"
	"math"

	"github.com/geotiffio/cloudtiff/endian"
	"github.com/geotiffio/cloudtiff/imgcodec"
	"github.com/geotiffio/cloudtiff/raster"
	"github.com/geotiffio/cloudtiff/tiff"
)

// Tag codes read out of an IFD to build a Level.
const (
	tagNewSubfileType   = 254
	tagImageWidth       = 256
	tagImageLength      = 257
	tagBitsPerSample    = 258
	tagCompression      = 259
	tagPhotometric      = 262
	tagTileWidth        = 322
	tagTileLength       = 323
	tagTileOffsets      = 324
	tagTileByteCounts   = 325
	tagSampleFormat     = 339
	tagPredictor        = 317
	tagExtraSamples     = 338
)

// Level is a single resolution rung of the pyramid: its dimensions, tile
// geometry, compression/predictor, sample metadata, and the tile
// offset/byte-count arrays pointing into the container's byte stream.
type Level struct {
	OverviewIndex int
	Width, Height int
	TileWidth, TileHeight int
	Compression   imgcodec.Compression
	Predictor     imgcodec.Predictor
	Photometric   raster.Photometric
	BitsPerSample []uint16
	SampleFormat  []raster.SampleFormat
	ExtraSamples  []uint16
	Endian        endian.Order
	TileOffsets   []uint64
	TileByteCounts []uint64
}

// ImageCoordOutOfRangeError is returned when a normalized image coordinate
// falls outside [0,1]^2.
type ImageCoordOutOfRangeError struct {
	X, Y float64
}

func (e *ImageCoordOutOfRangeError) Error() string {
	return fmt.Sprintf("level: image coordinate (%g,%g) out of [0,1]^2", e.X, e.Y)
}

// TileIndexOutOfRangeError is returned by TileByteRange for an index beyond
// the shorter of the offsets/byte-counts arrays.
type TileIndexOutOfRangeError struct {
	Index, Count int
}

func (e *TileIndexOutOfRangeError) Error() string {
	return fmt.Sprintf("level: tile index %d out of range (have %d tiles)", e.Index, e.Count)
}

// FromIFD builds a Level from one TIFF IFD plus the container's byte order.
// It requires ImageWidth, ImageHeight, TileWidth, TileLength, Compression,
// BitsPerSample, TileOffsets, TileByteCounts; Predictor, SampleFormat,
// ExtraSamples, and PhotometricInterpretation are optional and default to
// No, Unsigned-per-band, empty, and Unknown respectively. An IFD whose
// TileOffsets and TileByteCounts differ in length is rejected.
func FromIFD(ifd tiff.Ifd, order endian.Order) (*Level, error) {
	w, err := required32(ifd, tagImageWidth)
	if err != nil {
		return nil, err
	}
	h, err := required32(ifd, tagImageLength)
	if err != nil {
		return nil, err
	}
	tw, err := required32(ifd, tagTileWidth)
	if err != nil {
		return nil, err
	}
	th, err := required32(ifd, tagTileLength)
	if err != nil {
		return nil, err
	}
	comp, err := required16(ifd, tagCompression)
	if err != nil {
		return nil, err
	}
	bps, ok := ifd.Get(tagBitsPerSample)
	if !ok {
		return nil, &tiff.MissingTagError{Code: tagBitsPerSample}
	}
	bitsPerSample, err := tiff.Values[uint16](bps)
	if err != nil {
		return nil, err
	}
	offsetsTag, ok := ifd.Get(tagTileOffsets)
	if !ok {
		return nil, &tiff.MissingTagError{Code: tagTileOffsets}
	}
	offsets, err := tiff.Values[uint64](offsetsTag)
	if err != nil {
		return nil, err
	}
	countsTag, ok := ifd.Get(tagTileByteCounts)
	if !ok {
		return nil, &tiff.MissingTagError{Code: tagTileByteCounts}
	}
	counts, err := tiff.Values[uint64](countsTag)
	if err != nil {
		return nil, err
	}
	if len(offsets) != len(counts) {
		return nil, fmt.Errorf("level: tile offsets (%d) and byte counts (%d) differ in length", len(offsets), len(counts))
	}

	predictor := imgcodec.PredictorNo
	if t, ok := ifd.Get(tagPredictor); ok {
		v, err := tiff.Value[uint16](t)
		if err != nil {
			return nil, err
		}
		predictor = imgcodec.Predictor(v)
	}

	sampleFormat := make([]raster.SampleFormat, len(bitsPerSample))
	for i := range sampleFormat {
		sampleFormat[i] = raster.SampleUnsigned
	}
	if t, ok := ifd.Get(tagSampleFormat); ok {
		vals, err := tiff.Values[uint16](t)
		if err != nil {
			return nil, err
		}
		sampleFormat = sampleFormat[:0]
		for _, v := range vals {
			sampleFormat = append(sampleFormat, raster.SampleFormat(v))
		}
	}

	var extraSamples []uint16
	if t, ok := ifd.Get(tagExtraSamples); ok {
		extraSamples, err = tiff.Values[uint16](t)
		if err != nil {
			return nil, err
		}
	}

	photometric := raster.PhotometricUnknown
	if t, ok := ifd.Get(tagPhotometric); ok {
		v, err := tiff.Value[uint16](t)
		if err != nil {
			return nil, err
		}
		photometric = raster.Photometric(v)
	}

	return &Level{
		Width: int(w), Height: int(h),
		TileWidth: int(tw), TileHeight: int(th),
		Compression: imgcodec.Compression(comp), Predictor: predictor,
		Photometric: photometric, BitsPerSample: bitsPerSample,
		SampleFormat: sampleFormat, ExtraSamples: extraSamples,
		Endian: order, TileOffsets: offsets, TileByteCounts: counts,
	}, nil
}

func required32(ifd tiff.Ifd, code uint16) (uint32, error) {
	t, ok := ifd.Get(code)
	if !ok {
		return 0, &tiff.MissingTagError{Code: code}
	}
	return tiff.Value[uint32](t)
}

func required16(ifd tiff.Ifd, code uint16) (uint16, error) {
	t, ok := ifd.Get(code)
	if !ok {
		return 0, &tiff.MissingTagError{Code: code}
	}
	return tiff.Value[uint16](t)
}

// Megapixels is w*h/1e6, the key levels are sorted by.
func (l *Level) Megapixels() float64 {
	return float64(l.Width) * float64(l.Height) / 1e6
}

func (l *Level) tileCols() int { return int(math.Ceil(float64(l.Width) / float64(l.TileWidth))) }
func (l *Level) tileRows() int { return int(math.Ceil(float64(l.Height) / float64(l.TileHeight))) }

// TileCoordFromImageCoord maps a normalized image coordinate (x,y in
// [0,1]) to fractional tile-grid coordinates.
func (l *Level) TileCoordFromImageCoord(x, y float64) (colF, rowF float64) {
	colF = x * float64(l.Width) / float64(l.TileWidth)
	rowF = y * float64(l.Height) / float64(l.TileHeight)
	return colF, rowF
}

// IndexFromImageCoords returns the tile a normalized image point falls in,
// plus the fractional within-tile pixel offset.
func (l *Level) IndexFromImageCoords(x, y float64) (tileIndex int, tileX, tileY float64, err error) {
	if x < 0 || x > 1 || y < 0 || y > 1 {
		return 0, 0, 0, &ImageCoordOutOfRangeError{X: x, Y: y}
	}
	cols, rows := l.tileCols(), l.tileRows()
	colF, rowF := l.TileCoordFromImageCoord(x, y)
	col, row := int(colF), int(rowF)
	if col >= cols {
		col = cols - 1
	}
	if row >= rows {
		row = rows - 1
	}
	tileX = (colF - float64(col)) * float64(l.TileWidth)
	tileY = (rowF - float64(row)) * float64(l.TileHeight)
	return row*cols + col, tileX, tileY, nil
}

// TileIndicesWithinImageCrop enumerates every tile whose footprint
// intersects the normalized crop [x0,y0]-[x1,y1]: floor of the top-left
// tile coordinate (clamped >= 0), ceil of the bottom-right (clamped <=
// col/row count).
func (l *Level) TileIndicesWithinImageCrop(x0, y0, x1, y1 float64) []int {
	cols, rows := l.tileCols(), l.tileRows()
	colMinF, rowMinF := l.TileCoordFromImageCoord(x0, y0)
	colMaxF, rowMaxF := l.TileCoordFromImageCoord(x1, y1)

	colMin := clampInt(int(math.Floor(colMinF)), 0, cols)
	rowMin := clampInt(int(math.Floor(rowMinF)), 0, rows)
	colMax := clampInt(int(math.Ceil(colMaxF)), 0, cols)
	rowMax := clampInt(int(math.Ceil(rowMaxF)), 0, rows)

	var indices []int
	for row := rowMin; row < rowMax; row++ {
		for col := colMin; col < colMax; col++ {
			indices = append(indices, row*cols+col)
		}
	}
	return indices
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// TileByteRange returns the [start,end) byte range of tile index within the
// container.
func (l *Level) TileByteRange(index int) (start, end uint64, err error) {
	count := len(l.TileOffsets)
	if len(l.TileByteCounts) < count {
		count = len(l.TileByteCounts)
	}
	if index >= count {
		return 0, 0, &TileIndexOutOfRangeError{Index: index, Count: count}
	}
	start = l.TileOffsets[index]
	end = start + l.TileByteCounts[index]
	return start, end, nil
}

// ExtractTileFromBytes decompresses and un-predicts a tile's raw bytes and
// assembles a full TileWidth x TileHeight Raster carrying the level's
// photometric/sample metadata.
func (l *Level) ExtractTileFromBytes(raw []byte) (*raster.Raster, error) {
	decoded, err := imgcodec.Decode(l.Compression, raw)
	if err != nil {
		return nil, err
	}
	bitsPerSample := 8
	if len(l.BitsPerSample) > 0 {
		bitsPerSample = int(l.BitsPerSample[0])
	}
	unpredicted, err := imgcodec.Unpredict(l.Predictor, decoded, l.TileWidth, len(l.BitsPerSample), bitsPerSample)
	if err != nil {
		return nil, err
	}
	return raster.New(l.TileWidth, l.TileHeight, unpredicted, l.BitsPerSample, l.Photometric, l.SampleFormat, l.ExtraSamples, l.Endian)
}

// TileBounds returns the normalized [0,1]^2 footprint of tile index:
// (left, top, right, bottom).
func (l *Level) TileBounds(index int) (left, top, right, bottom float64) {
	cols := l.tileCols()
	col, row := index%cols, index/cols
	left = float64(col*l.TileWidth) / float64(l.Width)
	top = float64(row*l.TileHeight) / float64(l.Height)
	right = math.Min(1, float64((col+1)*l.TileWidth)/float64(l.Width))
	bottom = math.Min(1, float64((row+1)*l.TileHeight)/float64(l.Height))
	return left, top, right, bottom
}
