// Package encode implements the COG writer: a multi-level (full-resolution
// plus overviews) tiled TIFF/BigTIFF with placeholder tile-offset/byte-count
// arrays written first and back-patched once tile bodies are compressed and
// streamed out.
package encode

import (
	"fmt"
	"io"
	"math"

	"github.com/geotiffio/cloudtiff/endian"
	"github.com/geotiffio/cloudtiff/geokey"
	"github.com/geotiffio/cloudtiff/imgcodec"
	"github.com/geotiffio/cloudtiff/raster"
	"github.com/geotiffio/cloudtiff/tiff"
)

// Tag codes this package writes.
const (
	tagNewSubfileType    = 254
	tagImageWidth        = 256
	tagImageLength       = 257
	tagBitsPerSample     = 258
	tagCompression       = 259
	tagPhotometric       = 262
	tagPlanarConfig      = 284
	tagPredictor         = 317
	tagTileWidth         = 322
	tagTileLength        = 323
	tagTileOffsets       = 324
	tagTileByteCounts    = 325
	tagSampleFormat      = 339
	tagExtraSamples      = 338
	tagGeoKeyDirectory   = 34735
	tagGeoAsciiParams    = 34737
	tagModelPixelScale   = 33550
	tagModelTiepoint     = 33922
)

// UnsupportedProjectionError is returned when the requested EPSG is neither
// 4326 nor 32609 -- the only two the encoder's GeoKey table knows how to
// populate.
type UnsupportedProjectionError struct {
	EPSG uint16
}

func (e *UnsupportedProjectionError) Error() string {
	return fmt.Sprintf("encode: unsupported projection epsg:%d", e.EPSG)
}

// Encoder is the COG write builder: Encoder::from_image fixes the source
// raster and the defaults (little-endian, BigTIFF, LZW, 512x512 tiles,
// nearest resample); builder methods override world region, tile size,
// endian, compression, TIFF variant, and resample filter.
type Encoder struct {
	img         *raster.Raster
	epsg        uint16
	minX, minY  float64
	maxX, maxY  float64
	regionSet   bool
	tileSize    int
	order       endian.Order
	variant     tiff.Variant
	compression imgcodec.Compression
	filter      raster.Filter
}

// FromImage starts a new Encoder with the reference implementation's
// defaults.
func FromImage(img *raster.Raster) *Encoder {
	return &Encoder{
		img:         img,
		tileSize:    512,
		order:       endian.Little,
		variant:     tiff.BigTIFF,
		compression: imgcodec.LZW,
		filter:      raster.FilterNearest,
	}
}

// WithRegion sets the world-space footprint (EPSG + bounding box) the
// source image covers.
func (e *Encoder) WithRegion(epsg uint16, minX, minY, maxX, maxY float64) *Encoder {
	e.epsg, e.minX, e.minY, e.maxX, e.maxY, e.regionSet = epsg, minX, minY, maxX, maxY, true
	return e
}

// WithTileSize overrides the square tile dimension (default 512).
func (e *Encoder) WithTileSize(n int) *Encoder {
	e.tileSize = n
	return e
}

// WithEndian overrides the byte order (default little).
func (e *Encoder) WithEndian(o endian.Order) *Encoder {
	e.order = o
	return e
}

// WithVariant overrides the TIFF variant (default BigTIFF).
func (e *Encoder) WithVariant(v tiff.Variant) *Encoder {
	e.variant = v
	return e
}

// WithCompression overrides the tile compression (default LZW).
func (e *Encoder) WithCompression(c imgcodec.Compression) *Encoder {
	e.compression = c
	return e
}

// WithFilter overrides the overview resample filter (default nearest).
func (e *Encoder) WithFilter(f raster.Filter) *Encoder {
	e.filter = f
	return e
}

type pyramidLevel struct {
	raster            *raster.Raster
	width, height     int
	tileCols, tileRows int
}

// Encode writes the full COG to w: tag skeleton with zero-filled tile
// arrays, tile bodies in level-then-row-major order, then back-patches the
// tile-offset/byte-count arrays at the file offsets Encode's underlying
// tiff.Encode call reported.
func (e *Encoder) Encode(w io.WriteSeeker) error {
	if !e.regionSet {
		return fmt.Errorf("encode: no region configured (call WithRegion)")
	}
	if e.epsg != 4326 && e.epsg != 32609 {
		return &UnsupportedProjectionError{EPSG: e.epsg}
	}

	levels := e.buildPyramid()
	ifds, err := e.buildSkeleton(levels)
	if err != nil {
		return err
	}

	fieldOffsets, err := tiff.Encode(w, e.order, e.variant, ifds)
	if err != nil {
		return fmt.Errorf("encode: write tiff skeleton: %w", err)
	}

	tileOffsetArrays := make([][]uint64, len(levels))
	tileByteCountArrays := make([][]uint64, len(levels))
	for i, lvl := range levels {
		n := lvl.tileCols * lvl.tileRows
		tileOffsetArrays[i] = make([]uint64, n)
		tileByteCountArrays[i] = make([]uint64, n)

		for row := 0; row < lvl.tileRows; row++ {
			for col := 0; col < lvl.tileCols; col++ {
				idx := row*lvl.tileCols + col
				raw, err := e.extractTileBytes(lvl, col, row)
				if err != nil {
					return fmt.Errorf("encode: level %d tile %d: %w", i, idx, err)
				}
				compressed, err := imgcodec.Encode(e.compression, raw)
				if err != nil {
					return fmt.Errorf("encode: compress level %d tile %d: %w", i, idx, err)
				}
				pos, err := w.Seek(0, io.SeekCurrent)
				if err != nil {
					return fmt.Errorf("encode: tell: %w", err)
				}
				if _, err := w.Write(compressed); err != nil {
					return fmt.Errorf("encode: write tile body: %w", err)
				}
				tileOffsetArrays[i][idx] = uint64(pos)
				tileByteCountArrays[i][idx] = uint64(len(compressed))
			}
		}
	}

	for i := range levels {
		offsetType := tiff.TLong
		if e.variant == tiff.BigTIFF {
			offsetType = tiff.TLong8
		}
		if err := patchArray(w, e.order, fieldOffsets[i][tagTileOffsets], offsetType, tileOffsetArrays[i]); err != nil {
			return fmt.Errorf("encode: patch level %d tile offsets: %w", i, err)
		}
		if err := patchArray(w, e.order, fieldOffsets[i][tagTileByteCounts], tiff.TLong, tileByteCountArrays[i]); err != nil {
			return fmt.Errorf("encode: patch level %d tile byte counts: %w", i, err)
		}
	}
	return nil
}

func patchArray(w io.WriteSeeker, order endian.Order, offset uint64, typ tiff.TagType, values []uint64) error {
	if _, err := w.Seek(int64(offset), io.SeekStart); err != nil {
		return err
	}
	if typ == tiff.TLong8 {
		return writeEach(w, order, values, endian.Write[uint64])
	}
	narrow := make([]uint32, len(values))
	for i, v := range values {
		narrow[i] = uint32(v)
	}
	return writeEach(w, order, narrow, endian.Write[uint32])
}

func writeEach[T endian.Numeric](w io.Writer, order endian.Order, values []T, write func(io.Writer, endian.Order, T) error) error {
	for _, v := range values {
		if err := write(w, order, v); err != nil {
			return err
		}
	}
	return nil
}

func overviewCount(w, h, tileW int) int {
	ratioW := math.Log2(float64(w) / float64(tileW))
	ratioH := math.Log2(float64(h) / float64(tileW))
	n := math.Ceil(math.Max(ratioW, ratioH))
	if n < 0 {
		return 0
	}
	return int(n)
}

func (e *Encoder) buildPyramid() []pyramidLevel {
	n := overviewCount(e.img.Width, e.img.Height, e.tileSize)
	levels := make([]pyramidLevel, n+1)
	prev := e.img
	for i := 0; i <= n; i++ {
		w := maxInt(1, e.img.Width>>uint(i))
		h := maxInt(1, e.img.Height>>uint(i))
		var r *raster.Raster
		if i == 0 {
			r = e.img
		} else {
			resized, err := prev.Resize(w, h, e.filter)
			if err != nil {
				// Fall back to the previous level's raster directly --
				// happens when Resize rejects the source: non-byte-aligned
				// pixels, or a filter that needs 8-bit bands
				// (FilterMaximum, FilterCatmullRom) on other depths.
				resized = prev
			}
			r = resized
			prev = r
		}
		levels[i] = pyramidLevel{
			raster: r, width: w, height: h,
			tileCols: ceilDiv(w, e.tileSize),
			tileRows: ceilDiv(h, e.tileSize),
		}
	}
	return levels
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }
func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (e *Encoder) buildSkeleton(levels []pyramidLevel) ([]tiff.Ifd, error) {
	ifds := make([]tiff.Ifd, len(levels))
	rangeX, rangeY := e.maxX-e.minX, e.maxY-e.minY
	for i, lvl := range levels {
		dir, err := e.geoKeysFor(e.epsg)
		if err != nil {
			return nil, err
		}
		dirShorts, _, ascii := geokey.Serialize(dir)

		subfileType := uint32(0)
		if i > 0 {
			subfileType = 1
		}

		pixelScale := []float64{rangeX / float64(lvl.width), rangeY / float64(lvl.height), 0}
		tiepoint := []float64{0, 0, 0, e.minX, e.maxY, 0}

		n := lvl.tileCols * lvl.tileRows
		offsetType := tiff.TLong
		if e.variant == tiff.BigTIFF {
			offsetType = tiff.TLong8
		}
		zeroOffsets := make([]byte, n*int(elementSize(offsetType)))
		zeroCounts := make([]byte, n*4)

		ifd := tiff.Ifd{
			longTag(tagNewSubfileType, subfileType, e.order),
			longTag(tagImageWidth, uint32(lvl.width), e.order),
			longTag(tagImageLength, uint32(lvl.height), e.order),
			shortTags(tagBitsPerSample, e.img.BitsPerSample, e.order),
			shortTag(tagCompression, uint16(e.compression), e.order),
			shortTag(tagPhotometric, uint16(e.img.Photometric), e.order),
			shortTag(tagPlanarConfig, 1, e.order),
			shortTag(tagPredictor, 1, e.order),
			longTag(tagTileWidth, uint32(e.tileSize), e.order),
			longTag(tagTileLength, uint32(e.tileSize), e.order),
			tiff.Tag{Code: tagTileOffsets, Type: offsetType, Count: uint64(n), Data: zeroOffsets, Order: e.order},
			tiff.Tag{Code: tagTileByteCounts, Type: tiff.TLong, Count: uint64(n), Data: zeroCounts, Order: e.order},
			sampleFormatTag(e.img.SampleFormat, e.order),
			doubleTag(tagModelPixelScale, pixelScale, e.order),
			doubleTag(tagModelTiepoint, tiepoint, e.order),
			shortTags(tagGeoKeyDirectory, dirShorts, e.order),
		}
		if len(e.img.ExtraSamples) > 0 {
			ifd = append(ifd, shortTags(tagExtraSamples, e.img.ExtraSamples, e.order))
		}
		if ascii != "" {
			ifd = append(ifd, tiff.Tag{Code: tagGeoAsciiParams, Type: tiff.TAscii, Count: uint64(len(ascii)), Data: []byte(ascii), Order: e.order})
		}
		ifds[i] = ifd
	}
	return ifds, nil
}

func elementSize(t tiff.TagType) uint64 {
	if t == tiff.TLong8 {
		return 8
	}
	return 4
}

// geoKeysFor builds the GeoKeyDirectory for the two supported EPSG codes:
// 4326 (geographic, degrees) and 32609 (UTM zone 9N, metres).
func (e *Encoder) geoKeysFor(epsg uint16) (geokey.Directory, error) {
	switch epsg {
	case 4326:
		return geokey.Directory{
			Version: 1, Revision: [2]uint16{1, 0},
			Keys: []geokey.GeoKey{
				{Code: 1024, Value: geokey.Value{Kind: geokey.KindShort, Short: []uint16{2}}},    // GTModelTypeGeoKey = Geographic
				{Code: 2048, Value: geokey.Value{Kind: geokey.KindShort, Short: []uint16{4326}}}, // GeographicTypeGeoKey
				{Code: 2054, Value: geokey.Value{Kind: geokey.KindShort, Short: []uint16{9102}}}, // GeogAngularUnitsGeoKey = degree
			},
		}, nil
	case 32609:
		return geokey.Directory{
			Version: 1, Revision: [2]uint16{1, 0},
			Keys: []geokey.GeoKey{
				{Code: 1024, Value: geokey.Value{Kind: geokey.KindShort, Short: []uint16{1}}},     // GTModelTypeGeoKey = Projected
				{Code: 3072, Value: geokey.Value{Kind: geokey.KindShort, Short: []uint16{32609}}}, // ProjectedCSTypeGeoKey
				{Code: 3076, Value: geokey.Value{Kind: geokey.KindShort, Short: []uint16{9001}}},  // ProjLinearUnitsGeoKey = metre
			},
		}, nil
	default:
		return geokey.Directory{}, &UnsupportedProjectionError{EPSG: epsg}
	}
}

// extractTileBytes crops the level's resampled raster to tile (col,row),
// zero-padding up to the full tile size at the image's right/bottom edge.
func (e *Encoder) extractTileBytes(lvl pyramidLevel, col, row int) ([]byte, error) {
	x0, y0 := col*e.tileSize, row*e.tileSize
	x1 := minInt(lvl.width, x0+e.tileSize)
	y1 := minInt(lvl.height, y0+e.tileSize)

	region, err := lvl.raster.GetRegion(x0, y0, x1, y1)
	if err != nil {
		return nil, err
	}

	bpp := region.BitsPerPixel / 8
	out := make([]byte, e.tileSize*e.tileSize*bpp)
	for j := 0; j < region.Height; j++ {
		srcOff := j * region.Width * bpp
		dstOff := j * e.tileSize * bpp
		copy(out[dstOff:dstOff+region.Width*bpp], region.Buffer[srcOff:srcOff+region.Width*bpp])
	}

	predicted, err := imgcodec.Predict(imgcodec.PredictorNo, out, e.tileSize, len(e.img.BitsPerSample), int(e.img.BitsPerSample[0]))
	if err != nil {
		return nil, err
	}
	return predicted, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func longTag(code uint16, v uint32, order endian.Order) tiff.Tag {
	return tiff.Tag{Code: code, Type: tiff.TLong, Count: 1, Data: endian.Encode([]uint32{v}, order), Order: order}
}

func shortTag(code uint16, v uint16, order endian.Order) tiff.Tag {
	return tiff.Tag{Code: code, Type: tiff.TShort, Count: 1, Data: endian.Encode([]uint16{v}, order), Order: order}
}

func shortTags(code uint16, vals []uint16, order endian.Order) tiff.Tag {
	return tiff.Tag{Code: code, Type: tiff.TShort, Count: uint64(len(vals)), Data: endian.Encode(vals, order), Order: order}
}

func sampleFormatTag(vals []raster.SampleFormat, order endian.Order) tiff.Tag {
	u := make([]uint16, len(vals))
	for i, v := range vals {
		u[i] = uint16(v)
	}
	return shortTags(tagSampleFormat, u, order)
}

func doubleTag(code uint16, vals []float64, order endian.Order) tiff.Tag {
	return tiff.Tag{Code: code, Type: tiff.TDouble, Count: uint64(len(vals)), Data: endian.Encode(vals, order), Order: order}
}
