// Package cloudtiff reads and writes Cloud Optimized GeoTIFF: a tiled,
// multi-resolution TIFF/BigTIFF raster format with georeferencing. It
// assembles the ordered pyramid of Level rungs and the Projection from a
// parsed TIFF container, and exposes the render engine over a stateless
// range-reader abstraction so only the tiles a render actually needs are
// ever fetched.
package cloudtiff

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/geotiffio/cloudtiff/geokey"
	"github.com/geotiffio/cloudtiff/level"
	"github.com/geotiffio/cloudtiff/projection"
	"github.com/geotiffio/cloudtiff/rangeio"
	"github.com/geotiffio/cloudtiff/tiff"
)

const (
	tagGeoKeyDirectory     = 34735
	tagGeoDoubleParams     = 34736
	tagGeoAsciiParams      = 34737
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
)

// CloudTiff is an opened COG: its pyramid of levels (ordered descending by
// megapixel count, levels[0] full resolution) and its Projection. It is
// cheap to copy -- both fields are shared, read-only through a render.
type CloudTiff struct {
	Levels     []*level.Level
	Projection *projection.Projection
}

// openRetries/openChunkBytes bound the grow-and-retry loop used when
// opening from a range reader that does not know the header size upfront.
const (
	openRetries    = 10
	openChunkBytes = 4096
)

// Open parses a COG from a seekable stream.
func Open(r io.ReadSeeker, engine projection.Engine) (*CloudTiff, error) {
	t, err := tiff.Parse(r)
	if err != nil {
		return nil, wrap("Open", KindTIFFFormat, err)
	}
	return fromTiff(t, engine)
}

// OpenFromRangeReader opens a COG from a stateless range reader, without
// knowing the header size in advance: it fetches successively larger
// prefixes (4 KiB at a time, up to 10 attempts) until the TIFF header and
// the whole IFD chain, including out-of-line tag data, fit, or gives up.
func OpenFromRangeReader(rr rangeio.ReadRange, engine projection.Engine) (*CloudTiff, error) {
	var buf []byte
	for attempt := 0; attempt < openRetries; attempt++ {
		size := openChunkBytes * (attempt + 1)
		chunk := make([]byte, size)
		n, err := rr.ReadRange(0, chunk)
		if err != nil && !isShortReadErr(err) {
			return nil, wrap("Open", KindRangeRead, err)
		}
		buf = chunk[:n]
		t, err := tiff.Parse(bytes.NewReader(buf))
		if err == nil {
			return fromTiff(t, engine)
		}
		if !isShortReadErr(err) {
			return nil, wrap("Open", KindTIFFFormat, err)
		}
	}
	return nil, wrap("Open", KindRangeRead, fmt.Errorf("header did not fit in %d bytes after %d attempts", len(buf), openRetries))
}

// OpenFromAsyncRangeReader is the async counterpart of OpenFromRangeReader.
func OpenFromAsyncRangeReader(ctx context.Context, rr rangeio.AsyncReadRange, engine projection.Engine) (*CloudTiff, error) {
	var buf []byte
	for attempt := 0; attempt < openRetries; attempt++ {
		size := openChunkBytes * (attempt + 1)
		chunk := make([]byte, size)
		n, err := rr.ReadRangeAsync(ctx, 0, chunk)
		if err != nil && !isShortReadErr(err) {
			return nil, wrap("Open", KindRangeRead, err)
		}
		buf = chunk[:n]
		t, err := tiff.Parse(bytes.NewReader(buf))
		if err == nil {
			return fromTiff(t, engine)
		}
		if !isShortReadErr(err) {
			return nil, wrap("Open", KindTIFFFormat, err)
		}
	}
	return nil, wrap("Open", KindRangeRead, fmt.Errorf("header did not fit in %d bytes after %d attempts", len(buf), openRetries))
}

func isShortReadErr(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

// fromTiff is from_tiff_and_geo: map each IFD to a Level, silently dropping
// malformed ones (a COG may carry auxiliary IFDs it does not own), sort
// descending by megapixels, assign overview indices in sort order, and
// build the Projection from the full-resolution level's geo tags.
func fromTiff(t *tiff.Tiff, engine projection.Engine) (*CloudTiff, error) {
	type pair struct {
		lvl *level.Level
		ifd tiff.Ifd
	}
	var pairs []pair
	for _, ifd := range t.Ifds {
		lvl, err := level.FromIFD(ifd, t.Order)
		if err != nil {
			continue
		}
		pairs = append(pairs, pair{lvl: lvl, ifd: ifd})
	}
	if len(pairs) == 0 {
		return nil, wrap("Open", KindNoLevels, fmt.Errorf("no usable IFDs"))
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].lvl.Megapixels() > pairs[j].lvl.Megapixels()
	})

	levels := make([]*level.Level, len(pairs))
	for i, p := range pairs {
		p.lvl.OverviewIndex = i
		levels[i] = p.lvl
	}

	proj, err := buildProjection(engine, pairs[0].ifd, levels[0].Width, levels[0].Height)
	if err != nil {
		return nil, wrap("Open", KindGeoTag, err)
	}

	return &CloudTiff{Levels: levels, Projection: proj}, nil
}

func buildProjection(engine projection.Engine, ifd tiff.Ifd, w, h int) (*projection.Projection, error) {
	dirTag, ok := ifd.Get(tagGeoKeyDirectory)
	if !ok {
		return nil, &tiff.MissingTagError{Code: tagGeoKeyDirectory}
	}
	dirShorts, err := tiff.Values[uint16](dirTag)
	if err != nil {
		return nil, err
	}
	var doubles []float64
	if t, ok := ifd.Get(tagGeoDoubleParams); ok {
		doubles, err = tiff.Values[float64](t)
		if err != nil {
			return nil, err
		}
	}
	var ascii string
	if t, ok := ifd.Get(tagGeoAsciiParams); ok {
		ascii, err = tiff.Ascii(t)
		if err != nil {
			return nil, err
		}
	}
	dir, err := geokey.ParseDirectory(dirShorts, doubles, ascii)
	if err != nil {
		return nil, err
	}

	var tiepoint, pixelScale, transformation []float64
	if t, ok := ifd.Get(tagModelTiepoint); ok {
		tiepoint, err = tiff.Values[float64](t)
		if err != nil {
			return nil, err
		}
	}
	if t, ok := ifd.Get(tagModelPixelScale); ok {
		pixelScale, err = tiff.Values[float64](t)
		if err != nil {
			return nil, err
		}
	}
	if t, ok := ifd.Get(tagModelTransformation); ok {
		transformation, err = tiff.Values[float64](t)
		if err != nil {
			return nil, err
		}
	}
	model, err := geokey.ModelFromTags(tiepoint, pixelScale, transformation)
	if err != nil {
		return nil, err
	}

	return projection.New(engine, dir, model, w, h)
}

// PixelScales returns the world-units-per-pixel for each level:
// (projection.Scale.X / level.Width, projection.Scale.Y / level.Width).
// Both axes divide by the level's WIDTH -- preserved verbatim from the
// reference implementation, including for the Y term; see the design notes
// for why this is not "fixed" here.
func (c *CloudTiff) PixelScales() [][2]float64 {
	out := make([][2]float64, len(c.Levels))
	for i, lvl := range c.Levels {
		out[i] = [2]float64{
			c.Projection.Scale[0] / float64(lvl.Width),
			c.Projection.Scale[1] / float64(lvl.Width),
		}
	}
	return out
}

// LevelAtPixelScale iterates from coarsest to finest level and returns the
// smallest level whose max-axis pixel scale is still < min; if none
// qualifies, returns level 0.
func (c *CloudTiff) LevelAtPixelScale(min float64) *level.Level {
	scales := c.PixelScales()
	for i := len(c.Levels) - 1; i >= 0; i-- {
		maxAxis := scales[i][0]
		if scales[i][1] > maxAxis {
			maxAxis = scales[i][1]
		}
		if maxAxis < min {
			return c.Levels[i]
		}
	}
	return c.Levels[0]
}

// FullDimensions returns the full-resolution level's (width, height).
func (c *CloudTiff) FullDimensions() (int, int) {
	return c.Levels[0].Width, c.Levels[0].Height
}
