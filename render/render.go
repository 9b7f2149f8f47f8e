// Package render implements the render engine: a staged builder that picks
// a pyramid level, computes the tile set a requested crop or reprojected
// region needs, fetches only those tiles over a stateless range-reader
// abstraction (sync or concurrent async+parallel), and composites the
// result into an output raster.Raster.
package render

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/geotiffio/cloudtiff"
	"github.com/geotiffio/cloudtiff/level"
	"github.com/geotiffio/cloudtiff/rangeio"
	"github.com/geotiffio/cloudtiff/raster"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// regionKind distinguishes the two ways a render can be scoped.
type regionKind uint8

const (
	regionInputCrop regionKind = iota
	regionOutputRegion
)

type regionSpec struct {
	kind                           regionKind
	cropX0, cropY0, cropX1, cropY1 float64
	epsg                           uint16
	minX, minY, maxX, maxY         float64
}

// Builder is the reader-less entry point: the ReaderRequired stage. Only
// WithReader/WithRangeReader/WithAsyncReader/WithAsyncRangeReader
// transition it into a ReadyBuilder where render calls become available.
type Builder struct {
	cog *cloudtiff.CloudTiff
}

// NewBuilder wraps an opened COG in a render Builder.
func NewBuilder(cog *cloudtiff.CloudTiff) *Builder { return &Builder{cog: cog} }

// ReadyBuilder owns a reader and the render configuration.
type ReadyBuilder struct {
	cog    *cloudtiff.CloudTiff
	sync   rangeio.ReadRange
	async  rangeio.AsyncReadRange
	region regionSpec

	resolutionSet bool
	outW, outH    int
	mpLimit       float64
	mpLimitSet    bool

	logger *zap.Logger
}

func newReady(cog *cloudtiff.CloudTiff) *ReadyBuilder {
	return &ReadyBuilder{
		cog:    cog,
		region: regionSpec{kind: regionInputCrop, cropX1: 1, cropY1: 1},
		logger: zap.NewNop(),
	}
}

// WithReader configures a synchronous stream+seek source; it is also
// usable for RenderAsync by running reads inline.
func (b *Builder) WithReader(rs rangeio.StreamSeeker) *ReadyBuilder {
	r := newReady(b.cog)
	r.sync = rangeio.FromStreamSeeker(rs)
	return r
}

// WithRangeReader configures a synchronous stateless range reader.
func (b *Builder) WithRangeReader(rr rangeio.ReadRange) *ReadyBuilder {
	r := newReady(b.cog)
	r.sync = rr
	return r
}

// WithAsyncReader configures an async-capable stream+seek source.
func (b *Builder) WithAsyncReader(rs rangeio.StreamSeeker) *ReadyBuilder {
	r := newReady(b.cog)
	r.async = rangeio.FromAsyncStreamSeeker(rs)
	return r
}

// WithAsyncRangeReader configures an async-capable stateless range reader.
func (b *Builder) WithAsyncRangeReader(rr rangeio.AsyncReadRange) *ReadyBuilder {
	r := newReady(b.cog)
	r.async = rr
	return r
}

// WithExactResolution fixes the output dimensions exactly.
func (r *ReadyBuilder) WithExactResolution(w, h int) *ReadyBuilder {
	r.outW, r.outH, r.resolutionSet, r.mpLimitSet = w, h, true, false
	return r
}

// WithMPLimit caps the output at maxMP megapixels, preserving the aspect
// ratio of the input crop; for an output region the full image's aspect
// ratio is used, not the region's.
func (r *ReadyBuilder) WithMPLimit(maxMP float64) *ReadyBuilder {
	r.mpLimit, r.mpLimitSet, r.resolutionSet = maxMP, true, false
	return r
}

// WithInputCrop scopes the render to a normalized [0,1]^2 image-space crop.
func (r *ReadyBuilder) WithInputCrop(x0, y0, x1, y1 float64) *ReadyBuilder {
	r.region = regionSpec{kind: regionInputCrop, cropX0: x0, cropY0: y0, cropX1: x1, cropY1: y1}
	return r
}

// WithOutputRegion scopes the render to a world-space bounding box in the
// given EPSG, reprojecting each output pixel back into the COG's own space.
func (r *ReadyBuilder) WithOutputRegion(epsg uint16, minX, minY, maxX, maxY float64) *ReadyBuilder {
	r.region = regionSpec{kind: regionOutputRegion, epsg: epsg, minX: minX, minY: minY, maxX: maxX, maxY: maxY}
	return r
}

// WithLogger overrides the warning logger used by the async path.
func (r *ReadyBuilder) WithLogger(l *zap.Logger) *ReadyBuilder {
	r.logger = l
	return r
}

func (r *ReadyBuilder) naturalDims() (int, int) {
	fullW, fullH := r.cog.FullDimensions()
	if r.region.kind == regionInputCrop {
		nw := int(float64(fullW) * (r.region.cropX1 - r.region.cropX0))
		nh := int(float64(fullH) * (r.region.cropY1 - r.region.cropY0))
		return nw, nh
	}
	return fullW, fullH
}

func (r *ReadyBuilder) resolveOutputDims() (int, int, error) {
	if r.resolutionSet {
		return r.outW, r.outH, nil
	}
	nw, nh := r.naturalDims()
	if nw <= 0 || nh <= 0 {
		return 0, 0, fmt.Errorf("render: empty crop region")
	}
	if !r.mpLimitSet {
		return nw, nh, nil
	}
	ar := float64(nw) / float64(nh)
	maxpx := float64(nw) * float64(nh)
	h := math.Sqrt(math.Min(r.mpLimit*1e6, maxpx) / ar)
	w := ar * h
	return int(w), int(h), nil
}

func (r *ReadyBuilder) chooseLevel(outW, outH int) *level.Level {
	levels := r.cog.Levels
	if r.region.kind == regionInputCrop {
		cropW := r.region.cropX1 - r.region.cropX0
		cropH := r.region.cropY1 - r.region.cropY0
		if cropW <= 0 {
			cropW = 1e-9
		}
		if cropH <= 0 {
			cropH = 1e-9
		}
		neededW := float64(outW) / cropW
		neededH := float64(outH) / cropH
		for i := len(levels) - 1; i >= 0; i-- {
			if float64(levels[i].Width) > neededW && float64(levels[i].Height) > neededH {
				return levels[i]
			}
		}
		return levels[0]
	}
	u0, v0, _, err := r.cog.Projection.TransformFrom(r.region.minX, r.region.minY, 0, r.region.epsg)
	if err != nil {
		return levels[0]
	}
	u1, v1, _, err := r.cog.Projection.TransformFrom(r.region.maxX, r.region.maxY, 0, r.region.epsg)
	if err != nil {
		return levels[0]
	}
	pixelScaleX := math.Abs(u1-u0) / float64(outW)
	pixelScaleY := math.Abs(v1-v0) / float64(outH)
	minScale := math.Min(pixelScaleX, pixelScaleY)
	return r.cog.LevelAtPixelScale(minScale)
}

// pixelSource is one output pixel's intra-tile source location, used only
// by the OutputRegion path where the mapping isn't a simple affine crop.
type pixelSource struct {
	tileX, tileY float64
	outI, outJ   int
}

func (r *ReadyBuilder) computeTileSet(lvl *level.Level, outW, outH int) (map[int][]pixelSource, error) {
	if r.region.kind == regionInputCrop {
		indices := lvl.TileIndicesWithinImageCrop(r.region.cropX0, r.region.cropY0, r.region.cropX1, r.region.cropY1)
		m := make(map[int][]pixelSource, len(indices))
		for _, idx := range indices {
			m[idx] = nil
		}
		return m, nil
	}

	m := make(map[int][]pixelSource)
	rangeX := r.region.maxX - r.region.minX
	rangeY := r.region.maxY - r.region.minY
	for j := 0; j < outH; j++ {
		worldY := r.region.maxY - (float64(j)+0.5)/float64(outH)*rangeY
		for i := 0; i < outW; i++ {
			worldX := r.region.minX + (float64(i)+0.5)/float64(outW)*rangeX
			u, v, _, err := r.cog.Projection.TransformFrom(worldX, worldY, 0, r.region.epsg)
			if err != nil {
				continue
			}
			tileIdx, tx, ty, err := lvl.IndexFromImageCoords(u, v)
			if err != nil {
				continue
			}
			m[tileIdx] = append(m[tileIdx], pixelSource{tileX: tx, tileY: ty, outI: i, outJ: j})
		}
	}
	if len(m) == 0 {
		return nil, &cloudtiff.Error{Kind: cloudtiff.KindRegionOutOfBounds, Op: "Render", Err: fmt.Errorf("output region does not intersect the cog")}
	}
	return m, nil
}

// Render runs the synchronous pipeline: sequential range reads, decoding
// inline. Any read or decode failure aborts the render.
func (r *ReadyBuilder) Render() (*raster.Raster, error) {
	if r.sync == nil {
		return nil, fmt.Errorf("render: no synchronous reader configured (use WithReader or WithRangeReader)")
	}
	outW, outH, err := r.resolveOutputDims()
	if err != nil {
		return nil, err
	}
	lvl := r.chooseLevel(outW, outH)
	tileSet, err := r.computeTileSet(lvl, outW, outH)
	if err != nil {
		return nil, err
	}

	cache, err := NewTileCache(len(tileSet))
	if err != nil {
		return nil, fmt.Errorf("render: tile cache: %w", err)
	}
	for idx := range tileSet {
		start, end, err := lvl.TileByteRange(idx)
		if err != nil {
			return nil, fmt.Errorf("render: tile %d range: %w", idx, err)
		}
		raw, err := rangeio.ReadRangeToVec(r.sync, start, end)
		if err != nil {
			return nil, fmt.Errorf("render: fetch tile %d: %w", idx, err)
		}
		tile, err := lvl.ExtractTileFromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("render: decode tile %d: %w", idx, err)
		}
		cache.Add(idx, tile)
	}

	return r.composite(lvl, tileSet, cache, outW, outH)
}

// RenderAsync runs the concurrent pipeline: one fetch task per tile via
// errgroup, then a parallel (not async) decode stage via a work-stealing
// pool. Per-tile fetch/decode failures are logged and the tile is omitted
// rather than aborting the render -- a partial render still succeeds.
func (r *ReadyBuilder) RenderAsync(ctx context.Context) (*raster.Raster, error) {
	async := r.async
	if async == nil && r.sync != nil {
		async = rangeio.Async(r.sync)
	}
	if async == nil {
		return nil, fmt.Errorf("render: no reader configured")
	}

	outW, outH, err := r.resolveOutputDims()
	if err != nil {
		return nil, err
	}
	lvl := r.chooseLevel(outW, outH)
	tileSet, err := r.computeTileSet(lvl, outW, outH)
	if err != nil {
		return nil, err
	}

	type fetched struct {
		idx int
		raw []byte
	}
	var mu sync.Mutex
	var rawTiles []fetched

	g, gctx := errgroup.WithContext(ctx)
	for idx := range tileSet {
		idx := idx
		g.Go(func() error {
			start, end, err := lvl.TileByteRange(idx)
			if err != nil {
				r.logger.Warn("render: tile out of range", zap.Int("tile", idx), zap.Error(err))
				return nil
			}
			buf := make([]byte, end-start)
			if err := rangeio.ReadRangeExactAsync(gctx, async, start, buf); err != nil {
				r.logger.Warn("render: tile fetch failed", zap.Int("tile", idx), zap.Error(err))
				return nil
			}
			mu.Lock()
			rawTiles = append(rawTiles, fetched{idx: idx, raw: buf})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("render: async fetch join: %w", err)
	}

	cache, err := NewTileCache(len(rawTiles))
	if err != nil {
		return nil, fmt.Errorf("render: tile cache: %w", err)
	}
	var cmu sync.Mutex
	p := pool.New().WithMaxGoroutines(runtime.NumCPU())
	for _, ft := range rawTiles {
		ft := ft
		p.Go(func() {
			tile, err := lvl.ExtractTileFromBytes(ft.raw)
			if err != nil {
				r.logger.Warn("render: tile decode failed", zap.Int("tile", ft.idx), zap.Error(err))
				return
			}
			cmu.Lock()
			cache.Add(ft.idx, tile)
			cmu.Unlock()
		})
	}
	p.Wait()

	return r.composite(lvl, tileSet, cache, outW, outH)
}

func (r *ReadyBuilder) composite(lvl *level.Level, tileSet map[int][]pixelSource, cache *lru.Cache[int, *raster.Raster], outW, outH int) (*raster.Raster, error) {
	bpp := 0
	for _, b := range lvl.BitsPerSample {
		bpp += int(b)
	}
	if bpp%8 != 0 {
		return nil, fmt.Errorf("render: composite requires byte-aligned pixels, got %d bits/pixel", bpp)
	}
	out, err := raster.New(outW, outH, make([]byte, outW*outH*bpp/8), lvl.BitsPerSample, lvl.Photometric, lvl.SampleFormat, lvl.ExtraSamples, lvl.Endian)
	if err != nil {
		return nil, err
	}

	if r.region.kind == regionInputCrop {
		cropW := r.region.cropX1 - r.region.cropX0
		cropH := r.region.cropY1 - r.region.cropY0
		for j := 0; j < outH; j++ {
			v := r.region.cropY0 + (float64(j)+0.5)/float64(outH)*cropH
			for i := 0; i < outW; i++ {
				u := r.region.cropX0 + (float64(i)+0.5)/float64(outW)*cropW
				tileIdx, tx, ty, err := lvl.IndexFromImageCoords(u, v)
				if err != nil {
					continue
				}
				tile, ok := cache.Get(tileIdx)
				if !ok {
					continue
				}
				px := tile.GetPixel(clampPixel(int(tx), tile.Width), clampPixel(int(ty), tile.Height))
				_ = out.PutPixel(i, j, px)
			}
		}
		return out, nil
	}

	for tileIdx, sources := range tileSet {
		tile, ok := cache.Get(tileIdx)
		if !ok {
			continue
		}
		for _, src := range sources {
			px := tile.GetPixel(clampPixel(int(src.tileX), tile.Width), clampPixel(int(src.tileY), tile.Height))
			_ = out.PutPixel(src.outI, src.outJ, px)
		}
	}
	return out, nil
}

func clampPixel(v, max int) int {
	if v < 0 {
		return 0
	}
	if v >= max {
		return max - 1
	}
	return v
}

// NewTileCache constructs an LRU tile cache sized to n entries. Render sizes
// it to its tile set and RenderAsync to the tiles it fetched, so it never
// evicts mid-render; the cache is local to one call and never shared or
// reused across renders.
func NewTileCache(n int) (*lru.Cache[int, *raster.Raster], error) {
	if n < 1 {
		n = 1
	}
	return lru.New[int, *raster.Raster](n)
}
