package wmts

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/require"
)

func TestCoverTilesSingleZoom(t *testing.T) {
	// A small box near (120, 31) -- same region used by the mvt tooling this
	// package is grounded on -- should cover at least one tile at zoom 6, and
	// every returned tile must be at zoom 6.
	bound := orb.Bound{Min: orb.Point{119.9, 30.9}, Max: orb.Point{120.1, 31.1}}
	tiles := CoverTiles(bound, 6, 6)
	require.NotEmpty(t, tiles)
	for _, tl := range tiles {
		require.EqualValues(t, 6, tl.Z)
	}
}

func TestCoverTilesMultiZoomGrows(t *testing.T) {
	bound := orb.Bound{Min: orb.Point{-1, -1}, Max: orb.Point{1, 1}}
	tiles := CoverTiles(bound, 2, 4)
	byZoom := map[maptile.Zoom]int{}
	for _, tl := range tiles {
		byZoom[tl.Z]++
	}
	require.Len(t, byZoom, 3)
	// finer zooms subdivide the same area into more tiles
	require.Greater(t, byZoom[4], byZoom[2])
}

func TestTileBoundContainsCoveringPoint(t *testing.T) {
	pt := orb.Point{120.0, 31.0}
	tile := maptile.At(pt, maptile.Zoom(6))
	b := TileBound(tile)
	require.True(t, b.Contains(pt))
}

func TestTileBoundRoundTripsThroughCoverTiles(t *testing.T) {
	bound := orb.Bound{Min: orb.Point{119.9, 30.9}, Max: orb.Point{120.1, 31.1}}
	tiles := CoverTiles(bound, 6, 6)
	require.NotEmpty(t, tiles)

	// the union of tile bounds at the covering zoom must contain the
	// original box (tile grid is coarser than or equal to the box).
	var union orb.Bound
	for i, tl := range tiles {
		tb := TileBound(tl)
		if i == 0 {
			union = tb
			continue
		}
		union = union.Union(tb)
	}
	require.True(t, union.Contains(bound.Min))
	require.True(t, union.Contains(bound.Max))
}
