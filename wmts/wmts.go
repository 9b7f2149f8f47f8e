// Package wmts maps between geographic bounding boxes and the Web-Mercator
// tile tree used by WMTS/XYZ/TMS tile servers, so a tile request can be
// turned into a cloudtiff output region and back.
package wmts

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// CoverTiles returns every tile at every zoom in [minZoom, maxZoom] that
// intersects bound (lon/lat degrees, WGS84). The tile grid is axis-aligned
// in Web Mercator, so the covering set at a given zoom is the rectangle of
// tiles between the corner tiles of bound.
func CoverTiles(bound orb.Bound, minZoom, maxZoom maptile.Zoom) []maptile.Tile {
	var tiles []maptile.Tile
	for z := minZoom; z <= maxZoom; z++ {
		topLeft := maptile.At(orb.Point{bound.Min[0], bound.Max[1]}, z)
		bottomRight := maptile.At(orb.Point{bound.Max[0], bound.Min[1]}, z)

		minX, maxX := topLeft.X, bottomRight.X
		if minX > maxX {
			minX, maxX = maxX, minX
		}
		minY, maxY := topLeft.Y, bottomRight.Y
		if minY > maxY {
			minY, maxY = maxY, minY
		}

		for y := minY; y <= maxY; y++ {
			for x := minX; x <= maxX; x++ {
				tiles = append(tiles, maptile.Tile{X: x, Y: y, Z: z})
			}
		}
	}
	return tiles
}

// TileBound returns the lon/lat bounding box a WMTS tile covers, the
// inverse of CoverTiles: used to turn an incoming tile request into a
// cloudtiff output region.
func TileBound(t maptile.Tile) orb.Bound {
	return t.Bound()
}
