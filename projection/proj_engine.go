package projection

import (
	"fmt"
	"sync"

	proj "github.com/twpayne/go-proj/v10"
)

// ProjEngine is the production Engine: it drives actual coordinate
// transforms through PROJ via github.com/twpayne/go-proj/v10. Building a
// CRS-to-CRS transformation touches PROJ's grid/network lookup, so
// transformations are cached per (src,dst) EPSG pair and reused across
// calls.
type ProjEngine struct {
	ctx *proj.Context

	mu    sync.Mutex
	cache map[[2]uint16]*proj.PJ
}

// NewProjEngine creates a ProjEngine with a fresh PROJ context.
func NewProjEngine() *ProjEngine {
	return &ProjEngine{ctx: proj.NewContext(), cache: make(map[[2]uint16]*proj.PJ)}
}

func (e *ProjEngine) transformer(src, dst uint16) (*proj.PJ, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := [2]uint16{src, dst}
	if pj, ok := e.cache[key]; ok {
		return pj, nil
	}
	pj, err := e.ctx.NewCRSToCRS(fmt.Sprintf("EPSG:%d", src), fmt.Sprintf("EPSG:%d", dst), nil)
	if err != nil {
		return nil, fmt.Errorf("projection: build transform EPSG:%d -> EPSG:%d: %w", src, dst, err)
	}
	e.cache[key] = pj
	return pj, nil
}

// Transform implements Engine.
func (e *ProjEngine) Transform(srcEPSG, dstEPSG uint16, x, y, z float64) (float64, float64, float64, error) {
	if srcEPSG == dstEPSG {
		return x, y, z, nil
	}
	pj, err := e.transformer(srcEPSG, dstEPSG)
	if err != nil {
		return 0, 0, 0, err
	}
	out, err := pj.Forward(proj.NewCoord(x, y, z, 0))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("projection: forward transform EPSG:%d -> EPSG:%d: %w", srcEPSG, dstEPSG, err)
	}
	return out.X(), out.Y(), out.Z(), nil
}
