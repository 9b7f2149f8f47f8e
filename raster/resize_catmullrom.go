package raster

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// resizeCatmullRom delegates to the x/image/draw Catmull-Rom kernel -- the
// external image resampler behind the opaque DynamicImage boundary. Only
// 8-bit unsigned 1/3/4-band rasters (gray, RGB, RGBA) round-trip through
// image.Image cleanly; anything else is unsupported.
func (r *Raster) resizeCatmullRom(w, h int) (*Raster, error) {
	src, err := r.toImage()
	if err != nil {
		return nil, err
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return fromImage(dst, r)
}

func (r *Raster) toImage() (image.Image, error) {
	bands := len(r.BitsPerSample)
	for _, b := range r.BitsPerSample {
		if b != 8 {
			return nil, fmt.Errorf("raster: catmull-rom resize requires 8-bit components, got %d", b)
		}
	}
	stride := r.rowSizeBytes()
	switch bands {
	case 1:
		img := &image.Gray{Pix: r.Buffer, Stride: stride, Rect: image.Rect(0, 0, r.Width, r.Height)}
		return img, nil
	case 3:
		rgba := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
		for y := 0; y < r.Height; y++ {
			for x := 0; x < r.Width; x++ {
				src := r.Buffer[y*stride+x*3 : y*stride+x*3+3]
				o := rgba.PixOffset(x, y)
				copy(rgba.Pix[o:o+3], src)
				rgba.Pix[o+3] = 0xFF
			}
		}
		return rgba, nil
	case 4:
		img := &image.NRGBA{Pix: r.Buffer, Stride: stride, Rect: image.Rect(0, 0, r.Width, r.Height)}
		return img, nil
	default:
		return nil, fmt.Errorf("raster: catmull-rom resize does not support %d-band rasters", bands)
	}
}

func fromImage(img *image.RGBA, like *Raster) (*Raster, error) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	bands := len(like.BitsPerSample)
	out := like.newLike(w, h)
	stride := out.rowSizeBytes()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := img.PixOffset(x, y)
			px := img.Pix[o : o+4]
			dst := out.Buffer[y*stride+x*bands : y*stride+x*bands+bands]
			switch bands {
			case 1:
				dst[0] = px[0]
			case 3:
				copy(dst, px[:3])
			case 4:
				copy(dst, px[:4])
			}
		}
	}
	return out, nil
}
