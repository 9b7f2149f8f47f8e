// Package raster implements the in-memory pixel buffer shared by the
// render engine and the encoder: a byte-aligned-or-not sample buffer with
// bits-per-sample, photometric interpretation, per-band sample format, and
// byte order, plus bit-packed get/put, cropping, and resizing.
package raster

import (
	"fmt"

	"github.com/geotiffio/cloudtiff/endian"
)

// Photometric is the TIFF PhotometricInterpretation code. PhotometricUnknown
// is not a wire value -- it is the zero-value default when a Level/Raster is
// built without an explicit interpretation.
type Photometric uint16

const (
	PhotometricWhiteIsZero Photometric = 0
	PhotometricBlackIsZero Photometric = 1
	PhotometricRGB         Photometric = 2
	PhotometricPalette     Photometric = 3
	PhotometricMask        Photometric = 4
	PhotometricCMYK        Photometric = 5
	PhotometricYCbCr       Photometric = 6
	PhotometricCIELab      Photometric = 8
	PhotometricUnknown     Photometric = 0xFFFF
)

// SampleFormat is the TIFF SampleFormat code for one band.
type SampleFormat uint16

const (
	SampleUnsigned  SampleFormat = 1
	SampleSigned    SampleFormat = 2
	SampleFloat     SampleFormat = 3
	SampleUndefined SampleFormat = 4
)

// Raster is a decoded (or about-to-be-encoded) pixel buffer: dimensions,
// raw sample bytes, and the per-band metadata needed to interpret them.
// BitsPerPixel is the sum of BitsPerSample; Buffer's length must equal
// Width*Height*BitsPerPixel/8 when BitsPerPixel is byte-aligned.
type Raster struct {
	Width, Height int
	Buffer        []byte
	BitsPerSample []uint16
	Photometric   Photometric
	SampleFormat  []SampleFormat
	ExtraSamples  []uint16
	Endian        endian.Order
	BitsPerPixel  int
}

// New validates and constructs a Raster. When BitsPerPixel (the sum of
// bitsPerSample) is byte-aligned, buffer's length must exactly equal
// w*h*bpp/8; non-aligned buffers are accepted here (get/put support them)
// but later rejected by Resize and GetRegion.
func New(w, h int, buffer []byte, bitsPerSample []uint16, photometric Photometric, sampleFormat []SampleFormat, extraSamples []uint16, order endian.Order) (*Raster, error) {
	bpp := 0
	for _, b := range bitsPerSample {
		bpp += int(b)
	}
	if bpp%8 == 0 {
		want := w * h * bpp / 8
		if len(buffer) != want {
			return nil, fmt.Errorf("raster: buffer length %d does not match w*h*bpp/8=%d", len(buffer), want)
		}
	}
	return &Raster{
		Width: w, Height: h, Buffer: buffer,
		BitsPerSample: bitsPerSample, Photometric: photometric,
		SampleFormat: sampleFormat, ExtraSamples: extraSamples,
		Endian: order, BitsPerPixel: bpp,
	}, nil
}

// rowSizeBits is the per-row byte stride, rounded up to the nearest byte --
// correct for any bits-per-pixel, including sub-byte. Used by GetPixel and
// PutPixel.
func (r *Raster) rowSizeBits() int {
	return (r.Width*r.BitsPerPixel + 7) / 8
}

// rowSizeBytes is the per-row byte stride assuming byte-aligned pixels
// (truncating, not rounding). Resize and GetRegion use this and bail when
// BitsPerPixel is not a multiple of 8, while GetPixel/PutPixel use
// rowSizeBits so that sub-byte pixels keep working.
func (r *Raster) rowSizeBytes() int {
	return r.Width * r.BitsPerPixel / 8
}

func (r *Raster) byteAligned() bool {
	return r.BitsPerPixel%8 == 0
}

// GetPixel returns the raw sample bytes for pixel (x,y), MSB-first within
// the bit stream even for sub-byte pixels.
func (r *Raster) GetPixel(x, y int) []byte {
	bitOffset := y*r.rowSizeBits()*8 + x*r.BitsPerPixel
	return extractBits(r.Buffer, bitOffset, r.BitsPerPixel)
}

// PutPixel writes pixel's bytes at (x,y). pixel must hold exactly
// ceil(BitsPerPixel/8) bytes.
func (r *Raster) PutPixel(x, y int, pixel []byte) error {
	want := (r.BitsPerPixel + 7) / 8
	if len(pixel) != want {
		return fmt.Errorf("raster: put_pixel expects %d bytes, got %d", want, len(pixel))
	}
	bitOffset := y*r.rowSizeBits()*8 + x*r.BitsPerPixel
	insertBits(r.Buffer, bitOffset, r.BitsPerPixel, pixel)
	return nil
}

func extractBits(buf []byte, bitOffset, nbits int) []byte {
	out := make([]byte, (nbits+7)/8)
	for i := 0; i < nbits; i++ {
		srcByte, srcBit := (bitOffset+i)/8, 7-(bitOffset+i)%8
		bit := (buf[srcByte] >> srcBit) & 1
		dstByte, dstBit := i/8, 7-i%8
		out[dstByte] |= bit << dstBit
	}
	return out
}

func insertBits(buf []byte, bitOffset, nbits int, src []byte) {
	for i := 0; i < nbits; i++ {
		srcByte, srcBit := i/8, 7-i%8
		bit := (src[srcByte] >> srcBit) & 1
		dstByte, dstBit := (bitOffset+i)/8, 7-(bitOffset+i)%8
		buf[dstByte] = (buf[dstByte] &^ (1 << dstBit)) | (bit << dstBit)
	}
}

// Filter selects a resampling kernel for Resize.
type Filter uint8

const (
	FilterNearest Filter = iota
	FilterMaximum
	FilterCatmullRom
)

// Resize produces a new Raster at (w', h') using filter. Only byte-aligned
// pixels are supported. FilterMaximum additionally requires every band to
// be exactly 8 bits.
func (r *Raster) Resize(w, h int, filter Filter) (*Raster, error) {
	if !r.byteAligned() {
		return nil, fmt.Errorf("raster: resize requires byte-aligned pixels, got %d bits/pixel", r.BitsPerPixel)
	}
	switch filter {
	case FilterNearest:
		return r.resizeNearest(w, h)
	case FilterMaximum:
		return r.resizeMaximum(w, h)
	case FilterCatmullRom:
		return r.resizeCatmullRom(w, h)
	default:
		return nil, fmt.Errorf("raster: unknown filter %d", filter)
	}
}

func (r *Raster) newLike(w, h int) *Raster {
	bpb := r.BitsPerPixel / 8
	return &Raster{
		Width: w, Height: h, Buffer: make([]byte, w*h*bpb),
		BitsPerSample: append([]uint16(nil), r.BitsPerSample...),
		Photometric:   r.Photometric,
		SampleFormat:  append([]SampleFormat(nil), r.SampleFormat...),
		ExtraSamples:  append([]uint16(nil), r.ExtraSamples...),
		Endian:        r.Endian, BitsPerPixel: r.BitsPerPixel,
	}
}

func (r *Raster) resizeNearest(w, h int) (*Raster, error) {
	out := r.newLike(w, h)
	bpb := r.BitsPerPixel / 8
	srcStride, dstStride := r.rowSizeBytes(), out.rowSizeBytes()
	for j := 0; j < h; j++ {
		sy := j * r.Height / h
		for i := 0; i < w; i++ {
			sx := i * r.Width / w
			copy(out.Buffer[j*dstStride+i*bpb:], r.Buffer[sy*srcStride+sx*bpb:sy*srcStride+sx*bpb+bpb])
		}
	}
	return out, nil
}

func (r *Raster) resizeMaximum(w, h int) (*Raster, error) {
	for _, b := range r.BitsPerSample {
		if b != 8 {
			return nil, fmt.Errorf("raster: FilterMaximum requires 8-bit components, got %d", b)
		}
	}
	out := r.newLike(w, h)
	bpb := r.BitsPerPixel / 8
	srcStride, dstStride := r.rowSizeBytes(), out.rowSizeBytes()
	for j := 0; j < h; j++ {
		y0, y1 := j*r.Height/h, (j+1)*r.Height/h
		if y1 <= y0 {
			y1 = y0 + 1
		}
		if y1 > r.Height {
			y1 = r.Height
		}
		for i := 0; i < w; i++ {
			x0, x1 := i*r.Width/w, (i+1)*r.Width/w
			if x1 <= x0 {
				x1 = x0 + 1
			}
			if x1 > r.Width {
				x1 = r.Width
			}
			dst := out.Buffer[j*dstStride+i*bpb : j*dstStride+i*bpb+bpb]
			for c := 0; c < bpb; c++ {
				dst[c] = 0
			}
			for yy := y0; yy < y1; yy++ {
				for xx := x0; xx < x1; xx++ {
					src := r.Buffer[yy*srcStride+xx*bpb : yy*srcStride+xx*bpb+bpb]
					for c := 0; c < bpb; c++ {
						if src[c] > dst[c] {
							dst[c] = src[c]
						}
					}
				}
			}
		}
	}
	return out, nil
}

// GetRegion crops the raster to [x0,x1) x [y0,y1), preserving the
// off-by-one observed in the reference implementation: the upper bounds
// are first clamped to Width-1/Height-1 and the loop is exclusive, so a
// crop whose x1/y1 equals the full dimension comes back one pixel short on
// that edge. Byte-aligned pixels only.
func (r *Raster) GetRegion(x0, y0, x1, y1 int) (*Raster, error) {
	if !r.byteAligned() {
		return nil, fmt.Errorf("raster: get_region requires byte-aligned pixels, got %d bits/pixel", r.BitsPerPixel)
	}
	yEnd := min(y1, r.Height-1)
	xEnd := min(x1, r.Width-1)
	w, h := xEnd-x0, yEnd-y0
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	out := r.newLike(w, h)
	bpb := r.BitsPerPixel / 8
	srcStride, dstStride := r.rowSizeBytes(), out.rowSizeBytes()
	for j := 0; j < h; j++ {
		srcOff := (y0+j)*srcStride + x0*bpb
		copy(out.Buffer[j*dstStride:(j+1)*dstStride], r.Buffer[srcOff:srcOff+dstStride])
	}
	return out, nil
}
