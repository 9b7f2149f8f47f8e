// Package imgcodec implements tile body decoding and encoding: the TIFF
// compression codes and predictor methods applied to a tile's raw pixel
// bytes before it becomes a raster.Raster.
package imgcodec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hhrutter/lzw"
	"github.com/klauspost/compress/zlib"
)

// Compression is a TIFF Compression tag value. Every code in the TIFF/GeoTIFF
// wild is enumerable here so a round-tripping reader can preserve an
// unsupported code faithfully; only Uncompressed, LZW, and DeflateAdobe
// actually decode/encode, and Deflate (32946) decodes as well.
type Compression uint16

const (
	Uncompressed Compression = 1
	CCITTRLE     Compression = 2
	CCITTFax3    Compression = 3
	CCITTFax4    Compression = 4
	LZW          Compression = 5
	OldJPEG      Compression = 6
	JPEG         Compression = 7
	DeflateAdobe Compression = 8
	PackBits     Compression = 32773
	Deflate      Compression = 32946
	LZMA         Compression = 34925
	Zstd         Compression = 50000
	WebP         Compression = 50001
)

// CompressionNotSupportedError is returned for a recognized-but-unimplemented
// (or entirely unrecognized) compression code.
type CompressionNotSupportedError struct {
	Code Compression
}

func (e *CompressionNotSupportedError) Error() string {
	return fmt.Sprintf("imgcodec: compression code %d not supported", e.Code)
}

// Decode inverts a tile's on-disk compression, returning raw sample bytes.
func Decode(c Compression, data []byte) ([]byte, error) {
	switch c {
	case Uncompressed:
		return data, nil
	case LZW:
		r := lzw.NewReader(bytes.NewReader(data), lzw.MSB, 8)
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("imgcodec: lzw decode: %w", err)
		}
		return out, nil
	case DeflateAdobe, Deflate:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("imgcodec: zlib open: %w", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("imgcodec: zlib decode: %w", err)
		}
		return out, nil
	default:
		return nil, &CompressionNotSupportedError{Code: c}
	}
}

// Encode applies a tile's compression to raw sample bytes.
func Encode(c Compression, data []byte) ([]byte, error) {
	switch c {
	case Uncompressed:
		return data, nil
	case LZW:
		var buf bytes.Buffer
		w := lzw.NewWriter(&buf, lzw.MSB, 8)
		if _, err := w.Write(data); err != nil {
			w.Close()
			return nil, fmt.Errorf("imgcodec: lzw encode: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("imgcodec: lzw close: %w", err)
		}
		return buf.Bytes(), nil
	case DeflateAdobe:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			w.Close()
			return nil, fmt.Errorf("imgcodec: zlib encode: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("imgcodec: zlib close: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, &CompressionNotSupportedError{Code: c}
	}
}
