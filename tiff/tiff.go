// Package tiff implements the TIFF 6.0 / BigTIFF container codec: header
// magic, IFD chain walk, the tag and typed-value model, and the symmetric
// encoder that writes the mirror image of what Parse reads.
package tiff

import (
	"fmt"
	"io"

	"github.com/geotiffio/cloudtiff/endian"
)

// Variant distinguishes classic 32-bit-offset TIFF from 64-bit-offset
// BigTIFF.
type Variant uint8

const (
	Normal Variant = iota
	BigTIFF
)

// offsetFieldSize returns 4 for Normal, 8 for BigTIFF -- the width of an
// inline tag's value field, and of every file offset.
func (v Variant) offsetFieldSize() uint64 {
	if v == BigTIFF {
		return 8
	}
	return 4
}

// Tiff is a parsed TIFF/BigTIFF container: its byte order, variant, and the
// ordered chain of IFDs found by walking from the first-IFD offset to a
// zero terminator.
type Tiff struct {
	Order   endian.Order
	Variant Variant
	Ifds    []Ifd
}

// Parse reads a TIFF or BigTIFF container from r, which must support
// seeking: tag data that does not fit inline lives at an absolute offset,
// and reading it requires seeking away from the tag table and back.
func Parse(r io.ReadSeeker) (*Tiff, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("tiff: seek to start: %w", err)
	}
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	order, ok := endian.OrderFromMagic(magic[0], magic[1])
	if !ok {
		return nil, ErrBadMagic
	}
	bo := order.ByteOrder()
	variant := Normal
	switch bo.Uint16(magic[2:4]) {
	case 42:
		// Normal TIFF, nothing further to consume from the header.
	case 43:
		variant = BigTIFF
		var ext [4]byte // offset byte size (8) + reserved (0)
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, fmt.Errorf("%w: bigtiff header extension: %v", ErrBadMagic, err)
		}
	default:
		return nil, ErrBadMagic
	}

	firstOff, err := readOffset(r, order, variant)
	if err != nil {
		return nil, fmt.Errorf("tiff: read first ifd offset: %w", err)
	}

	t := &Tiff{Order: order, Variant: variant}
	seen := make(map[uint64]bool)
	off := firstOff
	for off != 0 {
		if seen[off] {
			return nil, fmt.Errorf("tiff: cyclic ifd chain at offset %d", off)
		}
		seen[off] = true
		ifd, next, err := parseIFD(r, order, variant, off)
		if err != nil {
			return nil, err
		}
		t.Ifds = append(t.Ifds, ifd)
		off = next
	}
	if len(t.Ifds) == 0 {
		return nil, ErrNoIFD0
	}
	return t, nil
}

func readOffset(r io.Reader, order endian.Order, variant Variant) (uint64, error) {
	if variant == BigTIFF {
		return endian.Read[uint64](r, order)
	}
	v, err := endian.Read[uint32](r, order)
	return uint64(v), err
}

func writeOffset(w io.Writer, order endian.Order, variant Variant, v uint64) error {
	if variant == BigTIFF {
		return endian.Write[uint64](w, order, v)
	}
	return endian.Write[uint32](w, order, uint32(v))
}

func parseIFD(r io.ReadSeeker, order endian.Order, variant Variant, offset uint64) (Ifd, uint64, error) {
	if _, err := r.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("tiff: seek to ifd at %d: %w", offset, err)
	}
	var count uint64
	if variant == BigTIFF {
		v, err := endian.Read[uint64](r, order)
		if err != nil {
			return nil, 0, fmt.Errorf("tiff: read ifd tag count: %w", err)
		}
		count = v
	} else {
		v, err := endian.Read[uint16](r, order)
		if err != nil {
			return nil, 0, fmt.Errorf("tiff: read ifd tag count: %w", err)
		}
		count = uint64(v)
	}

	tagRecordSize := 12
	fieldOff := 8
	if variant == BigTIFF {
		tagRecordSize = 20
		fieldOff = 12
	}
	offsetFieldSize := variant.offsetFieldSize()
	bo := order.ByteOrder()

	ifd := make(Ifd, 0, count)
	for i := uint64(0); i < count; i++ {
		rec := make([]byte, tagRecordSize)
		if _, err := io.ReadFull(r, rec); err != nil {
			return nil, 0, fmt.Errorf("tiff: read tag record %d: %w", i, err)
		}
		code := bo.Uint16(rec[0:2])
		rawType := bo.Uint16(rec[2:4])
		var cnt uint64
		if variant == BigTIFF {
			cnt = bo.Uint64(rec[4:12])
		} else {
			cnt = uint64(bo.Uint32(rec[4:8]))
		}
		tagType, elemSize := resolveType(rawType)
		dataLen := cnt * uint64(elemSize)

		var data []byte
		if dataLen <= offsetFieldSize {
			data = append([]byte(nil), rec[fieldOff:fieldOff+int(dataLen)]...)
		} else {
			var dataOffset uint64
			if variant == BigTIFF {
				dataOffset = bo.Uint64(rec[fieldOff:])
			} else {
				dataOffset = uint64(bo.Uint32(rec[fieldOff:]))
			}
			cursor, err := r.Seek(0, io.SeekCurrent)
			if err != nil {
				return nil, 0, fmt.Errorf("tiff: tell: %w", err)
			}
			if _, err := r.Seek(int64(dataOffset), io.SeekStart); err != nil {
				return nil, 0, fmt.Errorf("tiff: seek to tag %d data at %d: %w", code, dataOffset, err)
			}
			data = make([]byte, dataLen)
			if _, err := io.ReadFull(r, data); err != nil {
				return nil, 0, fmt.Errorf("tiff: read tag %d data (%d bytes at %d): %w", code, dataLen, dataOffset, err)
			}
			if _, err := r.Seek(cursor, io.SeekStart); err != nil {
				return nil, 0, fmt.Errorf("tiff: seek back to tag table: %w", err)
			}
		}
		ifd = append(ifd, Tag{
			Code:    code,
			Type:    tagType,
			RawType: rawType,
			Count:   cnt,
			Data:    data,
			Order:   order,
		})
	}
	next, err := readOffset(r, order, variant)
	if err != nil {
		return nil, 0, fmt.Errorf("tiff: read next ifd offset: %w", err)
	}
	return ifd, next, nil
}
