package tiff

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/geotiffio/cloudtiff/endian"
)

// FieldOffsets maps a tag code to the absolute file offset of its value
// data: for an inline tag that's the field bytes inside the tag record; for
// an indirect tag (the common case for the tile-offset/byte-count arrays a
// COG encoder back-patches) it's the start of the data in the overflow
// area. Encode returns one of these per IFD so callers can seek back and
// patch placeholder arrays once tile bodies have actually been written.
type FieldOffsets map[uint16]uint64

// Encode writes the header and the given IFD chain (linked in slice order)
// to w, sorting each IFD's tags ascending by code as TIFF requires. It
// returns, per IFD, the absolute offset of every tag's data -- the
// encoder's hook for back-patching tile-offset/byte-count arrays after tile
// bodies are appended.
func Encode(w io.Writer, order endian.Order, variant Variant, ifds []Ifd) ([]FieldOffsets, error) {
	if err := writeHeader(w, order, variant); err != nil {
		return nil, fmt.Errorf("tiff: write header: %w", err)
	}

	headerSize := uint64(8)
	if variant == BigTIFF {
		headerSize = 16
	}
	countFieldSize, tagRecordSize, nextFieldSize := uint64(2), uint64(12), uint64(4)
	if variant == BigTIFF {
		countFieldSize, tagRecordSize, nextFieldSize = 8, 20, 8
	}
	offsetFieldSize := variant.offsetFieldSize()

	sorted := make([][]Tag, len(ifds))
	entrySize := make([]uint64, len(ifds))
	for i, ifd := range ifds {
		tags := append([]Tag(nil), ifd...)
		sort.Slice(tags, func(a, b int) bool { return tags[a].Code < tags[b].Code })
		sorted[i] = tags

		size := countFieldSize + tagRecordSize*uint64(len(tags)) + nextFieldSize
		for _, t := range tags {
			if uint64(len(t.Data)) > offsetFieldSize {
				size += uint64(len(t.Data))
			}
		}
		entrySize[i] = size
	}

	offsets := make([]uint64, len(sorted))
	pos := headerSize
	for i, size := range entrySize {
		offsets[i] = pos
		pos += size
	}

	result := make([]FieldOffsets, len(sorted))
	for i, tags := range sorted {
		next := uint64(0)
		if i < len(sorted)-1 {
			next = offsets[i+1]
		}
		fo, err := writeIFD(w, order, variant, offsets[i], tags, next)
		if err != nil {
			return nil, fmt.Errorf("tiff: write ifd %d: %w", i, err)
		}
		result[i] = fo
	}
	return result, nil
}

func writeHeader(w io.Writer, order endian.Order, variant Variant) error {
	magic := []byte("II")
	if order == endian.Big {
		magic = []byte("MM")
	}
	if _, err := w.Write(magic); err != nil {
		return err
	}
	if variant == BigTIFF {
		if err := endian.Write[uint16](w, order, 43); err != nil {
			return err
		}
		if err := endian.Write[uint16](w, order, 8); err != nil {
			return err
		}
		if err := endian.Write[uint16](w, order, 0); err != nil {
			return err
		}
		return endian.Write[uint64](w, order, 16)
	}
	if err := endian.Write[uint16](w, order, 42); err != nil {
		return err
	}
	return endian.Write[uint32](w, order, 8)
}

func writeIFD(w io.Writer, order endian.Order, variant Variant, base uint64, tags []Tag, next uint64) (FieldOffsets, error) {
	bo := order.ByteOrder()
	countFieldSize, tagRecordSize, nextFieldSize := uint64(2), uint64(12), uint64(4)
	fieldOff := 8
	if variant == BigTIFF {
		countFieldSize, tagRecordSize, nextFieldSize = 8, 20, 8
		fieldOff = 12
	}
	offsetFieldSize := variant.offsetFieldSize()

	if variant == BigTIFF {
		if err := endian.Write[uint64](w, order, uint64(len(tags))); err != nil {
			return nil, err
		}
	} else {
		if err := endian.Write[uint16](w, order, uint16(len(tags))); err != nil {
			return nil, err
		}
	}

	fieldOffsets := make(FieldOffsets, len(tags))
	var overflow bytes.Buffer
	overflowPos := base + countFieldSize + tagRecordSize*uint64(len(tags)) + nextFieldSize
	recordStart := base + countFieldSize

	for _, t := range tags {
		rec := make([]byte, tagRecordSize)
		bo.PutUint16(rec[0:2], t.Code)
		datatype := uint16(t.Type)
		if t.Type == TUnknown {
			// TUnknown is not a real on-disk code; the actual code this tag
			// was parsed with lives in RawType and must round-trip as-is.
			datatype = t.RawType
		}
		bo.PutUint16(rec[2:4], datatype)
		if variant == BigTIFF {
			bo.PutUint64(rec[4:12], t.Count)
		} else {
			bo.PutUint32(rec[4:8], uint32(t.Count))
		}

		// Data is the byte image under t.Order; re-order each element when
		// it differs from the file's order.
		data := t.Data
		if size := elementSizes[t.Type]; t.Order != order && size > 1 {
			if t.Type == TRational || t.Type == TSRational {
				size = 4
			}
			data = make([]byte, len(t.Data))
			for k := 0; k+size <= len(t.Data); k += size {
				for b := 0; b < size; b++ {
					data[k+b] = t.Data[k+size-1-b]
				}
			}
		}
		dataLen := uint64(len(data))
		if dataLen <= offsetFieldSize {
			copy(rec[fieldOff:], data)
			fieldOffsets[t.Code] = recordStart + uint64(fieldOff)
		} else {
			if variant == BigTIFF {
				bo.PutUint64(rec[fieldOff:], overflowPos)
			} else {
				bo.PutUint32(rec[fieldOff:], uint32(overflowPos))
			}
			fieldOffsets[t.Code] = overflowPos
			overflow.Write(data)
			overflowPos += dataLen
		}
		if _, err := w.Write(rec); err != nil {
			return nil, err
		}
		recordStart += tagRecordSize
	}

	if err := writeOffset(w, order, variant, next); err != nil {
		return nil, err
	}
	if _, err := w.Write(overflow.Bytes()); err != nil {
		return nil, err
	}
	return fieldOffsets, nil
}
