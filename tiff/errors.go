package tiff

import (
	"errors"
	"fmt"
)

// ErrBadMagic is returned when the first four bytes of a stream are not a
// recognized TIFF or BigTIFF magic ("II"/"MM" followed by 0x002A/0x002B).
var ErrBadMagic = errors.New("tiff: bad magic bytes")

// ErrNoIFD0 is returned when the IFD chain is empty -- a TIFF needs at
// least one IFD.
var ErrNoIFD0 = errors.New("tiff: no ifd0")

// MissingTagError reports that a required tag was absent from an IFD.
type MissingTagError struct {
	Code uint16
}

func (e *MissingTagError) Error() string {
	return fmt.Sprintf("tiff: missing tag %d", e.Code)
}

// BadTagError reports that a tag's value could not be decoded to the type
// or arity the caller expected.
type BadTagError struct {
	Code   uint16
	Reason string
}

func (e *BadTagError) Error() string {
	return fmt.Sprintf("tiff: bad tag %d: %s", e.Code, e.Reason)
}
