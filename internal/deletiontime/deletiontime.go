// Package deletiontime implements the fixed 12-byte DeletionTime codec:
// (localDeletionTime:i32, markedForDeletionAt:i64), always big-endian and
// always exactly 12 bytes on the wire, matching the RowIndexEntry and
// IndexInfo wire formats that embed it.
package deletiontime

import (
	"encoding/binary"
	"errors"
)

// Size is the fixed encoded length of a DeletionTime.
const Size = 12

// ErrTruncated is returned when decode does not have Size bytes available.
var ErrTruncated = errors.New("deletiontime: truncated")

// DeletionTime is the pair (localDeletionTime, markedForDeletionAt). A
// sentinel "no deletion" value (Live) exists and serializes to the same
// 12 bytes as any other deletion time — it carries no special wire tag.
type DeletionTime struct {
	LocalDeletionTime  int32
	MarkedForDeletionAt int64
}

// Live is the sentinel "no deletion" value.
var Live = DeletionTime{LocalDeletionTime: 0x7FFFFFFF, MarkedForDeletionAt: -1}

// IsLive reports whether d represents the absence of a deletion.
func (d DeletionTime) IsLive() bool {
	return d == Live
}

// Append appends the 12-byte big-endian encoding of d to dst and returns
// the extended slice.
func Append(dst []byte, d DeletionTime) []byte {
	var buf [Size]byte
	binary.BigEndian.PutUint32(buf[0:4], uint32(d.LocalDeletionTime))
	binary.BigEndian.PutUint64(buf[4:12], uint64(d.MarkedForDeletionAt))
	return append(dst, buf[:]...)
}

// Decode reads a DeletionTime from the first Size bytes of src.
func Decode(src []byte) (DeletionTime, error) {
	if len(src) < Size {
		return DeletionTime{}, ErrTruncated
	}
	return DeletionTime{
		LocalDeletionTime:   int32(binary.BigEndian.Uint32(src[0:4])),
		MarkedForDeletionAt: int64(binary.BigEndian.Uint64(src[4:12])),
	}, nil
}

// Skip reports whether src has at least Size bytes available, returning
// Size if so.
func Skip(src []byte) (int, error) {
	if len(src) < Size {
		return 0, ErrTruncated
	}
	return Size, nil
}
