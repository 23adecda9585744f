// Package indexinfo implements the IndexInfo codec: one block descriptor
// record within an Indexed RowIndexEntry's payload.
//
// Wire layout per record:
//
//	firstName   (clustering-prefix, variable)
//	lastName    (clustering-prefix, variable)
//	offset      i64
//	width       i64
//	hasOpenMarker  u8 (0 or 1)          -- only if storeRows
//	[ openMarker  DeletionTime (12B) ]  -- iff hasOpenMarker == 1
//
// All integers are big-endian, matching the RowIndexEntry wire format
// that embeds these records.
package indexinfo

import (
	"encoding/binary"
	"errors"

	"github.com/heliumdb/sstable/internal/clustering"
	"github.com/heliumdb/sstable/internal/deletiontime"
)

// ErrTruncated is returned when decode or skip runs past the end of src.
var ErrTruncated = errors.New("indexinfo: truncated record")

// Info describes one contiguous byte range of a partition's atoms
// region.
type Info struct {
	FirstName  clustering.Prefix
	LastName   clustering.Prefix
	Offset     int64
	Width      int64
	OpenMarker *deletiontime.DeletionTime // nil means no open marker
}

// StoreRows gates whether the hasOpenMarker byte (and the conditional
// DeletionTime that follows it) is present on the wire. The current
// wire format always requires storeRows == true (spec §6); the
// parameter is threaded through so a future bare-offset-only variant has
// a place to branch from without an incompatible signature change.
type StoreRows bool

// Append appends the wire form of info to dst and returns the extended
// slice.
func Append(dst []byte, info Info, version clustering.Version, storeRows StoreRows) []byte {
	dst = clustering.Encode(dst, info.FirstName, version)
	dst = clustering.Encode(dst, info.LastName, version)
	dst = appendI64(dst, info.Offset)
	dst = appendI64(dst, info.Width)
	if storeRows {
		if info.OpenMarker != nil {
			dst = append(dst, 1)
			dst = deletiontime.Append(dst, *info.OpenMarker)
		} else {
			dst = append(dst, 0)
		}
	}
	return dst
}

// SerializedSize returns the number of bytes Append would write for info.
func SerializedSize(info Info, version clustering.Version, storeRows StoreRows) int {
	n := clustering.SerializedSize(info.FirstName, version)
	n += clustering.SerializedSize(info.LastName, version)
	n += 8 + 8
	if storeRows {
		n++
		if info.OpenMarker != nil {
			n += deletiontime.Size
		}
	}
	return n
}

// Decode reverses Append, returning the decoded Info and the number of
// bytes consumed from src.
func Decode(src []byte, version clustering.Version, storeRows StoreRows) (Info, int, error) {
	firstName, n1, err := clustering.Decode(src, version)
	if err != nil {
		return Info{}, 0, ErrTruncated
	}
	pos := n1

	lastName, n2, err := clustering.Decode(src[pos:], version)
	if err != nil {
		return Info{}, 0, ErrTruncated
	}
	pos += n2

	offset, pos, err := readI64(src, pos)
	if err != nil {
		return Info{}, 0, err
	}
	width, pos, err := readI64(src, pos)
	if err != nil {
		return Info{}, 0, err
	}

	info := Info{FirstName: firstName, LastName: lastName, Offset: offset, Width: width}

	if storeRows {
		if pos >= len(src) {
			return Info{}, 0, ErrTruncated
		}
		hasOpenMarker := src[pos]
		pos++
		if hasOpenMarker == 1 {
			dt, err := deletiontime.Decode(src[pos:])
			if err != nil {
				return Info{}, 0, ErrTruncated
			}
			info.OpenMarker = &dt
			pos += deletiontime.Size
		}
	}

	return info, pos, nil
}

// Skip advances past one encoded Info record in src without materializing
// its clustering prefixes, returning the number of bytes consumed. This
// lets the reader walk to record i without allocating the intervening
// records (spec §4.2).
func Skip(src []byte, version clustering.Version, storeRows StoreRows) (int, error) {
	n1, err := clustering.Skip(src, version)
	if err != nil {
		return 0, ErrTruncated
	}
	pos := n1

	n2, err := clustering.Skip(src[pos:], version)
	if err != nil {
		return 0, ErrTruncated
	}
	pos += n2

	pos += 8 + 8
	if pos > len(src) {
		return 0, ErrTruncated
	}

	if storeRows {
		if pos >= len(src) {
			return 0, ErrTruncated
		}
		hasOpenMarker := src[pos]
		pos++
		if hasOpenMarker == 1 {
			pos += deletiontime.Size
		}
	}
	if pos > len(src) {
		return 0, ErrTruncated
	}
	return pos, nil
}

func appendI64(dst []byte, v int64) []byte {
	return binary.BigEndian.AppendUint64(dst, uint64(v))
}

func readI64(src []byte, pos int) (int64, int, error) {
	if pos+8 > len(src) {
		return 0, 0, ErrTruncated
	}
	return int64(binary.BigEndian.Uint64(src[pos : pos+8])), pos + 8, nil
}
