// Package rowindex implements the RowIndexEntry on-disk format and its
// two variants (Bare, Indexed), the builder that produces entries from a
// sorted atom stream, and the lazy reader that decodes an Indexed
// entry's block list on demand.
package rowindex

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/heliumdb/sstable/internal/clustering"
	"github.com/heliumdb/sstable/internal/deletiontime"
	"github.com/heliumdb/sstable/internal/indexinfo"
)

// ErrTruncated is returned when deserialize runs past the end of source.
var ErrTruncated = errors.New("rowindex: truncated entry")

// ErrMalformed is returned when deserialize finds an internally
// inconsistent columnsCount (fewer than 2 for an Indexed payload).
var ErrMalformed = errors.New("rowindex: malformed entry, columnsCount < 2")

// ErrVersionMismatch is returned when an on-disk version cannot be
// transcoded to the engine's current wire format.
var ErrVersionMismatch = errors.New("rowindex: on-disk version cannot be transcoded")

// columnsCountOffset is the byte offset of the columnsCount field within
// an Indexed entry's payload, immediately after the 12-byte partition
// deletion.
const columnsCountOffset = deletiontime.Size

// payloadHeaderSize is the number of payload bytes preceding the first
// IndexInfo record: the partition deletion plus the columnsCount field.
const payloadHeaderSize = deletiontime.Size + 4

// Entry is a RowIndexEntry: a Bare entry carries only Position; an
// Indexed entry additionally carries a buffered payload. The
// distinction is a tagged variant rather than a subclass — callers check
// IsIndexed() and call the Indexed-only accessors only when it is true.
type Entry struct {
	position int64
	payload  []byte // nil (or len 0) for Bare

	storeRows indexinfo.StoreRows
	version   clustering.Version

	mu         sync.Mutex
	offsets    []int32 // memoized start offset of record i within payload; 0 means unknown
	cacheIndex int     // -1 when no entry cached
	cacheInfo  indexinfo.Info
}

// Bare constructs a Bare RowIndexEntry pointing at position.
func Bare(position int64) Entry {
	return Entry{position: position, cacheIndex: -1}
}

// Indexed constructs an Indexed RowIndexEntry wrapping an already
// serialized payload (partition deletion + columnsCount + IndexInfo
// records). columnsCount is read from the payload itself.
func Indexed(position int64, payload []byte, storeRows indexinfo.StoreRows, version clustering.Version) Entry {
	count := int(int32(binary.BigEndian.Uint32(payload[columnsCountOffset : columnsCountOffset+4])))
	return Entry{
		position:   position,
		payload:    payload,
		storeRows:  storeRows,
		version:    version,
		offsets:    make([]int32, count),
		cacheIndex: -1,
	}
}

// Position returns the partition's offset in the data file.
func (e *Entry) Position() int64 { return e.position }

// IsIndexed reports whether this is an Indexed entry.
func (e *Entry) IsIndexed() bool { return len(e.payload) > 0 }

// DeletionTime returns the partition-level deletion time carried by an
// Indexed entry. Undefined for a Bare entry.
func (e *Entry) DeletionTime() deletiontime.DeletionTime {
	dt, _ := deletiontime.Decode(e.payload[0:deletiontime.Size])
	return dt
}

// ColumnsCount returns the number of IndexInfo records. Zero for a Bare
// entry.
func (e *Entry) ColumnsCount() int32 {
	if !e.IsIndexed() {
		return 0
	}
	return int32(binary.BigEndian.Uint32(e.payload[columnsCountOffset : columnsCountOffset+4]))
}

// IndexInfo returns the i-th block descriptor.
//
// The implementation maintains offsets[], memoizing the starting byte
// offset of each record within the payload, plus a single-slot
// (cacheIndex, cacheInfo) cache:
//   - if i == cacheIndex, return cacheInfo directly.
//   - if offsets[i] > 0, seek there and decode one record.
//   - otherwise find the largest j <= i with offsets[j] > 0 (or the
//     start of the record region if none), walk forward with Skip until
//     reaching record i, memoizing every offset traversed along the way
//     (including i, and i+1 if it exists), then decode record i.
//
// offsets[] and the cache are guarded by a mutex so two concurrent
// readers never observe a half-initialized Info and offsets[i] is only
// ever transitioned from 0 to its final value (double-computation under
// the lock is impossible, but would be harmless since the payload is
// immutable and the codec is deterministic).
func (e *Entry) IndexInfo(i int) (indexinfo.Info, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if i == e.cacheIndex {
		return e.cacheInfo, nil
	}

	start := payloadHeaderSize
	j := 0
	for k := i; k >= 0; k-- {
		if e.offsets[k] > 0 {
			j = k
			start = int(e.offsets[k])
			break
		}
	}

	pos := start
	for k := j; k < i; k++ {
		e.offsets[k] = int32(pos)
		n, err := indexinfo.Skip(e.payload[pos:], e.version, e.storeRows)
		if err != nil {
			return indexinfo.Info{}, ErrTruncated
		}
		pos += n
	}

	info, n, err := indexinfo.Decode(e.payload[pos:], e.version, e.storeRows)
	if err != nil {
		return indexinfo.Info{}, ErrTruncated
	}
	e.offsets[i] = int32(pos)

	if i+1 < len(e.offsets) {
		e.offsets[i+1] = int32(pos + n)
	}

	e.cacheIndex = i
	e.cacheInfo = info
	return info, nil
}

// IndexOf finds the block that contains or brackets name.
//
// Forward search (reversed == false) looks in [lastIndex, ColumnsCount())
// for the first block whose lastName is >= name; if every block in the
// window sorts before name, it clamps to the last block in the window
// rather than signaling out-of-range, since a forward-scanning caller
// reading past the end of the index simply wants its best remaining
// block.
//
// Reverse search (reversed == true) looks in [0, lastIndex+1) for the
// last block whose firstName is <= name; if no block qualifies (name
// sorts before the first block in the window), it returns -1 to signal
// "before the indexed range".
//
// lastIndex is a monotonically advancing hint from the caller, narrowing
// the window as a sequential scan progresses.
func (e *Entry) IndexOf(name clustering.Prefix, comparator clustering.Comparator, reversed bool, lastIndex int) (int, error) {
	if reversed {
		lo, hi := 0, lastIndex+1
		upper := hi
		for lo < hi {
			mid := lo + (hi-lo)/2
			info, err := e.IndexInfo(mid)
			if err != nil {
				return 0, err
			}
			if comparator.Compare(info.FirstName, name) > 0 {
				upper = mid
				hi = mid
			} else {
				lo = mid + 1
			}
		}
		if lo == hi {
			upper = lo
		}
		return upper - 1, nil
	}

	count := int(e.ColumnsCount())
	lo, hi := lastIndex, count
	found := hi
	for lo < hi {
		mid := lo + (hi-lo)/2
		info, err := e.IndexInfo(mid)
		if err != nil {
			return 0, err
		}
		if comparator.Compare(info.LastName, name) >= 0 {
			found = mid
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	if lo == hi {
		found = lo
	}
	if found >= count {
		return count - 1, nil
	}
	return found, nil
}
