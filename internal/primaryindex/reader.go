package primaryindex

import (
	"encoding/binary"
	"errors"

	"github.com/heliumdb/sstable/internal/atom"
	"github.com/heliumdb/sstable/internal/indexinfo"
	"github.com/heliumdb/sstable/internal/rowindex"
)

// ErrTruncated is returned when a record header or body runs past the
// end of the index data.
var ErrTruncated = errors.New("primaryindex: truncated record")

// Record is one decoded primary index entry.
type Record struct {
	Key   []byte
	Entry rowindex.Entry
}

// Reader iterates (key, RowIndexEntry) records held entirely in memory
// — the primary index file is read in full ahead of iteration, matching
// the data flow described for a lazily-decoded RowIndexEntry whose
// IndexInfo blocks are only materialized as indexOf/indexInfo are
// called.
type Reader struct {
	data          []byte
	onDiskVersion atom.MessagingVersion
	storeRows     indexinfo.StoreRows
}

// NewReader wraps the full contents of a primary index file.
func NewReader(data []byte, onDiskVersion atom.MessagingVersion, storeRows indexinfo.StoreRows) *Reader {
	return &Reader{data: data, onDiskVersion: onDiskVersion, storeRows: storeRows}
}

// At decodes the record starting at byte offset pos, returning it along
// with the offset of the next record.
func (r *Reader) At(pos int) (Record, int, error) {
	if pos+2 > len(r.data) {
		return Record{}, 0, ErrTruncated
	}
	keyLen := int(binary.BigEndian.Uint16(r.data[pos : pos+2]))
	pos += 2
	if pos+keyLen > len(r.data) {
		return Record{}, 0, ErrTruncated
	}
	key := r.data[pos : pos+keyLen]
	pos += keyLen

	entry, n, err := rowindex.Deserialize(r.data[pos:], r.onDiskVersion, r.storeRows)
	if err != nil {
		return Record{}, 0, err
	}
	return Record{Key: key, Entry: entry}, pos + n, nil
}

// All decodes every record in file order.
func (r *Reader) All() ([]Record, error) {
	var records []Record
	pos := 0
	for pos < len(r.data) {
		rec, next, err := r.At(pos)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
		pos = next
	}
	return records, nil
}
