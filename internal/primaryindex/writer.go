// Package primaryindex implements the Primary Index Writer: it
// serializes (key, RowIndexEntry) records to the primary index file,
// feeds the summary sink and Bloom filter, and supports the
// mark/reset-and-truncate discipline the partition appender relies on
// for rollback.
package primaryindex

import (
	"encoding/binary"
	"fmt"

	"github.com/heliumdb/sstable/internal/logging"
	"github.com/heliumdb/sstable/internal/partition"
	"github.com/heliumdb/sstable/internal/rowindex"
	"github.com/heliumdb/sstable/internal/testutil"
	"github.com/heliumdb/sstable/internal/vfs"
)

// FilterSink accepts partition keys as they are written and, on Finish,
// returns the serialized filter component. github.com/heliumdb/sstable's
// internal/filter.BloomFilterBuilder satisfies this directly.
type FilterSink interface {
	AddKey(key []byte)
	Finish() []byte
}

// SummarySink is told the offset of every written record so a sparse
// sampling of the primary index can be held in memory for fast seeking.
type SummarySink interface {
	Sample(key []byte, offset int64)
}

// BoundaryRecorder is notified of potential segment boundaries in the
// index file, mirroring the data-file recorder the appender drives.
type BoundaryRecorder interface {
	Mark(offset int64)
}

// Writer writes the primary index file.
type Writer struct {
	f      vfs.WritableFile
	pos    int64
	filter FilterSink
	summ   SummarySink
	bound  BoundaryRecorder
	logger logging.Logger
}

// New constructs a Writer over f. filter, summ, and bound may be nil if
// the caller does not want that collaborator driven.
func New(f vfs.WritableFile, filter FilterSink, summ SummarySink, bound BoundaryRecorder, logger logging.Logger) (*Writer, error) {
	size, err := f.Size()
	if err != nil {
		return nil, fmt.Errorf("primaryindex: opening writer: %w", err)
	}
	return &Writer{f: f, pos: size, filter: filter, summ: summ, bound: bound, logger: logging.OrDefault(logger)}, nil
}

// Write serializes (key, entry) as keyLen:u16 || keyBytes ||
// RowIndexEntry-wire-form, then feeds the filter and summary sink with
// the record's key and starting offset.
func (w *Writer) Write(key []byte, entry rowindex.Entry) error {
	offset := w.pos
	testutil.MaybeKill(testutil.KPPrimaryIndexFlush0)

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(key)))
	if err := w.append(lenBuf[:]); err != nil {
		return err
	}
	if err := w.append(key); err != nil {
		return err
	}
	if err := w.append(rowindex.Serialize(nil, entry)); err != nil {
		return err
	}
	testutil.MaybeKill(testutil.KPPrimaryIndexFlush1)

	if w.filter != nil {
		w.filter.AddKey(key)
	}
	if w.summ != nil {
		w.summ.Sample(key, offset)
	}
	if w.bound != nil {
		w.bound.Mark(offset)
	}
	return nil
}

func (w *Writer) append(data []byte) error {
	if err := w.f.Append(data); err != nil {
		return err
	}
	w.pos += int64(len(data))
	return nil
}

// Mark returns a snapshot of the writer's current size.
func (w *Writer) Mark() partition.Mark { return partition.Mark{Size: w.pos} }

// ResetAndTruncate truncates the index file back to m, discarding any
// records written since. The filter is write-only and is not rolled
// back: keys already fed to it remain, surfacing only as harmless extra
// false positives.
func (w *Writer) ResetAndTruncate(m partition.Mark) error {
	if err := w.f.Truncate(m.Size); err != nil {
		w.logger.Errorf("%srollback: truncating index file: %v", logging.NSPrimaryIndex, err)
		return err
	}
	w.pos = m.Size
	return nil
}

// Close finalizes the index file: if a filter is attached, its
// serialized bytes are returned for the caller to write to the FILTER
// component file. The index file itself is truncated to the last valid
// position (== w.pos, since every Write leaves it record-aligned) and
// closed.
func (w *Writer) Close() (filterBytes []byte, err error) {
	if w.filter != nil {
		filterBytes = w.filter.Finish()
	}
	if err := w.f.Truncate(w.pos); err != nil {
		return nil, fmt.Errorf("primaryindex: truncating on close: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return nil, fmt.Errorf("primaryindex: syncing on close: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return nil, fmt.Errorf("primaryindex: closing: %w", err)
	}
	return filterBytes, nil
}
