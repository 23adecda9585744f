// Package partition implements the partition appender: the component
// that turns a sequence of (key, atom stream) pairs into partition
// frames on a data file, drives the row index builder, and enforces
// strict key ordering with mark/reset rollback on failure.
package partition

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/heliumdb/sstable/internal/atom"
	"github.com/heliumdb/sstable/internal/deletiontime"
	"github.com/heliumdb/sstable/internal/logging"
	"github.com/heliumdb/sstable/internal/rowindex"
	"github.com/heliumdb/sstable/internal/testutil"
	"github.com/heliumdb/sstable/internal/vfs"
)

// ErrOrderViolation is returned when a partition key is not strictly
// greater than the previously appended key. It is fatal: the caller
// must abort the SSTable being built.
var ErrOrderViolation = errors.New("partition: order violation, key not strictly greater than previous key")

// ErrKeyTooLarge is returned when a partition key exceeds the 16-bit
// length prefix used by the data and primary index frames. The caller
// may skip the offending partition and continue; it is not fatal to the
// SSTable as a whole.
var ErrKeyTooLarge = errors.New("partition: key exceeds 65535 bytes")

const maxKeyLen = 0xffff

// Mark is a file-size snapshot used to roll a writer back to a
// known-good point via Truncate.
type Mark struct {
	Size int64
}

// IndexWriter is the primary index collaborator: it serializes
// (key, entry) records, feeds the summary sink and Bloom filter, and
// supports the same mark/reset discipline as the data file.
type IndexWriter interface {
	Write(key []byte, entry rowindex.Entry) error
	Mark() Mark
	ResetAndTruncate(m Mark) error
}

// BoundaryRecorder is notified of potential segment boundaries in the
// data file, one call per partition appended.
type BoundaryRecorder interface {
	Mark(position int64)
}

// fileWriter adapts a vfs.WritableFile to rowindex.AtomWriter, tracking
// the current offset locally rather than calling Size() on every
// append.
type fileWriter struct {
	f   vfs.WritableFile
	pos int64
}

func newFileWriter(f vfs.WritableFile) (*fileWriter, error) {
	size, err := f.Size()
	if err != nil {
		return nil, err
	}
	return &fileWriter{f: f, pos: size}, nil
}

func (w *fileWriter) Append(data []byte) error {
	if err := w.f.Append(data); err != nil {
		return err
	}
	w.pos += int64(len(data))
	return nil
}

func (w *fileWriter) Pointer() int64 { return w.pos }

func (w *fileWriter) Mark() Mark { return Mark{Size: w.pos} }

func (w *fileWriter) ResetAndTruncate(m Mark) error {
	if err := w.f.Truncate(m.Size); err != nil {
		return err
	}
	w.pos = m.Size
	return nil
}

// Appender writes partition frames to a data file, driving the row
// index builder for each partition and recording the resulting entry
// with an IndexWriter.
//
// Appender is single-owner: there are no suspension points within a
// partition, and cross-partition ordering is the caller's contract.
type Appender struct {
	data    *fileWriter
	index   IndexWriter
	bound   BoundaryRecorder
	schema  atom.Schema
	opts    rowindex.BuilderOptions
	logger  logging.Logger
	lastKey []byte
}

// NewAppender constructs an Appender writing partition frames to data
// and recording entries with index. bound may be nil if the caller does
// not need segment-boundary notifications.
func NewAppender(data vfs.WritableFile, index IndexWriter, bound BoundaryRecorder, schema atom.Schema, opts rowindex.BuilderOptions, logger logging.Logger) (*Appender, error) {
	fw, err := newFileWriter(data)
	if err != nil {
		return nil, fmt.Errorf("partition: opening data writer: %w", err)
	}
	return &Appender{
		data:   fw,
		index:  index,
		bound:  bound,
		schema: schema,
		opts:   opts,
		logger: logging.OrDefault(logger),
	}, nil
}

// AppendPartition writes one partition: key, partition-level deletion,
// optional static row, the atom stream, and the end-of-partition
// sentinel, then records the resulting RowIndexEntry with the index
// writer.
//
// On any failure the data file and index file are both truncated back
// to their state before this call, so a caller that treats the error as
// recoverable (e.g. ErrKeyTooLarge) can safely retry the next
// partition. ErrOrderViolation is never recoverable: the caller must
// abort the SSTable.
func (a *Appender) AppendPartition(key []byte, partitionDeletion deletiontime.DeletionTime, staticRow []byte, stream rowindex.AtomStream) error {
	if len(key) > maxKeyLen {
		a.logger.Warnf("%spartition key of %d bytes exceeds %d, skipping", logging.NSPartition, len(key), maxKeyLen)
		return ErrKeyTooLarge
	}
	if a.lastKey != nil && bytes.Compare(key, a.lastKey) <= 0 {
		a.logger.Errorf("%sorder violation: key does not sort after previous key", logging.NSPartition)
		return ErrOrderViolation
	}

	dataMark := a.data.Mark()
	indexMark := a.index.Mark()

	if err := a.writeFrameHeader(key, partitionDeletion, staticRow); err != nil {
		a.rollback(dataMark, indexMark)
		return fmt.Errorf("partition: writing frame header: %w", err)
	}

	position := dataMark.Size
	testutil.MaybeKill(testutil.KPPartitionAppend0)

	entry, err := rowindex.Build(a.opts, position, partitionDeletion, a.data, stream)
	if err != nil {
		a.rollback(dataMark, indexMark)
		return fmt.Errorf("partition: building row index entry: %w", err)
	}

	if err := a.index.Write(key, entry); err != nil {
		a.rollback(dataMark, indexMark)
		return fmt.Errorf("partition: writing primary index record: %w", err)
	}

	testutil.MaybeKill(testutil.KPPartitionBoundary0)
	if a.bound != nil {
		a.bound.Mark(position)
	}

	a.lastKey = append(a.lastKey[:0], key...)
	return nil
}

func (a *Appender) writeFrameHeader(key []byte, partitionDeletion deletiontime.DeletionTime, staticRow []byte) error {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(key)))
	if err := a.data.Append(lenBuf[:]); err != nil {
		return err
	}
	if err := a.data.Append(key); err != nil {
		return err
	}
	if err := a.data.Append(deletiontime.Append(nil, partitionDeletion)); err != nil {
		return err
	}
	if a.schema.HasStatic && len(staticRow) > 0 {
		if err := a.data.Append(staticRow); err != nil {
			return err
		}
	}
	return nil
}

func (a *Appender) rollback(dataMark, indexMark Mark) {
	if err := a.data.ResetAndTruncate(dataMark); err != nil {
		a.logger.Errorf("%srollback: truncating data file: %v", logging.NSPartition, err)
	}
	if err := a.index.ResetAndTruncate(indexMark); err != nil {
		a.logger.Errorf("%srollback: truncating index file: %v", logging.NSPartition, err)
	}
}
