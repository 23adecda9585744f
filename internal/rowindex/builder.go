package rowindex

import (
	"encoding/binary"

	"github.com/heliumdb/sstable/internal/atom"
	"github.com/heliumdb/sstable/internal/clustering"
	"github.com/heliumdb/sstable/internal/deletiontime"
	"github.com/heliumdb/sstable/internal/indexinfo"
	"github.com/heliumdb/sstable/internal/testutil"
)

// AtomWriter is the sequential byte sink the builder appends serialized
// atoms to. Pointer reports the writer's current byte offset, used to
// compute block offsets relative to the start of the atoms region.
type AtomWriter interface {
	Append(data []byte) error
	Pointer() int64
}

// StreamItem pairs an atom with its already-serialized wire bytes. Atom
// serialization is opaque to the builder: it only inspects Atom for
// clustering and marker bookkeeping and writes Bytes through unchanged.
type StreamItem struct {
	Atom  atom.Atom
	Bytes []byte
}

// AtomStream yields a partition's atoms in clustering order. Next
// returns ok == false once the stream is exhausted.
type AtomStream interface {
	Next() (item StreamItem, ok bool, err error)
}

// BuilderOptions configures block sealing.
type BuilderOptions struct {
	// ColumnIndexSizeBytes is the running-block-size threshold that
	// triggers a seal. A block seals once its accumulated atom bytes
	// reach this many bytes.
	ColumnIndexSizeBytes int

	// Version is the clustering/IndexInfo wire version to encode new
	// entries at.
	Version clustering.Version

	// StoreRows gates whether IndexInfo records carry an open-marker
	// byte/payload. The current format always sets this true.
	StoreRows indexinfo.StoreRows
}

// DefaultBuilderOptions returns the engine's standard sealing threshold.
func DefaultBuilderOptions() BuilderOptions {
	return BuilderOptions{
		ColumnIndexSizeBytes: 64 * 1024,
		Version:              clustering.VersionDefault,
		StoreRows:            true,
	}
}

// Builder assembles a RowIndexEntry by consuming a partition's atom
// stream and writing each atom through to w, sealing IndexInfo blocks
// as the running block size crosses ColumnIndexSizeBytes.
//
// Build assumes the caller (the partition appender) has already written
// everything preceding the atoms region — the partition key, the
// partition-level deletion, and any static row — so that w.Pointer() at
// the moment Build is called is exactly the start of the atoms region
// that IndexInfo offsets are measured from.
func Build(opts BuilderOptions, position int64, partitionDeletion deletiontime.DeletionTime, w AtomWriter, stream AtomStream) (Entry, error) {
	initialPosition := w.Pointer()

	var (
		firstClustering clustering.Prefix
		lastClustering  clustering.Prefix
		startOffset     int64
		openMarker      *deletiontime.DeletionTime
		atomsInBlock    int
		totalAtoms      int
	)

	sink := newSealSink(partitionDeletion, opts.StoreRows, opts.Version)

	sealCurrentBlock := func() {
		testutil.MaybeKill(testutil.KPRowIndexBlockSeal0)
		info := indexinfo.Info{
			FirstName:  firstClustering,
			LastName:   lastClustering,
			Offset:     startOffset,
			Width:      (w.Pointer() - initialPosition) - startOffset,
			OpenMarker: openMarker,
		}
		sink.seal(info)
		atomsInBlock = 0
	}

	for {
		item, ok, err := stream.Next()
		if err != nil {
			return Entry{}, err
		}
		if !ok {
			break
		}

		off := w.Pointer() - initialPosition
		if atomsInBlock == 0 {
			firstClustering = item.Atom.Clustering()
			startOffset = off
		}
		lastClustering = item.Atom.Clustering()

		if marker, isMarker := item.Atom.(atom.RangeTombstoneMarker); isMarker {
			if marker.IsOpen() {
				d := marker.Deletion
				openMarker = &d
			} else {
				openMarker = nil
			}
		}

		if err := w.Append(item.Bytes); err != nil {
			return Entry{}, err
		}
		atomsInBlock++
		totalAtoms++

		if int64(atomsInBlock) > 0 && (w.Pointer()-initialPosition)-startOffset >= int64(opts.ColumnIndexSizeBytes) {
			sealCurrentBlock()
		}
	}

	if atomsInBlock > 0 {
		sealCurrentBlock()
	}

	if err := w.Append(atom.EndOfPartitionSentinel); err != nil {
		return Entry{}, err
	}

	if totalAtoms == 0 {
		return Bare(position), nil
	}

	testutil.MaybeKill(testutil.KPRowIndexSeal)
	payload, n := sink.finish()
	if n < 2 {
		return Bare(position), nil
	}

	return Indexed(position, payload, opts.StoreRows, opts.Version), nil
}

// sealSink implements the deferred single-slot-then-payload-buffer
// sealing strategy: the first sealed block is held without allocating
// anything beyond itself, so a partition whose atoms fit in a single
// block never pays for a payload buffer it will throw away. Only on
// sealing a second block does the buffer get allocated, at which point
// the 12-byte partition-deletion placeholder and the 4-byte count
// placeholder are written, followed by the first block and then the
// second. columnsCount is back-patched once the final count is known.
type sealSink struct {
	partitionDeletion deletiontime.DeletionTime
	storeRows         indexinfo.StoreRows
	version           clustering.Version

	count   int32
	first   *indexinfo.Info
	payload []byte
}

func newSealSink(partitionDeletion deletiontime.DeletionTime, storeRows indexinfo.StoreRows, version clustering.Version) *sealSink {
	return &sealSink{partitionDeletion: partitionDeletion, storeRows: storeRows, version: version}
}

func (s *sealSink) seal(info indexinfo.Info) {
	s.count++
	if s.payload == nil {
		if s.first == nil {
			s.first = &info
			return
		}
		s.payload = make([]byte, payloadHeaderSize)
		s.payload = indexinfo.Append(s.payload, *s.first, s.version, s.storeRows)
		s.first = nil
	}
	s.payload = indexinfo.Append(s.payload, info, s.version, s.storeRows)
}

// finish back-patches the partition deletion and columnsCount header
// fields and returns the finished payload (nil if fewer than 2 blocks
// were ever sealed) along with the total sealed count.
func (s *sealSink) finish() ([]byte, int32) {
	if s.payload == nil {
		return nil, s.count
	}
	binary.BigEndian.PutUint32(s.payload[0:4], uint32(s.partitionDeletion.LocalDeletionTime))
	binary.BigEndian.PutUint64(s.payload[4:12], uint64(s.partitionDeletion.MarkedForDeletionAt))
	binary.BigEndian.PutUint32(s.payload[12:16], uint32(s.count))
	return s.payload, s.count
}
