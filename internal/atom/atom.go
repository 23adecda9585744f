// Package atom defines the unfiltered-atom data model shared by the row
// index builder and the partition appender: rows and range-tombstone
// markers, the clustering schema they are ordered under, and the
// messaging-version tag that gates wire-format compatibility.
package atom

import (
	"github.com/heliumdb/sstable/internal/clustering"
	"github.com/heliumdb/sstable/internal/deletiontime"
)

// Kind distinguishes the two atom shapes a partition's atom stream can
// contain.
type Kind int

const (
	// KindRow is a regular row atom.
	KindRow Kind = iota
	// KindRangeTombstoneMarker is a bound of an open or closed range deletion.
	KindRangeTombstoneMarker
)

// Atom is one item of a partition's sorted atom stream: a row or a
// range-tombstone marker. The row index builder only needs the
// clustering position and, for markers, whether the marker opens or
// closes a deletion and what deletion time it carries — atom payload
// bytes themselves are opaque and handed to an external serializer.
type Atom interface {
	// Kind reports whether this atom is a row or a marker.
	Kind() Kind

	// Clustering returns the clustering prefix that orders this atom
	// within its partition.
	Clustering() clustering.Prefix
}

// MarkerBoundKind distinguishes an opening bound from a closing bound of
// a range tombstone.
type MarkerBoundKind int

const (
	// BoundClose closes a previously open deletion.
	BoundClose MarkerBoundKind = iota
	// BoundOpen opens a new deletion that remains in effect until a
	// matching close marker is seen.
	BoundOpen
)

// RangeTombstoneMarker is an Atom that opens or closes a range deletion.
// The builder tracks only the currently open marker at block boundaries;
// it does not reason about shadowing between overlapping tombstones.
type RangeTombstoneMarker struct {
	Bound     clustering.Prefix
	BoundKind MarkerBoundKind
	Deletion  deletiontime.DeletionTime
}

func (m RangeTombstoneMarker) Kind() Kind                    { return KindRangeTombstoneMarker }
func (m RangeTombstoneMarker) Clustering() clustering.Prefix { return m.Bound }

// IsOpen reports whether this marker opens a new deletion (as opposed to
// closing one).
func (m RangeTombstoneMarker) IsOpen() bool { return m.BoundKind == BoundOpen }

// Row is an Atom carrying no additional clustering-relevant state beyond
// its position; cell data is opaque to the row index core.
type Row struct {
	Position clustering.Prefix
}

func (r Row) Kind() Kind                   { return KindRow }
func (r Row) Clustering() clustering.Prefix { return r.Position }

// Schema describes how a partition's clustering prefixes and static row
// (if any) are shaped. The row index builder treats the column types as
// opaque to everything except the clustering codec, and only needs to
// know whether a static row is present to size the partition frame
// header correctly.
type Schema struct {
	// ClusteringTypes is the ordered list of column type tags used by
	// the clustering codec to encode/decode each value in a Prefix.
	ClusteringTypes []clustering.ColumnType

	// HasStatic reports whether partitions under this schema carry a
	// static row between the partition-level deletion and the first
	// atom.
	HasStatic bool
}

// MessagingVersion tags the wire-format generation a RowIndexEntry (and
// its nested IndexInfo/clustering encodings) were written against.
// Only two values are modeled: the engine's current format, and
// everything older, which must be transcoded on read (spec §4.4, §9).
type MessagingVersion int

const (
	// VersionOld denotes any on-disk version that does not match the
	// engine's current (storeRows, MessagingVersion) pair and therefore
	// requires a transcode pass on deserialize.
	VersionOld MessagingVersion = iota
	// VersionCurrent is the engine's native, pass-through version.
	VersionCurrent
)

// StoreRows reports whether a RowIndexEntry written at this version
// stores full row atoms and therefore can carry open-marker metadata in
// its IndexInfo records (the wire format mandates storeRows == true for
// a non-bare entry).
func (v MessagingVersion) StoreRows() bool {
	return true
}

// EndOfPartitionSentinel is the single reserved tag byte the partition
// appender writes immediately after a partition's last atom. It is
// distinguishable from any atom's leading byte, which lets a forward
// scan over the atoms region detect the partition boundary without
// consulting the row index.
var EndOfPartitionSentinel = []byte{0xff}
