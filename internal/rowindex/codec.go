package rowindex

import (
	"encoding/binary"

	"github.com/heliumdb/sstable/internal/atom"
	"github.com/heliumdb/sstable/internal/clustering"
	"github.com/heliumdb/sstable/internal/indexinfo"
)

const entryHeaderSize = 8 + 4 // position i64 + payloadSize i32

// Serialize appends the wire form of e to dst: position (i64), payloadSize
// (i32), then the payload iff e is Indexed. A Bare entry writes
// payloadSize == 0 and nothing further.
func Serialize(dst []byte, e Entry) []byte {
	dst = binary.BigEndian.AppendUint64(dst, uint64(e.position))
	if !e.IsIndexed() {
		return binary.BigEndian.AppendUint32(dst, 0)
	}
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(e.payload)))
	return append(dst, e.payload...)
}

// Skip advances past one serialized RowIndexEntry in src by reading only
// position and payloadSize and discarding payloadSize bytes, without
// decoding the payload.
func Skip(src []byte) (int, error) {
	if len(src) < entryHeaderSize {
		return 0, ErrTruncated
	}
	payloadSize := int32(binary.BigEndian.Uint32(src[8:12]))
	total := entryHeaderSize + int(payloadSize)
	if payloadSize < 0 || total > len(src) {
		return 0, ErrTruncated
	}
	return total, nil
}

// Deserialize reads one RowIndexEntry from src.
//
// onDiskVersion gates transcoding: VersionCurrent wraps the payload
// bytes directly with no extra allocation (the format is native); any
// other version is fully decoded into its IndexInfo records and
// re-encoded against clustering.VersionDefault before being wrapped, so
// that every subsequent lazy access sees the engine's native
// representation. Re-serializing the result is expected to equal a
// fresh encoding of the same logical IndexInfo sequence under the
// current version.
func Deserialize(src []byte, onDiskVersion atom.MessagingVersion, storeRows indexinfo.StoreRows) (Entry, int, error) {
	if len(src) < entryHeaderSize {
		return Entry{}, 0, ErrTruncated
	}
	position := int64(binary.BigEndian.Uint64(src[0:8]))
	payloadSize := int32(binary.BigEndian.Uint32(src[8:12]))
	pos := entryHeaderSize

	if payloadSize == 0 {
		return Bare(position), pos, nil
	}
	if payloadSize < 0 || pos+int(payloadSize) > len(src) {
		return Entry{}, 0, ErrTruncated
	}
	raw := src[pos : pos+int(payloadSize)]
	pos += int(payloadSize)

	if len(raw) < payloadHeaderSize {
		return Entry{}, 0, ErrTruncated
	}
	count := int32(binary.BigEndian.Uint32(raw[columnsCountOffset : columnsCountOffset+4]))
	if count < 2 {
		return Entry{}, 0, ErrMalformed
	}

	if onDiskVersion == atom.VersionCurrent {
		return Indexed(position, raw, storeRows, clustering.VersionDefault), pos, nil
	}

	// A non-current on-disk version can only be upgraded if it already
	// stores full row atoms: the current format's IndexInfo records
	// derive their open-marker metadata from storeRows payloads, and an
	// older engine that wrote storeRows == false had nothing to promote
	// that data from. Transcoding such a record would silently fabricate
	// open-marker state, so it is rejected instead.
	if !storeRows {
		return Entry{}, 0, ErrVersionMismatch
	}

	payload, err := transcode(raw, count, storeRows)
	if err != nil {
		return Entry{}, 0, err
	}
	return Indexed(position, payload, storeRows, clustering.VersionDefault), pos, nil
}

// transcode eagerly decodes every IndexInfo record in raw and re-encodes
// it against clustering.VersionDefault, producing a freshly allocated
// payload. Called only for a non-native on-disk version.
func transcode(raw []byte, count int32, storeRows indexinfo.StoreRows) ([]byte, error) {
	pos := payloadHeaderSize
	infos := make([]indexinfo.Info, 0, count)
	for i := int32(0); i < count; i++ {
		info, n, err := indexinfo.Decode(raw[pos:], clustering.VersionDefault, storeRows)
		if err != nil {
			return nil, ErrTruncated
		}
		infos = append(infos, info)
		pos += n
	}

	out := make([]byte, payloadHeaderSize, len(raw))
	copy(out[0:payloadHeaderSize], raw[0:payloadHeaderSize])
	for _, info := range infos {
		out = indexinfo.Append(out, info, clustering.VersionDefault, storeRows)
	}
	return out, nil
}
