// Package clustering implements the clustering prefix codec: bit-exact
// encode/decode of a ClusteringPrefix against a fixed ordered list of
// column types, parameterized by a messaging version tag.
//
// The wire format is a length-prefixed tuple of length-prefixed values:
// a varint count of values followed by, for each value, a varint length
// and that many raw bytes. This is an implementer's choice left open by
// the format this package serializes for (only bit-exactness and
// agreement between encode/decode/serializedSize is required); it reuses
// the same length-prefixed-slice convention the rest of this module's
// encoding layer already uses.
package clustering

import (
	"errors"

	"github.com/heliumdb/sstable/internal/encoding"
)

// ColumnType tags the type of one clustering column. It is opaque data
// supplied by the schema: neither the codec nor the Comparator takes or
// interprets it.
type ColumnType int

// ErrTruncated is returned when decode runs past the end of the source.
var ErrTruncated = errors.New("clustering: truncated prefix")

// ErrMalformed names an internally inconsistent length tag. Decode and Skip
// do not return it: every decode failure, including a varint that does not
// terminate within five bytes, is reported as ErrTruncated.
var ErrMalformed = errors.New("clustering: malformed prefix")

// Version gates which wire representation encode/decode use. Only one
// representation currently exists; the parameter exists so a future
// format revision has a place to branch from without changing the
// package's exported signatures.
type Version int

// VersionDefault is the only clustering wire representation implemented.
const VersionDefault Version = 0

// Prefix is a tuple of byte-string values interpreted under a
// partition's ClusteringComparator. It is immutable once constructed.
type Prefix struct {
	values [][]byte
}

// NewPrefix builds a Prefix from its component values. The values are
// not copied; callers must not mutate them afterward.
func NewPrefix(values ...[]byte) Prefix {
	return Prefix{values: values}
}

// Empty is the zero-length clustering prefix, used for partition-level
// rows such as static rows or partition markers.
var Empty = Prefix{}

// Len returns the number of values in the prefix.
func (p Prefix) Len() int { return len(p.values) }

// At returns the i-th value of the prefix.
func (p Prefix) At(i int) []byte { return p.values[i] }

// Encode appends the self-delimiting wire form of p to dst and returns
// the extended slice. version is accepted for forward compatibility with
// a future wire revision; it does not currently affect the encoding.
func Encode(dst []byte, p Prefix, version Version) []byte {
	dst = encoding.AppendVarint32(dst, uint32(len(p.values)))
	for _, v := range p.values {
		dst = encoding.AppendLengthPrefixedSlice(dst, v)
	}
	return dst
}

// SerializedSize returns the number of bytes Encode would write for p.
// It must agree with Encode exactly.
func SerializedSize(p Prefix, version Version) int {
	n := encoding.VarintLength(uint64(len(p.values)))
	for _, v := range p.values {
		n += encoding.VarintLength(uint64(len(v))) + len(v)
	}
	return n
}

// Decode reverses Encode, returning the decoded Prefix and the number of
// bytes consumed from src. The returned Prefix's values alias src; callers
// that need to retain a Prefix beyond the lifetime of src must copy it.
func Decode(src []byte, version Version) (Prefix, int, error) {
	count, n, err := encoding.DecodeVarint32(src)
	if err != nil {
		return Prefix{}, 0, ErrTruncated
	}
	pos := n
	values := make([][]byte, count)
	for i := range values {
		v, m, err := encoding.DecodeLengthPrefixedSlice(src[pos:])
		if err != nil {
			return Prefix{}, 0, ErrTruncated
		}
		values[i] = v
		pos += m
	}
	return Prefix{values: values}, pos, nil
}

// Skip advances past one encoded Prefix in src without materializing its
// values, returning the number of bytes consumed.
func Skip(src []byte, version Version) (int, error) {
	count, n, err := encoding.DecodeVarint32(src)
	if err != nil {
		return 0, ErrTruncated
	}
	pos := n
	for i := uint32(0); i < count; i++ {
		length, m, err := encoding.DecodeVarint32(src[pos:])
		if err != nil {
			return 0, ErrTruncated
		}
		pos += m
		if pos+int(length) > len(src) {
			return 0, ErrTruncated
		}
		pos += int(length)
	}
	return pos, nil
}

// Comparator orders two Prefix values lexicographically by value, each
// value compared byte-wise, with a shorter prefix that is an exact
// sub-tuple of a longer one sorting first.
type Comparator struct{}

// Compare returns -1, 0, or 1 as a is less than, equal to, or greater
// than b under the clustering comparator.
func (Comparator) Compare(a, b Prefix) int {
	n := a.Len()
	if b.Len() < n {
		n = b.Len()
	}
	for i := 0; i < n; i++ {
		if c := compareBytes(a.At(i), b.At(i)); c != 0 {
			return c
		}
	}
	switch {
	case a.Len() < b.Len():
		return -1
	case a.Len() > b.Len():
		return 1
	default:
		return 0
	}
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
