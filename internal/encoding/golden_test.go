package encoding

import (
	"bytes"
	"testing"
)

// TestGoldenVarint32Encoding tests varint32 encoding matches RocksDB.
func TestGoldenVarint32Encoding(t *testing.T) {
	testCases := []struct {
		value    uint32
		expected []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{255, []byte{0xFF, 0x01}},
		{256, []byte{0x80, 0x02}},
		{16383, []byte{0xFF, 0x7F}},
		{16384, []byte{0x80, 0x80, 0x01}},
		{0xFFFFFFFF, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x0F}},
	}

	for _, tc := range testCases {
		t.Run("", func(t *testing.T) {
			encoded := AppendVarint32(nil, tc.value)
			if !bytes.Equal(encoded, tc.expected) {
				t.Errorf("AppendVarint32(%d) = %x, want %x", tc.value, encoded, tc.expected)
			}

			decoded, n, err := DecodeVarint32(tc.expected)
			if err != nil {
				t.Fatalf("DecodeVarint32(%x) error: %v", tc.expected, err)
			}
			if n != len(tc.expected) {
				t.Errorf("DecodeVarint32(%x) consumed %d bytes, want %d", tc.expected, n, len(tc.expected))
			}
			if decoded != tc.value {
				t.Errorf("DecodeVarint32(%x) = %d, want %d", tc.expected, decoded, tc.value)
			}
		})
	}
}

// TestGoldenLengthPrefixedSlice tests length-prefixed slice encoding.
func TestGoldenLengthPrefixedSlice(t *testing.T) {
	testCases := []struct {
		name     string
		input    []byte
		expected []byte
	}{
		{
			name:     "empty",
			input:    []byte{},
			expected: []byte{0x00},
		},
		{
			name:     "single byte",
			input:    []byte{0x42},
			expected: []byte{0x01, 0x42},
		},
		{
			name:     "hello",
			input:    []byte("hello"),
			expected: []byte{0x05, 'h', 'e', 'l', 'l', 'o'},
		},
		{
			name:     "128 bytes",
			input:    make([]byte, 128),
			expected: append([]byte{0x80, 0x01}, make([]byte, 128)...),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := AppendLengthPrefixedSlice(nil, tc.input)
			if !bytes.Equal(encoded, tc.expected) {
				t.Errorf("AppendLengthPrefixedSlice(%x) = %x, want %x", tc.input, encoded, tc.expected)
			}

			decoded, n, err := DecodeLengthPrefixedSlice(tc.expected)
			if err != nil {
				t.Fatalf("DecodeLengthPrefixedSlice(%x) error: %v", tc.expected, err)
			}
			if n != len(tc.expected) {
				t.Errorf("DecodeLengthPrefixedSlice consumed %d bytes, want %d", n, len(tc.expected))
			}
			if !bytes.Equal(decoded, tc.input) {
				t.Errorf("DecodeLengthPrefixedSlice(%x) = %x, want %x", tc.expected, decoded, tc.input)
			}
		})
	}
}
