package encoding

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

// -----------------------------------------------------------------------------
// Varint32 tests
// -----------------------------------------------------------------------------

func TestVarint32(t *testing.T) {
	tests := []struct {
		name  string
		value uint32
		want  []byte
	}{
		{"zero", 0, []byte{0x00}},
		{"one", 1, []byte{0x01}},
		{"127", 127, []byte{0x7F}},
		{"128", 128, []byte{0x80, 0x01}},
		{"255", 255, []byte{0xFF, 0x01}},
		{"256", 256, []byte{0x80, 0x02}},
		{"300", 300, []byte{0xAC, 0x02}},
		{"16383", 16383, []byte{0xFF, 0x7F}},
		{"16384", 16384, []byte{0x80, 0x80, 0x01}},
		{"max", 0xFFFFFFFF, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x0F}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Test encode
			buf := make([]byte, MaxVarint32Length)
			n := EncodeVarint32(buf, tt.value)
			if !bytes.Equal(buf[:n], tt.want) {
				t.Errorf("EncodeVarint32(%d) = %v, want %v", tt.value, buf[:n], tt.want)
			}

			// Test decode
			got, bytesRead, err := DecodeVarint32(tt.want)
			if err != nil {
				t.Errorf("DecodeVarint32(%v) error: %v", tt.want, err)
			}
			if got != tt.value {
				t.Errorf("DecodeVarint32(%v) = %d, want %d", tt.want, got, tt.value)
			}
			if bytesRead != len(tt.want) {
				t.Errorf("DecodeVarint32(%v) bytesRead = %d, want %d", tt.want, bytesRead, len(tt.want))
			}

			// Test append
			appended := AppendVarint32(nil, tt.value)
			if !bytes.Equal(appended, tt.want) {
				t.Errorf("AppendVarint32(%d) = %v, want %v", tt.value, appended, tt.want)
			}
		})
	}
}

func TestVarint32DecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{"empty", []byte{}, ErrVarintTermination},
		{"unterminated_1", []byte{0x80}, ErrVarintTermination},
		{"unterminated_2", []byte{0x80, 0x80}, ErrVarintTermination},
		{"unterminated_5", []byte{0x80, 0x80, 0x80, 0x80, 0x80}, ErrVarintOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeVarint32(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("DecodeVarint32(%v) error = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// VarintLength tests
// -----------------------------------------------------------------------------

func TestVarintLength(t *testing.T) {
	tests := []struct {
		value uint64
		want  int
	}{
		{0, 1},
		{127, 1},
		{128, 2},
		{16383, 2},
		{16384, 3},
		{math.MaxUint32, 5},
		{math.MaxUint64, 10},
	}

	for _, tt := range tests {
		got := VarintLength(tt.value)
		if got != tt.want {
			t.Errorf("VarintLength(%d) = %d, want %d", tt.value, got, tt.want)
		}
	}
}

// -----------------------------------------------------------------------------
// Length-prefixed slice tests
// -----------------------------------------------------------------------------

func TestLengthPrefixedSlice(t *testing.T) {
	tests := []struct {
		name  string
		value []byte
	}{
		{"empty", []byte{}},
		{"single", []byte{0x42}},
		{"hello", []byte("hello")},
		{"binary", []byte{0x00, 0x01, 0x02, 0xFF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := AppendLengthPrefixedSlice(nil, tt.value)

			// Verify length prefix
			length, n, err := DecodeVarint32(encoded)
			if err != nil {
				t.Fatalf("Failed to decode length: %v", err)
			}
			if int(length) != len(tt.value) {
				t.Errorf("Length = %d, want %d", length, len(tt.value))
			}

			// Verify decode
			decoded, bytesRead, err := DecodeLengthPrefixedSlice(encoded)
			if err != nil {
				t.Fatalf("DecodeLengthPrefixedSlice error: %v", err)
			}
			if !bytes.Equal(decoded, tt.value) {
				t.Errorf("Decoded = %v, want %v", decoded, tt.value)
			}
			if bytesRead != n+len(tt.value) {
				t.Errorf("bytesRead = %d, want %d", bytesRead, n+len(tt.value))
			}
		})
	}
}

func TestLengthPrefixedSliceErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{"empty", []byte{}, ErrVarintTermination},
		{"length_only", []byte{0x05}, ErrBufferTooSmall},
		{"short_data", []byte{0x05, 0x01, 0x02}, ErrBufferTooSmall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeLengthPrefixedSlice(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("DecodeLengthPrefixedSlice(%v) error = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// Roundtrip property tests
// -----------------------------------------------------------------------------

func TestVarint32Roundtrip(t *testing.T) {
	values := []uint32{0, 1, 127, 128, 255, 256, 16383, 16384, math.MaxUint32}
	for _, v := range values {
		encoded := AppendVarint32(nil, v)
		decoded, n, err := DecodeVarint32(encoded)
		if err != nil {
			t.Errorf("Roundtrip error for %d: %v", v, err)
			continue
		}
		if decoded != v || n != len(encoded) {
			t.Errorf("Roundtrip failed for %d: got %d (n=%d)", v, decoded, n)
		}
	}
}
