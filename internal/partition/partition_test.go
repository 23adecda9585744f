package partition

import (
	"errors"
	"testing"

	"github.com/heliumdb/sstable/internal/atom"
	"github.com/heliumdb/sstable/internal/deletiontime"
	"github.com/heliumdb/sstable/internal/rowindex"
)

type memFile struct {
	buf []byte
}

func (m *memFile) Write(p []byte) (int, error) { m.buf = append(m.buf, p...); return len(p), nil }
func (m *memFile) Close() error                { return nil }
func (m *memFile) Sync() error                 { return nil }
func (m *memFile) Append(data []byte) error    { m.buf = append(m.buf, data...); return nil }
func (m *memFile) Truncate(size int64) error   { m.buf = m.buf[:size]; return nil }
func (m *memFile) Size() (int64, error)        { return int64(len(m.buf)), nil }

type indexRecord struct {
	key   []byte
	entry rowindex.Entry
}

type fakeIndex struct {
	records []indexRecord
	failing bool
}

func (f *fakeIndex) Write(key []byte, entry rowindex.Entry) error {
	if f.failing {
		return errors.New("boom")
	}
	f.records = append(f.records, indexRecord{key: append([]byte(nil), key...), entry: entry})
	return nil
}

func (f *fakeIndex) Mark() Mark { return Mark{Size: int64(len(f.records))} }

func (f *fakeIndex) ResetAndTruncate(m Mark) error {
	f.records = f.records[:m.Size]
	return nil
}

type fakeBoundary struct {
	marks []int64
}

func (b *fakeBoundary) Mark(position int64) { b.marks = append(b.marks, position) }

type emptyStream struct{}

func (emptyStream) Next() (rowindex.StreamItem, bool, error) {
	return rowindex.StreamItem{}, false, nil
}

func newAppender(t *testing.T) (*Appender, *memFile, *fakeIndex, *fakeBoundary) {
	t.Helper()
	data := &memFile{}
	idx := &fakeIndex{}
	bound := &fakeBoundary{}
	a, err := NewAppender(data, idx, bound, atom.Schema{}, rowindex.DefaultBuilderOptions(), nil)
	if err != nil {
		t.Fatalf("NewAppender: %v", err)
	}
	return a, data, idx, bound
}

func TestAppendPartitionWritesFrameAndEntry(t *testing.T) {
	a, data, idx, bound := newAppender(t)

	if err := a.AppendPartition([]byte("a"), deletiontime.Live, nil, emptyStream{}); err != nil {
		t.Fatalf("AppendPartition: %v", err)
	}

	wantLen := 2 + 1 + deletiontime.Size + len(atom.EndOfPartitionSentinel)
	if len(data.buf) != wantLen {
		t.Fatalf("data file holds %d bytes, want %d", len(data.buf), wantLen)
	}
	if len(idx.records) != 1 {
		t.Fatalf("index writer received %d records, want 1", len(idx.records))
	}
	if idx.records[0].entry.IsIndexed() {
		t.Fatalf("empty-stream partition produced an Indexed entry, want Bare")
	}
	if len(bound.marks) != 1 || bound.marks[0] != 0 {
		t.Fatalf("boundary recorder marks = %v, want [0]", bound.marks)
	}
}

func TestAppendPartitionOrderViolation(t *testing.T) {
	a, _, _, _ := newAppender(t)

	if err := a.AppendPartition([]byte("b"), deletiontime.Live, nil, emptyStream{}); err != nil {
		t.Fatalf("first AppendPartition: %v", err)
	}
	err := a.AppendPartition([]byte("a"), deletiontime.Live, nil, emptyStream{})
	if !errors.Is(err, ErrOrderViolation) {
		t.Fatalf("AppendPartition(\"a\") after \"b\" = %v, want ErrOrderViolation", err)
	}
}

func TestAppendPartitionKeyTooLarge(t *testing.T) {
	a, _, _, _ := newAppender(t)

	key := make([]byte, maxKeyLen+1)
	err := a.AppendPartition(key, deletiontime.Live, nil, emptyStream{})
	if !errors.Is(err, ErrKeyTooLarge) {
		t.Fatalf("AppendPartition(oversized key) = %v, want ErrKeyTooLarge", err)
	}
}

func TestAppendPartitionRollsBackOnIndexWriteFailure(t *testing.T) {
	a, data, idx, _ := newAppender(t)
	idx.failing = true

	err := a.AppendPartition([]byte("a"), deletiontime.Live, nil, emptyStream{})
	if err == nil {
		t.Fatalf("AppendPartition succeeded, want error from failing index writer")
	}
	if len(data.buf) != 0 {
		t.Fatalf("data file holds %d bytes after rollback, want 0", len(data.buf))
	}
	if len(idx.records) != 0 {
		t.Fatalf("index writer holds %d records after rollback, want 0", len(idx.records))
	}
}

func TestAppendPartitionOrderingAcrossMultiplePartitions(t *testing.T) {
	a, _, idx, bound := newAppender(t)

	keys := []string{"a", "b", "c"}
	for _, k := range keys {
		if err := a.AppendPartition([]byte(k), deletiontime.Live, nil, emptyStream{}); err != nil {
			t.Fatalf("AppendPartition(%q): %v", k, err)
		}
	}
	if len(idx.records) != len(keys) {
		t.Fatalf("index writer received %d records, want %d", len(idx.records), len(keys))
	}
	if len(bound.marks) != len(keys) {
		t.Fatalf("boundary recorder received %d marks, want %d", len(bound.marks), len(keys))
	}
	for i, want := range keys {
		if string(idx.records[i].key) != want {
			t.Fatalf("record %d key = %q, want %q", i, idx.records[i].key, want)
		}
	}
}
