package rowindex

import (
	"testing"

	"github.com/heliumdb/sstable/internal/atom"
	"github.com/heliumdb/sstable/internal/clustering"
	"github.com/heliumdb/sstable/internal/deletiontime"
)

type fakeWriter struct {
	buf []byte
}

func (w *fakeWriter) Append(data []byte) error {
	w.buf = append(w.buf, data...)
	return nil
}

func (w *fakeWriter) Pointer() int64 { return int64(len(w.buf)) }

type sliceStream struct {
	items []StreamItem
	i     int
}

func (s *sliceStream) Next() (StreamItem, bool, error) {
	if s.i >= len(s.items) {
		return StreamItem{}, false, nil
	}
	item := s.items[s.i]
	s.i++
	return item, true, nil
}

func rowAtom(n int, payloadLen int) StreamItem {
	b := make([]byte, payloadLen)
	for i := range b {
		b[i] = byte(n)
	}
	return StreamItem{Atom: atom.Row{Position: num(n)}, Bytes: b}
}

func TestBuildSingleBlockElidesIndex(t *testing.T) {
	w := &fakeWriter{}
	stream := &sliceStream{items: []StreamItem{rowAtom(0, 10), rowAtom(1, 10), rowAtom(2, 10)}}
	opts := BuilderOptions{ColumnIndexSizeBytes: 4096, Version: clustering.VersionDefault, StoreRows: true}

	entry, err := Build(opts, 100, deletiontime.Live, w, stream)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if entry.IsIndexed() {
		t.Fatalf("single-block partition produced an Indexed entry, want Bare")
	}
	if entry.Position() != 100 {
		t.Fatalf("Position() = %d, want 100", entry.Position())
	}
	if len(w.buf) == 0 || w.buf[len(w.buf)-1] != atom.EndOfPartitionSentinel[0] {
		t.Fatalf("writer does not end with the end-of-partition sentinel")
	}
}

func TestBuildEmptyPartitionIsBare(t *testing.T) {
	w := &fakeWriter{}
	stream := &sliceStream{}
	opts := DefaultBuilderOptions()

	entry, err := Build(opts, 7, deletiontime.Live, w, stream)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if entry.IsIndexed() {
		t.Fatalf("empty partition produced an Indexed entry, want Bare")
	}
	if len(w.buf) != len(atom.EndOfPartitionSentinel) {
		t.Fatalf("writer holds %d bytes, want only the sentinel", len(w.buf))
	}
}

func TestBuildTwoBlocksIndexed(t *testing.T) {
	w := &fakeWriter{}
	var items []StreamItem
	for i := 0; i < 10; i++ {
		items = append(items, rowAtom(i, 20))
	}
	stream := &sliceStream{items: items}
	opts := BuilderOptions{ColumnIndexSizeBytes: 64, Version: clustering.VersionDefault, StoreRows: true}

	entry, err := Build(opts, 0, deletiontime.Live, w, stream)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !entry.IsIndexed() {
		t.Fatalf("10 atoms over a 64-byte threshold produced a Bare entry, want Indexed")
	}
	count := int(entry.ColumnsCount())
	if count < 2 {
		t.Fatalf("ColumnsCount() = %d, want >= 2", count)
	}

	var totalWidth int64
	var prevLast clustering.Prefix
	var cmp clustering.Comparator
	for i := 0; i < count; i++ {
		info, err := entry.IndexInfo(i)
		if err != nil {
			t.Fatalf("IndexInfo(%d): %v", i, err)
		}
		if i > 0 && cmp.Compare(info.FirstName, prevLast) <= 0 {
			t.Fatalf("block %d firstName does not sort after the previous block's lastName", i)
		}
		if i < count-1 && info.Width < 64 {
			t.Fatalf("block %d width %d is below threshold (only the last block may be short)", i, info.Width)
		}
		totalWidth += info.Width
		prevLast = info.LastName
	}
	wantAtomsRegion := int64(len(w.buf) - len(atom.EndOfPartitionSentinel))
	if totalWidth != wantAtomsRegion {
		t.Fatalf("sum of block widths = %d, want %d (atoms region size)", totalWidth, wantAtomsRegion)
	}
}

func TestBuildOpenMarkerAcrossBoundary(t *testing.T) {
	w := &fakeWriter{}
	del := deletiontime.DeletionTime{LocalDeletionTime: 9, MarkedForDeletionAt: 99}

	var items []StreamItem
	items = append(items, rowAtom(0, 20))
	items = append(items, StreamItem{
		Atom:  atom.RangeTombstoneMarker{Bound: num(1), BoundKind: atom.BoundOpen, Deletion: del},
		Bytes: make([]byte, 20),
	})
	for i := 2; i < 6; i++ {
		items = append(items, rowAtom(i, 20))
	}
	items = append(items, StreamItem{
		Atom:  atom.RangeTombstoneMarker{Bound: num(6), BoundKind: atom.BoundClose},
		Bytes: make([]byte, 20),
	})
	for i := 7; i < 11; i++ {
		items = append(items, rowAtom(i, 20))
	}
	stream := &sliceStream{items: items}
	opts := BuilderOptions{ColumnIndexSizeBytes: 64, Version: clustering.VersionDefault, StoreRows: true}

	entry, err := Build(opts, 0, deletiontime.Live, w, stream)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !entry.IsIndexed() {
		t.Fatalf("Build produced a Bare entry, want Indexed")
	}
	count := int(entry.ColumnsCount())
	if count < 3 {
		t.Fatalf("ColumnsCount() = %d, want >= 3 for this fixture", count)
	}

	first, err := entry.IndexInfo(0)
	if err != nil {
		t.Fatalf("IndexInfo(0): %v", err)
	}
	last, err := entry.IndexInfo(count - 1)
	if err != nil {
		t.Fatalf("IndexInfo(%d): %v", count-1, err)
	}
	if first.OpenMarker == nil || *first.OpenMarker != del {
		t.Fatalf("first block OpenMarker = %v, want %+v (the tombstone is open at its end)", first.OpenMarker, del)
	}
	if last.OpenMarker != nil {
		t.Fatalf("last block carries an open marker, want none (the tombstone closed before it)")
	}
}
