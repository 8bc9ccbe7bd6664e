package array_test

import (
	"testing"
	"unsafe"

	"github.com/menu-hanke/m3/internal/array"
	"github.com/menu-hanke/m3/internal/mem"
)

func newTestArena(t *testing.T) *mem.Arena {
	t.Helper()
	a, err := mem.NewArena(4096)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	return a
}

func col32(p unsafe.Pointer, n int) []int32 {
	return unsafe.Slice((*int32)(p), n)
}

func TestArrayGrowDoublesCapacity(t *testing.T) {
	a := newTestArena(t)
	proto := &array.Proto{Align: 8, Size: []uintptr{4, 8}}
	data := array.NewData(proto)

	if err := array.Grow(a, proto, data, 3); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if data.Num != 3 || data.Cap != 4 {
		t.Errorf("after Grow(3): num=%d cap=%d, want num=3 cap=4", data.Num, data.Cap)
	}

	if err := array.Grow(a, proto, data, 3); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if data.Num != 6 || data.Cap != 8 {
		t.Errorf("after Grow(3,3): num=%d cap=%d, want num=6 cap=8", data.Num, data.Cap)
	}
}

func TestArrayGrowRejectsMismatchedColumns(t *testing.T) {
	a := newTestArena(t)
	proto := &array.Proto{Align: 8, Size: []uintptr{4, 8}}
	data := &array.Data{Col: make([]unsafe.Pointer, 1)}
	if err := array.Grow(a, proto, data, 1); err == nil {
		t.Errorf("Grow should reject a Data whose column count doesn't match Proto")
	}
}

func TestArrayMutateCopiesColumnFromAnotherArena(t *testing.T) {
	a1 := newTestArena(t)
	proto := &array.Proto{Align: 4, Size: []uintptr{4}}
	data := array.NewData(proto)
	if err := array.Grow(a1, proto, data, 2); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	orig := data.Col[0]

	a2 := newTestArena(t)
	if err := array.Mutate(a2, proto, data); err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if data.Col[0] == orig {
		t.Errorf("Mutate should have copied the column into the new arena")
	}

	copied := data.Col[0]
	if err := array.Mutate(a2, proto, data); err != nil {
		t.Fatalf("second Mutate: %v", err)
	}
	if data.Col[0] != copied {
		t.Errorf("second Mutate against the same arena should be a no-op")
	}
}

func TestArrayRetainSpans(t *testing.T) {
	a := newTestArena(t)
	proto := &array.Proto{Align: 4, Size: []uintptr{4}}
	data := array.NewData(proto)
	if err := array.Grow(a, proto, data, 4); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	col := col32(data.Col[0], 4)
	col[0], col[1], col[2], col[3] = 10, 20, 30, 40

	spans := []array.Span{{Ofs: 0, Num: 1}, {Ofs: 2, Num: 2}}
	if err := array.RetainSpans(a, proto, data, spans, 3); err != nil {
		t.Fatalf("RetainSpans: %v", err)
	}
	if data.Num != 3 {
		t.Fatalf("Num = %d, want 3", data.Num)
	}
	got := col32(data.Col[0], 3)
	want := []int32{10, 30, 40}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("col[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestArrayRetainSpansEmptyClearsTable(t *testing.T) {
	a := newTestArena(t)
	proto := &array.Proto{Align: 4, Size: []uintptr{4}}
	data := array.NewData(proto)
	array.Grow(a, proto, data, 4)

	if err := array.RetainSpans(a, proto, data, nil, 0); err != nil {
		t.Fatalf("RetainSpans: %v", err)
	}
	if data.Num != 0 || data.Cap != 0 {
		t.Errorf("Num=%d Cap=%d, want 0,0", data.Num, data.Cap)
	}
}

func TestArrayDeleteBitmap(t *testing.T) {
	a := newTestArena(t)
	proto := &array.Proto{Align: 4, Size: []uintptr{4}}
	data := array.NewData(proto)
	if err := array.Grow(a, proto, data, 4); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	col := col32(data.Col[0], 4)
	col[0], col[1], col[2], col[3] = 10, 20, 30, 40

	// delete row 1; bit 4 is the caller-supplied "extra bit" past num=4 rows.
	bitmap := []uint64{(1 << 1) | (1 << 4)}
	if err := array.DeleteBitmap(a, proto, data, bitmap); err != nil {
		t.Fatalf("DeleteBitmap: %v", err)
	}
	if data.Num != 3 {
		t.Fatalf("Num = %d, want 3", data.Num)
	}
	got := col32(data.Col[0], 3)
	want := []int32{10, 30, 40}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("col[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestArrayDeleteBitmapRejectsShortBitmap(t *testing.T) {
	a := newTestArena(t)
	proto := &array.Proto{Align: 4, Size: []uintptr{4}}
	data := array.NewData(proto)
	array.Grow(a, proto, data, 200)

	if err := array.DeleteBitmap(a, proto, data, []uint64{0}); err == nil {
		t.Errorf("DeleteBitmap should reject a bitmap too short for 200 rows")
	}
}
