// Package array implements the columnar struct-of-arrays operations
// described in spec.md §4.6 (component C7): growing a dense column table,
// copy-on-write mutation against a frame arena, retaining a set of spans
// after a filter, and converting a delete bitmap into spans before
// retaining. Every operation is grounded on original_source/array.c; this
// package just replaces the C struct-of-raw-pointers layout with Go slices
// of unsafe.Pointer and lets the mem package's arena do the bump
// allocation.
package array

import (
	"fmt"
	"math/bits"
	"unsafe"

	"github.com/menu-hanke/m3/internal/errs"
	"github.com/menu-hanke/m3/internal/mem"
)

// cap0 is the initial capacity a table grows into from empty
// (original_source/array.c: ARRAY_CAP0).
const cap0 = 4

// Proto describes a column table's shape: the byte width of each column,
// and the alignment every column's backing buffer must satisfy. It is
// immutable and shared across every Data built from it.
type Proto struct {
	Align uintptr
	Size  []uintptr
}

// Span is a contiguous run [Ofs, Ofs+Num) of rows to keep (spec.md §4.6,
// original_source/array.c m3_Span).
type Span struct {
	Ofs uint32
	Num uint32
}

// Data is one column table: Num live rows, Cap rows of backing capacity,
// and one column pointer per Proto column.
type Data struct {
	Num uint32
	Cap uint32
	Col []unsafe.Pointer
}

// NewData allocates an empty table shaped by proto.
func NewData(proto *Proto) *Data {
	return &Data{Col: make([]unsafe.Pointer, len(proto.Size))}
}

func realloc(a *mem.Arena, old unsafe.Pointer, oldSize, newSize, align uintptr) (unsafe.Pointer, error) {
	p, err := a.Alloc(newSize, align)
	if err != nil {
		return nil, err
	}
	if oldSize > 0 {
		dst := unsafe.Slice((*byte)(p), int(oldSize))
		src := unsafe.Slice((*byte)(old), int(oldSize))
		copy(dst, src)
	}
	return p, nil
}

// Grow implements array_grow: append n uninitialized rows, doubling
// capacity as needed and copying every column into a fresh allocation.
func Grow(a *mem.Arena, proto *Proto, data *Data, n uint32) error {
	if len(data.Col) != len(proto.Size) {
		return errs.New("array.grow", errs.InvalidArg, fmt.Errorf("data has %d columns, proto has %d", len(data.Col), len(proto.Size)))
	}
	if data.Cap == 0 {
		data.Cap = cap0
	}
	num := data.Num
	data.Num += n
	for data.Cap < data.Num {
		data.Cap <<= 1
	}
	cap := uintptr(data.Cap)
	for i, size := range proto.Size {
		np, err := realloc(a, data.Col[i], uintptr(num)*size, cap*size, proto.Align)
		if err != nil {
			return err
		}
		data.Col[i] = np
	}
	return nil
}

// Mutate implements array_mutate: copy-on-write. Any column whose backing
// buffer is not live in the current frame arena (i.e. it was inherited
// from an ancestor savepoint) gets copied into a fresh allocation before
// the caller is allowed to write through it.
func Mutate(a *mem.Arena, proto *Proto, data *Data) error {
	num := uintptr(data.Num)
	cap := uintptr(data.Cap)
	for i, size := range proto.Size {
		if a.Writable(data.Col[i]) {
			continue
		}
		np, err := realloc(a, data.Col[i], num*size, cap*size, proto.Align)
		if err != nil {
			return err
		}
		data.Col[i] = np
	}
	return nil
}

// RetainSpans implements array_retain_spans: compact every column down to
// just the rows named by spans, shrinking capacity to the smallest power
// of two that still fits nremain rows.
func RetainSpans(a *mem.Arena, proto *Proto, data *Data, spans []Span, nremain uint32) error {
	if len(spans) == 0 || nremain == 0 {
		data.Num, data.Cap = 0, 0
		return nil
	}
	data.Num = nremain
	for (data.Cap >> 1) >= nremain {
		data.Cap >>= 1
	}
	cap := uintptr(data.Cap)
	for i, size := range proto.Size {
		p, err := a.Alloc(cap*size, proto.Align)
		if err != nil {
			return err
		}
		old := data.Col[i]
		dst := unsafe.Slice((*byte)(p), int(cap*size))
		var off uintptr
		for _, sp := range spans {
			n := size * uintptr(sp.Num)
			src := unsafe.Slice((*byte)(unsafe.Add(old, size*uintptr(sp.Ofs))), int(n))
			copy(dst[off:off+n], src)
			off += n
		}
		data.Col[i] = p
	}
	return nil
}

// DeleteBitmap implements array_delete_bitmap: bitmapWords is a delete
// bitmap with bit i set when row i is deleted, one extra bit past
// data.Num reserved so the trailing run always terminates at a one bit
// (original_source/array.c requires "at least one extra bit at the
// end"). It walks the bitmap with the same ctz-driven run-scan the C
// original uses, builds the kept spans, and retains them.
//
// Unlike the C original, spans accumulate in a plain Go slice instead of
// being packed into the shared scratch buffer: a growable slice is no
// more expensive here and removes the need to share scratch's backing
// array between this call and whatever populated the bitmap.
func DeleteBitmap(a *mem.Arena, proto *Proto, data *Data, bitmapWords []uint64) error {
	num := data.Num
	lastWord := (num + 1) >> 6
	if uint32(len(bitmapWords)) <= lastWord {
		return errs.New("array.delete_bitmap", errs.InvalidArg,
			fmt.Errorf("bitmap has %d words, need more than %d for %d rows", len(bitmapWords), lastWord, num))
	}
	bitmapWords[lastWord] |= ^uint64(0) << ((num + 1) & 63)

	var spans []Span
	word := uint32(0)
	bit := uint32(0)
	remain := uint32(0)
	w := bitmapWords[0]
	first := true

	for {
		if !(first && w&1 != 0) {
			start := 64*word + bit
			for w == 0 {
				word++
				bit = 0
				w = bitmapWords[word]
			}
			j := uint32(bits.TrailingZeros64(w))
			w >>= j
			bit += j
			n := 64*word + bit - start
			remain += n
			spans = append(spans, Span{Ofs: start, Num: n})
		}
		first = false

		for w == ^uint64(0) {
			if word == lastWord {
				return RetainSpans(a, proto, data, spans, remain)
			}
			word++
			bit = 0
			w = bitmapWords[word]
		}
		j := uint32(bits.TrailingZeros64(^w))
		w >>= j
		bit += j
		if 64*word+bit > num {
			return RetainSpans(a, proto, data, spans, remain)
		}
	}
}
