package mp

import (
	"errors"
	"math/bits"
	"unsafe"

	"github.com/menu-hanke/m3/internal/errs"
)

var errHeapExhausted = errors.New("process heap exhausted")

// HeapNumClasses and HeapMinClassShift fix the segregated free-list size
// classes (original_source/mp.c MP_HEAP_NUMCLS, MP_HEAP_MINCLS: the
// smallest class is 16 bytes, sizeof(m3_Future)).
const (
	HeapNumClasses    = 28
	HeapMinClassShift = 4
)

// Heap is a process-private bump allocator over its own shared-memory
// slab, backed by a segregated free list per size class (C9). Unlike the
// mem package's Arena, a Heap never grows past its slab — it is sized
// once when the owning Shared mapping is created.
type Heap struct {
	cursor   uintptr
	top      uintptr
	freelist [HeapNumClasses]uintptr
}

func (h *Heap) init(base, size uintptr) {
	h.cursor = base
	h.top = base + size
}

func sizeClass(size uintptr) int {
	size = (size - 1) >> HeapMinClassShift
	if size == 0 {
		return 0
	}
	return 64 - bits.LeadingZeros64(uint64(size))
}

func classSize(cls int) uintptr {
	return uintptr(1) << (uint(cls) + HeapMinClassShift)
}

// bump hands out size bytes off the cursor, topping the cursor up to the
// next cache-line boundary and recycling the slack into the free list
// (original_source/mp.c mp_heap_bump). size must already be a multiple
// of the minimum class size.
func (h *Heap) bump(size uintptr) (uintptr, error) {
	ptr := h.cursor
	if ptr+size > h.top {
		return 0, errs.New("mp.heap.alloc", errs.OutOfMemory, errHeapExhausted)
	}
	cursor := ptr + size
	boundary := (cursor + cacheLine - 1) &^ (cacheLine - 1)
	if boundary > h.top {
		boundary = h.top
	}
	slack := boundary - cursor
	h.cursor = boundary
	for slack != 0 {
		bit := uintptr(bits.TrailingZeros64(uint64(slack)))
		if bit+HeapMinClassShift >= HeapNumClasses+HeapMinClassShift {
			break
		}
		cls := int(bit) - HeapMinClassShift
		if cls < 0 {
			break
		}
		*(*uintptr)(unsafe.Pointer(cursor)) = h.freelist[cls]
		h.freelist[cls] = cursor
		cursor += uintptr(1) << bit
		slack -= uintptr(1) << bit
	}
	return ptr, nil
}

func (h *Heap) bumpCls(cls int) (uintptr, error) {
	return h.bump(classSize(cls))
}

func (h *Heap) getFree(size uintptr) (uintptr, int) {
	cls := sizeClass(size)
	ptr := h.freelist[cls]
	if ptr != 0 {
		h.freelist[cls] = *(*uintptr)(unsafe.Pointer(ptr))
	}
	return ptr, cls
}

func (h *Heap) getFreeCls(cls int) uintptr {
	ptr := h.freelist[cls]
	if ptr != 0 {
		h.freelist[cls] = *(*uintptr)(unsafe.Pointer(ptr))
	}
	return ptr
}

func (h *Heap) freeCls(ptr uintptr, cls int) {
	*(*uintptr)(unsafe.Pointer(ptr)) = h.freelist[cls]
	h.freelist[cls] = ptr
}

// Alloc implements heap_alloc: a free-list hit if one exists for size's
// class, otherwise a bump allocation (original_source/mp.c
// m3_mp_heap_alloc).
func (h *Heap) Alloc(size uintptr) (unsafe.Pointer, error) {
	ptr, cls := h.getFree(size)
	if ptr != 0 {
		return unsafe.Pointer(ptr), nil
	}
	p, err := h.bumpCls(cls)
	if err != nil {
		return nil, err
	}
	return unsafe.Pointer(p), nil
}
