package mem

import (
	"unsafe"

	"github.com/menu-hanke/m3/internal/errs"
)

// arenaMinSize is the size of the very first chunk an Arena gets, before
// any doubling growth (spec.md §4.2: "max(prev_size*2, size+trailer)").
const arenaMinSize = 4096

// Arena is a downward bump allocator scoped to a single savepoint's
// lifetime (C2). Allocating walks the chunk chain backwards only on
// growth; Reset and Sweep give the frame allocator registry (C4) the two
// primitives it needs to recycle an Arena for the next generation.
//
// Arenas are never touched from more than one goroutine at a time — the
// savepoint engine that owns them is single-threaded cooperative per
// spec.md §5.
type Arena struct {
	cur    *chunk
	cursor uintptr // offset into cur.data; allocation bumps it downward
}

// NewArena creates an Arena with one initial chunk of at least minSize
// bytes (rounded up to a page).
func NewArena(minSize uintptr) (*Arena, error) {
	if minSize < arenaMinSize {
		minSize = arenaMinSize
	}
	c, err := newChunk(minSize)
	if err != nil {
		return nil, err
	}
	return &Arena{cur: c, cursor: uintptr(len(c.data))}, nil
}

// Alloc bumps size bytes off the tail of the arena, aligned to align
// (which must be a power of two), growing the chunk chain if the current
// chunk doesn't have room.
func (a *Arena) Alloc(size, align uintptr) (unsafe.Pointer, error) {
	if align == 0 {
		align = 1
	}
	for a.cursor < size {
		if err := a.grow(size + align); err != nil {
			return nil, err
		}
	}
	c := (a.cursor - size) &^ (align - 1)
	a.cursor = c
	return unsafe.Pointer(&a.cur.data[c]), nil
}

// grow requests a new chunk sized max(prevSize*2, minSize), chains it in
// front of the current chunk, and resets the cursor to its top.
func (a *Arena) grow(minSize uintptr) error {
	prevSize := uintptr(len(a.cur.data))
	newSize := prevSize * 2
	if newSize < minSize {
		newSize = minSize
	}
	nc, err := newChunk(newSize)
	if err != nil {
		return errs.New("arena.grow", errs.OutOfMemory, err)
	}
	nc.prev = a.cur
	a.cur = nc
	a.cursor = uintptr(len(nc.data))
	return nil
}

// Reset rewinds the cursor to the top of the current chunk, discarding
// every allocation made since the chunk was current. It does not free
// older chunks in the chain — that is Sweep's job — matching spec.md
// §4.2's "reset() restores cursor := chunktop" as a operation distinct
// from sweeping.
func (a *Arena) Reset() {
	a.cursor = uintptr(len(a.cur.data))
}

// Sweep unlinks and unmaps every chunk older than the current one. Errors
// from unmapping are logged by the caller (mem.Engine), not returned,
// because a failed munmap of a chunk we're done with does not invalidate
// the allocator's own state.
func (a *Arena) Sweep() []error {
	var errsOut []error
	p := a.cur.prev
	a.cur.prev = nil
	for p != nil {
		next := p.prev
		if err := p.free(); err != nil {
			errsOut = append(errsOut, err)
		}
		p = next
	}
	return errsOut
}

// Destroy unmaps the entire chunk chain. The Arena must not be used
// afterward.
func (a *Arena) Destroy() []error {
	errsOut := a.Sweep()
	if err := a.cur.free(); err != nil {
		errsOut = append(errsOut, err)
	}
	a.cur = nil
	return errsOut
}

// isLive reports whether ptr lies in the arena's current chunk — i.e. a
// Sweep would not unmap it (a Reset still discards it). Used by array.Mutate's
// copy-on-write check (spec.md §4.6): a column base outside the live
// chunk needs to be copied into the current frame before it can be
// written.
func (a *Arena) isLive(ptr unsafe.Pointer) bool {
	if a.cur == nil || len(a.cur.data) == 0 {
		return false
	}
	base := uintptr(unsafe.Pointer(&a.cur.data[0]))
	p := uintptr(ptr)
	return p >= base && p < base+uintptr(len(a.cur.data))
}

// Writable is isLive exported for the array package's copy-on-write check
// (spec.md §4.6: a column base outside the current generation's arena
// needs to be copied forward before it can be mutated in place).
func (a *Arena) Writable(ptr unsafe.Pointer) bool {
	return a.isLive(ptr)
}
