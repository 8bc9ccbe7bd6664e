// Package mp implements the shared-memory, multi-process-safe primitives
// described in spec.md §4.7-§4.11 (components C8-C13): a fixed per-process
// virtual mapping addressed by masking, a segregated-size-class bump
// heap, a futex-backed mutex and parking primitive, a one-word future, a
// bounded lock-free MPMC queue, and a one-shot broadcast event. Every
// algorithm here is translated from original_source/mp.c, adapted for
// Go's GC: intrusive waiter lists use *Future values instead of uintptr
// offsets into the mapping.
//
// This module runs several logical "processes" as goroutines inside one
// OS process sharing one address space — there is no fork() or exec() of
// separate host processes here. What still crosses a real boundary is the
// shared mapping itself (MAP_SHARED, suitable for being inherited by an
// actual forked child), and the lock-free algorithms operate exactly as
// they would across process boundaries: every access to shared state goes
// through the same atomic loads/stores/CAS a forked-process caller would
// need, never through a private lock that only helps cooperating
// goroutines.
package mp

import (
	"fmt"
	"unsafe"

	"github.com/menu-hanke/m3/internal/errs"
)

const cacheLine = 64

// Proc is one logical process's header: its parking word, and (following
// it, cache-line aligned) its private segregated heap. Proc always sits
// at the base of its process's slab within a Shared mapping, so masking
// any pointer into that slab's low bits recovers the Proc (original_source
// /mp.c mp_owner()).
type Proc struct {
	park uint32
	_    [cacheLine - 4]byte
	heap Heap
}

// Heap returns this process's private segregated heap.
func (p *Proc) Heap() *Heap { return &p.heap }

// Shared is one mmap'd region split into numProcs fixed-size, power-of-two
// slabs, each holding one Proc. The mapping's base is aligned to procSize
// so Owner can recover a slab's Proc from any pointer inside it by masking
// low bits — the Go equivalent of original_source/mp.c's mp_owner().
type Shared struct {
	raw      []byte
	base     unsafe.Pointer
	procSize uintptr
	numProcs int
}

// NewShared creates a shared mapping for numProcs logical processes, each
// given a procSize-byte slab. procSize must be a power of two and large
// enough to hold a Proc plus whatever the host plans to bump-allocate
// from its heap.
func NewShared(numProcs int, procSize uintptr) (*Shared, error) {
	if procSize == 0 || procSize&(procSize-1) != 0 {
		return nil, errs.New("mp.NewShared", errs.InvalidArg,
			fmt.Errorf("proc slab size %d is not a power of two", procSize))
	}
	if procSize < uintptr(unsafe.Sizeof(Proc{})) {
		return nil, errs.New("mp.NewShared", errs.InvalidArg,
			fmt.Errorf("proc slab size %d is smaller than a Proc header", procSize))
	}
	total := uintptr(numProcs)*procSize + procSize
	data, err := mapShared(total)
	if err != nil {
		return nil, errs.New("mp.NewShared", errs.MapFailed, err)
	}
	raw := uintptr(unsafe.Pointer(&data[0]))
	aligned := (raw + procSize - 1) &^ (procSize - 1)
	base := unsafe.Pointer(&data[aligned-raw])

	s := &Shared{raw: data, base: base, procSize: procSize, numProcs: numProcs}
	for i := 0; i < numProcs; i++ {
		*s.procPtr(i) = Proc{}
		s.Proc(i).heap.init(uintptr(unsafe.Pointer(s.procPtr(i)))+uintptr(unsafe.Sizeof(Proc{})), procSize-uintptr(unsafe.Sizeof(Proc{})))
	}
	return s, nil
}

func (s *Shared) procPtr(i int) *Proc {
	return (*Proc)(unsafe.Pointer(uintptr(s.base) + uintptr(i)*s.procSize))
}

// Proc returns the i'th logical process's header.
func (s *Shared) Proc(i int) *Proc { return s.procPtr(i) }

// NumProcs returns how many logical processes this mapping was built for.
func (s *Shared) NumProcs() int { return s.numProcs }

// Owner recovers the Proc whose slab contains ptr.
func (s *Shared) Owner(ptr unsafe.Pointer) *Proc {
	p := uintptr(ptr) &^ (s.procSize - 1)
	return (*Proc)(unsafe.Pointer(p))
}

// Close unmaps the shared region. The Shared and every Proc/Heap/Queue
// derived from it must not be used afterward.
func (s *Shared) Close() error {
	return unmapShared(s.raw)
}
