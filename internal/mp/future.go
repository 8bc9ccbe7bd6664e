package mp

import (
	"sync/atomic"
	"unsafe"
)

// FutCompleted is the sentinel Future.State takes on once a future has a
// result (original_source/mp.c FUT_COMPLETED). While a future is pending,
// State instead holds an intrusive next-pointer for whichever waiter list
// it's queued on (Event.waiters, Queue's rfut/wfut) — Go can't store a
// *Future inside a uint64 directly the way the C original reinterprets
// the same field as a uintptr, so State holds the bit pattern of the
// pointer via unsafe.Pointer<->uintptr conversions at the call sites
// instead.
const FutCompleted = ^uint64(0)

// Future is a two-word future (State, then the Data payload): a caller
// gets one, hands it to an operation that may complete asynchronously
// (an event wait or a queue read/write), and polls Completed() — or
// parks on its own Proc and
// relies on the completing side to unpark it.
//
// Field order matters exactly as it does in original_source/mp.c: Data
// must be readable even when the Future is sitting on a heap free list
// (where the first word is overwritten with a free-list link), so State
// comes first.
type Future struct {
	State uint64
	Data  uint64
}

// Completed implements mp_future_completed. Once this returns true, Data
// is safe to read — and only Data; nothing else about the completing
// side's state is implied.
func (f *Future) Completed() bool {
	return atomic.LoadUint64(&f.State) == FutCompleted
}

// NewFuture allocates a Future from a process's own heap rather than
// Go's runtime heap: Event and Queue recover a pending future's owning
// Proc by masking the future's own address (Shared.Owner), which only
// works for futures that live inside the shared mapping.
func NewFuture(heap *Heap) (*Future, error) {
	p, err := heap.Alloc(unsafe.Sizeof(Future{}))
	if err != nil {
		return nil, err
	}
	return (*Future)(p), nil
}
