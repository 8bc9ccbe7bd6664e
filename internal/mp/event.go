package mp

import (
	"sync/atomic"
	"unsafe"
)

// Event is a one-shot broadcast flag (C13): waiters queue a Future until
// the flag changes to a value they weren't already waiting for, at which
// point every queued Future is completed and its owning Proc unparked
// (original_source/mp.c m3_Event).
type Event struct {
	shared  *Shared
	waiters *Future
	lock    Mutex
	flag    uint32
}

// NewEvent creates an Event whose waiters are unparked via shared's
// address-masking owner lookup.
func NewEvent(shared *Shared) *Event {
	return &Event{shared: shared}
}

func futureNext(f *Future) *Future {
	return (*Future)(unsafe.Pointer(uintptr(f.State)))
}

func setFutureNext(f *Future, next *Future) {
	f.State = uint64(uintptr(unsafe.Pointer(next)))
}

// Wait implements event_wait: fut completes immediately if the event's
// flag is already different from value, otherwise it is queued until the
// next Set.
func (e *Event) Wait(value uint32, fut *Future) {
	flag := e.flag
	if flag != value {
		fut.State = FutCompleted
		fut.Data = uint64(flag)
		return
	}
	e.lock.Lock()
	flag = e.flag
	if flag != value {
		e.lock.Unlock()
		fut.State = FutCompleted
		fut.Data = uint64(flag)
		return
	}
	setFutureNext(fut, e.waiters)
	e.waiters = fut
	e.lock.Unlock()
}

// Set implements event_set: updates the flag and wakes every queued
// waiter whose Wait call is now satisfied (every waiter, since Wait only
// ever queues against the flag's value at the time of the call).
func (e *Event) Set(flag uint32) {
	if e.flag == flag {
		return
	}
	e.lock.Lock()
	e.flag = flag
	fut := e.waiters
	e.waiters = nil
	e.lock.Unlock()

	for fut != nil {
		next := futureNext(fut)
		fut.Data = uint64(flag)
		atomic.StoreUint64(&fut.State, FutCompleted)
		ProcUnpark(e.shared.Owner(unsafe.Pointer(fut)))
		fut = next
	}
}
