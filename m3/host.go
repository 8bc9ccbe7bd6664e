// Package m3 is the public surface a scripting host embeds: a Host wires
// together the savepoint engine (internal/mem), columnar table operations
// (internal/array) and the shared-memory IPC primitives (internal/mp)
// behind the external interface named in spec.md §6. The scripting host
// is the only consumer — this package does no argument marshaling of its
// own, it just names the operations with their spec.md identities and
// forwards to the packages that implement them.
package m3

import (
	"time"
	"unsafe"

	"github.com/sirupsen/logrus"

	"github.com/menu-hanke/m3/internal/array"
	"github.com/menu-hanke/m3/internal/m3config"
	"github.com/menu-hanke/m3/internal/mem"
	"github.com/menu-hanke/m3/internal/mp"
)

// Host is one process's view of the runtime: exactly one savepoint
// engine (single-threaded cooperative, §5), plus a handle onto the
// multi-process shared mapping every worker in the pool attaches to.
type Host struct {
	engine *mem.Engine
	shared *mp.Shared
	procID int
	log    *logrus.Logger
	init   m3config.Init
}

// NewHost builds a fresh shared mapping for numProcs workers and
// configures this process as procID within it. It always maps a new
// region; this package has no constructor that attaches a Host to a
// mapping created elsewhere.
func NewHost(init m3config.Init, numProcs int, procID int) (*Host, error) {
	init.FillDefaults()
	logger := logrus.StandardLogger()
	if err := m3config.ConfigureLogger(logger, init); err != nil {
		return nil, err
	}
	shared, err := mp.NewShared(numProcs, uintptr(init.HeapSize))
	if err != nil {
		return nil, err
	}
	return &Host{shared: shared, procID: procID, log: logger, init: init}, nil
}

// Close releases the shared mapping and the savepoint engine, if one was
// initialized via MemInit.
func (h *Host) Close() error {
	if h.engine != nil {
		h.engine.Destroy()
		h.engine = nil
	}
	return h.shared.Close()
}

// Proc returns this Host's own shared-memory process slot.
func (h *Host) Proc() *mp.Proc { return h.shared.Proc(h.procID) }

// Heap returns this Host's own process heap, the allocator every
// heap_alloc/queue_new/future call on this process should go through.
func (h *Host) Heap() *mp.Heap { return h.Proc().Heap() }

// --- Memory (§6 "Memory") ---

// MemInit is mem_init(work_ptr, work_size, block_size): work must be
// exactly block_size * B bytes for some B <= 64.
func (h *Host) MemInit(work []byte, blockSize uint32) error {
	engine, err := mem.NewEngine(work, blockSize, mem.Config{
		Logger:         h.log,
		FrameArenaSize: uintptr(h.init.FrameArenaSize),
	})
	if err != nil {
		return err
	}
	h.engine = engine
	return nil
}

// MemSave is mem_save() -> FrameId.
func (h *Host) MemSave() (mem.FrameId, error) { return h.engine.Save() }

// MemLoad is mem_load(FrameId).
func (h *Host) MemLoad(target mem.FrameId) error { return h.engine.Load(target) }

// MemWrite is mem_write(mask), mask being the set of blocks mutated in
// the work area since the last write/load.
func (h *Host) MemWrite(mask uint64) error { return h.engine.Write(mask) }

// MemNewObjRef is mem_new_objref() -> ObjId.
func (h *Host) MemNewObjRef() mem.Handle { return h.engine.NewObjRef() }

// MemAlloc is mem_alloc(size, align) -> ptr, from the active frame arena.
func (h *Host) MemAlloc(size, align uintptr) (unsafe.Pointer, error) {
	return h.engine.Alloc(size, align)
}

// MemTmpAlloc is mem_tmp_alloc(size) -> ptr, from the scratch vector.
func (h *Host) MemTmpAlloc(size int) []byte { return h.engine.TmpAlloc(size) }

// MemDestroy is mem_destroy().
func (h *Host) MemDestroy() {
	h.engine.Destroy()
	h.engine = nil
}

// Engine exposes the underlying savepoint engine for callers that need
// accessors §6 doesn't name directly (Cursor, FrameInfo, ActiveArena).
func (h *Host) Engine() *mem.Engine { return h.engine }

// --- Columnar tables (§6 "Columnar tables") ---

// ArrayGrow is array_grow(proto, table, n).
func (h *Host) ArrayGrow(proto *array.Proto, table *array.Data, n uint32) error {
	return array.Grow(h.engine.ActiveArena(), proto, table, n)
}

// ArrayMutate is array_mutate(proto, table).
func (h *Host) ArrayMutate(proto *array.Proto, table *array.Data) error {
	return array.Mutate(h.engine.ActiveArena(), proto, table)
}

// ArrayRetainSpans is array_retain_spans(proto, table, nremain); the spans
// are passed in as a slice, and the scratch vector is not read.
func (h *Host) ArrayRetainSpans(proto *array.Proto, table *array.Data, spans []array.Span, nremain uint32) error {
	return array.RetainSpans(h.engine.ActiveArena(), proto, table, spans, nremain)
}

// ArrayDeleteBitmap is array_delete_bitmap(proto, table); the bitmap is
// passed in as bitmapWords with its trailing sentinel bit (bit table.Num)
// already set, and the scratch vector is not read.
func (h *Host) ArrayDeleteBitmap(proto *array.Proto, table *array.Data, bitmapWords []uint64) error {
	return array.DeleteBitmap(h.engine.ActiveArena(), proto, table, bitmapWords)
}

// --- Shared IPC (§6 "Shared IPC") ---

// HeapAlloc is heap_alloc(heap, size) -> ptr.
func (h *Host) HeapAlloc(heap *mp.Heap, size uintptr) (unsafe.Pointer, error) {
	return heap.Alloc(size)
}

// QueueNew is queue_new(heap, capacity) -> Queue*; capacity is rounded
// up to a power of two by mp.QueueNew, and a capacity of 0 means the
// Host's configured QueueCapacity.
func (h *Host) QueueNew(heap *mp.Heap, capacity uint64) (*mp.Queue, error) {
	if capacity == 0 {
		capacity = h.init.QueueCapacity
	}
	return mp.QueueNew(heap, h.shared, capacity)
}

// QueueWrite is queue_write(queue, data, fut).
func (h *Host) QueueWrite(q *mp.Queue, data uint64, fut *mp.Future) { q.Write(data, fut) }

// QueueRead is queue_read(queue, fut).
func (h *Host) QueueRead(q *mp.Queue, fut *mp.Future) { q.Read(fut) }

// EventNew creates an event broadcast over this Host's shared mapping.
func (h *Host) EventNew() *mp.Event { return mp.NewEvent(h.shared) }

// EventWait is event_wait(event, expected_value, fut).
func (h *Host) EventWait(ev *mp.Event, expected uint32, fut *mp.Future) { ev.Wait(expected, fut) }

// EventSet is event_set(event, new_value).
func (h *Host) EventSet(ev *mp.Event, newValue uint32) { ev.Set(newValue) }

// ProcPark is proc_park(proc).
func (h *Host) ProcPark(proc *mp.Proc) { mp.ProcPark(proc) }

// ProcParkTimeout is proc_park_timeout(proc, ns) -> timed_out.
func (h *Host) ProcParkTimeout(proc *mp.Proc, timeout time.Duration) bool {
	return mp.ProcParkTimeout(proc, timeout)
}

// FutureCompleted is future_completed(fut) -> bool.
func (h *Host) FutureCompleted(fut *mp.Future) bool { return fut.Completed() }

// NewFuture allocates a Future from heap, per mp.NewFuture's requirement
// that a future live inside the shared mapping so Shared.Owner can
// recover its owning process.
func (h *Host) NewFuture(heap *mp.Heap) (*mp.Future, error) { return mp.NewFuture(heap) }
