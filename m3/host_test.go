package m3

import (
	"testing"
	"time"

	"github.com/menu-hanke/m3/internal/array"
	"github.com/menu-hanke/m3/internal/m3config"
)

func newTestHost(t *testing.T) *Host {
	t.Helper()
	init := m3config.Defaults()
	h, err := NewHost(init, 2, 0)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHostMemSaveWriteLoadRoundTrip(t *testing.T) {
	h := newTestHost(t)
	work := make([]byte, 64*4)
	if err := h.MemInit(work, 64); err != nil {
		t.Fatalf("MemInit: %v", err)
	}

	work[0] = 1
	if err := h.MemWrite(1); err != nil {
		t.Fatalf("MemWrite: %v", err)
	}
	sp, err := h.MemSave()
	if err != nil {
		t.Fatalf("MemSave: %v", err)
	}

	work[0] = 2
	if err := h.MemWrite(1); err != nil {
		t.Fatalf("MemWrite: %v", err)
	}
	if err := h.MemLoad(sp); err != nil {
		t.Fatalf("MemLoad: %v", err)
	}
	if work[0] != 1 {
		t.Errorf("work[0] after MemLoad = %d, want 1", work[0])
	}
}

func TestHostArrayGrowAndMutate(t *testing.T) {
	h := newTestHost(t)
	work := make([]byte, 64*4)
	if err := h.MemInit(work, 64); err != nil {
		t.Fatalf("MemInit: %v", err)
	}

	proto := &array.Proto{Align: 4, Size: []uintptr{4}}
	table := array.NewData(proto)
	if err := h.ArrayGrow(proto, table, 8); err != nil {
		t.Fatalf("ArrayGrow: %v", err)
	}
	if table.Cap < 8 {
		t.Errorf("Cap = %d, want >= 8", table.Cap)
	}
	if err := h.ArrayMutate(proto, table); err != nil {
		t.Fatalf("ArrayMutate: %v", err)
	}
}

func TestHostQueueAndFutureRoundTrip(t *testing.T) {
	h := newTestHost(t)
	q, err := h.QueueNew(h.Heap(), 4)
	if err != nil {
		t.Fatalf("QueueNew: %v", err)
	}

	wfut, err := h.NewFuture(h.Heap())
	if err != nil {
		t.Fatalf("NewFuture: %v", err)
	}
	h.QueueWrite(q, 99, wfut)
	if !h.FutureCompleted(wfut) {
		t.Fatalf("write into an empty queue should complete immediately")
	}

	rfut, err := h.NewFuture(h.Heap())
	if err != nil {
		t.Fatalf("NewFuture: %v", err)
	}
	h.QueueRead(q, rfut)
	if !h.FutureCompleted(rfut) || rfut.Data != 99 {
		t.Fatalf("read = (completed=%v data=%d), want (true 99)", h.FutureCompleted(rfut), rfut.Data)
	}
}

func TestHostEventWaitSet(t *testing.T) {
	h := newTestHost(t)
	ev := h.EventNew()
	fut, err := h.NewFuture(h.Heap())
	if err != nil {
		t.Fatalf("NewFuture: %v", err)
	}
	h.EventWait(ev, 0, fut)
	if h.FutureCompleted(fut) {
		t.Fatalf("Wait against the event's current flag should queue, not complete")
	}
	h.EventSet(ev, 5)
	if !h.FutureCompleted(fut) || fut.Data != 5 {
		t.Errorf("after EventSet(5), future should complete with Data=5, got completed=%v data=%d",
			h.FutureCompleted(fut), fut.Data)
	}
}

func TestHostProcParkTimeout(t *testing.T) {
	h := newTestHost(t)
	start := time.Now()
	timedOut := h.ProcParkTimeout(h.Proc(), 20*time.Millisecond)
	if !timedOut {
		t.Errorf("ProcParkTimeout should time out when never unparked")
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Errorf("ProcParkTimeout returned suspiciously fast")
	}
}
