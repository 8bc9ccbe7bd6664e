package mp

import "unsafe"

// Message states (original_source/mp.c MSG_FREE/MSG_REF/MSG_DEAD). State
// is the first field, so once a message is freed the heap's free-list link
// overwrites it and it no longer holds a message state. State is only read
// while a Mailbox still tracks the message; sweep stops tracking a message
// when it frees it.
const (
	MsgFree uint8 = 0
	MsgRef  uint8 = 1
	MsgDead uint8 = 2
)

// MessageHeader precedes every message's payload bytes in a process heap
// allocation.
type MessageHeader struct {
	State uint8
	Cls   uint8
	Chan  uint16
	Len   uint32
}

var messageHeaderSize = unsafe.Sizeof(MessageHeader{})

// Mailbox is a process's private bookkeeping for every message it has
// ever allocated (C9's "message tracking", original_source/mp.c
// m3_ProcPrivate): it exists so a process can sweep messages whose
// readers are all done with them back onto the heap free list.
type Mailbox struct {
	heap *Heap
	msgs []uintptr
}

// NewMailbox creates a Mailbox backed by heap.
func NewMailbox(heap *Heap) *Mailbox {
	return &Mailbox{heap: heap}
}

func (m *Mailbox) sweep() {
	i := 0
	for i < len(m.msgs) {
		hdr := (*MessageHeader)(unsafe.Pointer(m.msgs[i]))
		if hdr.State == MsgDead {
			m.heap.freeCls(m.msgs[i], int(hdr.Cls))
			last := len(m.msgs) - 1
			m.msgs[i] = m.msgs[last]
			m.msgs = m.msgs[:last]
		} else {
			i++
		}
	}
}

// AllocMessage implements m3_mp_proc_alloc_message: allocate a size-byte
// payload tagged with chan, sweeping dead messages back to the free list
// on the first allocation failure before falling back to a bump
// allocation.
func (m *Mailbox) AllocMessage(chanID uint16, size uint32) (*MessageHeader, []byte, error) {
	total := messageHeaderSize + uintptr(size)
	ptr, cls := m.heap.getFree(total)
	if ptr == 0 {
		m.sweep()
		ptr = m.heap.getFreeCls(cls)
		if ptr == 0 {
			var err error
			ptr, err = m.heap.bumpCls(cls)
			if err != nil {
				return nil, nil, err
			}
		}
	}
	m.msgs = append(m.msgs, ptr)
	hdr := (*MessageHeader)(unsafe.Pointer(ptr))
	hdr.State = MsgRef
	hdr.Len = size
	hdr.Cls = uint8(cls)
	hdr.Chan = chanID
	data := unsafe.Slice((*byte)(unsafe.Pointer(ptr+messageHeaderSize)), int(size))
	return hdr, data, nil
}
