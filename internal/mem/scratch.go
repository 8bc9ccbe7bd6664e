package mem

import "encoding/binary"

// Scratch is the byte-addressed temporary buffer (C3) used inside a single
// engine operation: Load's slow path keeps its frame-id path here, and
// TmpAlloc hands its bytes to the host. The array package does not read
// it; its operations take spans and bitmaps as slices. Callers own the
// buffer for the duration of one operation and must zero its length
// before use; Scratch never resets itself implicitly.
type Scratch struct {
	buf []byte
	len int
}

// Alloc extends the buffer by n bytes, doubling capacity on overflow, and
// returns the new tail. The returned slice is only valid until the next
// Alloc call grows the backing array.
func (s *Scratch) Alloc(n int) []byte {
	need := s.len + n
	if need > cap(s.buf) {
		newCap := cap(s.buf)
		if newCap == 0 {
			newCap = 64
		}
		for newCap < need {
			newCap *= 2
		}
		nb := make([]byte, len(s.buf), newCap)
		copy(nb, s.buf)
		s.buf = nb
	}
	s.buf = s.buf[:need]
	r := s.buf[s.len:need]
	s.len = need
	return r
}

// Truncate sets the buffer's length to n in O(1), without touching
// capacity or zeroing the discarded tail.
func (s *Scratch) Truncate(n int) {
	s.len = n
	s.buf = s.buf[:n]
}

// Len returns the current length.
func (s *Scratch) Len() int { return s.len }

// Bytes returns the buffer's live prefix.
func (s *Scratch) Bytes() []byte { return s.buf[:s.len] }

// pushFrameID and popFrameID let the savepoint engine use the scratch
// buffer as a frame-id path stack during Load's slow path (spec.md §4.5:
// "pushing frame ids onto the scratch stack").
func (s *Scratch) pushFrameID(id FrameId) {
	b := s.Alloc(4)
	binary.LittleEndian.PutUint32(b, uint32(id))
}

func (s *Scratch) popFrameID() FrameId {
	n := s.len
	id := binary.LittleEndian.Uint32(s.buf[n-4 : n])
	s.Truncate(n - 4)
	return FrameId(id)
}
