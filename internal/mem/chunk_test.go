package mem

import "testing"

func TestNewChunkRoundsToPage(t *testing.T) {
	c, err := newChunk(1)
	if err != nil {
		t.Fatalf("newChunk: %v", err)
	}
	defer c.free()
	if uintptr(len(c.data)) != pageSize {
		t.Errorf("len(data) = %d, want %d", len(c.data), pageSize)
	}
}

func TestChunkFreeIsIdempotentOnEmpty(t *testing.T) {
	c := &chunk{}
	if err := c.free(); err != nil {
		t.Errorf("free on empty chunk: %v", err)
	}
}

func TestRoundPage(t *testing.T) {
	cases := []struct{ in, want uintptr }{
		{0, 0},
		{1, pageSize},
		{pageSize, pageSize},
		{pageSize + 1, 2 * pageSize},
	}
	for _, c := range cases {
		if got := roundPage(c.in); got != c.want {
			t.Errorf("roundPage(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}
