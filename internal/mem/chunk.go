// Package mem implements the work-memory arena and savepoint tree described
// in spec.md §3-§4.5 (components C1-C6): a fixed-size working heap addressed
// in ≤64 blocks, a bump allocator scoped to each savepoint, and the frame
// tree that makes rollback to any live savepoint a matter of replaying
// saved block copies along the ancestral path.
package mem

import (
	"fmt"

	"github.com/menu-hanke/m3/internal/errs"
)

// pageSize is resolved once at init from the platform (C1: "rounded up to
// page size").
var pageSize = platformPageSize()

func roundPage(n uintptr) uintptr {
	if pageSize == 0 {
		return n
	}
	return (n + pageSize - 1) &^ (pageSize - 1)
}

// chunk is one mmap'd, page-aligned slab of arena memory (C1). Chunks chain
// backwards via prev, oldest first, matching the trailer-link design in
// spec.md §4.1 — here the link lives in the Go struct instead of a trailer
// at the chunk's high address, since a struct pointer is already the
// idiomatic "small extra allocation" in Go where the C original used a
// hand-rolled trailer to avoid one.
type chunk struct {
	data []byte
	prev *chunk
}

func newChunk(size uintptr) (*chunk, error) {
	size = roundPage(size)
	data, err := mapChunk(size)
	if err != nil {
		return nil, errs.New("mem.newChunk", errs.MapFailed, err)
	}
	return &chunk{data: data}, nil
}

func (c *chunk) free() error {
	if err := unmapChunk(c.data); err != nil {
		return errs.New("mem.chunk.free", errs.MapFailed, err)
	}
	return nil
}

func (c *chunk) String() string {
	return fmt.Sprintf("chunk{%d bytes}", len(c.data))
}
