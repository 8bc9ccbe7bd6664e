//go:build !unix

package mem

import "fmt"

// Non-unix platforms have no anonymous mmap in this module: the operation
// fails cleanly instead of silently degrading to non-page-aligned,
// undumpable-unmarked memory.
func platformPageSize() uintptr { return 4096 }

func mapChunk(size uintptr) ([]byte, error) {
	return nil, fmt.Errorf("m3/mem: arena chunks require a unix mmap (unsupported on this platform)")
}

func unmapChunk(data []byte) error {
	return fmt.Errorf("m3/mem: arena chunks require a unix mmap (unsupported on this platform)")
}
