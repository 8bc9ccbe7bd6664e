//go:build !unix

package mp

import "fmt"

func mapShared(size uintptr) ([]byte, error) {
	return nil, fmt.Errorf("m3/mp: shared process mappings require a unix mmap (unsupported on this platform)")
}

func unmapShared(data []byte) error {
	return fmt.Errorf("m3/mp: shared process mappings require a unix mmap (unsupported on this platform)")
}
