//go:build unix

package mem

import "golang.org/x/sys/unix"

// platformPageSize, mapChunk and unmapChunk back the arena's chunk chain
// with real anonymous, private mappings via golang.org/x/sys/unix, marked
// MADV_DONTDUMP so arena contents never land in a core file (spec.md §4.1).
func platformPageSize() uintptr {
	return uintptr(unix.Getpagesize())
}

func mapChunk(size uintptr) ([]byte, error) {
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, err
	}
	_ = unix.Madvise(data, unix.MADV_DONTDUMP)
	return data, nil
}

func unmapChunk(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Munmap(data)
}
