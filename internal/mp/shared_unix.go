//go:build unix

package mp

import "golang.org/x/sys/unix"

// mapShared backs a Shared mapping with a real MAP_SHARED|MAP_ANONYMOUS
// mapping: even though this module only exercises it from goroutines in
// one process, MAP_SHARED is what a forked worker would need to see the
// same pages.
func mapShared(size uintptr) ([]byte, error) {
	return unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_ANONYMOUS)
}

func unmapShared(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Munmap(data)
}
