//go:build linux

package mp

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux futex op codes (linux/futex.h); golang.org/x/sys/unix does not
// export these as named constants on every arch, so they are pinned here
// the way original_source/mp.c pins them via its own #include.
const (
	futexWaitOp = 0
	futexWakeOp = 1
)

// futexWait blocks while *addr == expect, for at most timeout (0 means
// forever), returning true on timeout (original_source/mp.c
// mp_futex_wait).
func futexWait(addr *uint32, expect uint32, timeout time.Duration) bool {
	var ts *unix.Timespec
	if timeout > 0 {
		sec := int64(timeout / time.Second)
		nsec := int64(timeout % time.Second)
		t := unix.NsecToTimespec(sec*int64(time.Second) + nsec)
		ts = &t
	}
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(addr)),
		futexWaitOp, uintptr(expect), uintptr(unsafe.Pointer(ts)), 0, 0)
	switch errno {
	case 0, unix.EAGAIN:
		return false
	case unix.ETIMEDOUT:
		return true
	default:
		// EINTR and any other spurious wake are treated like a normal
		// wake-up: the caller re-checks its own condition in a loop.
		return false
	}
}

func futexWake(addr *uint32, n int) {
	unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(addr)), futexWakeOp, uintptr(n), 0, 0, 0)
}

func futexWake1(addr *uint32) { futexWake(addr, 1) }

func spinPause() {
	// x86 PAUSE has no portable Go intrinsic; yielding the goroutine
	// achieves the same goal here (let another runnable goroutine make
	// progress during the bounded spin) without needing cgo or assembly.
	procYield()
}
