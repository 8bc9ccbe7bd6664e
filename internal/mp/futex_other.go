//go:build !linux

package mp

import (
	"sync/atomic"
	"time"
)

// Non-Linux platforms have no futex syscall. This fallback preserves
// correctness (the wait loop still converges once *addr changes) at the
// cost of the true sleep/wake efficiency the Linux build gets.
const futexPollInterval = 200 * time.Microsecond

func futexWait(addr *uint32, expect uint32, timeout time.Duration) bool {
	var deadline time.Time
	hasDeadline := timeout > 0
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}
	for atomic.LoadUint32(addr) == expect {
		if hasDeadline && !time.Now().Before(deadline) {
			return true
		}
		time.Sleep(futexPollInterval)
	}
	return false
}

func futexWake(addr *uint32, n int) {}

func futexWake1(addr *uint32) {}

func spinPause() { procYield() }
