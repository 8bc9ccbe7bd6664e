package errs

import (
	"errors"
	"testing"
)

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("mmap failed")
	e := New("mem.newChunk", MapFailed, cause)
	if !errors.Is(e, cause) {
		t.Errorf("errors.Is should see through Unwrap to the cause")
	}
	if e.Error() == "" {
		t.Errorf("Error() should not be empty")
	}
}

func TestAssertPanicsInDebug(t *testing.T) {
	old := Debug
	Debug = true
	defer func() { Debug = old }()

	defer func() {
		if recover() == nil {
			t.Errorf("Assert(false, ...) should panic when Debug is set")
		}
	}()
	Assert(false, "test.op", "invariant violated")
}

func TestAssertNoPanicOutsideDebug(t *testing.T) {
	old := Debug
	Debug = false
	defer func() { Debug = old }()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Assert(false, ...) should not panic when Debug is clear, got %v", r)
		}
	}()
	Assert(false, "test.op", "invariant violated")
}
