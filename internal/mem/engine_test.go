package mem

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func newTestEngine(t *testing.T, numBlocks int) (*Engine, []byte) {
	t.Helper()
	work := make([]byte, numBlocks*cacheLineSize)
	e, err := NewEngine(work, cacheLineSize, Config{Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e, work
}

func setBlock(work []byte, block int, v byte) {
	copy(work[block*cacheLineSize:(block+1)*cacheLineSize], bytesOf(v))
}

func bytesOf(v byte) []byte {
	b := make([]byte, cacheLineSize)
	for i := range b {
		b[i] = v
	}
	return b
}

func blockVal(work []byte, block int) byte {
	return work[block*cacheLineSize]
}

// S1: a single rollback to the root restores every block mutated since.
func TestEngineRootRollback(t *testing.T) {
	e, work := newTestEngine(t, 4)

	setBlock(work, 0, 1)
	if err := e.Write(1 << 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	setBlock(work, 1, 2)
	if err := e.Write(1 << 1); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := e.Load(0); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := blockVal(work, 0); got != 0 {
		t.Errorf("block 0 = %d, want 0 after rollback", got)
	}
	if got := blockVal(work, 1); got != 0 {
		t.Errorf("block 1 = %d, want 0 after rollback", got)
	}
}

// S2: two sibling branches off the same parent don't see each other's writes.
func TestEngineSiblingBranches(t *testing.T) {
	e, work := newTestEngine(t, 2)

	setBlock(work, 0, 10)
	if err := e.Write(1 << 0); err != nil {
		t.Fatal(err)
	}
	base, err := e.Save()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	setBlock(work, 0, 20)
	if err := e.Write(1 << 0); err != nil {
		t.Fatal(err)
	}
	branchA, err := e.Save()
	if err != nil {
		t.Fatal(err)
	}
	_ = branchA

	if err := e.Load(base); err != nil {
		t.Fatalf("Load(base): %v", err)
	}
	if got := blockVal(work, 0); got != 10 {
		t.Errorf("after returning to base, block 0 = %d, want 10", got)
	}

	setBlock(work, 0, 30)
	if err := e.Write(1 << 0); err != nil {
		t.Fatal(err)
	}
	branchB, err := e.Save()
	if err != nil {
		t.Fatal(err)
	}
	if got := blockVal(work, 0); got != 30 {
		t.Errorf("on branch B, block 0 = %d, want 30", got)
	}

	if err := e.Load(branchA); err != nil {
		t.Fatalf("Load(branchA): %v", err)
	}
	if got := blockVal(work, 0); got != 20 {
		t.Errorf("back on branch A, block 0 = %d, want 20", got)
	}

	if err := e.Load(branchB); err != nil {
		t.Fatalf("Load(branchB): %v", err)
	}
	if got := blockVal(work, 0); got != 30 {
		t.Errorf("back on branch B, block 0 = %d, want 30", got)
	}
}

// S3: handles issued after a savepoint are freed on rollback past it, and
// get reissued identically (scenario S3, invariant P4).
func TestEngineObjRefRecycling(t *testing.T) {
	e, _ := newTestEngine(t, 1)

	h1 := e.NewObjRef()
	root, err := e.Save()
	if err != nil {
		t.Fatal(err)
	}
	_ = root

	h2 := e.NewObjRef()
	h3 := e.NewObjRef()
	if h3 <= h2 || h2 <= h1 {
		t.Fatalf("handles must be strictly increasing, got %d %d %d", h1, h2, h3)
	}

	if err := e.Load(root); err != nil {
		t.Fatal(err)
	}
	h2b := e.NewObjRef()
	if h2b != h2 {
		t.Errorf("handle reissued after rollback = %d, want %d", h2b, h2)
	}
}

func TestEngineReleaseReclaimsDeadLeaf(t *testing.T) {
	e, _ := newTestEngine(t, 1)

	child, err := e.Save()
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Load(0); err != nil {
		t.Fatal(err)
	}
	if err := e.Release(child); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if e.Alive(child) {
		t.Errorf("frame %d still alive after release", child)
	}
	if err := e.Load(child); err == nil {
		t.Errorf("Load on a released frame should fail")
	}
}

func TestEngineWriteRejectsOutOfRangeMask(t *testing.T) {
	e, _ := newTestEngine(t, 2)
	if err := e.Write(1 << 5); err == nil {
		t.Errorf("Write with an out-of-range mask should fail")
	}
}

func TestEngineRootNeverReleased(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	if err := e.Release(0); err == nil {
		t.Errorf("releasing the root frame should fail")
	}
}

// A deep rollback exercises Load's slow path: two branches at different
// depths under a common ancestor, jumping directly between them.
func TestEngineCrossBranchLoad(t *testing.T) {
	e, work := newTestEngine(t, 1)

	setBlock(work, 0, 1)
	e.Write(1)
	trunk, err := e.Save()
	if err != nil {
		t.Fatal(err)
	}

	setBlock(work, 0, 2)
	e.Write(1)
	mid, err := e.Save()
	if err != nil {
		t.Fatal(err)
	}
	setBlock(work, 0, 3)
	e.Write(1)
	if _, err := e.Save(); err != nil {
		t.Fatal(err)
	}

	if err := e.Load(trunk); err != nil {
		t.Fatal(err)
	}
	setBlock(work, 0, 4)
	e.Write(1)
	other, err := e.Save()
	if err != nil {
		t.Fatal(err)
	}

	if err := e.Load(mid); err != nil {
		t.Fatalf("Load(mid): %v", err)
	}
	if got := blockVal(work, 0); got != 2 {
		t.Errorf("block 0 = %d, want 2 at mid", got)
	}

	if err := e.Load(other); err != nil {
		t.Fatalf("Load(other): %v", err)
	}
	if got := blockVal(work, 0); got != 4 {
		t.Errorf("block 0 = %d, want 4 at other", got)
	}
}
