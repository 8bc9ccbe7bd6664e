package mem

import (
	"fmt"
	"math/bits"
	"unsafe"

	"github.com/sirupsen/logrus"

	"github.com/menu-hanke/m3/internal/errs"
)

// FrameId addresses a savepoint in the frame table (spec.md §3). The root
// frame is always id 0.
type FrameId uint32

// Handle is a dense, monotonically issued external-object identifier.
// Handle 0 is reserved for "nil" (spec.md §3, §4.5 C6).
type Handle uint32

// cacheLineSize is the alignment spec.md §3 requires of the block size.
const cacheLineSize = 64

// MaxFrames caps the frame table, and therefore the frame-save area,
// which is quadratic in (frame count × work size) in the worst case.
// spec.md §9 leaves the cap open for the implementer to choose and
// document; 65536 live-or-dead slots bounds worst-case fsave memory to
// 65536×work-size, which for any reasonable block configuration keeps
// the host in control of total memory rather than the frame tree growing
// it unboundedly.
const MaxFrames = 65536

// frameState packs ACTIVE, ALIVE and a child count into one word
// (spec.md §9 "Design Notes": "tagged variant for frame state").
type frameState uint32

const (
	flagActive frameState = 1 << 0
	flagAlive  frameState = 1 << 1
)

func makeState(active, alive bool, children uint32) frameState {
	s := frameState(children) << 2
	if active {
		s |= flagActive
	}
	if alive {
		s |= flagAlive
	}
	return s
}

func (s frameState) active() bool     { return s&flagActive != 0 }
func (s frameState) alive() bool      { return s&flagAlive != 0 }
func (s frameState) children() uint32 { return uint32(s >> 2) }

func (s frameState) withChildren(n uint32) frameState {
	return s&(flagActive|flagAlive) | frameState(n)<<2
}

func (s frameState) addChild(delta int) frameState {
	return s.withChildren(uint32(int(s.children()) + delta))
}

// frame is the persistent record of one savepoint (spec.md §3 "Savepoint /
// Frame (F)").
type frame struct {
	parent FrameId
	depth  uint32
	diff   uint64
	save   uint64
	state  frameState
	alloc  *Arena
	objLo  Handle
	objHi  Handle
}

// pending is the engine's record of mutations since the last save
// (spec.md §3 "Pending state (P)").
type pending struct {
	parent     FrameId
	diff       uint64
	unsaved    uint64
	framealloc *Arena
	objBase    Handle
}

// Config holds the tunables spec.md §9 leaves open, normally sourced from
// m3config.Init.
type Config struct {
	Logger         *logrus.Logger
	FrameArenaSize uintptr
}

// Engine is the savepoint engine (C5), combined with the frame allocator
// registry (C4) and the object-handle recycler (C6): spec.md groups these
// as one cooperating unit addressed through a single pending-state cursor,
// and splitting them into separate Go types would only scatter the
// invariants across package-private state with no compile-time benefit.
type Engine struct {
	log *logrus.Logger

	work      []byte
	blockSize uint32
	numBlocks uint32
	blockMask uint64
	sizework  int

	fsave    []byte
	frames   []frame
	registry []*Arena
	metaSize uintptr

	p pending

	objCounter Handle

	scratch Scratch

	destroyed bool
}

func blockMaskAll(n uint32) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << n) - 1
}

// NewEngine implements mem_init (spec.md §6): the host supplies the working
// heap it owns (work), partitioned into numBlocks(work)=len(work)/blockSize
// equal blocks, 1..64 of them.
func NewEngine(work []byte, blockSize uint32, cfg Config) (*Engine, error) {
	if blockSize == 0 || blockSize&(blockSize-1) != 0 {
		return nil, errs.New("mem.NewEngine", errs.InvalidArg,
			fmt.Errorf("block size %d is not a power of two", blockSize))
	}
	if blockSize%cacheLineSize != 0 {
		return nil, errs.New("mem.NewEngine", errs.InvalidArg,
			fmt.Errorf("block size %d is not a multiple of the cache line (%d)", blockSize, cacheLineSize))
	}
	if len(work) == 0 || len(work)%int(blockSize) != 0 {
		return nil, errs.New("mem.NewEngine", errs.InvalidArg,
			fmt.Errorf("work size %d is not a positive multiple of block size %d", len(work), blockSize))
	}
	numBlocks := len(work) / int(blockSize)
	if numBlocks > 64 {
		return nil, errs.New("mem.NewEngine", errs.InvalidArg,
			fmt.Errorf("work memory has %d blocks, more than the 64-block maximum", numBlocks))
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	metaSize := cfg.FrameArenaSize
	if metaSize == 0 {
		metaSize = arenaMinSize
	}

	e := &Engine{
		log:       log,
		work:      work,
		blockSize: blockSize,
		numBlocks: uint32(numBlocks),
		blockMask: blockMaskAll(uint32(numBlocks)),
		sizework:  len(work),
		metaSize:  metaSize,
	}

	rootArena, err := NewArena(metaSize)
	if err != nil {
		return nil, err
	}
	e.frames = []frame{{
		parent: 0,
		depth:  0,
		diff:   e.blockMask,
		save:   e.blockMask,
		state:  makeState(true, true, 0),
		alloc:  rootArena,
	}}
	e.registry = []*Arena{nil}
	e.fsave = make([]byte, e.sizework)

	// Eagerly snapshot every block into the root frame's save area right
	// now, while work still holds the host's pre-divergence bytes — see
	// Save() and the Write/backup comment below for why this has to
	// happen at frame-creation time rather than lazily inside Write.
	e.backup(0, e.blockMask)

	pendingArena, err := NewArena(metaSize)
	if err != nil {
		rootArena.Destroy()
		return nil, err
	}
	e.p = pending{parent: 0, diff: 0, unsaved: e.blockMask, framealloc: pendingArena, objBase: 0}

	return e, nil
}

// BlockMask returns the mask of all configured blocks.
func (e *Engine) BlockMask() uint64 { return e.blockMask }

// NumBlocks returns the configured block count B.
func (e *Engine) NumBlocks() uint32 { return e.numBlocks }

// BlockSize returns the configured block size S.
func (e *Engine) BlockSize() uint32 { return e.blockSize }

// Work exposes the live work-memory bytes for the host's scripting layer.
func (e *Engine) Work() []byte { return e.work }

// Cursor returns the frame id the next save() will branch from (P.parent).
func (e *Engine) Cursor() FrameId { return e.p.parent }

// Pending returns the set of blocks modified since Cursor(), and the set
// with no backup anywhere yet (spec.md invariants I4/I5).
func (e *Engine) Pending() (diff, unsaved uint64) { return e.p.diff, e.p.unsaved }

// Alive reports whether id names a currently-alive frame.
func (e *Engine) Alive(id FrameId) bool {
	return int(id) < len(e.frames) && e.frames[id].state.alive()
}

// FrameInfo reports a frame's parent and masks, for tests and diagnostics.
func (e *Engine) FrameInfo(id FrameId) (parent FrameId, diff, save uint64, alive bool) {
	f := e.frames[id]
	return f.parent, f.diff, f.save, f.state.alive()
}

// ActiveArena returns the bump arena backing allocations made against the
// current pending generation (mem_alloc's target, spec.md §6).
func (e *Engine) ActiveArena() *Arena { return e.p.framealloc }

// ScratchVector returns the engine's scratch vector (mem_tmp_alloc's target).
func (e *Engine) ScratchVector() *Scratch { return &e.scratch }

// Alloc implements mem_alloc: size bytes, aligned to align, from the
// active frame arena.
func (e *Engine) Alloc(size, align uintptr) (unsafe.Pointer, error) {
	if e.destroyed {
		return nil, errs.New("mem.alloc", errs.InvalidArg, fmt.Errorf("engine destroyed"))
	}
	return e.p.framealloc.Alloc(size, align)
}

// TmpAlloc implements mem_tmp_alloc: n bytes from the scratch vector.
func (e *Engine) TmpAlloc(n int) []byte {
	return e.scratch.Alloc(n)
}

// NewObjRef implements mem_new_objref.
func (e *Engine) NewObjRef() Handle {
	e.objCounter++
	return e.objCounter
}

func (e *Engine) allocFrameSlot() (FrameId, error) {
	for id := e.p.parent + 1; int(id) < len(e.frames); id++ {
		if e.frames[id].state == 0 {
			return id, nil
		}
	}
	if len(e.frames) >= MaxFrames {
		return 0, errs.New("mem.save", errs.OutOfMemory,
			fmt.Errorf("frame table exhausted at %d slots", MaxFrames))
	}
	id := FrameId(len(e.frames))
	arena, err := NewArena(e.metaSize)
	if err != nil {
		return 0, err
	}
	e.frames = append(e.frames, frame{})
	e.registry = append(e.registry, arena)
	e.fsave = append(e.fsave, make([]byte, e.sizework)...)
	return id, nil
}

// Save implements mem_save (spec.md §4.5).
func (e *Engine) Save() (FrameId, error) {
	if e.destroyed {
		return 0, errs.New("mem.save", errs.InvalidArg, fmt.Errorf("engine destroyed"))
	}
	id, err := e.allocFrameSlot()
	if err != nil {
		return 0, err
	}

	oldParent := e.p.parent
	objLo := e.p.objBase
	objHi := e.objCounter
	e.p.objBase = e.objCounter

	idle := e.registry[id]
	if idle == nil {
		idle, err = NewArena(e.metaSize)
		if err != nil {
			return 0, err
		}
	}
	attached := e.p.framealloc
	e.p.framealloc = idle
	e.registry[id] = nil
	idle.Reset()
	for _, swErr := range idle.Sweep() {
		e.log.WithError(swErr).Warn("mem: sweep failed during save")
	}

	e.frames[id] = frame{
		parent: oldParent,
		depth:  e.frames[oldParent].depth + 1,
		diff:   e.p.diff,
		save:   e.blockMask,
		state:  makeState(true, true, 0),
		alloc:  attached,
		objLo:  objLo,
		objHi:  objHi,
	}

	// Eagerly snapshot every block now, while work still holds id's own
	// pre-divergence bytes (nothing can have mutated work between this
	// Save() and the host's next mem_write call). Doing this here, instead
	// of waiting for Write's ancestor walk to back up only the bits a
	// later write touches, is required by the host contract of spec.md §6
	// ("every bit set in mem_write(mask) corresponds to a block already
	// mutated in the work area by the time write returns"): by the time
	// Write sees a mask, work has already moved past the value id needs to
	// roll back to, so the backup has to happen before that mutation, not
	// after.
	e.backup(id, e.blockMask)

	parentFrame := &e.frames[oldParent]
	parentFrame.state = parentFrame.state.addChild(1)

	e.p.parent = id
	e.p.diff = 0
	e.p.unsaved = e.blockMask &^ e.frames[id].save

	e.log.WithFields(logrus.Fields{"frame": id, "parent": oldParent}).Debug("mem: save")
	return id, nil
}

// Write implements mem_write (spec.md §4.5). Every live frame's save mask
// is already the full blockMask by the time any Write can observe it
// (NewEngine backs up the root eagerly, Save backs up every new frame
// eagerly, both before the host can mutate work again), so the ancestor
// walk below never actually finds a block to back up in practice — need
// is always 0 and the loop exits on its first iteration. It is left in
// place as a structural no-op rather than deleted, since it costs nothing
// once save is already full and collapsing it would make this function
// depend silently on Save/NewEngine's ordering instead of staying correct
// on its own terms; the assertion below is what actually catches the case
// this comment warns about, a frame reached here with a stale save mask.
func (e *Engine) Write(mask uint64) error {
	if e.destroyed {
		return errs.New("mem.write", errs.InvalidArg, fmt.Errorf("engine destroyed"))
	}
	if mask&^e.blockMask != 0 {
		return errs.New("mem.write", errs.InvalidArg,
			fmt.Errorf("mask %#x has bits outside the %d configured blocks", mask, e.numBlocks))
	}
	e.p.diff |= mask
	e.p.unsaved &^= mask

	f := e.p.parent
	for {
		ff := &e.frames[f]
		need := mask &^ ff.save
		if need == 0 {
			break
		}
		e.backup(f, need)
		ff.save |= need
		if f == 0 {
			break
		}
		f = ff.parent
	}

	errs.Assert(e.p.diff&^e.frames[e.p.parent].save == 0, "mem.write",
		"P.diff is not a subset of P.parent's save mask (I1)")
	return nil
}

func (e *Engine) backup(f FrameId, mask uint64) {
	base := int(f) * e.sizework
	bs := int(e.blockSize)
	m := mask
	for m != 0 {
		i := bits.TrailingZeros64(m)
		m &= m - 1
		ofs := i * bs
		copy(e.fsave[base+ofs:base+ofs+bs], e.work[ofs:ofs+bs])
	}
}

func (e *Engine) restore(f FrameId, mask uint64) {
	base := int(f) * e.sizework
	bs := int(e.blockSize)
	m := mask
	for m != 0 {
		i := bits.TrailingZeros64(m)
		m &= m - 1
		ofs := i * bs
		copy(e.work[ofs:ofs+bs], e.fsave[base+ofs:base+ofs+bs])
	}
}

// forceSave backs up any of mask's blocks f hasn't saved yet. Called from
// loadSlow's climb when a still-alive frame is deactivated mid-climb; a
// structural no-op in practice since save is already full by the time any
// frame reaches here, same as the ancestor walk in Write.
func (e *Engine) forceSave(f FrameId, mask uint64) {
	ff := &e.frames[f]
	need := mask &^ ff.save
	if need == 0 {
		return
	}
	e.backup(f, need)
	ff.save |= need
}

// settleObjBoundary resets the handle counter to the boundary frozen at
// target's own creation, returning every handle issued since then to the
// free pool (spec.md §4.5 C6, §8 P4). This one formula covers both the
// fast and slow load paths: frames[target].objHi was set to exactly
// e.p.objBase at the moment target was last saved, so when target ==
// e.p.parent the two are already equal.
func (e *Engine) settleObjBoundary(target FrameId) {
	hi := e.frames[target].objHi
	e.p.objBase = hi
	e.objCounter = hi
}

// Load implements mem_load (spec.md §4.5).
func (e *Engine) Load(target FrameId) error {
	if e.destroyed {
		return errs.New("mem.load", errs.InvalidArg, fmt.Errorf("engine destroyed"))
	}
	if int(target) >= len(e.frames) || !e.frames[target].state.alive() {
		return errs.New("mem.load", errs.InvalidFrame, fmt.Errorf("frame %d is not alive", target))
	}
	if target == e.p.parent {
		e.loadFast(target)
		return nil
	}
	e.loadSlow(target)
	return nil
}

func (e *Engine) loadFast(target FrameId) {
	e.restore(target, e.p.diff)
	e.p.diff = 0
	e.p.framealloc.Reset()
	e.settleObjBoundary(target)
	e.p.unsaved = e.blockMask &^ e.frames[target].save
	e.log.WithField("frame", target).Debug("mem: load (fast path)")
}

func (e *Engine) loadSlow(target FrameId) {
	restoreMask := e.p.diff
	cur := e.p.parent
	t := target

	climb := func(f FrameId) FrameId {
		ff := &e.frames[f]
		restoreMask |= ff.diff
		ff.state &^= flagActive
		if ff.state.alive() {
			e.forceSave(f, ff.diff)
		}
		return ff.parent
	}

	e.scratch.Truncate(0)
	for e.frames[cur].depth > e.frames[t].depth {
		cur = climb(cur)
	}
	for e.frames[t].depth > e.frames[cur].depth {
		e.scratch.pushFrameID(t)
		t = e.frames[t].parent
	}
	for cur != t {
		cur = climb(cur)
		e.scratch.pushFrameID(t)
		t = e.frames[t].parent
	}
	lca := cur

	e.restore(lca, restoreMask)
	for e.scratch.Len() > 0 {
		f := e.scratch.popFrameID()
		ff := &e.frames[f]
		e.restore(f, ff.diff)
		ff.state |= flagActive
		errs.Assert(ff.diff&^e.frames[ff.parent].save == 0, "mem.load",
			"reactivated frame's diff is not a subset of its parent's save mask (I1)")
	}

	e.p.parent = target
	e.p.diff = 0
	e.p.framealloc.Reset()
	e.settleObjBoundary(target)
	e.p.unsaved = e.blockMask &^ e.frames[target].save

	e.log.WithFields(logrus.Fields{"target": target, "lca": lca}).Debug("mem: load (slow path)")
}

// Release drops the host's reference to a savepoint (spec.md §4.5 state
// machine: ALIVE -> dead). It is the "externally triggered reference
// drop" the frame state machine names but does not itself define a hook
// for; this module's policy (documented in DESIGN.md) is that a frame's
// slot becomes reusable exactly when it is dead and has no ACTIVE
// descendants, i.e. its child count has dropped to zero.
func (e *Engine) Release(id FrameId) error {
	if id == 0 {
		return errs.New("mem.release", errs.InvalidArg, fmt.Errorf("the root frame is never released"))
	}
	if int(id) >= len(e.frames) || !e.frames[id].state.alive() {
		return errs.New("mem.release", errs.InvalidFrame, fmt.Errorf("frame %d is not alive", id))
	}
	e.frames[id].state &^= flagAlive
	if e.frames[id].state.children() == 0 {
		e.reclaim(id)
	}
	return nil
}

// reclaim frees a dead, childless frame's arena and its slot, cascading
// into its parent if the parent is also dead and now childless.
func (e *Engine) reclaim(id FrameId) {
	f := &e.frames[id]
	if f.state.active() || f.state.alive() || f.state.children() != 0 {
		return
	}
	if f.alloc != nil {
		for _, dErr := range f.alloc.Destroy() {
			e.log.WithError(dErr).Warn("mem: destroying reclaimed frame arena")
		}
		f.alloc = nil
	}
	fresh, err := NewArena(e.metaSize)
	if err != nil {
		e.log.WithError(err).Error("mem: could not refresh reclaimed frame slot; it will remain unusable")
		return
	}
	e.registry[id] = fresh
	parent := f.parent
	*f = frame{}
	if parent != id {
		pf := &e.frames[parent]
		pf.state = pf.state.addChild(-1)
		if !pf.state.alive() && pf.state.children() == 0 {
			e.reclaim(parent)
		}
	}
}

// Destroy implements mem_destroy: releases every engine-owned resource
// (arenas, frame-save area). It does not touch the host-owned work slice.
func (e *Engine) Destroy() {
	if e.destroyed {
		return
	}
	e.destroyed = true
	for _, a := range e.registry {
		if a != nil {
			a.Destroy()
		}
	}
	for i := range e.frames {
		if e.frames[i].alloc != nil {
			e.frames[i].alloc.Destroy()
		}
	}
	if e.p.framealloc != nil {
		e.p.framealloc.Destroy()
	}
	e.fsave = nil
}
