// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package bmalloc provides a simple boundary-tag malloc library.
//
// The heap is a single contiguous region obtained from a membrk.Provider and
// managed as an implicit free list: every block carries a 4-byte tag at each
// end encoding its size in 8-byte words plus an allocated bit, and neighbors
// are reached by pure address arithmetic on those tags. Placement is
// first-fit with splitting, freed blocks coalesce immediately with free
// neighbors, and the heap grows on demand when no fit exists.
package bmalloc

import (
	"unsafe"

	"github.com/intuitivelabs/mallocs/bmalloc/membrk"
)

const NAME = "bmalloc"

const (
	// initWords is the provider request backing the initial heap layout:
	// alignment padding, prologue, the first free block and the epilogue.
	initWords = 8
	// initFreeWords is the size of the initial free block.
	initFreeWords = 6
	// frameOverhead is the fixed metadata cost of the heap frame:
	// padding (8) + prologue tag (4) + epilogue tag (4). The epilogue
	// relocates on heap growth but its cost is constant.
	frameOverhead = 16
)

// MUsed contains the bmalloc memory usage statistics.
type MUsed struct {
	Used        uint64 // total block bytes allocated
	RealUsed    uint64 // real size = Used + heap frame overhead
	MaxRealUsed uint64
}

// Options encodes various configuration flags for BMalloc.
type Options uint32

const (
	BMDebug          Options = 1 << iota
	BMChecks                 // run the consistency checker after each operation
	BMDumpStatsShort         // dump status in log, short version
	BMDefaultOptions = Options(0)
)

// BMalloc is the heap manager. It owns the region obtained from its
// memory provider for its whole lifetime and hands out payload addresses
// inside it via the classical malloc functions (as methods).
//
// A BMalloc serves a single caller stream: no operation is safe for
// concurrent use and none may be re-entered.
type BMalloc struct {
	prov    membrk.Provider
	options Options
	size    uint64 // total heap bytes under management
	used    MUsed  // statistics

	firstBase base // leftmost real block payload address
	inited    bool
}

// Debug returns true if malloc debugging is turned on.
func (bm *BMalloc) Debug() bool { return bm.options&BMDebug != 0 }

// BChecks returns true if per-operation consistency checking is turned on.
func (bm *BMalloc) BChecks() bool { return bm.options&BMChecks != 0 }

// addUsed increases the "used" stats with the given size.
func (bm *BMalloc) addUsed(size uint64) {
	bm.used.Used += size
	bm.used.RealUsed += size
	if bm.used.MaxRealUsed < bm.used.RealUsed {
		bm.used.MaxRealUsed = bm.used.RealUsed
	}
}

// subUsed subtracts size from the "used" stats.
func (bm *BMalloc) subUsed(size uint64) {
	bm.used.Used -= size
	bm.used.RealUsed -= size
}

// MUsage returns current memory usage values.
func (bm *BMalloc) MUsage() MUsed {
	return bm.used
}

// Available returns how many bytes are held in free blocks
// (tags included, since a free block is reusable whole).
func (bm *BMalloc) Available() uint64 {
	return bm.size - bm.used.RealUsed
}

// HeapSize returns the total heap bytes currently under management.
func (bm *BMalloc) HeapSize() uint64 {
	return bm.size
}

// Owns returns whether or not p lies inside the heap region managed by bm.
// It is a pure address-range test: a Free()d address inside the region
// still reports true.
func (bm *BMalloc) Owns(p unsafe.Pointer) bool {
	if !bm.inited {
		return false
	}
	return uintptr(p) >= uintptr(bm.firstBase) && uintptr(p) < bm.prov.HighAddress()
}

// Init initialises the allocator against a memory provider.
// It acquires the initial heap region, lays out the prologue and epilogue
// sentinel tags around a single free block and resets the statistics.
// It returns ErrInit if the provider refuses the initial request.
func (bm *BMalloc) Init(p membrk.Provider, options Options) error {
	*bm = BMalloc{} // zero, in case of re-init
	if p == nil {
		return ErrInit
	}
	if err := p.Init(); err != nil {
		ERR("provider init failed: %s\n", err)
		return ErrInit
	}
	raw, err := p.Extend(initWords * WordSize)
	if err != nil {
		ERR("provider refused initial %d bytes: %s\n", initWords*WordSize, err)
		return ErrInit
	}
	start := uintptr(raw)
	if start%DWordSize != 0 {
		ERR("provider returned unaligned region %#x\n", start)
		return ErrInit
	}

	bm.prov = p
	bm.options = options
	bm.size = initWords * WordSize
	bm.firstBase = base(start + DWordSize)

	// prologue: an allocated block of size 0, sitting where the first
	// block's predecessor footer would be
	*bm.firstBase.prevFooter() = 0 | allocMask
	makeBlock(bm.firstBase, initFreeWords, false)
	// epilogue: an allocated block of size 0 terminating traversal
	*bm.firstBase.next().header() = 0 | allocMask

	bm.used.RealUsed = frameOverhead
	bm.used.MaxRealUsed = frameOverhead
	bm.inited = true

	if bm.BChecks() {
		bm.checkBug("init")
	}
	return nil
}

// Malloc allocates size bytes of memory and returns a pointer to the
// payload. On failure (out of memory) and for size 0 it returns nil.
func (bm *BMalloc) Malloc(size uint32) unsafe.Pointer {
	if !bm.inited {
		WARN("malloc on uninitialized allocator\n")
		return nil
	}
	if size == 0 {
		return nil
	}
	words := blockWords(size)
	p, ok := bm.firstFit(words)
	if !ok {
		var err error
		p, err = bm.extendHeap(words)
		if err != nil {
			ERR("cannot extend heap by %d words: %s\n", words, err)
			return nil
		}
	}
	bm.place(p, words)
	bm.addUsed(uint64(words) * WordSize)
	if bm.Debug() {
		bm.dumpStatus()
	}
	if bm.BChecks() {
		bm.checkBug("malloc")
	}
	return p.ptr()
}

// Free releases the memory associated with p (p must have been previously
// allocated with Malloc). The freed block immediately coalesces with any
// free neighbor. Free is total: a nil, foreign, misaligned or already-free
// address is logged and otherwise ignored.
func (bm *BMalloc) Free(p unsafe.Pointer) {
	if p == nil {
		WARN("free(nil) called\n")
		return
	}
	if !bm.inited {
		WARN("free on uninitialized allocator\n")
		return
	}
	if !bm.Owns(p) || uintptr(p)%DWordSize != 0 {
		WARN("free called with invalid pointer %p (usable range %#x-%#x)\n",
			p, uintptr(bm.firstBase), bm.prov.HighAddress())
		return
	}
	b := base(uintptr(p))
	if !b.isAllocated() {
		WARN("attempt to free already freed pointer %p\n", p)
		return
	}
	bm.subUsed(uint64(b.sizeOf()) * WordSize)
	toggleBlock(b)
	bm.coalesce(b)
	if bm.Debug() {
		bm.dumpStatus()
	}
	if bm.BChecks() {
		bm.checkBug("free")
	}
}

// Realloc tries to grow or shrink a previously Malloc allocated pointer to
// a new size. It returns either the old value, when the size change was
// possible in place, or a new value. In the new value case the old payload
// is copied to the new location and the old pointer is Free()d.
// If not enough memory is available for growing p, it returns nil but does
// _not_ free the original pointer p.
// Realloc(nil, size) behaves as Malloc(size); Realloc(p, 0) behaves as
// Free(p) and returns nil.
func (bm *BMalloc) Realloc(p unsafe.Pointer, size uint32) unsafe.Pointer {
	if !bm.inited {
		WARN("realloc on uninitialized allocator\n")
		return nil
	}
	if p == nil {
		return bm.Malloc(size)
	}
	if !bm.Owns(p) || uintptr(p)%DWordSize != 0 {
		WARN("realloc called with invalid pointer %p (usable range %#x-%#x)\n",
			p, uintptr(bm.firstBase), bm.prov.HighAddress())
		return nil
	}
	if size == 0 {
		bm.Free(p)
		return nil
	}
	b := base(uintptr(p))
	if !b.isAllocated() {
		WARN("attempt to realloc already freed pointer %p\n", p)
		return nil
	}

	words := blockWords(size)
	old := b.sizeOf()
	switch {
	case words == old:
		// already the right size
	case words < old:
		bm.shrink(b, words, old)
	default:
		if !bm.growInPlace(b, words, old) {
			return bm.moveBlock(b, size, old)
		}
	}
	if bm.BChecks() {
		bm.checkBug("realloc")
	}
	return p
}

// shrink splits the allocated block at b into an allocated prefix of words
// words and a free tail, coalescing the tail with a following free block.
func (bm *BMalloc) shrink(b base, words, old uint32) {
	makeBlock(b, words, true)
	makeBlock(b.next(), old-words, false)
	bm.coalesce(b.next())
	bm.subUsed(uint64(old-words) * WordSize)
}

// growInPlace tries to extend the allocated block at b to words words by
// absorbing a following free block, splitting off any residue. It returns
// false if the next block cannot serve the growth.
func (bm *BMalloc) growInPlace(b base, words, old uint32) bool {
	next := b.next()
	if next.isAllocated() {
		return false
	}
	total := old + next.sizeOf()
	if total < words {
		return false
	}
	if total == words {
		makeBlock(b, total, true)
	} else {
		makeBlock(b, words, true)
		makeBlock(b.next(), total-words, false)
	}
	bm.addUsed(uint64(words-old) * WordSize)
	return true
}

// moveBlock services a growing realloc that cannot happen in place:
// allocate anew, copy the payload, release the old block.
// On allocation failure the old block is left untouched and nil is
// returned.
func (bm *BMalloc) moveBlock(b base, size uint32, old uint32) unsafe.Pointer {
	np := bm.Malloc(size)
	if np == nil {
		return nil
	}
	n := int(old)*WordSize - OverheadBytes
	if int(size) < n {
		n = int(size)
	}
	copy(unsafe.Slice((*byte)(np), n), unsafe.Slice((*byte)(b.ptr()), n))
	bm.Free(b.ptr())
	return np
}

// checkBug runs the consistency checker and logs a BUG on violation.
// The triggering operation's result stands; the checker is a guard, not a
// gate.
func (bm *BMalloc) checkBug(op string) {
	if err := bm.Check(); err != nil {
		BUG("after %s: %s\n", op, err)
	}
}
