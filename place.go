// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package bmalloc

// firstFit walks the heap in address order and returns the first free block
// of at least words words. The walk terminates on the epilogue (size 0).
// It returns (0, false) when no block fits.
func (bm *BMalloc) firstFit(words uint32) (base, bool) {
	for p := bm.firstBase; p.sizeOf() != 0; p = p.next() {
		if !p.isAllocated() && p.sizeOf() >= words {
			return p, true
		}
	}
	return 0, false
}

// place allocates words words at the free block p, splitting off the
// remainder as a new free block. A remainder is always a legal block: block
// sizes are even, so it is either zero or at least MinBlockWords.
func (bm *BMalloc) place(p base, words uint32) {
	s := p.sizeOf()
	if s == words {
		toggleBlock(p)
		return
	}
	makeBlock(p, words, true)
	makeBlock(p.next(), s-words, false)
}

// coalesce merges the free block at p with any free neighbor, using the
// boundary tags to find them. The prologue and epilogue sentinels read as
// allocated, so merging stops naturally at both heap ends. It returns the
// base of the resulting free block.
func (bm *BMalloc) coalesce(p base) base {
	prevAlloc := p.prevAllocated()
	next := p.next()
	nextAlloc := next.isAllocated()
	words := p.sizeOf()

	switch {
	case prevAlloc && nextAlloc:
		// nothing adjacent to merge with
	case prevAlloc && !nextAlloc:
		makeBlock(p, words+next.sizeOf(), false)
	case !prevAlloc && nextAlloc:
		p = p.prev()
		makeBlock(p, words+p.sizeOf(), false)
	default:
		nw := next.sizeOf()
		p = p.prev()
		makeBlock(p, words+p.sizeOf()+nw, false)
	}
	return p
}

// extendHeap grows the heap enough to carve a free block of words words at
// its tail and returns that block's base. The new block's header lands on
// the old epilogue tag and a fresh epilogue is written at the new heap end.
//
// If the block just before the old epilogue is free, only the difference is
// requested from the provider and the new block spans from that free
// block's base: left-coalescing fused into the extension, so no short-lived
// mergeable pair ever exists.
//
// It returns ErrNoMem if the provider cannot supply the bytes; the heap is
// unchanged in that case.
func (bm *BMalloc) extendHeap(words uint32) (base, error) {
	epi := base(bm.prov.HighAddress() + 1)
	need := words
	start := epi
	if !epi.prevAllocated() {
		// the tail block is free but did not fit, so its size is
		// strictly below words
		need -= epi.prevSizeOf()
		start = epi.prev()
	}
	if _, err := bm.prov.Extend(need * WordSize); err != nil {
		return 0, ErrNoMem
	}
	bm.size += uint64(need) * WordSize
	makeBlock(start, words, false)
	*start.next().header() = 0 | allocMask
	return start, nil
}
