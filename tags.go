// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package bmalloc

import (
	"unsafe"
)

// A tag is the 4-byte metadata word written at both ends of every block:
// the block size in words, with the allocated flag in bit 0.
// Sizes are always even, so bit 0 is free for the flag.
type tag = uint32

const (
	// WordSize is the unit block sizes are expressed in.
	WordSize = 8
	// TagSize is the size of a boundary tag.
	TagSize = 4
	// DWordSize is the base-address alignment of every block.
	DWordSize = 2 * WordSize
	// OverheadBytes is the per-block metadata cost (header + footer).
	OverheadBytes = 2 * TagSize

	allocMask = tag(0x1)

	// MinBlockWords is the smallest legal block: header + footer + one
	// word of payload, rounded to an even word count.
	MinBlockWords = 2
)

// base is the user-visible address of a block: the first payload byte, one
// tag past the block header. All raw address arithmetic in the package is
// confined to the methods below; everything else manipulates blocks through
// them.
//
// The methods are defined for bases of real blocks and for the epilogue
// (size 0: next() and sizeOf() stay well formed). prev() additionally
// requires a real predecessor block.
type base uintptr

// header returns the block header tag.
func (p base) header() *tag {
	return (*tag)(unsafe.Pointer(uintptr(p) - TagSize))
}

// sizeOf returns the block size in words, header and footer included.
func (p base) sizeOf() uint32 {
	return *p.header() &^ allocMask
}

// isAllocated returns true if the block is allocated.
func (p base) isAllocated() bool {
	return *p.header()&allocMask != 0
}

// footer returns the block footer tag, a bit-identical copy of the header.
func (p base) footer() *tag {
	return (*tag)(unsafe.Pointer(uintptr(p) + uintptr(p.sizeOf())*WordSize - WordSize))
}

// next returns the base of the block immediately to the right.
func (p base) next() base {
	return p + base(p.sizeOf())*WordSize
}

// prevFooter returns the footer tag of the block immediately to the left.
// For the first block this is the prologue tag, which reads as an allocated
// block of size 0.
func (p base) prevFooter() *tag {
	return (*tag)(unsafe.Pointer(uintptr(p) - WordSize))
}

// prevSizeOf returns the size of the block immediately to the left, read
// from its footer.
func (p base) prevSizeOf() uint32 {
	return *p.prevFooter() &^ allocMask
}

// prevAllocated returns the allocated flag of the block immediately to the
// left, read from its footer.
func (p base) prevAllocated() bool {
	return *p.prevFooter()&allocMask != 0
}

// prev returns the base of the block immediately to the left.
// Only valid when the predecessor is a real block.
func (p base) prev() base {
	return p - base(p.prevSizeOf())*WordSize
}

// ptr converts a base to the payload pointer handed out by the public API.
func (p base) ptr() unsafe.Pointer {
	return unsafe.Pointer(uintptr(p))
}

// makeBlock imprints a header/footer pair describing a block of the given
// word size and allocation state at base p. words must be even and >= 2 and
// the tag range must lie inside the heap; callers are responsible for
// producing a consistent layout.
func makeBlock(p base, words uint32, allocated bool) {
	t := words
	if allocated {
		t |= allocMask
	}
	*p.header() = t
	*p.footer() = t
}

// toggleBlock flips the allocation bit of the block at p, preserving its
// size. Header and footer always receive the same toggled tag.
func toggleBlock(p base) {
	t := *p.header() ^ allocMask
	*p.header() = t
	*p.footer() = t
}

// blockWords computes the block size in words needed to serve a request of
// n payload bytes: payload plus overhead, rounded up to the next 16-byte
// multiple. The result is always even and >= MinBlockWords.
func blockWords(n uint32) uint32 {
	return uint32((uint64(n) + OverheadBytes + DWordSize - 1) / DWordSize * 2)
}
