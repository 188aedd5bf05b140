// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package bmalloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func requireViolation(t *testing.T, err error, v Violation) *CheckError {
	t.Helper()
	require.Error(t, err)
	ce, ok := err.(*CheckError)
	require.True(t, ok, "expected *CheckError, got %T: %v", err, err)
	require.Equal(t, v, ce.Violation)
	return ce
}

func TestCheckPassesOnLiveHeap(t *testing.T) {
	bm, _ := newTestAlloc(t, 1<<20)
	require.NoError(t, bm.Check())

	a := bm.Malloc(100)
	b := bm.Malloc(2040)
	require.NoError(t, bm.Check())
	bm.Free(a)
	require.NoError(t, bm.Check())
	bm.Free(b)
	require.NoError(t, bm.Check())
}

func TestCheckDetectsBadPrologue(t *testing.T) {
	bm, _ := newTestAlloc(t, 1<<16)

	*bm.firstBase.prevFooter() = 0 // size 0 but free
	ce := requireViolation(t, bm.Check(), BadPrologue)
	require.Equal(t, uintptr(bm.firstBase), ce.Base)
	require.Equal(t, tag(0|1), ce.Expected)
	require.Equal(t, tag(0), ce.Actual)
}

func TestCheckDetectsTagMismatch(t *testing.T) {
	bm, _ := newTestAlloc(t, 1<<16)
	p := bm.Malloc(8)
	require.NotNil(t, p)
	b := base(uintptr(p))

	*b.footer() ^= allocMask
	ce := requireViolation(t, bm.Check(), TagMismatch)
	require.Equal(t, uintptr(b), ce.Base)
	require.Equal(t, *b.header(), ce.Expected)
	require.Equal(t, *b.footer(), ce.Actual)
}

func TestCheckDetectsAdjacentFree(t *testing.T) {
	bm, _ := newTestAlloc(t, 1<<16)
	a := bm.Malloc(8)
	require.NotNil(t, a)
	b := bm.Malloc(8)
	require.NotNil(t, b)

	// clear both alloc bits directly, bypassing Free's coalescing
	toggleBlock(base(uintptr(a)))
	toggleBlock(base(uintptr(b)))
	ce := requireViolation(t, bm.Check(), AdjacentFree)
	require.Equal(t, uintptr(a), ce.Base)
}

func TestCheckDetectsBadEpilogue(t *testing.T) {
	bm, _ := newTestAlloc(t, 1<<16)

	epi := base(bm.prov.HighAddress() + 1)
	*epi.header() = 0 // size 0 but free
	ce := requireViolation(t, bm.Check(), BadEpilogue)
	require.Equal(t, tag(0|1), ce.Expected)
	require.Equal(t, tag(0), ce.Actual)
}

func TestCheckDetectsOversizedBlock(t *testing.T) {
	bm, _ := newTestAlloc(t, 1<<16)

	// inflate the sole block's tags consistently so only the heap extent
	// gives the corruption away
	makeBlock(bm.firstBase, 8, false)
	_ = requireViolation(t, bm.Check(), BadExtent)
}

func TestCheckErrorIsOneStableLine(t *testing.T) {
	bm, _ := newTestAlloc(t, 1<<16)

	*bm.firstBase.prevFooter() = 0
	err := bm.Check()
	require.Error(t, err)
	require.NotContains(t, err.Error(), "\n")
	require.Contains(t, err.Error(), "check failed: prologue")
}

func TestCheckOnUninitialized(t *testing.T) {
	var bm BMalloc
	require.ErrorIs(t, bm.Check(), ErrNotInit)
}
