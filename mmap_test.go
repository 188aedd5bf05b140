// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

//go:build linux || darwin

package bmalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intuitivelabs/mallocs/bmalloc/membrk"
)

// The allocator behaves identically over the mmap-backed provider.
func TestMallocOverMmapArena(t *testing.T) {
	a := membrk.NewMmapArena(1 << 20)
	bm := &BMalloc{}
	require.NoError(t, bm.Init(a, BMDefaultOptions))
	defer a.Close()

	p := bm.Malloc(8)
	require.NotNil(t, p)
	require.Equal(t, []blockInfo{{2, true}, {4, false}}, heapBlocks(bm))

	q := bm.Malloc(100000) // forces extension within the reservation
	require.NotNil(t, q)
	fillPayload(q, 100000, 0x7f)
	requirePayload(t, q, 100000, 0x7f)

	bm.Free(p)
	bm.Free(q)
	require.NoError(t, bm.Check())
	require.Zero(t, bm.MUsage().Used)
}
