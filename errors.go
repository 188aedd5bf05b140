// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package bmalloc

import "errors"

var (
	// ErrInit indicates the memory provider refused the initial heap
	// allocation or was mis-configured.
	ErrInit = errors.New("bmalloc: init failed")

	// ErrNoMem indicates the memory provider could not grow the heap.
	ErrNoMem = errors.New("bmalloc: out of memory")

	// ErrNotInit indicates an operation on an allocator that was never
	// successfully Init()ed.
	ErrNotInit = errors.New("bmalloc: allocator not initialized")
)
