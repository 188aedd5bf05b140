// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

//go:build linux || darwin

package membrk

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// MmapArena is a Provider over one anonymous private mapping reserved at
// construction size. Extend bumps a break index inside the mapping; the
// kernel commits pages on first touch, so a large reservation costs only
// address space. Page alignment makes the region start BaseAlign-aligned
// for free.
type MmapArena struct {
	max int
	mem []byte
	brk int
}

// NewMmapArena prepares an arena reserving max bytes of address space.
// The mapping itself is created by Init.
func NewMmapArena(max uint32) *MmapArena {
	return &MmapArena{max: int(max)}
}

// Init maps the reservation on first use; on re-init it only resets the
// break. Previously handed-out bytes are not zeroed on re-init.
func (a *MmapArena) Init() error {
	if a.mem == nil {
		mem, err := unix.Mmap(-1, 0, a.max,
			unix.PROT_READ|unix.PROT_WRITE,
			unix.MAP_ANON|unix.MAP_PRIVATE)
		if err != nil {
			return err
		}
		a.mem = mem
	}
	a.brk = 0
	return nil
}

// Extend grows the region by n bytes and returns their base address.
func (a *MmapArena) Extend(n uint32) (unsafe.Pointer, error) {
	if a.mem == nil {
		return nil, ErrNotInitialized
	}
	if a.brk+int(n) > len(a.mem) {
		return nil, ErrArenaFull
	}
	p := unsafe.Pointer(&a.mem[a.brk])
	a.brk += int(n)
	return p, nil
}

// HighAddress returns the address of the last valid byte of the region.
func (a *MmapArena) HighAddress() uintptr {
	return uintptr(unsafe.Pointer(&a.mem[0])) + uintptr(a.brk) - 1
}

// Size returns how many bytes the region currently spans.
func (a *MmapArena) Size() uint64 {
	return uint64(a.brk)
}

// Close unmaps the reservation. The arena must not be used afterwards.
func (a *MmapArena) Close() error {
	if a.mem == nil {
		return nil
	}
	mem := a.mem
	a.mem = nil
	a.brk = 0
	return unix.Munmap(mem)
}
