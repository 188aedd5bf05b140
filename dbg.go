// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package bmalloc

import (
	"github.com/intuitivelabs/slog"
)

// dumpStatus will write current status information in the log
func (bm *BMalloc) dumpStatus() {
	const lev = slog.LDBG
	const prefix = "bm_status "

	if !Log.L(lev) {
		return
	}
	Log.LLog(lev, 0, prefix, "(%p):\n", bm)
	if bm == nil || !bm.inited {
		return
	}
	Log.LLog(lev, 0, prefix, "heap size= %d\n", bm.size)
	Log.LLog(lev, 0, prefix, "used= %d, used+overhead=%d, free=%d\n",
		bm.used.Used, bm.used.RealUsed, bm.Available())
	Log.LLog(lev, 0, prefix, "max used (+overhead)= %d\n",
		bm.used.MaxRealUsed)
	if bm.options&BMDumpStatsShort != 0 {
		return
	}
	Log.LLog(lev, 0, prefix, "dumping all blocks:\n")
	i, free, frags := 0, uint64(0), 0
	for p := bm.firstBase; p.sizeOf() != 0; p = p.next() {
		Log.LLog(lev, 0, prefix,
			"   %3d.    address=%#x words=%6d alloc=%v\n",
			i, uintptr(p), p.sizeOf(), p.isAllocated())
		if !p.isAllocated() {
			free += uint64(p.sizeOf()) * WordSize
			frags++
		}
		i++
	}
	Log.LLog(lev, 0, prefix, "free blocks: %d totaling %d bytes\n",
		frags, free)
	if free != bm.Available() {
		BUG("bm_status: free byte count mismatch: %d != %d\n",
			free, bm.Available())
	}
	Log.LLog(lev, 0, prefix, "-----------------------------\n")
}
