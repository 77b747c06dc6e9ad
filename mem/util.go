// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mem

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Window represents a memory mapped peripheral register window, it
// implements reg.IO over physical addresses.
//
// A Window must only be used when running natively on the target SoC, with
// the peripheral mapped 1:1.
type Window struct {
	// Base is the peripheral physical base address
	Base uint32
	// Size is the register window size
	Size uint32
}

func (w *Window) addr(off uint32) *uint32 {
	if off+4 > w.Size {
		panic(fmt.Sprintf("register offset %#x out of window %#x/%#x", off, w.Base, w.Size))
	}

	return (*uint32)(unsafe.Pointer(uintptr(w.Base + off)))
}

// Read32 reads one 32-bit register.
func (w *Window) Read32(off uint32) uint32 {
	return atomic.LoadUint32(w.addr(off))
}

// Write32 writes one 32-bit register.
func (w *Window) Write32(off uint32, val uint32) {
	atomic.StoreUint32(w.addr(off), val)
}

// Contains returns whether the [start, start+size) buffer lies entirely
// within the [base, base+limit) window.
func Contains(start uint64, size uint64, base uint64, limit uint64) bool {
	if size == 0 || limit == 0 {
		return false
	}

	end := start + size - 1
	last := base + limit - 1

	if end < start || last < base {
		return false
	}

	return start >= base && end <= last
}

// Intersect returns whether two [start, start+size) buffers overlap.
func Intersect(a uint64, aSize uint64, b uint64, bSize uint64) bool {
	if aSize == 0 || bSize == 0 {
		return false
	}

	return a < b+bSize && b < a+aSize
}
