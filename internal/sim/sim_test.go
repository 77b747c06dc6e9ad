// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sim

import (
	"testing"
)

func TestSemaphoreArbitration(t *testing.T) {
	b := NewBank("test")
	b.Semaphore(0x4, 0x0, 0x70)

	// CFEN | SEMEN | SEMWL CID1,CID2
	b.Poke(0x0, 0x3|1<<17|1<<18)

	b.Port(2).Write32(0x4, 1)

	if got := b.Peek(0x4); got != 1|2<<4 {
		t.Fatalf("CID2 take, got %#x", got)
	}

	// taken semaphore is not stolen
	b.Port(1).Write32(0x4, 1)

	if got := b.Peek(0x4); got != 1|2<<4 {
		t.Fatalf("CID1 take, got %#x", got)
	}

	// only the holder releases
	b.Port(1).Write32(0x4, 0)

	if got := b.Peek(0x4); got != 1|2<<4 {
		t.Fatalf("CID1 release, got %#x", got)
	}

	b.Port(2).Write32(0x4, 0)

	if got := b.Peek(0x4); got != 0 {
		t.Fatalf("CID2 release, got %#x", got)
	}

	// non whitelisted compartment
	b.Port(3).Write32(0x4, 1)

	if got := b.Peek(0x4); got != 0 {
		t.Fatalf("CID3 take, got %#x", got)
	}
}

func TestStickyAndGuard(t *testing.T) {
	b := NewBank("test")
	b.Sticky(0x0, 0x1)
	b.Guard(0x4, lockedBits(0x0))

	b.Write32(0x4, 0x3)
	b.Write32(0x0, 0x1)
	b.Write32(0x0, 0x0)

	if got := b.Peek(0x0); got != 0x1 {
		t.Fatalf("sticky bit cleared, got %#x", got)
	}

	b.Write32(0x4, 0x0)

	if got := b.Peek(0x4); got != 0x1 {
		t.Fatalf("guarded bit cleared, got %#x", got)
	}

	if got := b.Writes(); got != 4 {
		t.Fatalf("unexpected write count %d", got)
	}
}

func TestRIFSCTDCID(t *testing.T) {
	b := NewRIFSC(RIFSC{NbRISUP: 4, TDCID: 2})

	if got := (b.Peek(0xc00) >> 4) & 0x7; got != 2 {
		t.Fatalf("TDCID, got %d", got)
	}

	// only the TDCID programs CID filtering
	b.Write32(0x100, 0x11)

	if got := b.Peek(0x100); got != 0 {
		t.Fatalf("non-TDCID write latched %#x", got)
	}

	b.Port(2).Write32(0x100, 0x11)

	if got := b.Peek(0x100); got != 0x11 {
		t.Fatalf("TDCID write, got %#x", got)
	}
}

func TestRISAFIllegalAccess(t *testing.T) {
	b := NewRISAF(RISAF{NbRegions: 4, Granularity: 12, Width: 32})

	b.IllegalAccess(0x12, 0x80001000)

	if b.Peek(0x008) == 0 {
		t.Fatal("illegal access not latched")
	}

	b.Write32(0x00c, 0x7)

	if got := b.Peek(0x008); got != 0 {
		t.Fatalf("illegal access not cleared, got %#x", got)
	}
}
