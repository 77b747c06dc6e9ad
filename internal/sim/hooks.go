// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sim

const secureCID = 1

// RIF CIDCFGR and SEMCR fields, as latched by hardware
const (
	cidcfgrCFEN  = 1 << 0
	cidcfgrSEMEN = 1 << 1
	cidcfgrSEMWL = 16
	semcrMUTEX   = 1 << 0
	semcrSEMCID  = 4
)

// Semaphore models the hardware semaphore arbitration of a RIF resource.
//
// Setting MUTEX latches the writer compartment as holder only when the
// semaphore is free and the writer is whitelisted in the CIDCFGR register at
// offset cidcfgr. Clearing MUTEX frees the semaphore only when issued by the
// holder. Any other write is ignored.
func (b *Bank) Semaphore(semcr uint32, cidcfgr uint32, semcidMask uint32) {
	b.Hook(semcr, func(b *Bank, cid uint8, old uint32, val uint32) uint32 {
		cfg := b.Value(cidcfgr)

		if val&semcrMUTEX != 0 {
			if old&semcrMUTEX == 0 &&
				cfg&cidcfgrCFEN != 0 && cfg&cidcfgrSEMEN != 0 &&
				cfg&(1<<(cidcfgrSEMWL+uint32(cid))) != 0 {
				return semcrMUTEX | uint32(cid)<<semcrSEMCID
			}

			return old
		}

		if old&semcrMUTEX != 0 && (old&semcidMask)>>semcrSEMCID == uint32(cid) {
			return 0
		}

		return old
	})
}

// Sticky makes the bits of mask settable but not clearable.
func (b *Bank) Sticky(off uint32, mask uint32) {
	b.Hook(off, func(_ *Bank, _ uint8, old uint32, val uint32) uint32 {
		return val | old&mask
	})
}

// ReadOnly makes the bits of mask immutable.
func (b *Bank) ReadOnly(off uint32, mask uint32) {
	b.Guard(off, func(*Bank, uint8) uint32 {
		return mask
	})
}

// Guard preserves, on every write, the bits returned by the locked function.
func (b *Bank) Guard(off uint32, locked func(b *Bank, cid uint8) uint32) {
	b.Hook(off, func(b *Bank, cid uint8, old uint32, val uint32) uint32 {
		m := locked(b, cid)
		return val&^m | old&m
	})
}

// ClearOnWrite makes writes to off clear the matching bits of the status
// register at offset status, off itself always reads as zero.
func (b *Bank) ClearOnWrite(off uint32, status uint32) {
	b.Hook(off, func(b *Bank, _ uint8, _ uint32, val uint32) uint32 {
		b.regs[status] &^= val
		return 0
	})
}
