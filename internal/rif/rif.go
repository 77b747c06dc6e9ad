// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package rif implements the Resource Isolation Framework (RIF) primitives
// shared by all STM32MP firewall controllers.
//
// A RIF-aware resource carries a CID configuration register (CIDCFGR), which
// either statically assigns the resource to a single compartment (SCID) or
// shares it through a hardware semaphore (SEMCR) among a whitelist of
// compartments (SEMWL).
package rif

import (
	mbits "math/bits"

	"github.com/usbarmory/tamago/bits"

	"github.com/usbarmory/GoTEE-stm32mp/internal/reg"
)

// Compartment identifiers
const (
	CID0 = 0
	// Secure World (Cortex-A35 TrustZone)
	CID1 = 1
	CID2 = 2
	CID3 = 3
	CID4 = 4
	CID5 = 5
	CID6 = 6
	CID7 = 7

	MaxCID = CID7
)

// CID configuration register (CIDCFGR)
const (
	CIDCFGR_CFEN  = 0
	CIDCFGR_SEMEN = 1
	CIDCFGR_SCID  = 4
	CIDCFGR_SEMWL = 16
)

// Semaphore register (SEMCR)
const (
	SEMCR_MUTEX  = 0
	SEMCR_SEMCID = 4
)

func isSet(val uint32, pos int) bool {
	return bits.Get(&val, pos, 1) == 1
}

// SCIDMask returns the mask of the SCID/SEMCID field for a controller
// supporting nbCID compartments.
func SCIDMask(nbCID uint) uint32 {
	if nbCID == 0 {
		return 0
	}

	return reg.Mask(CIDCFGR_SCID+mbits.Len(nbCID)-1, CIDCFGR_SCID)
}

// Enabled returns whether CID filtering is enabled in a CIDCFGR value.
func Enabled(cidcfgr uint32) bool {
	return isSet(cidcfgr, CIDCFGR_CFEN)
}

// SemaphoreEnabled returns whether semaphore mode is selected in a CIDCFGR
// value.
func SemaphoreEnabled(cidcfgr uint32) bool {
	return isSet(cidcfgr, CIDCFGR_SEMEN)
}

// Whitelisted returns whether cid is part of the semaphore whitelist of a
// CIDCFGR value.
func Whitelisted(cidcfgr uint32, cid uint8) bool {
	return isSet(cidcfgr, CIDCFGR_SEMWL+int(cid))
}

// SCIDOK returns whether the resource is statically assigned to cid.
func SCIDOK(cidcfgr uint32, nbCID uint, cid uint8) bool {
	return cidcfgr&SCIDMask(nbCID) == uint32(cid)<<CIDCFGR_SCID &&
		!SemaphoreEnabled(cidcfgr)
}

// SemEnabledAndOK returns whether the resource is shared through its
// semaphore and cid is allowed to take it.
func SemEnabledAndOK(cidcfgr uint32, cid uint8) bool {
	return Enabled(cidcfgr) && SemaphoreEnabled(cidcfgr) && Whitelisted(cidcfgr, cid)
}

// SemModeIncorrect returns whether the Secure World cannot use the resource
// semaphore, either because CID filtering or semaphore mode is disabled or
// because CID1 is not whitelisted.
func SemModeIncorrect(cidcfgr uint32) bool {
	return !SemEnabledAndOK(cidcfgr, CID1)
}

// SemaphoreOwner returns the holder of a taken semaphore.
func SemaphoreOwner(semcr uint32, nbCID uint) (cid uint8, taken bool) {
	if !isSet(semcr, SEMCR_MUTEX) {
		return
	}

	return uint8((semcr & SCIDMask(nbCID)) >> SEMCR_SEMCID), true
}

// SemaphoreAvailable returns whether a semaphore is free.
func SemaphoreAvailable(semcr uint32) bool {
	return !isSet(semcr, SEMCR_MUTEX)
}

// CheckAccess evaluates whether cid may access a resource given its current
// CIDCFGR and SEMCR values.
func CheckAccess(cidcfgr uint32, semcr uint32, nbCID uint, cid uint8) error {
	if !Enabled(cidcfgr) {
		return nil
	}

	if SCIDOK(cidcfgr, nbCID, cid) {
		return nil
	}

	if SemEnabledAndOK(cidcfgr, cid) {
		if owner, taken := SemaphoreOwner(semcr, nbCID); !taken || owner == cid {
			return nil
		}
	}

	return ErrAccessDenied
}

// AcquireSemaphore takes the semaphore at register offset off on behalf of
// cid, the operation succeeds only if the hardware reports cid as holder.
func AcquireSemaphore(io reg.IO, off uint32, nbCID uint, cid uint8) error {
	reg.SetBits(io, off, reg.Bit(SEMCR_MUTEX))

	if owner, taken := SemaphoreOwner(io.Read32(off), nbCID); !taken || owner != cid {
		return ErrAccessDenied
	}

	return nil
}

// ReleaseSemaphore frees the semaphore at register offset off held by cid,
// releasing a free semaphore is a no-op.
func ReleaseSemaphore(io reg.IO, off uint32, nbCID uint, cid uint8) error {
	if SemaphoreAvailable(io.Read32(off)) {
		return nil
	}

	reg.ClearBits(io, off, reg.Bit(SEMCR_MUTEX))

	if owner, taken := SemaphoreOwner(io.Read32(off), nbCID); taken && owner == cid {
		return ErrAccessDenied
	}

	return nil
}
