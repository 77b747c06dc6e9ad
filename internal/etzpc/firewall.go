// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package etzpc

import (
	"github.com/usbarmory/GoTEE-stm32mp/internal/firewall"
	"github.com/usbarmory/GoTEE-stm32mp/internal/pm"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rif"
	"github.com/usbarmory/GoTEE-stm32mp/mem"
)

type zone struct {
	start uint64
	size  uint64
}

// internal memories which can only be configured as a whole
var zones = map[uint32]zone{
	SRAM1_ID:  {mem.SRAM1Start, mem.SRAM1Size},
	SRAM2_ID:  {mem.SRAM2Start, mem.SRAM2Size},
	SRAM3_ID:  {mem.SRAM3Start, mem.SRAM3Size},
	SRAM4_ID:  {mem.SRAM4Start, mem.SRAM4Size},
	RETRAM_ID: {mem.RETRAMStart, mem.RETRAMSize},
}

// TZMA windows
var tzmas = map[uint32]zone{
	TZMA0_ID: {mem.ROMStart, mem.ROMSize},
	TZMA1_ID: {mem.SYSRAMStart, mem.SYSRAMSize},
}

func arg(q *firewall.Query) (d Decprot, err error) {
	if len(q.Args) != 1 {
		return d, rif.ErrBadParameters
	}

	return ParseDecprot(q.Args[0]), nil
}

// CheckNSAccess returns whether a peripheral may be accessed by the
// Non-secure World.
func (e *ETZPC) CheckNSAccess(id uint32) error {
	return e.CheckAccess(firewall.NewQuery(e, Decprot{ID: id, Attr: NS_RW}.Cell()))
}

// CheckAccess implements firewall.AccessChecker, the query argument is a
// DECPROT cell holding the requested attribute.
//
// Access is granted when the requested attribute matches the current one,
// when a secure requester targets a peripheral which is not MCU isolated or
// when a non-secure requester targets a peripheral which is neither MCU
// isolated nor secure.
func (e *ETZPC) CheckAccess(q *firewall.Query) error {
	req, err := arg(q)

	if err != nil {
		return err
	}

	if !e.validID(req.ID) {
		return rif.ErrBadParameters
	}

	attr := e.Decprot(req.ID)

	switch {
	case attr == req.Attr:
		return nil
	case (req.Attr == S_RW || req.Attr == NS_R_S_W) && attr != MCU_ISOLATION:
		return nil
	case (req.Attr == NS_RW || req.Attr == NS_R_S_W) && attr != MCU_ISOLATION && attr != S_RW:
		return nil
	}

	return rif.ErrAccessDenied
}

// AcquireAccess implements firewall.Acquirer, access is granted to
// peripherals writable by the Secure World.
func (e *ETZPC) AcquireAccess(q *firewall.Query) error {
	req, err := arg(q)

	if err != nil {
		return err
	}

	if !e.validID(req.ID) {
		return rif.ErrBadParameters
	}

	if attr := e.Decprot(req.ID); attr != S_RW && attr != NS_R_S_W {
		return rif.ErrAccessDenied
	}

	return nil
}

// AcquireMemoryAccess implements firewall.MemoryAcquirer, access is granted
// to buffers within the secure part of a TZMA window.
func (e *ETZPC) AcquireMemoryAccess(q *firewall.Query, addr uint64, size uint64, _ bool, _ bool) error {
	req, err := arg(q)

	if err != nil {
		return err
	}

	z, ok := tzmas[req.ID]

	if !ok {
		return rif.ErrBadParameters
	}

	prot := uint64(e.TZMA(req.ID-TZMA0_ID)) * mem.SmallPageSize

	e.log.Debugf("acquiring access for TZMA%d, secured from %#x to %#x", req.ID-TZMA0_ID, z.start, z.start+prot)

	if mem.Contains(addr, size, z.start, prot) {
		return nil
	}

	return rif.ErrAccessDenied
}

// SetConf implements firewall.Configurer, the query argument is a DECPROT
// cell.
func (e *ETZPC) SetConf(q *firewall.Query) error {
	req, err := arg(q)

	if err != nil {
		return err
	}

	e.log.Tracef("setting firewall configuration for peripheral ID: %d", req.ID)

	if !e.validID(req.ID) {
		e.log.Errorf("unknown firewall ID: %d", req.ID)
		return rif.ErrBadParameters
	}

	return e.setDecprot(req, "peripheral")
}

func (e *ETZPC) setDecprot(req Decprot, kind string) error {
	if e.DecprotLocked(req.ID) {
		if !req.Lock || e.Decprot(req.ID) != req.Attr {
			e.log.Errorf("%s configuration locked", kind)
			return rif.ErrAccessDenied
		}

		e.log.Debugf("valid access for %s %d - attr %s", kind, req.ID, req.Attr)

		return nil
	}

	if err := e.check(req.ID, req.Attr); err != nil {
		e.log.Errorf("%s %d %s rejected, %v", kind, req.ID, req.Attr, err)
		return rif.ErrAccessDenied
	}

	e.log.Debugf("setting access config for %s %d - attr %s", kind, req.ID, req.Attr)

	e.configureDecprot(req.ID, req.Attr)

	if req.Lock {
		e.lockDecprot(req.ID)
	}

	return nil
}

// SetMemoryConf implements firewall.MemoryConfigurer. Internal memories are
// configured as a whole through their DECPROT field, TZMA windows are
// secured from their base address in 4KB pages.
func (e *ETZPC) SetMemoryConf(q *firewall.Query, addr uint64, size uint64) error {
	req, err := arg(q)

	if err != nil {
		return err
	}

	if z, ok := zones[req.ID]; ok && e.validID(req.ID) {
		if addr != z.start || size != z.size {
			return rif.ErrBadParameters
		}

		return e.setDecprot(req, "internal RAM")
	}

	z, ok := tzmas[req.ID]

	if !ok {
		e.log.Errorf("unknown firewall ID: %d", req.ID)
		return rif.ErrBadParameters
	}

	if addr != z.start || size > z.size || size%mem.SmallPageSize != 0 {
		return rif.ErrBadParameters
	}

	n := req.ID - TZMA0_ID
	pages := uint16(size / mem.SmallPageSize)

	if e.TZMALocked(n) {
		if !req.Lock || e.TZMA(n) != pages {
			e.log.Errorf("TZMA configuration locked")
			return rif.ErrAccessDenied
		}

		return nil
	}

	e.configureTZMA(n, pages)

	if req.Lock {
		e.lockTZMA(n)
	}

	return nil
}

// PM saves and restores DECPROT and TZMA configurations with their lock
// state.
func (e *ETZPC) PM(op pm.Op, _ pm.Hint) error {
	if op == pm.Suspend {
		for n := uint32(0); n < e.caps.NbPerSec; n++ {
			e.pmPeriph[n] = uint8(e.Decprot(n))

			if e.DecprotLocked(n) {
				e.pmPeriph[n] |= periphLock
			}
		}

		for n := uint32(0); n < e.caps.NbTZMA; n++ {
			e.pmTZMA[n] = e.TZMA(n)

			if e.TZMALocked(n) {
				e.pmTZMA[n] |= tzmaLock
			}
		}

		return nil
	}

	for n := uint32(0); n < e.caps.NbPerSec; n++ {
		e.configureDecprot(n, Attr(e.pmPeriph[n]&periphAttr))

		if e.pmPeriph[n]&periphLock != 0 {
			e.lockDecprot(n)
		}
	}

	for n := uint32(0); n < e.caps.NbTZMA; n++ {
		e.configureTZMA(n, e.pmTZMA[n]&tzmaValueMask)

		if e.pmTZMA[n]&tzmaLock != 0 {
			e.lockTZMA(n)
		}
	}

	return nil
}
