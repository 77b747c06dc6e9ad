// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package etzpc implements a driver for the STM32MP1 Extended TrustZone
// Protection Controller (ETZPC).
//
// The ETZPC assigns a protection attribute to each securable peripheral
// (DECPROT) and protects the boot ROM and SYSRAM in 4KB pages (TZMA).
package etzpc

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/usbarmory/GoTEE-stm32mp/internal/reg"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rif"
)

// ETZPC registers
const (
	ETZPC_TZMA0_SIZE      = 0x000
	ETZPC_TZMA0_SIZE_LOCK = 31

	ETZPC_DECPROT0      = 0x010
	ETZPC_DECPROT_LOCK0 = 0x030

	ETZPC_HWCFGR = 0x3f0
	ETZPC_VERR   = 0x3f4

	idsPerDecprot     = 16
	idsPerDecprotLock = 32
	decprotMask       = 0x3
	tzmaValueMask     = 0x3ff
)

// PM snapshot flags
const (
	periphLock = 1 << 7
	periphAttr = 0x7
	tzmaLock   = 1 << 15
)

// Capabilities represents the ETZPC hardware configuration.
type Capabilities struct {
	Revision uint32
	NbTZMA   uint32
	NbPerSec uint32
	NbAHBSec uint32
}

// ETZPC represents an ETZPC instance.
type ETZPC struct {
	sync.Mutex

	io       reg.IO
	ctx      *rif.Context
	caps     Capabilities
	validate Validator
	log      *logrus.Entry

	pmPeriph []uint8
	pmTZMA   []uint16
}

// New probes an ETZPC instance and applies its device tree configuration,
// failures are returned as rif.ConfigurationError.
func New(ctx *rif.Context, io reg.IO, cfg *Config) (e *ETZPC, err error) {
	e = &ETZPC{
		io:       io,
		ctx:      ctx,
		validate: cfg.Validate,
		log:      logrus.WithField("fw", "ETZPC"),
	}

	hw := io.Read32(ETZPC_HWCFGR)

	e.caps = Capabilities{
		Revision: io.Read32(ETZPC_VERR) & 0xff,
		NbTZMA:   hw & 0xff,
		NbPerSec: (hw >> 8) & 0xff,
		NbAHBSec: (hw >> 16) & 0xff,
	}

	e.pmPeriph = make([]uint8, e.caps.NbPerSec)
	e.pmTZMA = make([]uint16, e.caps.NbTZMA)

	e.log.Debugf("ETZPC revision %#02x, per_sec %d, ahb_sec %d, tzma %d",
		e.caps.Revision, e.caps.NbPerSec, e.caps.NbAHBSec, e.caps.NbTZMA)

	if len(cfg.Decprot) == 0 {
		e.log.Debugf("no ETZPC DECPROT configuration in DT")
	}

	for _, d := range cfg.Decprot {
		if !e.validID(d.ID) {
			return nil, rif.Configurationf("invalid DECPROT %d", d.ID)
		}

		if err = e.check(d.ID, d.Attr); err != nil {
			return nil, rif.Configurationf("DECPROT %d %s rejected, %v", d.ID, d.Attr, err)
		}

		e.configureDecprot(d.ID, d.Attr)

		if d.Lock {
			e.lockDecprot(d.ID)
		}
	}

	return
}

// Name implements firewall.Controller.
func (e *ETZPC) Name() string {
	return "ETZPC"
}

// Capabilities returns the ETZPC hardware configuration.
func (e *ETZPC) Capabilities() Capabilities {
	return e.caps
}

func (e *ETZPC) validID(id uint32) bool {
	return id < e.caps.NbPerSec
}

func (e *ETZPC) check(id uint32, attr Attr) error {
	if e.validate == nil {
		return nil
	}

	return e.validate(id, attr)
}

func decprot(id uint32) (off uint32, pos int) {
	return 4 * (id / idsPerDecprot), int(id%idsPerDecprot) * 2
}

func decprotLock(id uint32) (off uint32, pos int) {
	return 4 * (id / idsPerDecprotLock), int(id % idsPerDecprotLock)
}

func (e *ETZPC) configureDecprot(id uint32, attr Attr) {
	off, pos := decprot(id)

	e.log.Tracef("ID : %d, CONF %s", id, attr)

	e.Lock()
	defer e.Unlock()

	reg.SetN(e.io, ETZPC_DECPROT0+off, pos, decprotMask, uint32(attr))
}

// Decprot returns the current protection attribute of a peripheral.
func (e *ETZPC) Decprot(id uint32) Attr {
	off, pos := decprot(id)
	return Attr(reg.Get(e.io, ETZPC_DECPROT0+off, pos, decprotMask))
}

func (e *ETZPC) lockDecprot(id uint32) {
	off, pos := decprotLock(id)

	e.Lock()
	defer e.Unlock()

	e.io.Write32(ETZPC_DECPROT_LOCK0+off, 1<<pos)
}

// DecprotLocked returns whether the protection attribute of a peripheral is
// locked.
func (e *ETZPC) DecprotLocked(id uint32) bool {
	off, pos := decprotLock(id)
	return reg.IsSet(e.io, ETZPC_DECPROT_LOCK0+off, pos)
}

func (e *ETZPC) configureTZMA(n uint32, pages uint16) {
	e.Lock()
	defer e.Unlock()

	e.io.Write32(ETZPC_TZMA0_SIZE+4*n, uint32(pages))
}

// TZMA returns the number of secure 4KB pages of a TZMA window.
func (e *ETZPC) TZMA(n uint32) uint16 {
	return uint16(e.io.Read32(ETZPC_TZMA0_SIZE+4*n) & tzmaValueMask)
}

func (e *ETZPC) lockTZMA(n uint32) {
	e.Lock()
	defer e.Unlock()

	reg.Set(e.io, ETZPC_TZMA0_SIZE+4*n, ETZPC_TZMA0_SIZE_LOCK)
}

// TZMALocked returns whether a TZMA window is locked.
func (e *ETZPC) TZMALocked(n uint32) bool {
	return reg.IsSet(e.io, ETZPC_TZMA0_SIZE+4*n, ETZPC_TZMA0_SIZE_LOCK)
}
