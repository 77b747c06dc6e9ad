// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package risaf implements a driver for the STM32MP2 Resource Isolation Slave
// unit for Address space protection (Full version), the RISAF.
//
// A RISAF filters accesses to a memory through up to 15 base regions, each
// region carries security, privileged CIDs, read/write CIDs and an optional
// encryption setting.
package risaf

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/usbarmory/GoTEE-stm32mp/internal/reg"
	"github.com/usbarmory/GoTEE-stm32mp/internal/region"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rif"
	"github.com/usbarmory/GoTEE-stm32mp/mem"
)

// RISAF registers
const (
	RISAF_CR       = 0x00
	RISAF_CR_GLOCK = 0

	RISAF_SR        = 0x04
	RISAF_SR_ENCDIS = 2

	RISAF_IASR   = 0x08
	RISAF_IACR   = 0x0c
	RISAF_IAESR0 = 0x20
	RISAF_IADDR0 = 0x24
	RISAF_IAESR1 = 0x28
	RISAF_IADDR1 = 0x2c

	RISAF_HWCFGR = 0xff0
	RISAF_VERR   = 0xff4
	RISAF_IPIDR  = 0xff8
	RISAF_SIDR   = 0xffc

	RISAF_REG_BASE    = 0x40
	RISAF_REG_SIZE    = 0x40
	RISAF_REG_CFGR    = 0x0
	RISAF_REG_STARTR  = 0x4
	RISAF_REG_ENDR    = 0x8
	RISAF_REG_CIDCFGR = 0xc

	CFGR_BREN  = 0
	CFGR_SEC   = 8
	CFGR_ENC   = 15
	CFGR_PRIVC = 16

	CIDCFGR_RDENC = 0
	CIDCFGR_WRENC = 16

	cfgrMask    = 1<<CFGR_BREN | 1<<CFGR_SEC | 1<<CFGR_ENC | 0xff<<CFGR_PRIVC
	cidcfgrMask = 0xff<<CIDCFGR_RDENC | 0xff<<CIDCFGR_WRENC

	// IACR: CAEF, IAEF0, IAEF1
	iacrAll = 0x7
)

// Version represents the RISAF IP identification.
type Version struct {
	Major  uint32
	Minor  uint32
	IPID   uint32
	SizeID uint32
}

// IllegalAccess represents a latched illegal access event.
type IllegalAccess struct {
	Status uint32
	Addr   uint64
}

// RISAF represents a RISAF instance.
type RISAF struct {
	sync.Mutex

	io  reg.IO
	ctx *rif.Context
	cfg *Config
	log *logrus.Entry

	nbRegions   uint32
	granularity uint64
	mask        uint32

	regions []Region
}

// New probes a RISAF instance and programs its region table, the table is
// validated as a whole before any register is written. Failures are
// returned as rif.ConfigurationError.
func New(ctx *rif.Context, io reg.IO, cfg *Config) (r *RISAF, err error) {
	r = &RISAF{
		io:  io,
		ctx: ctx,
		cfg: cfg,
		log: logrus.WithField("fw", cfg.Name),
	}

	hw := io.Read32(RISAF_HWCFGR)
	lsb := (hw >> 16) & 0xff
	width := (hw >> 24) & 0xff

	r.nbRegions = hw & 0xff
	r.granularity = 1 << lsb
	r.mask = reg.Mask(int(lsb+width-1), int(lsb))

	v := r.Version()
	r.log.Debugf("RISAF %#x version %d.%d, ip%#x size%#x", cfg.Base, v.Major, v.Minor, v.IPID, v.SizeID)

	if len(cfg.Regions) == 0 {
		r.log.Debugf("RISAF %#x: no configuration in DT, use default", cfg.Base)
		return
	}

	if err = r.validate(cfg.Regions); err != nil {
		return nil, rif.Configurationf("RISAF %#x: %v", cfg.Base, err)
	}

	r.regions = append(r.regions, cfg.Regions...)

	if err = r.Reconfigure(); err != nil {
		return nil, err
	}

	return
}

// Name implements firewall.Controller.
func (r *RISAF) Name() string {
	return r.cfg.Name
}

// Regions returns the region table.
func (r *RISAF) Regions() []Region {
	r.Lock()
	defer r.Unlock()

	return append([]Region(nil), r.regions...)
}

// Granularity returns the region address alignment.
func (r *RISAF) Granularity() uint64 {
	return r.granularity
}

// Version returns the RISAF IP identification.
func (r *RISAF) Version() Version {
	verr := r.io.Read32(RISAF_VERR)

	return Version{
		Major:  (verr >> 4) & 0xf,
		Minor:  verr & 0xf,
		IPID:   r.io.Read32(RISAF_IPIDR),
		SizeID: r.io.Read32(RISAF_SIDR),
	}
}

// EncryptionEnabled returns whether the hardware encryption is available.
func (r *RISAF) EncryptionEnabled() bool {
	return !reg.IsSet(r.io, RISAF_SR, RISAF_SR_ENCDIS)
}

func (r *RISAF) checkBoundaries(rg Region) error {
	if rg.Size == 0 {
		return fmt.Errorf("region %d: empty", rg.ID)
	}

	if !mem.Contains(rg.Start, rg.Size, r.cfg.MemBase, r.cfg.MemSize) {
		return fmt.Errorf("region %d: %#x/%#x outside of memory %#x/%#x", rg.ID, rg.Start, rg.Size, r.cfg.MemBase, r.cfg.MemSize)
	}

	if rg.Start%r.granularity != 0 || rg.Size%r.granularity != 0 {
		return fmt.Errorf("region %d: start/end address granularity not respected", rg.ID)
	}

	return nil
}

func (r *RISAF) validate(regions []Region) error {
	set := region.New()
	ids := make(map[uint32]bool)

	for _, rg := range regions {
		if rg.ID == 0 || rg.ID > r.nbRegions {
			return fmt.Errorf("invalid region ID %d", rg.ID)
		}

		if ids[rg.ID] {
			return fmt.Errorf("region %d: defined more than once", rg.ID)
		}

		ids[rg.ID] = true

		if err := r.checkBoundaries(rg); err != nil {
			return err
		}

		if err := set.Insert(region.Range{Start: rg.Start, Size: rg.Size, Value: rg.ID}); err != nil {
			return fmt.Errorf("region %d, %v", rg.ID, err)
		}
	}

	return nil
}

func offset(id uint32, off uint32) uint32 {
	return RISAF_REG_BASE + (id-1)*RISAF_REG_SIZE + off
}

func cfgr(c RegionConfig) (v uint32) {
	if c.Enabled {
		v |= 1 << CFGR_BREN
	}

	if c.Sec {
		v |= 1 << CFGR_SEC
	}

	if c.Enc&ENC_EN != 0 {
		v |= 1 << CFGR_ENC
	}

	return v | uint32(c.Priv)<<CFGR_PRIVC
}

func cidcfgr(c RegionConfig) uint32 {
	return uint32(c.Read)<<CIDCFGR_RDENC | uint32(c.Write)<<CIDCFGR_WRENC
}

// configure must be called with the controller lock held.
func (r *RISAF) configure(rg Region) error {
	base := r.cfg.MemBase
	end := rg.Start + rg.Size - 1

	reg.Clear(r.io, offset(rg.ID, RISAF_REG_CFGR), CFGR_BREN)

	reg.ClearSetBits(r.io, offset(rg.ID, RISAF_REG_STARTR), r.mask, uint32(rg.Start-base)&r.mask)
	reg.ClearSetBits(r.io, offset(rg.ID, RISAF_REG_ENDR), r.mask, uint32(end-base)&r.mask)
	reg.ClearSetBits(r.io, offset(rg.ID, RISAF_REG_CIDCFGR), cidcfgrMask, cidcfgr(rg.RegionConfig))
	reg.ClearSetBits(r.io, offset(rg.ID, RISAF_REG_CFGR), cfgrMask, cfgr(rg.RegionConfig))

	if rg.Enc != ENC_NONE {
		if !r.cfg.Encryption {
			r.log.Errorf("RISAF %#x: encryption feature error", r.cfg.Base)
			return rif.ErrAccessDenied
		}

		if rg.Enc&ENC_MCE != 0 {
			r.log.Errorf("RISAF %#x: unsupported encryption mode", r.cfg.Base)
			return rif.ErrNotSupported
		}

		if !rg.Sec {
			r.log.Errorf("RISAF %#x: encryption on non secure area", r.cfg.Base)
			return rif.ErrAccessDenied
		}
	}

	r.log.Debugf("RISAF %#x: region %02d - start %#08x - end %#08x - cfg %#08x - cidcfg %#08x",
		r.cfg.Base, rg.ID,
		r.io.Read32(offset(rg.ID, RISAF_REG_STARTR)),
		r.io.Read32(offset(rg.ID, RISAF_REG_ENDR)),
		r.io.Read32(offset(rg.ID, RISAF_REG_CFGR)),
		r.io.Read32(offset(rg.ID, RISAF_REG_CIDCFGR)))

	return nil
}

// Reconfigure reprograms all regions from the region table.
func (r *RISAF) Reconfigure() error {
	r.Lock()
	defer r.Unlock()

	for _, rg := range r.regions {
		if err := r.configure(rg); err != nil {
			return rif.Configurationf("RISAF %#x: region %d, %w", r.cfg.Base, rg.ID, err)
		}
	}

	return nil
}

// GlobalLock sets the RISAF global lock, region registers become read-only
// until the next reset.
func (r *RISAF) GlobalLock() {
	r.Lock()
	defer r.Unlock()

	reg.Set(r.io, RISAF_CR, RISAF_CR_GLOCK)
}

// Locked returns whether the RISAF global lock is set.
func (r *RISAF) Locked() bool {
	return reg.IsSet(r.io, RISAF_CR, RISAF_CR_GLOCK)
}

// ClearIllegalAccessFlags acknowledges all latched illegal access events.
func (r *RISAF) ClearIllegalAccessFlags() {
	if r.io.Read32(RISAF_IASR) == 0 {
		return
	}

	r.io.Write32(RISAF_IACR, iacrAll)
}

// IllegalAccesses returns the latched illegal access events, faulty
// addresses of the DDR instance are translated to physical addresses.
func (r *RISAF) IllegalAccesses() (ev []IllegalAccess) {
	if r.io.Read32(RISAF_IASR) == 0 {
		return
	}

	var base uint64

	if r.cfg.Base == mem.RISAF4Base {
		base = r.cfg.MemBase
	}

	ev = append(ev, IllegalAccess{
		Status: r.io.Read32(RISAF_IAESR0),
		Addr:   base + uint64(r.io.Read32(RISAF_IADDR0)),
	})

	// reserved without dual port
	if status := r.io.Read32(RISAF_IAESR1); status != 0 {
		ev = append(ev, IllegalAccess{
			Status: status,
			Addr:   base + uint64(r.io.Read32(RISAF_IADDR1)),
		})
	}

	return
}

// DumpErroneousData logs the latched illegal access events.
func (r *RISAF) DumpErroneousData() {
	ev := r.IllegalAccesses()

	if len(ev) == 0 {
		return
	}

	r.log.Errorf("dumping data for %s", r.cfg.Name)

	for i, e := range ev {
		r.log.Errorf("status register (IAESR%d): %#x", i, e.Status)
		r.log.Errorf("faulty address (IADDR%d): %#x", i, e.Addr)
	}
}
