// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package rifsc implements a driver for the STM32MP2 Resource Isolation
// Framework Security Controller (RIFSC).
//
// The RIFSC filters accesses to peripherals (RISUP), assigns CIDs to bus
// masters (RIMU) and filters accesses to sub-regions of some memories
// (RISAL). It also holds the Trusted Domain CID (TDCID), the only compartment
// allowed to program CID filtering.
package rifsc

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/usbarmory/tamago/bits"

	"github.com/usbarmory/GoTEE-stm32mp/internal/reg"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rif"
)

// RIFSC registers
const (
	RISC_CR       = 0x000
	RISC_CR_GLOCK = 0

	RISC_SECCFGR0     = 0x010
	RISC_PRIVCFGR0    = 0x030
	RISC_RCFGLOCKR0   = 0x050
	RISC_PER0_CIDCFGR = 0x100
	RISC_PER0_SEMCR   = 0x104
	RISC_PERx_STRIDE  = 0x8

	RISAL_CFGR0_A = 0x900
	RISAL_CFGR0_B = 0x908
	RISAL_STRIDE  = 0x10

	RIMC_CR       = 0xc00
	RIMC_CR_GLOCK = 0
	RIMC_CR_TDCID = 4

	RIMC_ATTR0       = 0xc10
	RIMC_ATTR_CIDSEL = 2
	RIMC_ATTR_MCID   = 4
	RIMC_ATTR_MSEC   = 8
	RIMC_ATTR_MPRIV  = 9

	RIFSC_HWCFGR3 = 0xfe8
	RIFSC_HWCFGR2 = 0xfec
	RIFSC_HWCFGR1 = 0xff0
	RIFSC_VERR    = 0xff4

	idsPerReg = 32
)

// MaxCID is the number of CIDs supported by RIFSC resources.
const MaxCID = rif.MaxCID

// Capabilities represents the RIFSC hardware configuration.
type Capabilities struct {
	Major   uint32
	Minor   uint32
	NbRISUP uint32
	NbRIMU  uint32
	NbRISAL uint32
	RIFEn   bool
	SecEn   bool
	PrivEn  bool
}

type risup struct {
	rif.ResourceConfig

	// semaphore held by the Secure World before suspend
	pmSem bool
}

// RIFSC represents a RIFSC instance.
type RIFSC struct {
	sync.Mutex

	io   reg.IO
	ctx  *rif.Context
	cfg  *Config
	caps Capabilities
	log  *logrus.Entry

	risup []*risup
}

// IsTDCID returns whether cid is the Trusted Domain CID latched in RIMC_CR.
func IsTDCID(io reg.IO, cid uint8) bool {
	return reg.Get(io, RIMC_CR, RIMC_CR_TDCID, 0x7) == uint32(cid)
}

// New probes a RIFSC instance and applies its device tree configuration,
// failures are returned as rif.ConfigurationError.
func New(ctx *rif.Context, io reg.IO, cfg *Config) (r *RIFSC, err error) {
	r = &RIFSC{
		io:  io,
		ctx: ctx,
		cfg: cfg,
		log: logrus.WithField("fw", "RIFSC"),
	}

	r.readCapabilities()

	for i, c := range cfg.RISUP {
		if uint32(i) >= r.caps.NbRISUP {
			break
		}

		if err = r.setRISUP(c); err != nil {
			return nil, rif.Configurationf("risup cfg(%d/%d) error, %v", i+1, len(cfg.RISUP), err)
		}
	}

	if ctx.TDCID {
		for i, m := range cfg.RIMU {
			if uint32(i) >= r.caps.NbRIMU {
				break
			}

			if err = r.setRIMU(m); err != nil {
				return nil, rif.Configurationf("rimu cfg(%d/%d) error, %v", i+1, len(cfg.RIMU), err)
			}
		}

		for i, s := range cfg.RISAL {
			if err = r.setRISAL(s); err != nil {
				return nil, rif.Configurationf("risal cfg(%d/%d) error, %v", i+1, len(cfg.RISAL), err)
			}
		}
	}

	if err = r.globalLock(cfg.GLock); err != nil {
		return nil, rif.Configurationf("global lock error, %v", err)
	}

	return
}

// Name implements firewall.Controller.
func (r *RIFSC) Name() string {
	return "RIFSC"
}

// Capabilities returns the RIFSC hardware configuration.
func (r *RIFSC) Capabilities() Capabilities {
	return r.caps
}

func (r *RIFSC) readCapabilities() {
	hw1 := r.io.Read32(RIFSC_HWCFGR1)
	hw2 := r.io.Read32(RIFSC_HWCFGR2)
	verr := r.io.Read32(RIFSC_VERR)

	r.caps = Capabilities{
		RIFEn:   hw1&0xf != 0,
		SecEn:   (hw1>>4)&0xf != 0,
		PrivEn:  (hw1>>8)&0xf != 0,
		NbRISUP: hw2 & 0xffff,
		NbRIMU:  (hw2 >> 16) & 0xff,
		NbRISAL: (hw2 >> 24) & 0xff,
		Major:   (verr >> 4) & 0xf,
		Minor:   verr & 0xf,
	}

	r.log.Debugf("RIFSC version %d.%d", r.caps.Major, r.caps.Minor)
	r.log.Debugf("HW cap: enabled[rif:sec:priv]:[%v:%v:%v] nb[risup|rimu|risal]:[%d,%d,%d]",
		r.caps.RIFEn, r.caps.SecEn, r.caps.PrivEn,
		r.caps.NbRISUP, r.caps.NbRIMU, r.caps.NbRISAL)
}

func cidcfgr(id uint32) uint32 {
	return RISC_PER0_CIDCFGR + RISC_PERx_STRIDE*id
}

func semcr(id uint32) uint32 {
	return RISC_PER0_SEMCR + RISC_PERx_STRIDE*id
}

func word(id uint32) (off uint32, pos int) {
	return 4 * (id / idsPerReg), int(id % idsPerReg)
}

func (r *RIFSC) entry(id uint32) *risup {
	for _, e := range r.risup {
		if e.ID == id {
			return e
		}
	}

	e := &risup{}
	e.ID = id
	r.risup = append(r.risup, e)

	return e
}

// Locked returns whether the configuration of a peripheral is locked.
func (r *RIFSC) Locked(id uint32) bool {
	off, pos := word(id)
	return reg.IsSet(r.io, RISC_RCFGLOCKR0+off, pos)
}

// Resource returns the current hardware configuration of a peripheral.
func (r *RIFSC) Resource(id uint32) rif.ResourceConfig {
	off, pos := word(id)

	return rif.ResourceConfig{
		ID:   id,
		Sec:  reg.IsSet(r.io, RISC_SECCFGR0+off, pos),
		Priv: reg.IsSet(r.io, RISC_PRIVCFGR0+off, pos),
		Lock: reg.IsSet(r.io, RISC_RCFGLOCKR0+off, pos),
		CID:  rif.ParseCIDConfig(r.io.Read32(cidcfgr(id))),
	}
}

// Resources returns the current hardware configuration of all peripherals.
func (r *RIFSC) Resources() (res []rif.ResourceConfig) {
	for id := uint32(0); id < r.caps.NbRISUP; id++ {
		res = append(res, r.Resource(id))
	}

	return
}

// Semaphore returns the holder of a peripheral semaphore.
func (r *RIFSC) Semaphore(id uint32) (cid uint8, taken bool) {
	return rif.SemaphoreOwner(r.io.Read32(semcr(id)), MaxCID)
}

// matches returns whether a locked peripheral already holds the requested
// configuration, only fields backed by hardware are compared.
func (r *RIFSC) matches(c rif.ResourceConfig) bool {
	cur := r.Resource(c.ID)

	if r.caps.SecEn && cur.Sec != c.Sec {
		return false
	}

	if r.caps.PrivEn && cur.Priv != c.Priv {
		return false
	}

	if r.caps.RIFEn && cur.CID.Word() != c.CID.Word() {
		return false
	}

	return c.Lock
}

// setRISUP programs a peripheral, a locked peripheral is left untouched when
// the request matches its configuration and denied otherwise.
func (r *RIFSC) setRISUP(c rif.ResourceConfig) (err error) {
	if c.ID >= r.caps.NbRISUP {
		return rif.ErrBadParameters
	}

	r.Lock()
	defer r.Unlock()

	if r.Locked(c.ID) {
		if !r.matches(c) {
			r.log.Errorf("peripheral %d configuration is locked", c.ID)
			return rif.ErrAccessDenied
		}

		e := r.entry(c.ID)
		e.ResourceConfig = c

		return
	}

	return r.configure(c)
}

// configure must be called with the controller lock held.
func (r *RIFSC) configure(c rif.ResourceConfig) (err error) {
	off, pos := word(c.ID)
	cid := c.CID.Word()

	if r.caps.SecEn {
		reg.SetTo(r.io, RISC_SECCFGR0+off, pos, c.Sec)
	}

	if r.caps.PrivEn {
		reg.SetTo(r.io, RISC_PRIVCFGR0+off, pos, c.Priv)
	}

	if r.ctx.TDCID {
		if r.caps.RIFEn {
			r.io.Write32(cidcfgr(c.ID), cid)
		}

		if c.Lock {
			r.log.Debugf("locking RIF conf for peripheral %d", c.ID)
			reg.Set(r.io, RISC_RCFGLOCKR0+off, pos)
		}
	}

	e := r.entry(c.ID)
	e.ResourceConfig = c

	// take the semaphore if the resource is secure and in semaphore mode
	if rif.SemModeIncorrect(cid) || !reg.IsSet(r.io, RISC_SECCFGR0+off, pos) {
		if err = rif.ReleaseSemaphore(r.io, semcr(c.ID), MaxCID, r.ctx.CID); err != nil {
			r.log.Errorf("couldn't release semaphore for resource %d", c.ID)
		}
	} else {
		if err = rif.AcquireSemaphore(r.io, semcr(c.ID), MaxCID, r.ctx.CID); err != nil {
			r.log.Errorf("couldn't acquire semaphore for resource %d", c.ID)
		}
	}

	return
}

func (r *RIFSC) setRIMU(m RIMU) error {
	if m.ID >= r.caps.NbRIMU {
		return rif.ErrBadParameters
	}

	if err := r.erratumAHBRISAB(m); err != nil {
		return err
	}

	if r.caps.RIFEn {
		r.io.Write32(RIMC_ATTR0+4*m.ID, m.Attr)
	}

	return nil
}

func (r *RIFSC) setRISAL(s RISAL) error {
	if s.ID == 0 || s.ID > r.caps.NbRISAL {
		return rif.ErrBadParameters
	}

	if !r.caps.RIFEn {
		return nil
	}

	switch s.Block {
	case RISAL_BLOCK_A:
		r.io.Write32(RISAL_CFGR0_A+RISAL_STRIDE*(s.ID-1), s.Attr)
	case RISAL_BLOCK_B:
		r.io.Write32(RISAL_CFGR0_B+RISAL_STRIDE*(s.ID-1), s.Attr)
	}

	return nil
}

func (r *RIFSC) globalLock(flags uint32) error {
	if flags == 0 {
		r.log.Debugf("no global lock on RIF configuration")
		return nil
	}

	if flags&RIMU_GLOCK != 0 {
		r.log.Debugf("setting global lock on RIMU configuration")
		reg.Set(r.io, RIMC_CR, RIMC_CR_GLOCK)

		if !reg.IsSet(r.io, RIMC_CR, RIMC_CR_GLOCK) {
			return rif.ErrAccessDenied
		}
	}

	if flags&RISUP_GLOCK != 0 {
		r.log.Debugf("setting global lock on RISUP configuration")
		reg.Set(r.io, RISC_CR, RISC_CR_GLOCK)

		if !reg.IsSet(r.io, RISC_CR, RISC_CR_GLOCK) {
			return rif.ErrAccessDenied
		}
	}

	return nil
}

// ReconfigureRISUP assigns a peripheral to a static CID, a locked peripheral
// cannot be reconfigured.
func (r *RIFSC) ReconfigureRISUP(id uint32, cid uint8, sec bool, priv bool, cfen bool) error {
	if id >= r.caps.NbRISUP || cid > MaxCID {
		return rif.ErrBadParameters
	}

	r.Lock()
	defer r.Unlock()

	if r.Locked(id) {
		r.log.Debugf("peripheral %d configuration is locked", id)
		return rif.ErrAccessDenied
	}

	c := rif.ResourceConfig{
		ID:   id,
		Sec:  sec,
		Priv: priv,
		CID: rif.CIDConfig{
			Enabled: cfen,
			SCID:    cid,
		},
	}

	if err := r.configure(c); err != nil {
		r.log.Errorf("RISUP %d reconfiguration error", id)
		return err
	}

	return nil
}

// ReconfigureRIMU assigns a bus master to a CID, or to the CID of its paired
// peripheral when cidsel is false. Masters cannot be reconfigured once the
// RIMU global lock is set.
func (r *RIFSC) ReconfigureRIMU(id uint32, cid uint8, cidsel bool, sec bool, priv bool) error {
	if id >= r.caps.NbRIMU || cid > MaxCID {
		return rif.ErrBadParameters
	}

	if !r.ctx.TDCID || reg.IsSet(r.io, RIMC_CR, RIMC_CR_GLOCK) {
		return rif.ErrAccessDenied
	}

	m := RIMU{ID: id}

	bits.SetTo(&m.Attr, RIMC_ATTR_CIDSEL, cidsel)
	bits.SetN(&m.Attr, RIMC_ATTR_MCID, 0x7, uint32(cid))
	bits.SetTo(&m.Attr, RIMC_ATTR_MSEC, sec)
	bits.SetTo(&m.Attr, RIMC_ATTR_MPRIV, priv)

	r.Lock()
	defer r.Unlock()

	if err := r.setRIMU(m); err != nil {
		r.log.Errorf("RIMU %d reconfiguration error", id)
		return err
	}

	return nil
}

// CIDEnabled returns whether CID filtering is enabled on a peripheral.
func (r *RIFSC) CIDEnabled(id uint32) bool {
	return rif.Enabled(r.io.Read32(cidcfgr(id)))
}

// EnableCID enables CID filtering on a peripheral.
func (r *RIFSC) EnableCID(id uint32) {
	r.Lock()
	defer r.Unlock()

	reg.Set(r.io, cidcfgr(id), rif.CIDCFGR_CFEN)
}

// DisableCID disables CID filtering on a peripheral.
func (r *RIFSC) DisableCID(id uint32) {
	r.Lock()
	defer r.Unlock()

	reg.Clear(r.io, cidcfgr(id), rif.CIDCFGR_CFEN)
}
