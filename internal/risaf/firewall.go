// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package risaf

import (
	"github.com/usbarmory/GoTEE-stm32mp/internal/firewall"
	"github.com/usbarmory/GoTEE-stm32mp/internal/pm"
	"github.com/usbarmory/GoTEE-stm32mp/internal/reg"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rif"
)

func (r *RISAF) arg(q *firewall.Query) (c RegionConfig, err error) {
	if len(q.Args) != 1 {
		return c, rif.ErrBadParameters
	}

	c = ParseRegionConfig(q.Args[0])

	if c.ID == 0 || c.ID > r.nbRegions {
		return c, rif.ErrBadParameters
	}

	return
}

// AcquireMemoryAccess implements firewall.MemoryAcquirer.
//
// Access is denied when the region is disabled and the Secure World is not
// the TDCID, when the region is not secure or when CID filtering does not
// grant the requested read and/or write directions to the Secure World.
func (r *RISAF) AcquireMemoryAccess(q *firewall.Query, _ uint64, _ uint64, read bool, write bool) error {
	c, err := r.arg(q)

	if err != nil {
		return err
	}

	cfg := r.io.Read32(offset(c.ID, RISAF_REG_CFGR))
	cid := r.io.Read32(offset(c.ID, RISAF_REG_CIDCFGR))
	bit := uint32(1) << r.ctx.CID

	switch {
	case cfg&(1<<CFGR_BREN) == 0 && !r.ctx.TDCID:
		return rif.ErrAccessDenied
	case cfg&(1<<CFGR_SEC) == 0:
		return rif.ErrAccessDenied
	case cid != 0 && read && cid&(bit<<CIDCFGR_RDENC) == 0:
		return rif.ErrAccessDenied
	case cid != 0 && write && cid&(bit<<CIDCFGR_WRENC) == 0:
		return rif.ErrAccessDenied
	}

	return nil
}

// CheckMemoryAccess implements firewall.MemoryChecker, the query argument is
// a region cell and every CID it lists must be granted by the current
// configuration.
func (r *RISAF) CheckMemoryAccess(q *firewall.Query, _ uint64, _ uint64, _ bool, _ bool) error {
	c, err := r.arg(q)

	if err != nil {
		return err
	}

	cfg := r.io.Read32(offset(c.ID, RISAF_REG_CFGR))
	cid := r.io.Read32(offset(c.ID, RISAF_REG_CIDCFGR))

	if cfg&(1<<CFGR_BREN) == 0 && !r.ctx.TDCID {
		return rif.ErrAccessDenied
	}

	if c.Sec && cfg&(1<<CFGR_SEC) == 0 {
		return rif.ErrAccessDenied
	}

	for _, m := range []struct {
		want uint32
		have uint32
	}{
		{uint32(c.Priv), cfg >> CFGR_PRIVC},
		{uint32(c.Read), cid >> CIDCFGR_RDENC},
		{uint32(c.Write), cid >> CIDCFGR_WRENC},
	} {
		if m.want&m.have&0xff != m.want {
			return rif.ErrAccessDenied
		}
	}

	return nil
}

// SetMemoryConf implements firewall.MemoryConfigurer, only regions of the
// table can be reconfigured and the requested range must match the region
// exactly.
func (r *RISAF) SetMemoryConf(q *firewall.Query, addr uint64, size uint64) error {
	c, err := r.arg(q)

	if err != nil {
		return err
	}

	r.Lock()
	defer r.Unlock()

	for i, rg := range r.regions {
		if rg.ID != c.ID {
			continue
		}

		if rg.Start != addr || rg.Size != size {
			return rif.ErrBadParameters
		}

		if reg.IsSet(r.io, RISAF_CR, RISAF_CR_GLOCK) {
			return rif.ErrAccessDenied
		}

		r.log.Debugf("reconfiguring %s region ID: %d", r.cfg.Name, c.ID)

		rg.RegionConfig = c

		if err = r.configure(rg); err != nil {
			return err
		}

		r.regions[i] = rg

		return nil
	}

	return rif.ErrItemNotFound
}

// PM reads back the region table on suspend and reprograms it on resume, it
// is a no-op unless the power context is lost.
func (r *RISAF) PM(op pm.Op, hint pm.Hint) error {
	if !hint.Is(pm.ContextState) {
		return nil
	}

	if op == pm.Resume {
		return r.Reconfigure()
	}

	r.Lock()
	defer r.Unlock()

	for i, rg := range r.regions {
		r.regions[i] = r.readRegion(rg.ID)
	}

	return nil
}

// readRegion must be called with the controller lock held.
func (r *RISAF) readRegion(id uint32) (rg Region) {
	cfg := r.io.Read32(offset(id, RISAF_REG_CFGR))
	cid := r.io.Read32(offset(id, RISAF_REG_CIDCFGR))
	start := r.io.Read32(offset(id, RISAF_REG_STARTR))
	end := r.io.Read32(offset(id, RISAF_REG_ENDR))

	rg.ID = id
	rg.Enabled = cfg&(1<<CFGR_BREN) != 0
	rg.Sec = cfg&(1<<CFGR_SEC) != 0
	rg.Priv = uint8(cfg >> CFGR_PRIVC)
	rg.Read = uint8(cid >> CIDCFGR_RDENC)
	rg.Write = uint8(cid >> CIDCFGR_WRENC)

	if cfg&(1<<CFGR_ENC) != 0 {
		rg.Enc = ENC_EN
	}

	// ENDR holds the base of the last granule
	rg.Start = r.cfg.MemBase + uint64(start)
	rg.Size = uint64(end) - uint64(start) + r.granularity

	return
}
