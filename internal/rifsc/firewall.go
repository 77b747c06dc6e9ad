// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package rifsc

import (
	"github.com/usbarmory/tamago/bits"

	"github.com/usbarmory/GoTEE-stm32mp/internal/firewall"
	"github.com/usbarmory/GoTEE-stm32mp/internal/pm"
	"github.com/usbarmory/GoTEE-stm32mp/internal/reg"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rif"
)

// STM32MP25 peripherals paired with a bus master interface
const (
	ETH1_ID   = 60
	ETH2_ID   = 61
	USBH_ID   = 63
	USB3DR_ID = 66
	PCIE_ID   = 68
	SDMMC1_ID = 76
	SDMMC2_ID = 77
	SDMMC3_ID = 78
	GPU_ID    = 79
	DCMIPP_ID = 87
	VDEC_ID   = 89
	VENC_ID   = 90
)

// rimuRISUP maps each RIMU to the peripheral whose CID it inherits, zero for
// masters without inheritance support.
var rimuRISUP = map[uint32]uint32{
	0:  0,
	1:  SDMMC1_ID,
	2:  SDMMC2_ID,
	3:  SDMMC3_ID,
	4:  USB3DR_ID,
	5:  USBH_ID,
	6:  ETH1_ID,
	7:  ETH2_ID,
	8:  PCIE_ID,
	9:  GPU_ID,
	10: DCMIPP_ID,
	11: 0,
	12: 0,
	13: 0,
	14: VDEC_ID,
	15: VENC_ID,
}

// erratumAHBRISAB rejects bus masters which might issue CID0 transactions,
// spurious CID0 transactions are not filtered by RISAB 3/4/5.
func (r *RIFSC) erratumAHBRISAB(m RIMU) error {
	if !r.cfg.ErrataAHBRISAB {
		return nil
	}

	if bits.Get(&m.Attr, RIMC_ATTR_CIDSEL, 1) == 1 {
		if bits.Get(&m.Attr, RIMC_ATTR_MCID, 0x7) == rif.CID0 {
			return r.erratum("a CID should be set for RIMU %d", m.ID)
		}

		return nil
	}

	id := rimuRISUP[m.ID]

	if id == 0 {
		return r.erratum("RIMU%d cannot be set in inheritance mode", m.ID)
	}

	found := false

	for _, c := range r.cfg.RISUP {
		if c.ID == id {
			found = true
			break
		}
	}

	if !found {
		return rif.Configurationf("RIMU%d inherits from unconfigured peripheral %d", m.ID, id)
	}

	cfg := r.io.Read32(cidcfgr(id))

	if !rif.Enabled(cfg) ||
		(!rif.SemaphoreEnabled(cfg) && rif.ParseCIDConfig(cfg).SCID == rif.CID0) ||
		(rif.SemaphoreEnabled(cfg) && rif.Whitelisted(cfg, rif.CID0)) {
		return r.erratum("RIMU%d in inheritance mode with CID0", m.ID)
	}

	return nil
}

func (r *RIFSC) erratum(format string, a ...interface{}) error {
	r.log.Errorf(format, a...)

	if r.ctx.Insecure {
		return nil
	}

	return rif.Configurationf(format, a...)
}

// SetConf implements firewall.Configurer, the query argument is a RIF
// resource cell or, for IDs starting from RIMU_ID_OFFSET, a RIMU cell.
func (r *RIFSC) SetConf(q *firewall.Query) error {
	if len(q.Args) != 1 {
		return rif.ErrBadParameters
	}

	conf := q.Args[0]
	c := rif.ParseResourceConfig(conf)

	if c.ID < RIMU_ID_OFFSET {
		if !r.ctx.TDCID && !r.Locked(c.ID) && c.ID < r.caps.NbRISUP &&
			r.io.Read32(cidcfgr(c.ID)) != c.CID.Word() {
			return rif.ErrBadParameters
		}

		r.log.Debugf("setting config for peripheral %v", c)

		return r.setRISUP(c)
	}

	if !r.ctx.TDCID {
		return rif.ErrAccessDenied
	}

	m, err := ParseRIMU(conf)

	if err != nil {
		return err
	}

	return r.setRIMU(m)
}

func (r *RIFSC) arg(q *firewall.Query) (id uint32, rimu bool, err error) {
	if len(q.Args) != 1 {
		return 0, false, rif.ErrBadParameters
	}

	id = q.Args[0] & 0xff

	if id >= RIMU_ID_OFFSET {
		return id, true, nil
	}

	if id >= r.caps.NbRISUP {
		return 0, false, rif.ErrBadParameters
	}

	return
}

// CheckAccess implements firewall.AccessChecker, the query argument is a
// RIF resource cell holding the requested security, privilege and CID.
func (r *RIFSC) CheckAccess(q *firewall.Query) error {
	id, rimu, err := r.arg(q)

	if err != nil || rimu {
		return err
	}

	req := rif.ParseResourceConfig(q.Args[0])
	cur := r.Resource(id)

	if !req.Sec && cur.Sec {
		return rif.ErrAccessDenied
	}

	if !req.Priv && cur.Priv {
		return rif.ErrAccessDenied
	}

	return rif.CheckAccess(r.io.Read32(cidcfgr(id)), r.io.Read32(semcr(id)), MaxCID, req.CID.SCID)
}

// AcquireAccess implements firewall.Acquirer, the query argument holds the
// peripheral ID.
func (r *RIFSC) AcquireAccess(q *firewall.Query) error {
	id, rimu, err := r.arg(q)

	if err != nil || rimu {
		return err
	}

	off, pos := word(id)

	if !reg.IsSet(r.io, RISC_SECCFGR0+off, pos) {
		return rif.ErrAccessDenied
	}

	cfg := r.io.Read32(cidcfgr(id))

	if !rif.Enabled(cfg) {
		return nil
	}

	if rif.SemaphoreEnabled(cfg) {
		if !rif.SemEnabledAndOK(cfg, r.ctx.CID) {
			return rif.ErrAccessDenied
		}

		return rif.AcquireSemaphore(r.io, semcr(id), MaxCID, r.ctx.CID)
	}

	if !rif.SCIDOK(cfg, MaxCID, r.ctx.CID) {
		return rif.ErrAccessDenied
	}

	return nil
}

// ReleaseAccess implements firewall.Releaser, only semaphores taken by the
// Secure World are released. A semaphore which cannot be released is
// returned as rif.ConfigurationError.
func (r *RIFSC) ReleaseAccess(q *firewall.Query) error {
	id, rimu, err := r.arg(q)

	if err != nil || rimu {
		return err
	}

	if !rif.SemEnabledAndOK(r.io.Read32(cidcfgr(id)), r.ctx.CID) {
		return nil
	}

	if err = rif.ReleaseSemaphore(r.io, semcr(id), MaxCID, r.ctx.CID); err != nil {
		return rif.Configurationf("could not release the RIF semaphore %d, %v", id, err)
	}

	return nil
}

// PM saves and restores peripheral semaphores held by the Secure World, it
// is a no-op unless the power context is lost.
func (r *RIFSC) PM(op pm.Op, hint pm.Hint) error {
	if !hint.Is(pm.ContextState) {
		return nil
	}

	r.Lock()
	defer r.Unlock()

	if op == pm.Suspend {
		r.suspend()
		return nil
	}

	return r.resume()
}

func (r *RIFSC) suspend() {
	for _, e := range r.risup {
		if e.ID >= r.caps.NbRISUP {
			continue
		}

		owner, taken := rif.SemaphoreOwner(r.io.Read32(semcr(e.ID)), MaxCID)
		e.pmSem = taken && owner == r.ctx.CID

		e.ResourceConfig = r.Resource(e.ID)

		r.log.Tracef("RIF semaphore %d saved: %v", e.ID, e.pmSem)
	}
}

func (r *RIFSC) resume() error {
	for _, e := range r.risup {
		if e.ID >= r.caps.NbRISUP {
			continue
		}

		if r.ctx.TDCID && !r.Locked(e.ID) {
			off, pos := word(e.ID)

			if r.caps.SecEn {
				reg.SetTo(r.io, RISC_SECCFGR0+off, pos, e.Sec)
			}

			if r.caps.PrivEn {
				reg.SetTo(r.io, RISC_PRIVCFGR0+off, pos, e.Priv)
			}

			if r.caps.RIFEn {
				r.io.Write32(cidcfgr(e.ID), e.CID.Word())
			}

			if e.Lock {
				reg.Set(r.io, RISC_RCFGLOCKR0+off, pos)
			}
		}

		if rif.SemModeIncorrect(e.CID.Word()) || !e.pmSem {
			continue
		}

		if err := rif.AcquireSemaphore(r.io, semcr(e.ID), MaxCID, r.ctx.CID); err != nil {
			r.log.Errorf("could not acquire semaphore for resource %d", e.ID)
			return err
		}
	}

	return nil
}
