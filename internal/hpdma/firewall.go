// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package hpdma

import (
	"github.com/usbarmory/GoTEE-stm32mp/internal/firewall"
	"github.com/usbarmory/GoTEE-stm32mp/internal/pm"
	"github.com/usbarmory/GoTEE-stm32mp/internal/reg"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rif"
)

func arg(q *firewall.Query) (c rif.ResourceConfig, err error) {
	if len(q.Args) != 1 {
		return c, rif.ErrBadParameters
	}

	c = rif.ParseResourceConfig(q.Args[0])

	if c.ID >= NB_CHANNELS {
		return c, rif.ErrBadParameters
	}

	return
}

// SetConf implements firewall.Configurer, a locked channel is left untouched
// when the request matches its configuration and denied otherwise.
func (h *HPDMA) SetConf(q *firewall.Query) (err error) {
	c, err := arg(q)

	if err != nil {
		return
	}

	h.Lock()
	defer h.Unlock()

	if h.Locked(c.ID) {
		cur := h.Resource(c.ID)

		if !c.Lock || cur.Sec != c.Sec || cur.Priv != c.Priv || cur.CID.Word() != c.CID.Word() {
			h.log.Errorf("channel %d configuration is locked", c.ID)
			return rif.ErrAccessDenied
		}

		return
	}

	if !h.ctx.TDCID && h.io.Read32(cidcfgr(c.ID))&confMask != c.CID.Word() {
		return rif.ErrBadParameters
	}

	if h.ctx.TDCID {
		if err = h.erratumAHBRISAB(c.ID, c.CID.Word()); err != nil {
			return
		}
	}

	h.log.Debugf("setting config for channel %v", c)

	conf := h.conf.Clone()

	if conf == nil {
		conf = rif.NewConfData(NB_CHANNELS)
	}

	if _, err = conf.Parse(q.Args[0], MaxCID, NB_CHANNELS); err != nil {
		return
	}

	h.conf = conf

	reg.SetTo(h.io, HPDMA_SECCFGR, int(c.ID), c.Sec)
	reg.SetTo(h.io, HPDMA_PRIVCFGR, int(c.ID), c.Priv)

	if !h.ctx.TDCID {
		return
	}

	reg.ClearSetBits(h.io, cidcfgr(c.ID), confMask, c.CID.Word())

	if c.Lock {
		reg.Set(h.io, HPDMA_RCFGLOCKR, int(c.ID))
	}

	return h.setSemaphore(c.ID)
}

// CheckAccess implements firewall.AccessChecker, the query argument is a
// RIF resource cell holding the requested security, privilege and CID.
func (h *HPDMA) CheckAccess(q *firewall.Query) error {
	req, err := arg(q)

	if err != nil {
		return err
	}

	cur := h.Resource(req.ID)

	if (!req.Sec && cur.Sec) || (!req.Priv && cur.Priv) {
		return rif.ErrAccessDenied
	}

	return rif.CheckAccess(cur.CID.Word(), h.io.Read32(semcr(req.ID)), MaxCID, req.CID.SCID)
}

// AcquireAccess implements firewall.Acquirer, the channel semaphore is taken
// on behalf of the Secure World when the channel is shared.
func (h *HPDMA) AcquireAccess(q *firewall.Query) error {
	req, err := arg(q)

	if err != nil {
		return err
	}

	cur := h.Resource(req.ID)

	if !cur.Sec {
		return rif.ErrAccessDenied
	}

	cfg := cur.CID.Word()

	switch {
	case !rif.Enabled(cfg):
		return nil
	case rif.SemaphoreEnabled(cfg):
		if !rif.SemEnabledAndOK(cfg, h.ctx.CID) {
			return rif.ErrAccessDenied
		}

		return rif.AcquireSemaphore(h.io, semcr(req.ID), MaxCID, h.ctx.CID)
	case rif.SCIDOK(cfg, MaxCID, h.ctx.CID):
		return nil
	}

	return rif.ErrAccessDenied
}

// ReleaseAccess implements firewall.Releaser.
func (h *HPDMA) ReleaseAccess(q *firewall.Query) error {
	req, err := arg(q)

	if err != nil {
		return err
	}

	if !rif.SemEnabledAndOK(h.Resource(req.ID).CID.Word(), h.ctx.CID) {
		return nil
	}

	if err = rif.ReleaseSemaphore(h.io, semcr(req.ID), MaxCID, h.ctx.CID); err != nil {
		return rif.Configurationf("could not release %s semaphore %d, %v", h.name, req.ID, err)
	}

	return nil
}

// PM snapshots the channel configuration on suspend and replays it on resume,
// only the TDCID restores a lost power context.
func (h *HPDMA) PM(op pm.Op, hint pm.Hint) error {
	if !hint.Is(pm.ContextState) || !h.ctx.TDCID {
		return nil
	}

	h.Lock()
	defer h.Unlock()

	if op == pm.Resume {
		if h.conf == nil {
			return nil
		}

		return h.apply(true)
	}

	conf := rif.NewConfData(NB_CHANNELS)

	for ch := uint32(0); ch < NB_CHANNELS; ch++ {
		conf.CIDConfs[ch] = h.io.Read32(cidcfgr(ch)) & confMask
	}

	conf.PrivConf[0] = h.io.Read32(HPDMA_PRIVCFGR) & channelMask
	conf.SecConf[0] = h.io.Read32(HPDMA_SECCFGR) & channelMask
	conf.LockConf[0] = h.io.Read32(HPDMA_RCFGLOCKR) & channelMask

	// restore all channels
	conf.SelectAll()

	h.conf = conf

	return nil
}
