// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package pwr

import (
	"github.com/usbarmory/GoTEE-stm32mp/internal/firewall"
	"github.com/usbarmory/GoTEE-stm32mp/internal/pm"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rif"
)

func arg(q *firewall.Query) (c rif.ResourceConfig, err error) {
	if len(q.Args) != 1 {
		return c, rif.ErrBadParameters
	}

	c = rif.ParseResourceConfig(q.Args[0])

	if c.ID >= NB_RESOURCES {
		return c, rif.ErrBadParameters
	}

	return
}

func (p *PWR) semcr(id uint32) uint32 {
	if !wio(id) {
		return 0
	}

	return p.io.Read32(semcr(id))
}

// CheckAccess implements firewall.AccessChecker, the query argument is a
// RIF resource cell holding the requested security, privilege and CID.
func (p *PWR) CheckAccess(q *firewall.Query) error {
	req, err := arg(q)

	if err != nil {
		return err
	}

	cur := p.Resource(req.ID)

	if (!req.Sec && cur.Sec) || (!req.Priv && cur.Priv) {
		return rif.ErrAccessDenied
	}

	return rif.CheckAccess(cur.CID.Word(), p.semcr(req.ID), MaxCID, req.CID.SCID)
}

// AcquireAccess implements firewall.Acquirer, semaphores of shared WIO
// resources are taken on behalf of the Secure World.
func (p *PWR) AcquireAccess(q *firewall.Query) error {
	req, err := arg(q)

	if err != nil {
		return err
	}

	cfg := p.Resource(req.ID).CID.Word()

	switch {
	case !rif.Enabled(cfg):
		return nil
	case rif.SemEnabledAndOK(cfg, p.ctx.CID) && wio(req.ID):
		return rif.AcquireSemaphore(p.io, semcr(req.ID), MaxCID, p.ctx.CID)
	case rif.SCIDOK(cfg, MaxCID, p.ctx.CID):
		return nil
	}

	return rif.ErrAccessDenied
}

// ReleaseAccess implements firewall.Releaser.
func (p *PWR) ReleaseAccess(q *firewall.Query) error {
	req, err := arg(q)

	if err != nil {
		return err
	}

	if !wio(req.ID) || !rif.SemEnabledAndOK(p.Resource(req.ID).CID.Word(), p.ctx.CID) {
		return nil
	}

	if err = rif.ReleaseSemaphore(p.io, semcr(req.ID), MaxCID, p.ctx.CID); err != nil {
		return rif.Configurationf("could not release PWR semaphore %d, %v", req.ID, err)
	}

	return nil
}

// PM replays the RIF configuration when the power context is lost.
func (p *PWR) PM(op pm.Op, hint pm.Hint) error {
	if op != pm.Resume || !hint.Is(pm.ContextState) || p.conf == nil {
		return nil
	}

	return p.apply()
}
