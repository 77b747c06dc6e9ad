// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package pwr implements the RIF resource gate of the STM32MP25 Power Control
// (PWR) block.
//
// The PWR exposes 7 non-shareable resources and 6 shareable wake-up IO (WIO)
// resources, the latter support semaphore arbitration. Both sets share a
// single resource numbering, WIO resources starting at NB_NS_RESOURCES.
package pwr

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/usbarmory/GoTEE-stm32mp/internal/dt"
	"github.com/usbarmory/GoTEE-stm32mp/internal/reg"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rif"
)

// Compatible is the PWR device tree compatible.
const Compatible = "st,stm32mp25-pwr"

// PWR registers
const (
	PWR_RSECCFGR    = 0x100
	PWR_RPRIVCFGR   = 0x104
	PWR_R_CIDCFGR   = 0x108
	PWR_WIOSECCFGR  = 0x180
	PWR_WIOPRIVCFGR = 0x184
	PWR_WIO_CIDCFGR = 0x188
	PWR_WIO_SEMCR   = 0x18c

	rMask    = 0x7f
	wioMask  = 0x3f
	wioCMask = 0x1f80

	// CFEN, SCID
	rConfMask = 0x71
	// CFEN, SEMEN, SCID, SEMWL
	wConfMask = 0xff0073
)

// PWR resources
const (
	NB_RESOURCES    = 13
	NB_NS_RESOURCES = 7

	MaxCID = rif.MaxCID
)

// Config represents the RIF configuration of the PWR.
type Config struct {
	Conf *rif.ConfData
}

// ParseConfig decodes the st,protreg property of the PWR node.
func ParseConfig(n *dt.Node) (cfg *Config, err error) {
	cfg = &Config{}

	cells, ok := dt.Cells(n, "st,protreg")

	if !ok {
		return
	}

	if len(cells) > NB_RESOURCES {
		return nil, rif.Configurationf("PWR: %d resources exceed %d", len(cells), NB_RESOURCES)
	}

	cfg.Conf = rif.NewConfData(NB_RESOURCES)

	for _, cell := range cells {
		if _, err = cfg.Conf.Parse(cell, MaxCID, NB_RESOURCES); err != nil {
			return nil, err
		}
	}

	return
}

// PWR represents the PWR resource gate.
type PWR struct {
	sync.Mutex

	io   reg.IO
	ctx  *rif.Context
	conf *rif.ConfData
	log  *logrus.Entry
}

// New applies the PWR RIF configuration, failures are returned as
// rif.ConfigurationError.
func New(ctx *rif.Context, io reg.IO, cfg *Config) (p *PWR, err error) {
	p = &PWR{
		io:   io,
		ctx:  ctx,
		conf: cfg.Conf.Clone(),
		log:  logrus.WithField("fw", "PWR"),
	}

	if p.conf == nil {
		p.log.Debugf("no RIF configuration available")
		return
	}

	if err = p.apply(); err != nil {
		return nil, rif.Configurationf("failed to apply PWR RIF configuration, %w", err)
	}

	return
}

// Name implements firewall.Controller.
func (p *PWR) Name() string {
	return "PWR"
}

func wio(id uint32) bool {
	return id >= NB_NS_RESOURCES
}

func cidcfgr(id uint32) uint32 {
	if wio(id) {
		return PWR_WIO_CIDCFGR + 8*(id-NB_NS_RESOURCES)
	}

	return PWR_R_CIDCFGR + 4*id
}

func semcr(id uint32) uint32 {
	return PWR_WIO_SEMCR + 8*(id-NB_NS_RESOURCES)
}

func confMask(id uint32) uint32 {
	if wio(id) {
		return wConfMask
	}

	return rConfMask
}

func seccfgr(id uint32) (off uint32, pos int) {
	if wio(id) {
		return PWR_WIOSECCFGR, int(id - NB_NS_RESOURCES)
	}

	return PWR_RSECCFGR, int(id)
}

func privcfgr(id uint32) (off uint32, pos int) {
	if wio(id) {
		return PWR_WIOPRIVCFGR, int(id - NB_NS_RESOURCES)
	}

	return PWR_RPRIVCFGR, int(id)
}

// apply programs the staged configuration, semaphores of shared resources are
// held while their CID filtering is updated.
func (p *PWR) apply() (err error) {
	p.Lock()
	defer p.Unlock()

	ids := p.conf.Resources()

	for _, id := range ids {
		// clearing the previous configuration prevents undesired events
		// during the only legitimate configuration
		if p.ctx.TDCID {
			reg.ClearBits(p.io, cidcfgr(id), confMask(id))
		}

		// non-shareable resources never have SEMEN set
		if rif.SemModeIncorrect(p.io.Read32(cidcfgr(id))) {
			continue
		}

		if err = rif.AcquireSemaphore(p.io, semcr(id), MaxCID, p.ctx.CID); err != nil {
			p.log.Errorf("couldn't acquire semaphore for resource %d", id)
			return
		}
	}

	sec := p.conf.SecConf[0]
	priv := p.conf.PrivConf[0]

	rPriv := priv & rMask
	rSec := sec & rMask
	wioPriv := (priv & wioCMask) >> NB_NS_RESOURCES
	wioSec := (sec & wioCMask) >> NB_NS_RESOURCES

	reg.ClearSetBits(p.io, PWR_RPRIVCFGR, rMask, rPriv)
	reg.ClearSetBits(p.io, PWR_RSECCFGR, rMask, rSec)
	reg.ClearSetBits(p.io, PWR_WIOPRIVCFGR, wioMask, wioPriv)
	reg.ClearSetBits(p.io, PWR_WIOSECCFGR, wioMask, wioSec)

	for _, id := range ids {
		reg.ClearSetBits(p.io, cidcfgr(id), confMask(id), p.conf.CIDConfs[id])

		if rif.SemModeIncorrect(p.io.Read32(cidcfgr(id))) {
			continue
		}

		if err = rif.ReleaseSemaphore(p.io, semcr(id), MaxCID, p.ctx.CID); err != nil {
			p.log.Errorf("couldn't release semaphore for resource %d", id)
			return
		}
	}

	if !p.ctx.Debug {
		return
	}

	mask := p.conf.AccessMask[0]

	switch {
	case p.io.Read32(PWR_RPRIVCFGR)&mask != rPriv:
		return rif.Configurationf("pwr r resources priv conf is incorrect")
	case p.io.Read32(PWR_WIOPRIVCFGR)&(mask>>NB_NS_RESOURCES) != wioPriv:
		return rif.Configurationf("pwr wio resources priv conf is incorrect")
	case p.io.Read32(PWR_RSECCFGR)&mask != rSec:
		return rif.Configurationf("pwr r resources sec conf is incorrect")
	case p.io.Read32(PWR_WIOSECCFGR)&(mask>>NB_NS_RESOURCES) != wioSec:
		return rif.Configurationf("pwr wio resources sec conf is incorrect")
	}

	return
}

// Resource returns the current hardware configuration of a resource.
func (p *PWR) Resource(id uint32) rif.ResourceConfig {
	soff, spos := seccfgr(id)
	poff, ppos := privcfgr(id)

	return rif.ResourceConfig{
		ID:   id,
		Sec:  reg.IsSet(p.io, soff, spos),
		Priv: reg.IsSet(p.io, poff, ppos),
		CID:  rif.ParseCIDConfig(p.io.Read32(cidcfgr(id))),
	}
}

// Resources returns the current hardware configuration of all resources.
func (p *PWR) Resources() (res []rif.ResourceConfig) {
	for id := uint32(0); id < NB_RESOURCES; id++ {
		res = append(res, p.Resource(id))
	}

	return
}
