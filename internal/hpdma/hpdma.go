// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package hpdma implements the RIF channel gate of the STM32MP25 High
// Performance DMA controllers (HPDMA1-3).
//
// Each HPDMA instance exposes 16 channels, every channel can be assigned to a
// single compartment or shared through its semaphore. Channel CIDs are
// encoded on 2 bits.
package hpdma

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/usbarmory/GoTEE-stm32mp/internal/dt"
	"github.com/usbarmory/GoTEE-stm32mp/internal/reg"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rif"
)

// Compatible is the HPDMA device tree compatible.
const Compatible = "st,stm32-dma3"

// HPDMA registers
const (
	HPDMA_SECCFGR    = 0x000
	HPDMA_PRIVCFGR   = 0x004
	HPDMA_RCFGLOCKR  = 0x008
	HPDMA_C0_CIDCFGR = 0x054
	HPDMA_C0_SEMCR   = 0x058
	HPDMA_Cx_STRIDE  = 0x080

	channelMask = 0xffff
	// CFEN, SEMEN, SCID[5:4], SEMWL
	confMask = 0xff0033
)

// HPDMA channels
const (
	NB_CHANNELS = 16

	// MaxCID is the number of CIDs supported by channel SCID/SEMCID fields.
	MaxCID = rif.CID3
)

// Config represents the device tree configuration of an HPDMA instance.
type Config struct {
	Name string
	Conf *rif.ConfData
	// ErrataAHBRISAB forbids CID0 on channels of RISAB protected RAMs
	ErrataAHBRISAB bool
}

// ParseConfig decodes the HPDMA device tree node.
func ParseConfig(n *dt.Node) (cfg *Config, err error) {
	cfg = &Config{
		Name:           "HPDMA",
		ErrataAHBRISAB: dt.Has(n, "st,errata-ahbrisab"),
	}

	if n.Name != "" {
		cfg.Name = n.Name
	}

	cells, ok := dt.Cells(n, "st,protreg")

	if !ok {
		return
	}

	if len(cells) > NB_CHANNELS {
		return nil, rif.Configurationf("%s: %d channels exceed %d", cfg.Name, len(cells), NB_CHANNELS)
	}

	cfg.Conf = rif.NewConfData(NB_CHANNELS)

	for _, cell := range cells {
		if _, err = cfg.Conf.Parse(cell, MaxCID, NB_CHANNELS); err != nil {
			return nil, err
		}
	}

	return
}

// HPDMA represents an HPDMA instance.
type HPDMA struct {
	sync.Mutex

	io     reg.IO
	ctx    *rif.Context
	name   string
	errata bool
	conf   *rif.ConfData
	log    *logrus.Entry
}

// New applies the HPDMA RIF configuration, failures are returned as
// rif.ConfigurationError.
func New(ctx *rif.Context, io reg.IO, cfg *Config) (h *HPDMA, err error) {
	h = &HPDMA{
		io:     io,
		ctx:    ctx,
		name:   cfg.Name,
		errata: cfg.ErrataAHBRISAB,
		conf:   cfg.Conf.Clone(),
		log:    logrus.WithField("fw", cfg.Name),
	}

	if h.conf == nil {
		h.log.Debugf("no RIF configuration available")
		return
	}

	h.Lock()
	defer h.Unlock()

	if err = h.apply(ctx.TDCID); err != nil {
		return nil, rif.Configurationf("failed to apply %s RIF configuration, %w", h.name, err)
	}

	return
}

// Name implements firewall.Controller.
func (h *HPDMA) Name() string {
	return h.name
}

func cidcfgr(ch uint32) uint32 {
	return HPDMA_C0_CIDCFGR + HPDMA_Cx_STRIDE*ch
}

func semcr(ch uint32) uint32 {
	return HPDMA_C0_SEMCR + HPDMA_Cx_STRIDE*ch
}

// erratumAHBRISAB rejects channel configurations which might issue CID0
// transactions, spurious CID0 transactions are not filtered by RISAB 3/4/5.
func (h *HPDMA) erratumAHBRISAB(ch uint32, cid uint32) error {
	if !h.errata {
		return nil
	}

	if rif.Enabled(cid) &&
		(rif.SemaphoreEnabled(cid) || rif.ParseCIDConfig(cid).SCID != rif.CID0) &&
		(!rif.SemaphoreEnabled(cid) || !rif.Whitelisted(cid, rif.CID0)) {
		return nil
	}

	h.log.Errorf("channel %d cannot hold CID0 value", ch)

	if h.ctx.Insecure {
		return nil
	}

	return rif.Configurationf("%s channel %d cannot hold CID0 value", h.name, ch)
}

// setSemaphore takes the channel semaphore when the channel is secure and in
// semaphore mode, and releases it otherwise.
func (h *HPDMA) setSemaphore(ch uint32) (err error) {
	if rif.SemModeIncorrect(h.io.Read32(cidcfgr(ch))) || !reg.IsSet(h.io, HPDMA_SECCFGR, int(ch)) {
		if err = rif.ReleaseSemaphore(h.io, semcr(ch), MaxCID, h.ctx.CID); err != nil {
			h.log.Errorf("couldn't release semaphore for channel %d", ch)
		}

		return
	}

	if err = rif.AcquireSemaphore(h.io, semcr(ch), MaxCID, h.ctx.CID); err != nil {
		h.log.Errorf("couldn't acquire semaphore for channel %d", ch)
	}

	return
}

// apply programs the staged configuration, it must be called with the
// controller lock held.
func (h *HPDMA) apply(tdcid bool) (err error) {
	ids := h.conf.Resources()

	for _, ch := range ids {
		// clearing the previous configuration prevents undesired events
		// during the only legitimate configuration
		if tdcid {
			reg.ClearBits(h.io, cidcfgr(ch), confMask)
		}

		if rif.SemModeIncorrect(h.io.Read32(cidcfgr(ch))) {
			continue
		}

		if err = rif.AcquireSemaphore(h.io, semcr(ch), MaxCID, h.ctx.CID); err != nil {
			h.log.Errorf("couldn't acquire semaphore for channel %d", ch)
			return
		}
	}

	mask := h.conf.AccessMask[0] & channelMask
	priv := h.conf.PrivConf[0]
	sec := h.conf.SecConf[0]

	reg.ClearSetBits(h.io, HPDMA_PRIVCFGR, mask, priv)
	reg.ClearSetBits(h.io, HPDMA_SECCFGR, mask, sec)

	if tdcid {
		for _, ch := range ids {
			cid := h.conf.CIDConfs[ch]

			if err = h.erratumAHBRISAB(ch, cid); err != nil {
				return
			}

			reg.ClearSetBits(h.io, cidcfgr(ch), confMask, cid)

			if err = h.setSemaphore(ch); err != nil {
				return rif.ErrAccessDenied
			}
		}

		// cannot be undone until next reset
		reg.ClearSetBits(h.io, HPDMA_RCFGLOCKR, channelMask, h.conf.LockConf[0])
	}

	if !h.ctx.Debug {
		return
	}

	switch {
	case h.io.Read32(HPDMA_PRIVCFGR)&mask != priv&mask:
		return rif.Configurationf("%s channel priv conf is incorrect", h.name)
	case h.io.Read32(HPDMA_SECCFGR)&mask != sec&mask:
		return rif.Configurationf("%s channel sec conf is incorrect", h.name)
	}

	return
}

// Locked returns whether the configuration of a channel is locked.
func (h *HPDMA) Locked(ch uint32) bool {
	return reg.IsSet(h.io, HPDMA_RCFGLOCKR, int(ch))
}

// Resource returns the current hardware configuration of a channel.
func (h *HPDMA) Resource(ch uint32) rif.ResourceConfig {
	return rif.ResourceConfig{
		ID:   ch,
		Sec:  reg.IsSet(h.io, HPDMA_SECCFGR, int(ch)),
		Priv: reg.IsSet(h.io, HPDMA_PRIVCFGR, int(ch)),
		Lock: h.Locked(ch),
		CID:  rif.ParseCIDConfig(h.io.Read32(cidcfgr(ch)) & confMask),
	}
}

// Resources returns the current hardware configuration of all channels.
func (h *HPDMA) Resources() (res []rif.ResourceConfig) {
	for ch := uint32(0); ch < NB_CHANNELS; ch++ {
		res = append(res, h.Resource(ch))
	}

	return
}

// Semaphore returns the holder of a channel semaphore.
func (h *HPDMA) Semaphore(ch uint32) (cid uint8, taken bool) {
	return rif.SemaphoreOwner(h.io.Read32(semcr(ch)), MaxCID)
}

func (h *HPDMA) String() string {
	return fmt.Sprintf("%s (%d channels)", h.name, NB_CHANNELS)
}
