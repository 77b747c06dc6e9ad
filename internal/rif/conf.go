// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package rif

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mohae/deepcopy"
	"github.com/usbarmory/tamago/bits"
)

// RIF resource device tree cell
const (
	RIF_PER_ID = 0
	RIF_CFEN   = 8
	RIF_SEMEN  = 9
	RIF_SEC    = 10
	RIF_PRIV   = 11
	RIF_SCID   = 12
	RIF_LOCK   = 15
	RIF_SEMWL  = 24

	// CID fields of a resource cell, once shifted they match CIDCFGR
	RIF_CID_MASK  = 0xff007300
	RIF_CID_SHIFT = 8
)

// CIDConfig represents the content of a CIDCFGR register.
type CIDConfig struct {
	// Enabled reports CID filtering (CFEN)
	Enabled bool
	// Semaphore reports semaphore mode (SEMEN)
	Semaphore bool
	// SCID is the static compartment
	SCID uint8
	// Whitelist is the semaphore compartment bitmap (SEMWL)
	Whitelist uint8
}

// ParseCIDConfig decodes a CIDCFGR register value.
func ParseCIDConfig(val uint32) CIDConfig {
	return CIDConfig{
		Enabled:   isSet(val, CIDCFGR_CFEN),
		Semaphore: isSet(val, CIDCFGR_SEMEN),
		SCID:      uint8(bits.Get(&val, CIDCFGR_SCID, 0x7)),
		Whitelist: uint8(bits.Get(&val, CIDCFGR_SEMWL, 0xff)),
	}
}

// Word encodes the CIDCFGR register value.
func (c CIDConfig) Word() (val uint32) {
	bits.SetTo(&val, CIDCFGR_CFEN, c.Enabled)
	bits.SetTo(&val, CIDCFGR_SEMEN, c.Semaphore)
	bits.SetN(&val, CIDCFGR_SCID, 0x7, uint32(c.SCID))
	bits.SetN(&val, CIDCFGR_SEMWL, 0xff, uint32(c.Whitelist))

	return
}

func (c CIDConfig) String() string {
	if !c.Enabled {
		return "open"
	}

	if !c.Semaphore {
		return fmt.Sprintf("CID%d", c.SCID)
	}

	var cids []string

	for cid := 0; cid <= MaxCID; cid++ {
		if c.Whitelist&(1<<cid) != 0 {
			cids = append(cids, fmt.Sprintf("CID%d", cid))
		}
	}

	return "sem[" + strings.Join(cids, ",") + "]"
}

// ResourceConfig represents the device tree configuration of a single RIF
// resource.
type ResourceConfig struct {
	ID   uint32
	Sec  bool
	Priv bool
	Lock bool
	CID  CIDConfig
}

// ParseResourceConfig decodes a RIF resource device tree cell.
func ParseResourceConfig(cell uint32) ResourceConfig {
	return ResourceConfig{
		ID:   bits.Get(&cell, RIF_PER_ID, 0xff),
		Sec:  isSet(cell, RIF_SEC),
		Priv: isSet(cell, RIF_PRIV),
		Lock: isSet(cell, RIF_LOCK),
		CID:  ParseCIDConfig((cell & RIF_CID_MASK) >> RIF_CID_SHIFT),
	}
}

// Cell encodes the RIF resource device tree cell.
func (r ResourceConfig) Cell() (cell uint32) {
	bits.SetN(&cell, RIF_PER_ID, 0xff, r.ID)
	bits.SetTo(&cell, RIF_SEC, r.Sec)
	bits.SetTo(&cell, RIF_PRIV, r.Priv)
	bits.SetTo(&cell, RIF_LOCK, r.Lock)

	return cell | (r.CID.Word()<<RIF_CID_SHIFT)&RIF_CID_MASK
}

func (r ResourceConfig) String() string {
	var attr []string

	if r.Sec {
		attr = append(attr, "sec")
	}

	if r.Priv {
		attr = append(attr, "priv")
	}

	if r.Lock {
		attr = append(attr, "lock")
	}

	return fmt.Sprintf("%3d %-8s %s", r.ID, r.CID, strings.Join(attr, ","))
}

// ConfData represents the staged configuration of a controller resource set,
// bitmaps are indexed by resource ID in 32-bit words.
type ConfData struct {
	AccessMask []uint32
	SecConf    []uint32
	PrivConf   []uint32
	LockConf   []uint32
	// CIDConfs holds the CIDCFGR value of each resource
	CIDConfs []uint32
}

// NewConfData returns an empty staging area for nbResource resources.
func NewConfData(nbResource uint) *ConfData {
	n := (nbResource + 31) / 32

	return &ConfData{
		AccessMask: make([]uint32, n),
		SecConf:    make([]uint32, n),
		PrivConf:   make([]uint32, n),
		LockConf:   make([]uint32, n),
		CIDConfs:   make([]uint32, nbResource),
	}
}

// Parse stages one RIF resource cell, an out of range resource or CID
// capability is a configuration error.
func (c *ConfData) Parse(cell uint32, nbCID uint, nbResource uint) (id uint32, err error) {
	if nbCID > MaxCID {
		return 0, Configurationf("unsupported number of CIDs (%d)", nbCID)
	}

	r := ParseResourceConfig(cell)
	id = r.ID

	if id >= uint32(nbResource) || int(id) >= len(c.CIDConfs) {
		return 0, Configurationf("resource %d out of range (%d)", id, nbResource)
	}

	i := id / 32
	shift := int(id % 32)

	bits.SetTo(&c.SecConf[i], shift, r.Sec)
	bits.SetTo(&c.PrivConf[i], shift, r.Priv)
	bits.SetTo(&c.LockConf[i], shift, r.Lock)
	bits.Set(&c.AccessMask[i], shift)

	c.CIDConfs[id] = r.CID.Word()

	return
}

// Staged returns whether a resource is part of the staged configuration.
func (c *ConfData) Staged(id uint32) bool {
	if int(id/32) >= len(c.AccessMask) {
		return false
	}

	return isSet(c.AccessMask[id/32], int(id%32))
}

// Resources returns the staged resource IDs in ascending order.
func (c *ConfData) Resources() (ids []uint32) {
	for id := range c.CIDConfs {
		if c.Staged(uint32(id)) {
			ids = append(ids, uint32(id))
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return
}

// Get returns the staged configuration of a resource.
func (c *ConfData) Get(id uint32) ResourceConfig {
	i := id / 32
	shift := int(id % 32)

	return ResourceConfig{
		ID:   id,
		Sec:  isSet(c.SecConf[i], shift),
		Priv: isSet(c.PrivConf[i], shift),
		Lock: isSet(c.LockConf[i], shift),
		CID:  ParseCIDConfig(c.CIDConfs[id]),
	}
}

// SelectAll marks every resource as staged.
func (c *ConfData) SelectAll() {
	for id := range c.CIDConfs {
		bits.Set(&c.AccessMask[id/32], id%32)
	}
}

// Clone returns a deep copy of the staged configuration.
func (c *ConfData) Clone() *ConfData {
	if c == nil {
		return nil
	}

	return deepcopy.Copy(c).(*ConfData)
}
