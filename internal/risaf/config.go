// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package risaf

import (
	"fmt"

	"github.com/usbarmory/tamago/bits"

	"github.com/usbarmory/GoTEE-stm32mp/internal/dt"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rif"
	"github.com/usbarmory/GoTEE-stm32mp/mem"
)

// Device tree bindings
const (
	Compatible    = "st,stm32mp25-risaf"
	CompatibleEnc = "st,stm32mp25-risaf-enc"

	// st,protreg cell
	RISAF_REG_ID = 0
	RISAF_EN     = 4
	RISAF_SEC    = 5
	RISAF_ENC    = 6
	RISAF_PRIV   = 8
	RISAF_READ   = 16
	RISAF_WRITE  = 24
)

// Encryption modes
const (
	ENC_NONE = 0
	// memory cipher engine mode, not available on STM32MP25
	ENC_MCE = 1
	ENC_EN  = 2
)

// RegionConfig represents the access policy of a RISAF region.
type RegionConfig struct {
	// ID is the 1-based region index
	ID      uint32
	Enabled bool
	Sec     bool
	Enc     uint32
	// CID bitmasks
	Priv  uint8
	Read  uint8
	Write uint8
}

// ParseRegionConfig decodes a st,protreg cell or query argument.
func ParseRegionConfig(cell uint32) RegionConfig {
	return RegionConfig{
		ID:      bits.Get(&cell, RISAF_REG_ID, 0xf),
		Enabled: bits.Get(&cell, RISAF_EN, 1) == 1,
		Sec:     bits.Get(&cell, RISAF_SEC, 1) == 1,
		Enc:     bits.Get(&cell, RISAF_ENC, 0x3),
		Priv:    uint8(bits.Get(&cell, RISAF_PRIV, 0xff)),
		Read:    uint8(bits.Get(&cell, RISAF_READ, 0xff)),
		Write:   uint8(bits.Get(&cell, RISAF_WRITE, 0xff)),
	}
}

// Cell encodes the st,protreg cell.
func (c RegionConfig) Cell() (cell uint32) {
	bits.SetN(&cell, RISAF_REG_ID, 0xf, c.ID)
	bits.SetTo(&cell, RISAF_EN, c.Enabled)
	bits.SetTo(&cell, RISAF_SEC, c.Sec)
	bits.SetN(&cell, RISAF_ENC, 0x3, c.Enc)
	bits.SetN(&cell, RISAF_PRIV, 0xff, uint32(c.Priv))
	bits.SetN(&cell, RISAF_READ, 0xff, uint32(c.Read))
	bits.SetN(&cell, RISAF_WRITE, 0xff, uint32(c.Write))

	return
}

func (c RegionConfig) String() string {
	return fmt.Sprintf("region %02d en:%v sec:%v enc:%d priv:%#02x rd:%#02x wr:%#02x",
		c.ID, c.Enabled, c.Sec, c.Enc, c.Priv, c.Read, c.Write)
}

// Region represents a RISAF region and its physical address range.
type Region struct {
	RegionConfig

	Start uint64
	Size  uint64
}

func (r Region) String() string {
	return fmt.Sprintf("%v %#08x-%#08x", r.RegionConfig, r.Start, r.Start+r.Size-1)
}

// Config represents the device tree configuration of a RISAF instance.
type Config struct {
	Name string
	// Base is the controller physical base address
	Base uint64

	// MemBase and MemSize describe the memory filtered by the instance
	MemBase uint64
	MemSize uint64

	Encryption bool
	Regions    []Region
}

// ParseConfig decodes a RISAF device tree node, regions are gathered from
// the st,protreg property of each memory-region phandle target.
//
// The Secure World carve-out is never part of the region table.
func ParseConfig(t *dt.Tree, n *dt.Node) (cfg *Config, err error) {
	cfg = &Config{
		Name:       n.Name,
		Encryption: dt.IsCompatible(n, CompatibleEnc),
	}

	regs, err := t.Reg(n)

	if err != nil || len(regs) == 0 {
		return nil, rif.Configurationf("%s: invalid reg", n.Name)
	}

	cfg.Base = regs[0].Address

	phandles, ok := dt.Cells(n, "memory-region")

	if !ok {
		return
	}

	memMap, ok := dt.Cells(n, "st,mem-map")

	if !ok || len(memMap) != 4 {
		return nil, rif.Configurationf("%s: invalid st,mem-map", n.Name)
	}

	cfg.MemBase = dt.Join(memMap[0:2])
	cfg.MemSize = dt.Join(memMap[2:4])

	for _, ph := range phandles {
		pn, ok := t.Phandle(ph)

		if !ok {
			continue
		}

		regs, err := t.Reg(pn)

		if err != nil || len(regs) == 0 || regs[0].Size == 0 {
			continue
		}

		if regs[0].Address == mem.TZDRAMStart && regs[0].Size == mem.TZDRAMSize {
			continue
		}

		cell, ok := dt.U32(pn, "st,protreg")

		if !ok {
			continue
		}

		cfg.Regions = append(cfg.Regions, Region{
			RegionConfig: ParseRegionConfig(cell),
			Start:        regs[0].Address,
			Size:         regs[0].Size,
		})
	}

	return
}
