// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package rifsc

import (
	"github.com/usbarmory/tamago/bits"

	"github.com/usbarmory/GoTEE-stm32mp/internal/dt"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rif"
)

// Device tree bindings
const (
	Compatible = "st,stm32mp25-rifsc"

	// resource IDs starting from RIMU_ID_OFFSET select a bus master
	RIMU_ID_OFFSET = 0xc0

	// st,rimu cell
	RIMUPROT_M_ID = 0
	RIMUPROT_ATTR = 8

	// st,risal cell
	RISAL_REG_ID   = 0
	RISAL_BLOCK_ID = 4
	RISAL_CFGR     = 8

	// st,glocked value
	RIMU_GLOCK  = 1 << 0
	RISUP_GLOCK = 1 << 1
)

// RISAL blocks
const (
	RISAL_BLOCK_A = 0
	RISAL_BLOCK_B = 1
)

// RIMU represents the configuration of a bus master interface.
type RIMU struct {
	// ID is the master index, without RIMU_ID_OFFSET
	ID uint32
	// Attr is the RIMC_ATTR register value
	Attr uint32
}

// ParseRIMU decodes a st,rimu cell.
func ParseRIMU(cell uint32) (m RIMU, err error) {
	id := bits.Get(&cell, RIMUPROT_M_ID, 0xff)

	if id < RIMU_ID_OFFSET {
		return m, rif.Configurationf("invalid RIMU ID %#x", id)
	}

	m.ID = id - RIMU_ID_OFFSET
	m.Attr = bits.Get(&cell, RIMUPROT_ATTR, 0x3ff)

	return
}

// Cell encodes the st,rimu cell.
func (m RIMU) Cell() (cell uint32) {
	bits.SetN(&cell, RIMUPROT_M_ID, 0xff, m.ID+RIMU_ID_OFFSET)
	bits.SetN(&cell, RIMUPROT_ATTR, 0x3ff, m.Attr)

	return
}

// RISAL represents the configuration of a RISAL sub-region.
type RISAL struct {
	// ID is the 1-based region index
	ID    uint32
	Block uint32
	// Attr is the RISAL CFGR register value
	Attr uint32
}

// ParseRISAL decodes a st,risal cell.
func ParseRISAL(cell uint32) RISAL {
	return RISAL{
		ID:    bits.Get(&cell, RISAL_REG_ID, 0xf),
		Block: bits.Get(&cell, RISAL_BLOCK_ID, 0x1),
		Attr:  bits.Get(&cell, RISAL_CFGR, 0xffffff),
	}
}

// Config represents the device tree configuration of the RIFSC.
type Config struct {
	RISUP []rif.ResourceConfig
	RIMU  []RIMU
	RISAL []RISAL
	// GLock holds the st,glocked global lock flags
	GLock uint32
	// ErrataAHBRISAB forbids CID0 on masters of RISAB protected RAMs
	ErrataAHBRISAB bool
}

// ParseConfig decodes the RIFSC device tree node.
func ParseConfig(n *dt.Node) (cfg *Config, err error) {
	cfg = &Config{}

	cells, _ := dt.Cells(n, "st,protreg")

	for _, cell := range cells {
		cfg.RISUP = append(cfg.RISUP, rif.ParseResourceConfig(cell))
	}

	cells, _ = dt.Cells(n, "st,rimu")

	for _, cell := range cells {
		m, err := ParseRIMU(cell)

		if err != nil {
			return nil, err
		}

		cfg.RIMU = append(cfg.RIMU, m)
	}

	cells, _ = dt.Cells(n, "st,risal")

	for _, cell := range cells {
		cfg.RISAL = append(cfg.RISAL, ParseRISAL(cell))
	}

	if dt.Has(n, "st,glocked") {
		if cfg.GLock, err = glock(n); err != nil {
			return nil, err
		}
	}

	cfg.ErrataAHBRISAB = dt.Has(n, "st,errata-ahbrisab")

	return
}

func glock(n *dt.Node) (uint32, error) {
	v, ok := dt.U32(n, "st,glocked")

	if !ok {
		return 0, rif.Configurationf("invalid st,glocked")
	}

	return v, nil
}
