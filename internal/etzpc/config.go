// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package etzpc

import (
	"fmt"

	"github.com/usbarmory/tamago/bits"

	"github.com/usbarmory/GoTEE-stm32mp/internal/dt"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rif"
)

// Device tree bindings
const (
	Compatible = "st,stm32-etzpc"

	// st,decprot cell
	DECPROT_ID   = 0
	DECPROT_MODE = 8
	DECPROT_LOCK = 16

	// TZMA pseudo peripheral IDs
	TZMA0_ID = 200
	TZMA1_ID = 201
)

// Internal memories with a dedicated DECPROT field
const (
	SRAM1_ID  = 64
	SRAM2_ID  = 65
	SRAM3_ID  = 66
	SRAM4_ID  = 67
	RETRAM_ID = 68
)

// Attr represents a DECPROT peripheral protection attribute.
type Attr uint32

// DECPROT attributes
const (
	S_RW Attr = iota
	NS_R_S_W
	MCU_ISOLATION
	NS_RW
)

func (a Attr) String() string {
	switch a {
	case S_RW:
		return "S_RW"
	case NS_R_S_W:
		return "NS_R_S_W"
	case MCU_ISOLATION:
		return "MCU_ISOLATION"
	case NS_RW:
		return "NS_RW"
	default:
		return fmt.Sprintf("Attr(%d)", uint32(a))
	}
}

// Decprot represents a peripheral protection request.
type Decprot struct {
	ID   uint32
	Attr Attr
	Lock bool
}

// ParseDecprot decodes a st,decprot cell or query argument.
func ParseDecprot(cell uint32) Decprot {
	return Decprot{
		ID:   bits.Get(&cell, DECPROT_ID, 0xff),
		Attr: Attr(bits.Get(&cell, DECPROT_MODE, 0x3)),
		Lock: bits.Get(&cell, DECPROT_LOCK, 1) == 1,
	}
}

// Cell encodes the st,decprot cell.
func (d Decprot) Cell() (cell uint32) {
	bits.SetN(&cell, DECPROT_ID, 0xff, d.ID)
	bits.SetN(&cell, DECPROT_MODE, 0x3, uint32(d.Attr))
	bits.SetTo(&cell, DECPROT_LOCK, d.Lock)

	return
}

func (d Decprot) String() string {
	return fmt.Sprintf("decprot %d %s lock:%v", d.ID, d.Attr, d.Lock)
}

// Validator vets a DECPROT configuration before it is applied, it allows
// platforms to keep memories in use by the Secure World out of reach of
// non-secure masters.
type Validator func(id uint32, attr Attr) error

// Config represents the device tree configuration of the ETZPC.
type Config struct {
	Decprot []Decprot
	// Validate is an optional configuration hook
	Validate Validator
}

// ParseConfig decodes the ETZPC device tree node.
func ParseConfig(n *dt.Node) (cfg *Config, err error) {
	cfg = &Config{}

	if !dt.Has(n, "st,decprot") {
		return
	}

	cells, ok := dt.Cells(n, "st,decprot")

	if !ok {
		return nil, rif.Configurationf("invalid st,decprot")
	}

	for _, cell := range cells {
		cfg.Decprot = append(cfg.Decprot, ParseDecprot(cell))
	}

	return
}
