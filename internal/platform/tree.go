// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package platform

import (
	"fmt"

	"github.com/usbarmory/GoTEE-stm32mp/internal/dt"
	"github.com/usbarmory/GoTEE-stm32mp/internal/etzpc"
	"github.com/usbarmory/GoTEE-stm32mp/internal/hpdma"
	"github.com/usbarmory/GoTEE-stm32mp/internal/pwr"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rif"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rifsc"
	"github.com/usbarmory/GoTEE-stm32mp/internal/risaf"
	"github.com/usbarmory/GoTEE-stm32mp/mem"
)

// Built-in boards
const (
	STM32MP25 = "stm32mp25"
	STM32MP15 = "stm32mp15"
)

// STM32MP25 RIFSC peripheral IDs used by the built-in device tree
const (
	USART2_ID = 32
	I2C1_ID   = 41
	RNG_ID    = 92
	HASH_ID   = 95
)

// built-in device tree phandles
const (
	phRIFSC = 0x1
	phPWR   = 0x3
	phHPDMA = 0x4
	phETZPC = 0x5

	phTEE = 0x20
	phFW  = 0x21
	phNS  = 0x22
)

func cells(res ...rif.ResourceConfig) (c []uint32) {
	for _, r := range res {
		c = append(c, r.Cell())
	}

	return
}

func static(id uint32, sec bool, cid uint8) rif.ResourceConfig {
	return rif.ResourceConfig{
		ID:  id,
		Sec: sec,
		CID: rif.CIDConfig{Enabled: true, SCID: cid},
	}
}

func shared(id uint32, whitelist uint8) rif.ResourceConfig {
	return rif.ResourceConfig{
		ID:  id,
		Sec: true,
		CID: rif.CIDConfig{Enabled: true, Semaphore: true, Whitelist: whitelist},
	}
}

func window(base uint32) dt.Property {
	return dt.CellsProp("reg", 0, base, mem.PeripheralSize)
}

// Builtin returns the device tree of a built-in board.
func Builtin(board string) (*dt.Tree, error) {
	switch board {
	case STM32MP25:
		return dt.New(stm32mp25()), nil
	case STM32MP15:
		return dt.New(stm32mp15()), nil
	}

	return nil, fmt.Errorf("unknown board %s", board)
}

func stm32mp25() *dt.Node {
	rng := static(RNG_ID, true, rif.CID1)
	rng.Lock = true

	reserved := dt.Add(dt.NewNode("reserved-memory",
		dt.CellsProp("#address-cells", 1),
		dt.CellsProp("#size-cells", 1),
	),
		dt.NewNode("tee@82000000",
			dt.CellsProp("phandle", phTEE),
			dt.CellsProp("reg", mem.TZDRAMStart, mem.TZDRAMSize),
			dt.CellsProp("st,protreg", risaf.RegionConfig{ID: 1, Enabled: true, Sec: true, Read: 0x02, Write: 0x02}.Cell()),
		),
		dt.NewNode("fw@90000000",
			dt.CellsProp("phandle", phFW),
			dt.CellsProp("reg", 0x90000000, 0x01000000),
			dt.CellsProp("st,protreg", risaf.RegionConfig{ID: 2, Enabled: true, Sec: true, Priv: 0x02, Read: 0x02, Write: 0x02}.Cell()),
		),
		dt.NewNode("ns@a0000000",
			dt.CellsProp("phandle", phNS),
			dt.CellsProp("reg", 0xa0000000, 0x10000000),
			dt.CellsProp("st,protreg", risaf.RegionConfig{ID: 3, Enabled: true, Read: 0x06, Write: 0x06}.Cell()),
		),
	)

	bus := dt.Add(dt.NewNode("bus@42080000",
		dt.StringProp("compatible", rifsc.Compatible, "simple-bus"),
		window(mem.RIFSCBase),
		dt.CellsProp("phandle", phRIFSC),
		dt.CellsProp("#access-controller-cells", 1),
		dt.CellsProp("st,protreg", cells(
			static(USART2_ID, false, rif.CID2),
			shared(I2C1_ID, 0b110),
			rng,
			static(HASH_ID, false, rif.CID2),
		)...),
		// ETH1 issues CID1 secure privileged transactions
		dt.CellsProp("st,rimu", rifsc.RIMU{ID: 6, Attr: 1<<rifsc.RIMC_ATTR_CIDSEL | rif.CID1<<rifsc.RIMC_ATTR_MCID | 1<<rifsc.RIMC_ATTR_MSEC}.Cell()),
	),
		dt.NewNode("serial@400e0000",
			dt.StringProp("status", "disabled"),
			dt.CellsProp("access-controllers", phRIFSC, USART2_ID),
		),
		dt.NewNode("i2c@40120000",
			dt.CellsProp("access-controllers", phRIFSC, I2C1_ID),
		),
		dt.NewNode("rng@42020000",
			dt.CellsProp("access-controllers", phRIFSC, RNG_ID),
		),
	)

	return dt.Add(dt.NewNode("",
		dt.StringProp("compatible", "st,stm32mp257f-ev1", "st,stm32mp257"),
	),
		reserved,
		bus,
		dt.NewNode("risaf@420d0000",
			dt.StringProp("compatible", risaf.CompatibleEnc),
			window(mem.RISAF4Base),
			dt.CellsProp("memory-region", phTEE, phFW, phNS),
			dt.CellsProp("st,mem-map", 0, mem.DDRStart, 0, mem.DDRSize),
		),
		dt.NewNode("pwr@44210000",
			dt.StringProp("compatible", pwr.Compatible),
			window(mem.PWRBase),
			dt.CellsProp("phandle", phPWR),
			dt.CellsProp("#access-controller-cells", 1),
			dt.CellsProp("st,protreg", cells(
				static(0, true, rif.CID1),
				shared(pwr.NB_NS_RESOURCES, 0b110),
			)...),
		),
		dt.NewNode("dma-controller@40400000",
			dt.StringProp("compatible", hpdma.Compatible),
			window(mem.HPDMA1Base),
			dt.CellsProp("phandle", phHPDMA),
			dt.CellsProp("#access-controller-cells", 1),
			dt.CellsProp("st,protreg", cells(
				static(0, true, rif.CID1),
				shared(1, 0b110),
				static(2, false, rif.CID2),
			)...),
		),
		dt.NewNode("hash@42010000",
			dt.CellsProp("access-controllers", phRIFSC, HASH_ID),
		),
		dt.NewNode("wakeup",
			dt.CellsProp("access-controllers", phPWR, pwr.NB_NS_RESOURCES, phHPDMA, 1),
			dt.StringProp("access-controller-names", "wio1", "dma"),
		),
	)
}

// STM32MP15 ETZPC peripheral IDs used by the built-in device tree
const (
	ETZPC_USART1_ID = 3
	ETZPC_RNG1_ID   = 7
	ETZPC_HASH1_ID  = 8
)

func stm32mp15() *dt.Node {
	decprot := []etzpc.Decprot{
		{ID: ETZPC_USART1_ID, Attr: etzpc.NS_RW},
		{ID: ETZPC_RNG1_ID, Attr: etzpc.S_RW, Lock: true},
		{ID: ETZPC_HASH1_ID, Attr: etzpc.NS_R_S_W},
	}

	var c []uint32

	for _, d := range decprot {
		c = append(c, d.Cell())
	}

	bus := dt.Add(dt.NewNode("etzpc@5c007000",
		dt.StringProp("compatible", etzpc.Compatible, "simple-bus"),
		window(mem.ETZPCBase),
		dt.CellsProp("phandle", phETZPC),
		dt.CellsProp("#access-controller-cells", 1),
		dt.CellsProp("st,decprot", c...),
	),
		dt.NewNode("serial@5c000000",
			dt.StringProp("status", "disabled"),
			dt.CellsProp("access-controllers", phETZPC, ETZPC_USART1_ID),
		),
		dt.NewNode("rng@54003000",
			dt.CellsProp("access-controllers", phETZPC, ETZPC_RNG1_ID),
		),
		dt.NewNode("hash@54002000",
			dt.CellsProp("access-controllers", phETZPC, ETZPC_HASH1_ID),
		),
	)

	return dt.Add(dt.NewNode("",
		dt.StringProp("compatible", "st,stm32mp157c-dk2", "st,stm32mp157"),
	),
		bus,
	)
}
