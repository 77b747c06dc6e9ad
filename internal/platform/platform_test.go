// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package platform

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/usbarmory/GoTEE-stm32mp/internal/dt"
	"github.com/usbarmory/GoTEE-stm32mp/internal/etzpc"
	"github.com/usbarmory/GoTEE-stm32mp/internal/hpdma"
	"github.com/usbarmory/GoTEE-stm32mp/internal/pm"
	"github.com/usbarmory/GoTEE-stm32mp/internal/pwr"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rif"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rifsc"
	"github.com/usbarmory/GoTEE-stm32mp/mem"
)

func names(nodes []*dt.Node) (s []string) {
	for _, n := range nodes {
		s = append(s, n.Name)
	}

	return
}

func boot(t *testing.T, board string, bus *Simulated) *Platform {
	t.Helper()

	tree, err := Builtin(board)

	if err != nil {
		t.Fatal(err)
	}

	p, err := Boot(tree, Options{Bus: bus, Debug: true})

	if err != nil {
		t.Fatal(err)
	}

	return p
}

func TestBootSTM32MP25(t *testing.T) {
	p := boot(t, STM32MP25, DefaultSimulated())

	if !p.Context.TDCID {
		t.Fatal("Secure World not TDCID")
	}

	var ctrls []string

	for _, ctrl := range p.Firewall.Controllers() {
		ctrls = append(ctrls, ctrl.Name())
	}

	want := []string{"RIFSC", "risaf@420d0000", "PWR", "dma-controller@40400000"}

	if diff := cmp.Diff(want, ctrls); diff != "" {
		t.Errorf("controllers mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(want, p.PM.Names()); diff != "" {
		t.Errorf("PM handlers mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"i2c@40120000", "rng@42020000", "wakeup"}, names(p.Devices)); diff != "" {
		t.Errorf("devices mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"hash@42010000"}, names(p.Skipped)); diff != "" {
		t.Errorf("skipped devices mismatch (-want +got):\n%s", diff)
	}

	// Secure World carve-out excluded
	if n := len(p.RISAF[0].Regions()); n != 2 {
		t.Errorf("unexpected number of RISAF regions %d", n)
	}

	if !p.RIFSC.Locked(RNG_ID) {
		t.Error("RNG configuration not locked")
	}

	for _, tt := range []struct {
		name  string
		owner func() (uint8, bool)
	}{
		{"i2c", func() (uint8, bool) { return p.RIFSC.Semaphore(I2C1_ID) }},
		{"dma", func() (uint8, bool) { return p.HPDMA[0].Semaphore(1) }},
	} {
		if cid, taken := tt.owner(); !taken || cid != rif.CID1 {
			t.Errorf("%s semaphore not held by CID1", tt.name)
		}
	}
}

func TestBootNonTDCID(t *testing.T) {
	bus := DefaultSimulated()
	bus.TDCID = rif.CID2

	rng := rif.ResourceConfig{ID: RNG_ID, Sec: true}

	root := dt.Add(dt.NewNode(""),
		dt.Add(dt.NewNode("bus@42080000",
			dt.StringProp("compatible", rifsc.Compatible),
			window(mem.RIFSCBase),
			dt.CellsProp("phandle", phRIFSC),
			dt.CellsProp("#access-controller-cells", 1),
			dt.CellsProp("st,protreg", rng.Cell()),
		),
			dt.NewNode("rng@42020000",
				dt.CellsProp("access-controllers", phRIFSC, RNG_ID),
			),
		),
		dt.NewNode("risaf@420d0000",
			dt.StringProp("compatible", "st,stm32mp25-risaf"),
			window(mem.RISAF4Base),
		),
	)

	p, err := Boot(dt.New(root), Options{Bus: bus})

	if err != nil {
		t.Fatal(err)
	}

	if p.Context.TDCID {
		t.Fatal("unexpected TDCID")
	}

	if len(p.RISAF) != 0 {
		t.Fatal("RISAF probed without TDCID")
	}

	if diff := cmp.Diff([]string{"rng@42020000"}, names(p.Devices)); diff != "" {
		t.Errorf("devices mismatch (-want +got):\n%s", diff)
	}
}

func TestBootSTM32MP15(t *testing.T) {
	p := boot(t, STM32MP15, DefaultSimulated())

	if p.RIFSC != nil || p.ETZPC == nil {
		t.Fatal("unexpected controllers")
	}

	if diff := cmp.Diff([]string{"rng@54003000", "hash@54002000"}, names(p.Devices)); diff != "" {
		t.Errorf("devices mismatch (-want +got):\n%s", diff)
	}

	if !p.ETZPC.DecprotLocked(ETZPC_RNG1_ID) {
		t.Error("RNG1 DECPROT not locked")
	}

	if err := p.ETZPC.CheckNSAccess(ETZPC_USART1_ID); err != nil {
		t.Errorf("USART1 not accessible by the Non-secure World, %v", err)
	}
}

func TestValidator(t *testing.T) {
	tree, err := Builtin(STM32MP15)

	if err != nil {
		t.Fatal(err)
	}

	deny := errors.New("non-secure peripheral")

	_, err = Boot(tree, Options{
		Bus: DefaultSimulated(),
		Validator: func(id uint32, attr etzpc.Attr) error {
			if attr == etzpc.NS_RW {
				return deny
			}

			return nil
		},
	})

	if !rif.IsConfigurationError(err) {
		t.Fatalf("got %v", err)
	}
}

func TestPMCycle(t *testing.T) {
	bus := DefaultSimulated()
	p := boot(t, STM32MP25, bus)

	h := p.HPDMA[0]
	want := h.Resources()
	wio := p.PWR.Resource(pwr.NB_NS_RESOURCES)

	if err := p.Suspend(pm.ContextState); err != nil {
		t.Fatal(err)
	}

	dma, _ := bus.Bank(mem.HPDMA1Base)
	dma.Poke(hpdma.HPDMA_SECCFGR, 0)
	dma.Poke(hpdma.HPDMA_C0_CIDCFGR+hpdma.HPDMA_Cx_STRIDE, 0)
	dma.Poke(hpdma.HPDMA_C0_SEMCR+hpdma.HPDMA_Cx_STRIDE, 0)

	power, _ := bus.Bank(mem.PWRBase)
	power.Poke(pwr.PWR_WIO_CIDCFGR, 0)

	if err := p.Resume(pm.ContextState); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(want, h.Resources()); diff != "" {
		t.Errorf("HPDMA configuration not restored (-want +got):\n%s", diff)
	}

	if cid, taken := h.Semaphore(1); !taken || cid != rif.CID1 {
		t.Error("HPDMA semaphore not restored")
	}

	if got := p.PWR.Resource(pwr.NB_NS_RESOURCES); got != wio {
		t.Errorf("WIO1 = %v, want %v", got, wio)
	}
}

func TestResumeFailure(t *testing.T) {
	bus := DefaultSimulated()
	p := boot(t, STM32MP25, bus)

	if err := p.Suspend(pm.ContextState); err != nil {
		t.Fatal(err)
	}

	// semaphore stolen across the low power state
	b, _ := bus.Bank(mem.RIFSCBase)
	b.Poke(rifsc.RISC_PER0_SEMCR+rifsc.RISC_PERx_STRIDE*I2C1_ID, 1|rif.CID2<<rif.SEMCR_SEMCID)

	if err := p.Resume(pm.ContextState); !rif.IsConfigurationError(err) {
		t.Fatalf("got %v", err)
	}
}

func TestDevice(t *testing.T) {
	bus := DefaultSimulated()
	p := boot(t, STM32MP25, bus)

	n, err := p.Device("wakeup")

	if err != nil {
		t.Fatal(err)
	}

	if err = p.ReleaseDevice(n); err != nil {
		t.Fatal(err)
	}

	if _, taken := p.HPDMA[0].Semaphore(1); taken {
		t.Fatal("HPDMA semaphore not released")
	}

	if err = p.AcquireDevice(n); err != nil {
		t.Fatal(err)
	}

	q, err := p.Firewall.GetByName(n, "wio1")

	if err != nil {
		t.Fatal(err)
	}

	if q.Controller != p.PWR {
		t.Fatalf("unexpected controller %s", q.Controller.Name())
	}

	if _, err = p.Device("missing"); !errors.Is(err, rif.ErrItemNotFound) {
		t.Fatalf("got %v", err)
	}

	if n, _ = p.Device("hash@42010000"); !errors.Is(p.AcquireDevice(n), rif.ErrAccessDenied) {
		t.Fatal("HASH granted to the Secure World")
	}
}

func TestBuiltin(t *testing.T) {
	if _, err := Builtin("stm32mp13"); err == nil {
		t.Fatal("unknown board accepted")
	}
}
