// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cmd

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"golang.org/x/term"

	"github.com/usbarmory/GoTEE-stm32mp/internal/platform"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rif"
	"github.com/usbarmory/GoTEE-stm32mp/mem"
)

type console struct {
	in  io.Reader
	out bytes.Buffer
}

func (c *console) Read(p []byte) (int, error) {
	return c.in.Read(p)
}

func (c *console) Write(p []byte) (int, error) {
	return c.out.Write(p)
}

func newTerm() (*term.Terminal, *console) {
	c := &console{in: strings.NewReader("")}
	return term.NewTerminal(c, ""), c
}

func setup(t *testing.T) *platform.Simulated {
	t.Helper()

	bus := platform.DefaultSimulated()
	tree, err := platform.Builtin(platform.STM32MP25)

	if err != nil {
		t.Fatal(err)
	}

	p, err := platform.Boot(tree, platform.Options{Bus: bus})

	if err != nil {
		t.Fatal(err)
	}

	Init(p)
	t.Cleanup(func() { Init(nil) })

	return bus
}

func run(t *testing.T, line string) (string, error) {
	t.Helper()

	term, out := newTerm()
	err := Handle(term, line)

	return out.out.String(), err
}

func TestHandle(t *testing.T) {
	if _, err := run(t, "bogus"); err == nil {
		t.Fatal("unknown command accepted")
	}

	for _, line := range []string{"exit", "quit"} {
		if _, err := run(t, line); err != io.EOF {
			t.Fatalf("%s: got %v", line, err)
		}
	}

	out, err := run(t, "help")

	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"fw", "dump", "race", "device", "pm", "risaf"} {
		if !strings.Contains(out, name) {
			t.Errorf("help is missing %s", name)
		}
	}

	for _, line := range []string{"fw", "dump"} {
		if _, err := run(t, line); !errors.Is(err, errNoPlatform) {
			t.Fatalf("%s: got %v", line, err)
		}
	}
}

func TestDump(t *testing.T) {
	setup(t)

	out, err := run(t, "dump")

	if err != nil {
		t.Fatal(err)
	}

	for _, s := range []string{"RIFSC", "PWR", "risaf@420d0000", "sem[CID1,CID2]"} {
		if !strings.Contains(out, s) {
			t.Errorf("output is missing %s:\n%s", s, out)
		}
	}
}

func TestControllers(t *testing.T) {
	setup(t)

	out, err := run(t, "fw")

	if err != nil {
		t.Fatal(err)
	}

	for _, s := range []string{"RIFSC", "PWR", "dma-controller@40400000", "mem-conf", "hash@42010000"} {
		if !strings.Contains(out, s) {
			t.Errorf("output is missing %s:\n%s", s, out)
		}
	}

	if out, err = run(t, "res RIFSC"); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(out, "sem[CID1,CID2]") {
		t.Errorf("shared I2C1 missing:\n%s", out)
	}

	if _, err = run(t, "res missing"); !errors.Is(err, rif.ErrItemNotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestQuery(t *testing.T) {
	setup(t)

	for _, tt := range []struct {
		line string
		err  error
	}{
		{"acquire RIFSC 29", nil},
		{"release RIFSC 29", nil},
		{"acquire RIFSC 29", nil},
		{"acquire RIFSC 20", rif.ErrAccessDenied},
		{"acquire RIFSC ff", nil},
		{"acquire RIFSC 29 1", rif.ErrBadParameters},
		{"check risaf@420d0000 1", rif.ErrNotSupported},
	} {
		if _, err := run(t, tt.line); !errors.Is(err, tt.err) {
			t.Errorf("%s: got %v, want %v", tt.line, err, tt.err)
		}
	}
}

func TestDevice(t *testing.T) {
	setup(t)

	for _, line := range []string{"device release wakeup", "device acquire wakeup"} {
		if _, err := run(t, line); err != nil {
			t.Fatalf("%s: %v", line, err)
		}
	}

	if _, err := run(t, "device acquire hash@42010000"); !errors.Is(err, rif.ErrAccessDenied) {
		t.Fatalf("got %v", err)
	}
}

func TestRace(t *testing.T) {
	setup(t)

	res, err := Race(platform.I2C1_ID, 200)

	if err != nil {
		t.Fatal(err)
	}

	if res.Wins[rif.CID1]+res.Wins[rif.CID2] == 0 {
		t.Fatal("no round won")
	}

	if cid, taken := plat.RIFSC.Semaphore(platform.I2C1_ID); !taken || cid != rif.CID1 {
		t.Fatal("semaphore not restored")
	}

	if _, err = Race(platform.RNG_ID, 1); !errors.Is(err, rif.ErrBadParameters) {
		t.Fatalf("got %v", err)
	}

	if _, err = Race(4096, 1); !errors.Is(err, rif.ErrBadParameters) {
		t.Fatalf("got %v", err)
	}
}

func TestPM(t *testing.T) {
	setup(t)

	if _, err := run(t, "pm cycle"); err != nil {
		t.Fatal(err)
	}

	if cid, taken := plat.RIFSC.Semaphore(platform.I2C1_ID); !taken || cid != rif.CID1 {
		t.Fatal("semaphore not restored")
	}
}

func TestRISAF(t *testing.T) {
	bus := setup(t)

	out, err := run(t, "risaf")

	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(out, "no illegal access") {
		t.Errorf("unexpected output:\n%s", out)
	}

	b, _ := bus.Bank(mem.RISAF4Base)
	b.IllegalAccess(0x3, 0x1000)

	var buf bytes.Buffer

	if err = Dump(&buf); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(buf.String(), "IAESR0 0x3") {
		t.Errorf("illegal access missing:\n%s", buf.String())
	}

	if out, err = run(t, "risaf"); err != nil {
		t.Fatal(err)
	}

	// flags are acknowledged after the first dump
	if out, err = run(t, "risaf"); err != nil || !strings.Contains(out, "no illegal access") {
		t.Errorf("illegal access not cleared (%v):\n%s", err, out)
	}
}
