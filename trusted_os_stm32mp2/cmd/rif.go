// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/usbarmory/GoTEE-stm32mp/internal/etzpc"
	"github.com/usbarmory/GoTEE-stm32mp/internal/firewall"
	"github.com/usbarmory/GoTEE-stm32mp/internal/hpdma"
	"github.com/usbarmory/GoTEE-stm32mp/internal/pwr"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rif"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rifsc"
	"github.com/usbarmory/GoTEE-stm32mp/internal/risaf"
)

func init() {
	Add(Cmd{
		Name: "fw",
		Help: "list firewall controllers",
		Fn:   fwCmd,
	})

	Add(Cmd{
		Name:    "res",
		Args:    1,
		Pattern: regexp.MustCompile(`^res (\S+)$`),
		Syntax:  "<controller>",
		Help:    "show controller resources",
		Fn:      resCmd,
	})

	Add(Cmd{
		Name:    "check|acquire|release",
		Args:    3,
		Pattern: regexp.MustCompile(`^(check|acquire|release) (\S+)((?: [[:xdigit:]]+)+)$`),
		Syntax:  "<controller> <hex cells>",
		Help:    "query a resource",
		Fn:      queryCmd,
	})

	Add(Cmd{
		Name:    "mem",
		Args:    5,
		Pattern: regexp.MustCompile(`^mem (check|acquire|release) (\S+) ([[:xdigit:]]+) ([[:xdigit:]]+)((?: [[:xdigit:]]+)*)$`),
		Syntax:  "<check|acquire|release> <controller> <hex addr> <hex size> <hex cells>",
		Help:    "query a memory range",
		Fn:      memCmd,
	})

	Add(Cmd{
		Name:    "device",
		Args:    2,
		Pattern: regexp.MustCompile(`^device (acquire|release) (\S+)$`),
		Syntax:  "<acquire|release> <node>",
		Help:    "acquire/release consumer device resources",
		Fn:      deviceCmd,
	})
}

var errNoPlatform = errors.New("platform not initialized")

func controller(name string) (firewall.Controller, error) {
	if plat == nil {
		return nil, errNoPlatform
	}

	ctrl, ok := plat.Firewall.Controller(name)

	if !ok {
		return nil, fmt.Errorf("unknown controller %s, %w", name, rif.ErrItemNotFound)
	}

	return ctrl, nil
}

func parseCells(s string) (cells []uint32, err error) {
	for _, f := range strings.Fields(s) {
		v, err := strconv.ParseUint(f, 16, 32)

		if err != nil {
			return nil, fmt.Errorf("invalid cell %s, %v", f, err)
		}

		cells = append(cells, uint32(v))
	}

	return
}

func capabilities(ctrl firewall.Controller) (caps []string) {
	if _, ok := ctrl.(firewall.Configurer); ok {
		caps = append(caps, "conf")
	}

	if _, ok := ctrl.(firewall.AccessChecker); ok {
		caps = append(caps, "check")
	}

	if _, ok := ctrl.(firewall.Acquirer); ok {
		caps = append(caps, "acquire")
	}

	if _, ok := ctrl.(firewall.Releaser); ok {
		caps = append(caps, "release")
	}

	if _, ok := ctrl.(firewall.MemoryConfigurer); ok {
		caps = append(caps, "mem-conf")
	}

	if _, ok := ctrl.(firewall.MemoryChecker); ok {
		caps = append(caps, "mem-check")
	}

	if _, ok := ctrl.(firewall.MemoryAcquirer); ok {
		caps = append(caps, "mem-acquire")
	}

	if _, ok := ctrl.(firewall.MemoryReleaser); ok {
		caps = append(caps, "mem-release")
	}

	return
}

func controllers(w io.Writer) {
	t := tabwriter.NewWriter(w, 16, 8, 1, ' ', 0)

	fmt.Fprintf(t, "TDCID: %v\tCID: %d\tinsecure: %v\n", plat.Context.TDCID, plat.Context.CID, plat.Context.Insecure)

	for _, ctrl := range plat.Firewall.Controllers() {
		var path string

		if n, ok := plat.Firewall.Node(ctrl); ok {
			path = plat.Tree.Path(n)
		}

		fmt.Fprintf(t, "%s\t%s\t%s\n", ctrl.Name(), path, strings.Join(capabilities(ctrl), ","))
	}

	fmt.Fprintf(t, "devices:\t%d granted\t%d skipped\n", len(plat.Devices), len(plat.Skipped))

	for _, n := range plat.Skipped {
		fmt.Fprintf(t, "\t%s\tskipped\n", plat.Tree.Path(n))
	}

	t.Flush()
}

func fwCmd(_ *term.Terminal, _ []string) (string, error) {
	if plat == nil {
		return "", errNoPlatform
	}

	var buf bytes.Buffer
	controllers(&buf)

	return buf.String(), nil
}

func semaphore(cid uint8, taken bool) string {
	if !taken {
		return "-"
	}

	return fmt.Sprintf("CID%d", cid)
}

func resources(w io.Writer, ctrl firewall.Controller) error {
	t := tabwriter.NewWriter(w, 8, 8, 1, ' ', 0)
	defer t.Flush()

	fmt.Fprintf(t, "%s\n", ctrl.Name())

	switch c := ctrl.(type) {
	case *rifsc.RIFSC:
		for _, res := range c.Resources() {
			if !res.Sec && !res.Priv && !res.Lock && !res.CID.Enabled {
				continue
			}

			fmt.Fprintf(t, "%v\t%s\n", res, semaphore(c.Semaphore(res.ID)))
		}
	case *hpdma.HPDMA:
		for _, res := range c.Resources() {
			fmt.Fprintf(t, "%v\t%s\n", res, semaphore(c.Semaphore(res.ID)))
		}
	case *pwr.PWR:
		for _, res := range c.Resources() {
			fmt.Fprintf(t, "%v\n", res)
		}
	case *etzpc.ETZPC:
		for id := uint32(0); id < c.Capabilities().NbPerSec; id++ {
			d := etzpc.Decprot{ID: id, Attr: c.Decprot(id), Lock: c.DecprotLocked(id)}

			if d.Attr == etzpc.S_RW && !d.Lock {
				continue
			}

			fmt.Fprintf(t, "%v\n", d)
		}
	case *risaf.RISAF:
		regions(t, c)
	default:
		return rif.ErrNotSupported
	}

	return nil
}

func resCmd(_ *term.Terminal, arg []string) (string, error) {
	ctrl, err := controller(arg[0])

	if err != nil {
		return "", err
	}

	var buf bytes.Buffer

	if err = resources(&buf, ctrl); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func queryCmd(_ *term.Terminal, arg []string) (string, error) {
	ctrl, err := controller(arg[1])

	if err != nil {
		return "", err
	}

	cells, err := parseCells(arg[2])

	if err != nil {
		return "", err
	}

	q := firewall.NewQuery(ctrl, cells...)

	switch arg[0] {
	case "check":
		err = q.CheckAccess()
	case "acquire":
		err = q.AcquireAccess()
	case "release":
		err = q.ReleaseAccess()
	}

	if err != nil {
		return "", fmt.Errorf("%s %v, %w", arg[0], q, err)
	}

	return fmt.Sprintf("%s %v: ok", arg[0], q), nil
}

func memCmd(_ *term.Terminal, arg []string) (string, error) {
	ctrl, err := controller(arg[1])

	if err != nil {
		return "", err
	}

	addr, err := strconv.ParseUint(arg[2], 16, 64)

	if err != nil {
		return "", fmt.Errorf("invalid address, %v", err)
	}

	size, err := strconv.ParseUint(arg[3], 16, 64)

	if err != nil {
		return "", fmt.Errorf("invalid size, %v", err)
	}

	cells, err := parseCells(arg[4])

	if err != nil {
		return "", err
	}

	q := firewall.NewQuery(ctrl, cells...)

	switch arg[0] {
	case "check":
		err = q.CheckMemoryAccess(addr, size, true, true)
	case "acquire":
		err = q.AcquireMemoryAccess(addr, size, true, true)
	case "release":
		err = q.ReleaseMemoryAccess(addr, size, true, true)
	}

	if err != nil {
		return "", fmt.Errorf("%s %v %#x-%#x, %w", arg[0], q, addr, addr+size-1, err)
	}

	return fmt.Sprintf("%s %v %#x-%#x: ok", arg[0], q, addr, addr+size-1), nil
}

func deviceCmd(_ *term.Terminal, arg []string) (string, error) {
	if plat == nil {
		return "", errNoPlatform
	}

	n, err := plat.Device(arg[1])

	if err != nil {
		return "", err
	}

	switch arg[0] {
	case "acquire":
		err = plat.AcquireDevice(n)
	case "release":
		err = plat.ReleaseDevice(n)
	}

	if rif.IsConfigurationError(err) {
		panic(err)
	}

	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s %s: ok", arg[0], plat.Tree.Path(n)), nil
}

// Dump writes the state of all firewall controllers.
func Dump(w io.Writer) error {
	if plat == nil {
		return errNoPlatform
	}

	controllers(w)

	for _, ctrl := range plat.Firewall.Controllers() {
		fmt.Fprintln(w)

		if err := resources(w, ctrl); err != nil {
			return fmt.Errorf("%s: %v", ctrl.Name(), err)
		}
	}

	for _, r := range plat.RISAF {
		fmt.Fprintln(w)
		illegalAccesses(w, r)
	}

	return nil
}
