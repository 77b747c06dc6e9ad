// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cmd

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/usbarmory/GoTEE-stm32mp/internal/risaf"
)

func init() {
	Add(Cmd{
		Name: "risaf",
		Help: "show RISAF regions and illegal accesses",
		Fn:   risafCmd,
	})
}

func regions(w io.Writer, r *risaf.RISAF) {
	v := r.Version()

	fmt.Fprintf(w, "version %d.%d enc:%v locked:%v granularity:%s\n",
		v.Major, v.Minor, r.EncryptionEnabled(), r.Locked(), humanize.IBytes(r.Granularity()))

	for _, rg := range r.Regions() {
		fmt.Fprintf(w, "%v\t%s\n", rg, humanize.IBytes(rg.Size))
	}
}

func illegalAccesses(w io.Writer, r *risaf.RISAF) {
	ev := r.IllegalAccesses()

	if len(ev) == 0 {
		fmt.Fprintf(w, "%s: no illegal access\n", r.Name())
		return
	}

	for i, e := range ev {
		fmt.Fprintf(w, "%s: IAESR%d %#x IADDR%d %#x\n", r.Name(), i, e.Status, i, e.Addr)
	}
}

func risafCmd(_ *term.Terminal, _ []string) (string, error) {
	if plat == nil {
		return "", errNoPlatform
	}

	var buf bytes.Buffer

	for _, r := range plat.RISAF {
		fmt.Fprintf(&buf, "%s ", r.Name())
		regions(&buf, r)
		illegalAccesses(&buf, r)

		r.DumpErroneousData()
		r.ClearIllegalAccessFlags()
	}

	return buf.String(), nil
}
