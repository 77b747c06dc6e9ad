// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"net"
	"net/rpc"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/usbarmory/GoTEE-stm32mp/internal/config"
	"github.com/usbarmory/GoTEE-stm32mp/internal/platform"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rif"
	"github.com/usbarmory/GoTEE-stm32mp/util"
)

func testClient(t *testing.T) *rpc.Client {
	t.Helper()

	p := boot(config.Default())
	server, err := newRPCServer(p)

	if err != nil {
		t.Fatal(err)
	}

	c, s := net.Pipe()
	go server.ServeConn(s)

	client := rpc.NewClient(c)
	t.Cleanup(func() { client.Close() })

	return client
}

func cell(id uint32, sec bool, cid uint8) uint32 {
	return rif.ResourceConfig{
		ID:  id,
		Sec: sec,
		CID: rif.CIDConfig{Enabled: true, SCID: cid},
	}.Cell()
}

func TestRPCEcho(t *testing.T) {
	client := testClient(t)

	var out string

	if err := client.Call("RPC.Echo", "hello", &out); err != nil || out != "hello" {
		t.Fatalf("got %q, %v", out, err)
	}
}

func TestRPCCheckAccess(t *testing.T) {
	client := testClient(t)

	for _, tt := range []struct {
		name string
		req  util.AccessRequest
		err  string
	}{
		{"non-secure USART2", util.AccessRequest{Controller: "RIFSC", Args: []uint32{cell(platform.USART2_ID, false, rif.CID2)}}, ""},
		{"wrong CID", util.AccessRequest{Controller: "RIFSC", Args: []uint32{cell(platform.USART2_ID, false, rif.CID3)}}, rif.ErrAccessDenied.Error()},
		{"secure RNG", util.AccessRequest{Controller: "RIFSC", Args: []uint32{cell(platform.RNG_ID, false, rif.CID2)}}, rif.ErrAccessDenied.Error()},
		{"unknown controller", util.AccessRequest{Controller: "ETZPC", Args: []uint32{0}}, "unknown controller"},
	} {
		var res bool
		err := client.Call("RPC.CheckAccess", tt.req, &res)

		switch {
		case tt.err == "" && err != nil:
			t.Errorf("%s: %v", tt.name, err)
		case tt.err != "" && (err == nil || !strings.Contains(err.Error(), tt.err)):
			t.Errorf("%s: got %v, want %s", tt.name, err, tt.err)
		}
	}
}

func TestRPCDevices(t *testing.T) {
	client := testClient(t)

	var devices []string

	if err := client.Call("RPC.Devices", true, &devices); err != nil {
		t.Fatal(err)
	}

	want := []string{"/bus@42080000/i2c@40120000", "/bus@42080000/rng@42020000", "/wakeup"}

	if diff := cmp.Diff(want, devices); diff != "" {
		t.Fatalf("devices mismatch (-want +got):\n%s", diff)
	}
}
