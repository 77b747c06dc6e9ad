// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net"
	"net/rpc"

	log "github.com/sirupsen/logrus"

	"github.com/usbarmory/GoTEE-stm32mp/internal/firewall"
	"github.com/usbarmory/GoTEE-stm32mp/internal/platform"
	"github.com/usbarmory/GoTEE-stm32mp/util"
)

// RPC represents the receiver for access requests forwarded on behalf of the
// Normal World.
type RPC struct {
	Platform *platform.Platform
}

// Echo returns a response with the input string.
func (r *RPC) Echo(in string, out *string) error {
	*out = in
	return nil
}

// CheckAccess validates a resource request against the current hardware
// configuration.
func (r *RPC) CheckAccess(req util.AccessRequest, _ *bool) error {
	ctrl, ok := r.Platform.Firewall.Controller(req.Controller)

	if !ok {
		return fmt.Errorf("unknown controller %s", req.Controller)
	}

	q := firewall.NewQuery(ctrl, req.Args...)
	err := q.CheckAccess()

	log.Debugf("RPC check access %v: %v", q, err)

	return err
}

// Devices returns the consumer devices granted to the Secure World.
func (r *RPC) Devices(_ bool, out *[]string) error {
	for _, n := range r.Platform.Devices {
		*out = append(*out, r.Platform.Tree.Path(n))
	}

	return nil
}

func newRPCServer(p *platform.Platform) (*rpc.Server, error) {
	server := rpc.NewServer()

	if err := server.Register(&RPC{Platform: p}); err != nil {
		return nil, err
	}

	return server, nil
}

func serveRPC(p *platform.Platform, listener net.Listener) error {
	server, err := newRPCServer(p)

	if err != nil {
		return err
	}

	go server.Accept(listener)

	return nil
}
