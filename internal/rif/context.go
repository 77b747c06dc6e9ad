// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package rif

// Context represents the firewall configuration context, built once at boot
// and shared by all controllers.
type Context struct {
	// CID is the compartment of the Secure World
	CID uint8
	// TDCID reports whether the Secure World is the Trusted Domain CID,
	// only the TDCID may program CID filtering.
	TDCID bool
	// Insecure relaxes boot time checks on development platforms.
	Insecure bool
	// Debug enables register read-back verification.
	Debug bool
}

// DefaultContext returns a context for the Secure World compartment.
func DefaultContext(tdcid bool) *Context {
	return &Context{
		CID:   CID1,
		TDCID: tdcid,
	}
}
