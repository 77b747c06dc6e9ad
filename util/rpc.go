// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package util

// AccessRequest represents an RPC access check request issued on behalf of
// the Normal World.
type AccessRequest struct {
	// Controller is the firewall controller name
	Controller string
	// Args are the controller specific access-controllers cells
	Args []uint32
}
