// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package transport

import (
	"errors"
	"net"
)

var errPeerCredentialsUnsupported = errors.New("peer credentials unsupported")

// peerUID is unavailable off Linux; the socket directory's permissions
// are the only guard there.
func peerUID(net.Conn) (uint32, error) {
	return 0, errPeerCredentialsUnsupported
}
