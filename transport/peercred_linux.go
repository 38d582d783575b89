// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package transport

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

var errPeerCredentialsUnsupported = errors.New("peer credentials unsupported")

// peerUID returns the UID of the process on the other end of a unix
// socket via SO_PEERCRED.
func peerUID(conn net.Conn) (uint32, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return 0, errPeerCredentialsUnsupported
	}
	raw, err := unixConn.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("accessing socket: %w", err)
	}

	var credentials *unix.Ucred
	var credentialsErr error
	if err := raw.Control(func(fd uintptr) {
		credentials, credentialsErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return 0, fmt.Errorf("accessing socket descriptor: %w", err)
	}
	if credentialsErr != nil {
		return 0, fmt.Errorf("SO_PEERCRED: %w", credentialsErr)
	}
	return credentials.Uid, nil
}
