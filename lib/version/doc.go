// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information.
//
// Values are injected at build time with -ldflags, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/peerproxy/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// The reference core reports [Current] in its handshake and in answer
// to get_version; the front end only displays it.
package version
