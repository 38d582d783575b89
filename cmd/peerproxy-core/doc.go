// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// peerproxy-core runs the reference core: a stand-in for the real proxy
// core that serves the front-end protocol and simulates the remote
// instances listed in a JSONC roster.
//
// The core listens on a unix socket, restricted by SO_PEERCRED to the
// configured UIDs, and optionally on a WebSocket endpoint for front ends
// running in a browser-hosted context. Every connected front end
// receives the roster's remote consent on connect and every update the
// core publishes afterwards.
//
// Configuration comes from the peerproxy.yaml file named by --config or
// PEERPROXY_CONFIG; flags override individual settings.
package main
