// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package refcore is a reference core: it serves the bridge protocol
// with in-memory consent bookkeeping and simulated remote peers, so a
// front end can be exercised without a real proxy network.
//
// The roster of remote instances comes from a JSONC file (JSON with
// comments and trailing commas):
//
//	{
//	  "network": {"name": "social", "local_user_id": "me"},
//	  "instances": [
//	    // Alice offers access as soon as the front end connects.
//	    {"user_id": "alice", "instance_id": "laptop", "name": "Alice", "auto_offer": true},
//	    {"user_id": "bob", "instance_id": "phone", "auto_request": true},
//	  ],
//	}
//
// Simulated peers react to the front end's consent actions the way a
// cooperative remote would: an offer to a peer that is requesting
// starts a giving session, and cancelling the offer ends it.
package refcore
