// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package coreapi

import (
	"context"

	"github.com/bureau-foundation/peerproxy/consent"
	"github.com/bureau-foundation/peerproxy/wire"
)

// Caller sends one command and decodes its result. *bridge.Connector
// implements it.
type Caller interface {
	Call(ctx context.Context, commandType wire.CommandType, payload, result any) error
}

var _ consent.Core = (*Client)(nil)

// Client is the typed command surface of the core.
type Client struct {
	caller Caller
}

// NewClient wraps caller.
func NewClient(caller Caller) *Client {
	return &Client{caller: caller}
}

// Start asks the core to begin getting access through path and returns
// the local proxy endpoint.
func (c *Client) Start(ctx context.Context, path consent.Path) (consent.Endpoint, error) {
	var endpoint consent.Endpoint
	err := c.caller.Call(ctx, wire.CommandStart, StartRequest{Path: path}, &endpoint)
	return endpoint, err
}

// Stop ends the active getter session.
func (c *Client) Stop(ctx context.Context) error {
	return c.caller.Call(ctx, wire.CommandStop, nil, nil)
}

// ModifyConsent tells the core about a consent action for path.
func (c *Client) ModifyConsent(ctx context.Context, path consent.Path, action consent.Action) error {
	return c.caller.Call(ctx, wire.CommandModifyConsent, ConsentCommand{Path: path, Action: action}, nil)
}

// GetVersion returns the core's version.
func (c *Client) GetVersion(ctx context.Context) (VersionInfo, error) {
	var info VersionInfo
	err := c.caller.Call(ctx, wire.CommandGetVersion, nil, &info)
	return info, err
}

// GetCredentials returns the core's cached credentials for network.
func (c *Client) GetCredentials(ctx context.Context, network string) (Credentials, error) {
	var credentials Credentials
	err := c.caller.Call(ctx, wire.CommandGetCredentials, CredentialsRequest{Network: network}, &credentials)
	return credentials, err
}

// SendCredentials answers a get_credentials update.
func (c *Client) SendCredentials(ctx context.Context, credentials Credentials) error {
	return c.caller.Call(ctx, wire.CommandCredentials, credentials, nil)
}
