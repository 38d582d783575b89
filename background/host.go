// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package background

import (
	"encoding/json"
	"fmt"
)

// HostRequest is a message from a host page. The variants are
// OpenWindow, CheckInstalled, and PromoDetected.
type HostRequest interface {
	hostRequest()
}

// OpenWindow asks the front end to bring its window to the front.
type OpenWindow struct{}

// CheckInstalled is a ping from a web page checking whether the front
// end is installed.
type CheckInstalled struct{}

// PromoDetected reports a promotion code seen by a host page.
type PromoDetected struct {
	ID string
}

func (OpenWindow) hostRequest()     {}
func (CheckInstalled) hostRequest() {}
func (PromoDetected) hostRequest()  {}

// hostMessage is the JSON shape host pages send. Exactly one field is
// set.
type hostMessage struct {
	OpenWindow       bool   `json:"openWindow,omitempty"`
	CheckIfInstalled bool   `json:"checkIfInstalled,omitempty"`
	PromoID          string `json:"promoId,omitempty"`
}

// ParseHostRequest decodes a host page message.
func ParseHostRequest(data []byte) (HostRequest, error) {
	var message hostMessage
	if err := json.Unmarshal(data, &message); err != nil {
		return nil, fmt.Errorf("decoding host request: %w", err)
	}

	var variants []HostRequest
	if message.OpenWindow {
		variants = append(variants, OpenWindow{})
	}
	if message.CheckIfInstalled {
		variants = append(variants, CheckInstalled{})
	}
	if message.PromoID != "" {
		variants = append(variants, PromoDetected{ID: message.PromoID})
	}
	switch len(variants) {
	case 0:
		return nil, fmt.Errorf("host request %s has no recognized field", data)
	case 1:
		return variants[0], nil
	default:
		return nil, fmt.Errorf("host request %s sets more than one field", data)
	}
}

// HostResponse is the JSON reply to a host page.
type HostResponse struct {
	ExtensionInstalled bool `json:"extensionInstalled,omitempty"`
	LaunchedUproxy     bool `json:"launchedUproxy,omitempty"`
}

// HandleHostRequest acts on a decoded host request.
func (c *Context) HandleHostRequest(request HostRequest) HostResponse {
	switch r := request.(type) {
	case OpenWindow:
		c.host.BringToFront()
		return HostResponse{LaunchedUproxy: true}
	case CheckInstalled:
		return HostResponse{ExtensionInstalled: true}
	case PromoDetected:
		if c.promoListener != nil {
			c.promoListener(r.ID)
		}
		return HostResponse{}
	default:
		c.logger.Warn("unhandled host request", "request_type", fmt.Sprintf("%T", request))
		return HostResponse{}
	}
}
