// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package refcore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/peerproxy/consent"
)

// Roster lists the remote instances the reference core knows.
type Roster struct {
	Network   RosterNetwork    `json:"network"`
	Instances []RosterInstance `json:"instances"`
}

// RosterNetwork is the local user's network login.
type RosterNetwork struct {
	Name        string `json:"name"`
	LocalUserID string `json:"local_user_id"`
}

// RosterInstance is one simulated remote instance.
type RosterInstance struct {
	UserID     string `json:"user_id"`
	InstanceID string `json:"instance_id"`
	Name       string `json:"name"`

	// AutoOffer makes the peer offer access from the start.
	AutoOffer bool `json:"auto_offer"`

	// AutoRequest makes the peer request access from the start.
	AutoRequest bool `json:"auto_request"`
}

// Path returns the consent path of instance on the roster's network.
func (r *Roster) Path(instance RosterInstance) consent.Path {
	return consent.Path{
		Network:    consent.Network{Name: r.Network.Name, LocalUserID: r.Network.LocalUserID},
		UserID:     instance.UserID,
		InstanceID: instance.InstanceID,
	}
}

// ParseRoster strips JSONC comments and trailing commas from data and
// decodes the roster.
func ParseRoster(data []byte) (*Roster, error) {
	var roster Roster
	if err := json.Unmarshal(jsonc.ToJSON(data), &roster); err != nil {
		return nil, fmt.Errorf("parsing roster: %w", err)
	}
	if err := roster.Validate(); err != nil {
		return nil, err
	}
	return &roster, nil
}

// LoadRoster reads and parses a JSONC roster file.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading roster %s: %w", path, err)
	}
	roster, err := ParseRoster(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return roster, nil
}

// Validate checks that every instance has a complete, unique path.
func (r *Roster) Validate() error {
	var errs []error
	seen := make(map[consent.Path]bool, len(r.Instances))
	for index, instance := range r.Instances {
		path := r.Path(instance)
		if err := path.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("instances[%d]: %w", index, err))
			continue
		}
		if seen[path] {
			errs = append(errs, fmt.Errorf("instances[%d]: duplicate instance %s", index, path))
		}
		seen[path] = true
	}
	return errors.Join(errs...)
}
