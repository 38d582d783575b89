// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package consent

import (
	"fmt"
	"strings"
)

// Network identifies the local user's login on one social network.
type Network struct {
	Name        string `cbor:"name"`
	LocalUserID string `cbor:"local_user_id"`
}

// Path identifies one instance of a remote peer on a network. Paths
// are comparable and used as map keys.
type Path struct {
	Network    Network `cbor:"network"`
	UserID     string  `cbor:"user_id"`
	InstanceID string  `cbor:"instance_id"`
}

// String renders the path for logs.
func (p Path) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", p.Network.Name, p.Network.LocalUserID, p.UserID, p.InstanceID)
}

// ParsePath parses the network/local_user/user/instance form produced
// by String.
func ParsePath(value string) (Path, error) {
	parts := strings.Split(value, "/")
	if len(parts) != 4 {
		return Path{}, fmt.Errorf("consent path %q: want network/local_user/user/instance", value)
	}
	path := Path{
		Network:    Network{Name: parts[0], LocalUserID: parts[1]},
		UserID:     parts[2],
		InstanceID: parts[3],
	}
	if err := path.Validate(); err != nil {
		return Path{}, err
	}
	return path, nil
}

// Validate reports a path with any empty component.
func (p Path) Validate() error {
	switch {
	case p.Network.Name == "":
		return fmt.Errorf("consent path %s: network name is empty", p)
	case p.Network.LocalUserID == "":
		return fmt.Errorf("consent path %s: local user id is empty", p)
	case p.UserID == "":
		return fmt.Errorf("consent path %s: remote user id is empty", p)
	case p.InstanceID == "":
		return fmt.Errorf("consent path %s: instance id is empty", p)
	}
	return nil
}

// Endpoint is the local proxy address the core opened for a getter
// session.
type Endpoint struct {
	Address string `cbor:"address"`
	Port    int    `cbor:"port"`
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Address, e.Port)
}
