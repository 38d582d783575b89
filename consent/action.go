// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package consent

import "fmt"

// Action is a user action that changes a consent record.
type Action uint8

const (
	actionInvalid Action = iota

	// Getter role.
	ActionRequest
	ActionCancelRequest
	ActionIgnoreOffer
	ActionUnignoreOffer

	// Giver role.
	ActionOffer
	ActionCancelOffer
	ActionIgnoreRequest
	ActionUnignoreRequest
)

var actionNames = [...]string{
	actionInvalid:         "invalid",
	ActionRequest:         "request",
	ActionCancelRequest:   "cancel_request",
	ActionIgnoreOffer:     "ignore_offer",
	ActionUnignoreOffer:   "unignore_offer",
	ActionOffer:           "offer",
	ActionCancelOffer:     "cancel_offer",
	ActionIgnoreRequest:   "ignore_request",
	ActionUnignoreRequest: "unignore_request",
}

// Actions lists every valid action in declaration order.
func Actions() []Action {
	return []Action{
		ActionRequest, ActionCancelRequest, ActionIgnoreOffer, ActionUnignoreOffer,
		ActionOffer, ActionCancelOffer, ActionIgnoreRequest, ActionUnignoreRequest,
	}
}

func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// ParseAction returns the action with the given wire name.
func ParseAction(name string) (Action, error) {
	for action, actionName := range actionNames {
		if Action(action) != actionInvalid && actionName == name {
			return Action(action), nil
		}
	}
	return actionInvalid, fmt.Errorf("unknown consent action %q", name)
}

// MarshalText encodes the action by name.
func (a Action) MarshalText() ([]byte, error) {
	if a == actionInvalid || int(a) >= len(actionNames) {
		return nil, fmt.Errorf("cannot encode %s", a)
	}
	return []byte(actionNames[a]), nil
}

// UnmarshalText decodes an action name.
func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
