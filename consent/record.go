// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package consent

// Record is the consent state between the local user and one remote
// instance. The zero Record means nobody has asked or offered anything.
type Record struct {
	// Getter role: the local user wants to proxy through the remote.
	LocalRequesting bool `cbor:"local_requesting"`
	RemoteOffering  bool `cbor:"remote_offering"`
	OfferIgnored    bool `cbor:"offer_ignored"`

	// Giver role: the remote wants to proxy through the local user.
	LocalOffering    bool `cbor:"local_offering"`
	RemoteRequesting bool `cbor:"remote_requesting"`
	RequestIgnored   bool `cbor:"request_ignored"`

	// Getting is set while a getter session through this instance is
	// active. Giving is set while the remote is proxying through us.
	Getting bool `cbor:"getting"`
	Giving  bool `cbor:"giving"`
}

// MutualGetterConsent reports whether a getter session may run: the
// remote offers and the local user requests.
func (r Record) MutualGetterConsent() bool {
	return r.RemoteOffering && r.LocalRequesting
}

// MutualGiverConsent reports whether the remote may proxy through us.
func (r Record) MutualGiverConsent() bool {
	return r.LocalOffering && r.RemoteRequesting
}

// OfferPending reports an offer the local user has neither accepted nor
// ignored.
func (r Record) OfferPending() bool {
	return r.RemoteOffering && !r.LocalRequesting && !r.OfferIgnored
}

// RequestPending reports a request the local user has neither granted
// nor ignored.
func (r Record) RequestPending() bool {
	return r.RemoteRequesting && !r.LocalOffering && !r.RequestIgnored
}

// Apply returns the record after action. When the action is illegal it
// returns r unchanged and a *PreconditionError with an empty Path.
//
// Cancelling a request also ends an active getter session, and
// cancelling an offer ends an active giving session; the caller is
// responsible for telling the core.
func (r Record) Apply(action Action) (Record, error) {
	next := r
	reject := func(reason string) (Record, error) {
		return r, &PreconditionError{Operation: action.String(), Reason: reason}
	}

	switch action {
	case ActionRequest:
		if r.LocalRequesting {
			return reject("already requesting access")
		}
		next.LocalRequesting = true
		// Requesting accepts any offer that had been ignored.
		next.OfferIgnored = false

	case ActionCancelRequest:
		if !r.LocalRequesting {
			return reject("not requesting access")
		}
		next.LocalRequesting = false
		next.Getting = false

	case ActionIgnoreOffer:
		switch {
		case !r.RemoteOffering:
			return reject("remote is not offering access")
		case r.LocalRequesting:
			return reject("offer already accepted")
		case r.OfferIgnored:
			return reject("offer already ignored")
		}
		next.OfferIgnored = true

	case ActionUnignoreOffer:
		if !r.OfferIgnored {
			return reject("offer is not ignored")
		}
		next.OfferIgnored = false

	case ActionOffer:
		if r.LocalOffering {
			return reject("already offering access")
		}
		next.LocalOffering = true
		next.RequestIgnored = false

	case ActionCancelOffer:
		if !r.LocalOffering {
			return reject("not offering access")
		}
		next.LocalOffering = false
		next.Giving = false

	case ActionIgnoreRequest:
		switch {
		case !r.RemoteRequesting:
			return reject("remote is not requesting access")
		case r.LocalOffering:
			return reject("request already granted")
		case r.RequestIgnored:
			return reject("request already ignored")
		}
		next.RequestIgnored = true

	case ActionUnignoreRequest:
		if !r.RequestIgnored {
			return reject("request is not ignored")
		}
		next.RequestIgnored = false

	default:
		return reject("unknown action")
	}
	return next, nil
}

// canStart checks the getter-session preconditions that depend only on
// this record.
func (r Record) canStart() string {
	switch {
	case r.Getting:
		return "already getting access from this instance"
	case !r.RemoteOffering:
		return "remote is not offering access"
	case !r.LocalRequesting:
		return "not requesting access"
	}
	return ""
}

// withRemote returns r with the remote halves replaced. An ignore flag
// is cleared when the thing it ignored is withdrawn, so a later offer
// or request prompts again.
func (r Record) withRemote(offering, requesting bool) Record {
	r.RemoteOffering = offering
	r.RemoteRequesting = requesting
	if !offering {
		r.OfferIgnored = false
	}
	if !requesting {
		r.RequestIgnored = false
	}
	return r
}
