// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/bureau-foundation/peerproxy/wire"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouterInvokesHandlersInRegistrationOrder(t *testing.T) {
	router := NewRouter(discardLogger())
	var calls []string
	for _, name := range []string{"first", "second", "third"} {
		router.Register(wire.UpdateLaunchUproxy, func(*wire.Update) error {
			calls = append(calls, name)
			return nil
		})
	}
	router.Register(wire.UpdateCoreError, func(*wire.Update) error {
		calls = append(calls, "other type")
		return nil
	})

	invoked := router.Dispatch(&wire.Update{Type: wire.UpdateLaunchUproxy})
	if invoked != 3 {
		t.Fatalf("Dispatch invoked %d handlers, want 3", invoked)
	}
	want := []string{"first", "second", "third"}
	if !reflect.DeepEqual(calls, want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
}

func TestRouterIsolatesFailingHandlers(t *testing.T) {
	router := NewRouter(discardLogger())
	var calls []int
	router.Register(wire.UpdateStopGetting, func(*wire.Update) error {
		calls = append(calls, 1)
		return nil
	})
	router.Register(wire.UpdateStopGetting, func(*wire.Update) error {
		calls = append(calls, 2)
		panic("handler bug")
	})
	router.Register(wire.UpdateStopGetting, func(*wire.Update) error {
		calls = append(calls, 3)
		return errors.New("handler error")
	})
	router.Register(wire.UpdateStopGetting, func(*wire.Update) error {
		calls = append(calls, 4)
		return nil
	})

	router.Dispatch(&wire.Update{Type: wire.UpdateStopGetting})
	if want := []int{1, 2, 3, 4}; !reflect.DeepEqual(calls, want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
}

func TestRouterChangesDuringDispatchApplyToNextDispatch(t *testing.T) {
	router := NewRouter(discardLogger())
	var calls []string

	var late, victim *Registration
	router.Register(wire.UpdateInstanceConsent, func(*wire.Update) error {
		calls = append(calls, "mutator")
		if late == nil {
			late = router.Register(wire.UpdateInstanceConsent, func(*wire.Update) error {
				calls = append(calls, "late")
				return nil
			})
			victim.Close()
		}
		return nil
	})
	victim = router.Register(wire.UpdateInstanceConsent, func(*wire.Update) error {
		calls = append(calls, "victim")
		return nil
	})

	router.Dispatch(&wire.Update{Type: wire.UpdateInstanceConsent})
	if want := []string{"mutator", "victim"}; !reflect.DeepEqual(calls, want) {
		t.Fatalf("first dispatch calls = %v, want %v", calls, want)
	}

	calls = nil
	router.Dispatch(&wire.Update{Type: wire.UpdateInstanceConsent})
	if want := []string{"mutator", "late"}; !reflect.DeepEqual(calls, want) {
		t.Fatalf("second dispatch calls = %v, want %v", calls, want)
	}
}

func TestRegistrationCloseIsIdempotent(t *testing.T) {
	router := NewRouter(discardLogger())
	first := router.Register(wire.UpdateStartGiving, func(*wire.Update) error { return nil })
	router.Register(wire.UpdateStartGiving, func(*wire.Update) error { return nil })

	first.Close()
	first.Close()
	router.Unregister(first)

	if got := router.HandlerCount(wire.UpdateStartGiving); got != 1 {
		t.Fatalf("HandlerCount = %d, want 1", got)
	}
}

func TestRouterDispatchWithoutHandlers(t *testing.T) {
	router := NewRouter(discardLogger())
	if invoked := router.Dispatch(&wire.Update{Type: wire.UpdateCoreError}); invoked != 0 {
		t.Fatalf("Dispatch invoked %d handlers, want 0", invoked)
	}
}
