// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
)

type samplePayload struct {
	Network  string `cbor:"network"`
	Instance string `cbor:"instance,omitempty"`
	Count    int    `cbor:"count"`
}

func TestMarshalDeterministic(t *testing.T) {
	payload := map[string]any{"b": 2, "a": 1, "c": "three"}

	first, err := Marshal(payload)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Marshal(payload)
		if err != nil {
			t.Fatalf("Marshal %d: %v", i, err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("deterministic encoding violated: %x != %x", first, again)
		}
	}
}

func TestStreamCarriesMultipleValues(t *testing.T) {
	values := []samplePayload{
		{Network: "gmail", Instance: "i-1", Count: 1},
		{Network: "facebook", Count: 2},
	}

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, value := range values {
		if err := encoder.Encode(value); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i, want := range values {
		var got samplePayload
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode %d: %v", i, err)
		}
		if got != want {
			t.Errorf("value %d: got %+v, want %+v", i, got, want)
		}
	}
}

func TestMarshalRawNil(t *testing.T) {
	raw, err := MarshalRaw(nil)
	if err != nil {
		t.Fatalf("MarshalRaw(nil): %v", err)
	}
	if raw != nil {
		t.Errorf("MarshalRaw(nil) = %x, want nil", raw)
	}
}

func TestRawMessageDelaysDecoding(t *testing.T) {
	type envelope struct {
		Type    string     `cbor:"type"`
		Payload RawMessage `cbor:"payload"`
	}

	inner, err := MarshalRaw(samplePayload{Network: "gmail", Count: 3})
	if err != nil {
		t.Fatalf("MarshalRaw: %v", err)
	}
	data, err := Marshal(envelope{Type: "sample", Payload: inner})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var outer envelope
	if err := Unmarshal(data, &outer); err != nil {
		t.Fatalf("Unmarshal envelope: %v", err)
	}
	var decoded samplePayload
	if err := Unmarshal(outer.Payload, &decoded); err != nil {
		t.Fatalf("Unmarshal payload: %v", err)
	}
	if decoded.Network != "gmail" || decoded.Count != 3 {
		t.Errorf("decoded payload = %+v", decoded)
	}
}

func TestUnmarshalAnyUsesStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"nested": map[string]any{"key": "value"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	top, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if _, ok := top["nested"].(map[string]any); !ok {
		t.Errorf("nested type = %T, want map[string]any", top["nested"])
	}
}

func TestUnmarshalInvalidCBOR(t *testing.T) {
	var payload samplePayload
	if err := Unmarshal([]byte{0xFF, 0xFE, 0xFD}, &payload); err == nil {
		t.Error("Unmarshal should reject invalid CBOR")
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(map[string]any{"type": "launch_uproxy"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	notation, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(notation, `"launch_uproxy"`) {
		t.Errorf("notation %q does not contain the value", notation)
	}
}
