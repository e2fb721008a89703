// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestDeterministicEncoding(t *testing.T) {
	value := map[string]any{"zebra": 1, "apple": 2, "mango": 3}
	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("same logical value produced different encodings")
	}
}

func TestAnyDecodesToStringKeyedMap(t *testing.T) {
	encoded, err := Marshal(map[string]any{"outer": map[string]any{"inner": true}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded any
	if err := Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	outer, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if _, ok := outer["outer"].(map[string]any); !ok {
		t.Fatalf("nested type = %T, want map[string]any", outer["outer"])
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	encoded, err := Marshal(map[string]any{"known": "x", "unknown": 42})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var target struct {
		Known string `cbor:"known"`
	}
	if err := Unmarshal(encoded, &target); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if target.Known != "x" {
		t.Fatalf("Known = %q, want %q", target.Known, "x")
	}
}
