package ident

import "testing"

func TestNewUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := New()
		if id == "" {
			t.Fatal("empty id")
		}
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestSystemClockUTC(t *testing.T) {
	now := SystemClock{}.Now()
	if now.Location() != nil && now.Location().String() != "UTC" {
		t.Errorf("expected UTC, got %s", now.Location())
	}
}
