package util

import (
	"strings"
	"testing"
)

func TestNewIDIsPrefixedAndSortable(t *testing.T) {
	a := NewEventID()
	b := NewEventID()
	if !strings.HasPrefix(a, "evt_") {
		t.Fatalf("expected evt_ prefix, got %q", a)
	}
	if a == b {
		t.Fatalf("expected distinct ids")
	}
	if a[:14] > b[:14] {
		t.Fatalf("expected time prefix to be non-decreasing: %q then %q", a, b)
	}
}

func TestNormalizePhone(t *testing.T) {
	if got := NormalizePhone(" +1 555 0100 "); got != "+15550100" {
		t.Fatalf("got %q", got)
	}
}
