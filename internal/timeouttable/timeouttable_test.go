package timeouttable

import (
	"testing"
	"time"
)

func TestParseSingleEntry(t *testing.T) {
	tab, err := Parse("100:5000")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	p, ok := tab.Lookup(0x100)
	if !ok || p != 5*time.Millisecond {
		t.Fatalf("Lookup(0x100) = %v, %v", p, ok)
	}
}

func TestParseMultipleEntries(t *testing.T) {
	tab, err := Parse("7ff:1000, 0x123:2500")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tab.Len() != 2 {
		t.Fatalf("Len = %d, want 2", tab.Len())
	}
	p, ok := tab.Lookup(0x123)
	if !ok || p != 2500*time.Microsecond {
		t.Fatalf("Lookup(0x123) = %v, %v", p, ok)
	}
}

func TestParseEmptyString(t *testing.T) {
	tab, err := Parse("")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tab.Len() != 0 {
		t.Fatalf("Len = %d, want 0", tab.Len())
	}
}

func TestParseMalformedEntry(t *testing.T) {
	if _, err := Parse("not-a-pair"); err == nil {
		t.Fatal("expected error for malformed entry")
	}
	if _, err := Parse("100:not-a-number"); err == nil {
		t.Fatal("expected error for malformed period")
	}
}

func TestLookupMiss(t *testing.T) {
	tab := New()
	if _, ok := tab.Lookup(0x42); ok {
		t.Fatal("expected miss on empty table")
	}
}

func TestSetOverwrites(t *testing.T) {
	tab := New()
	tab.Set(1, time.Millisecond)
	tab.Set(1, 2*time.Millisecond)
	p, _ := tab.Lookup(1)
	if p != 2*time.Millisecond {
		t.Fatalf("Lookup(1) = %v, want 2ms", p)
	}
}
