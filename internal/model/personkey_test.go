package model

import "testing"

func TestNormalizePersonKeyFoldsCaseAndWhitespace(t *testing.T) {
	first := NormalizePersonKey("  Kim  Min Su ", " 2024-0042 ")
	second := NormalizePersonKey("kim min su", "2024-0042")
	if first != second {
		t.Fatalf("expected %q and %q to normalize identically", first, second)
	}
	if first.Name != "kim min su" {
		t.Fatalf("unexpected normalized name %q", first.Name)
	}
	if first.RecordNumber != "2024-0042" {
		t.Fatalf("unexpected normalized record number %q", first.RecordNumber)
	}
}

func TestNormalizePersonKeyDistinguishesRecordNumbers(t *testing.T) {
	first := NormalizePersonKey("Kim Min Su", "1001")
	second := NormalizePersonKey("Kim Min Su", "1002")
	if first == second {
		t.Fatalf("same name with different record numbers must not share a key")
	}
}

func TestPersonKeyIsZero(t *testing.T) {
	if !NormalizePersonKey("", "").IsZero() {
		t.Fatalf("empty inputs should produce a zero key")
	}
	if NormalizePersonKey("someone", "").IsZero() {
		t.Fatalf("a named key is not zero")
	}
}
