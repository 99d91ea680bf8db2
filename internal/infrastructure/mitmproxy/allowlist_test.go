package mitmproxy

import "testing"

func TestAllowList_ExactMatch(t *testing.T) {
	al := NewAllowList([]string{"aistudio.google.com"})

	if !al.Allows("aistudio.google.com") {
		t.Fatal("expected exact match to be allowed")
	}
	if al.Allows("other.aistudio.google.com") {
		t.Fatal("exact pattern must not match a subdomain")
	}
}

func TestAllowList_LeadingWildcard(t *testing.T) {
	al := NewAllowList([]string{"*.googleapis.com"})

	if !al.Allows("generativelanguage.googleapis.com") {
		t.Fatal("expected subdomain to match the wildcard pattern")
	}
	if al.Allows("googleapis.com") {
		t.Fatal("wildcard pattern must not match the bare domain")
	}
	if al.Allows("evilgoogleapis.com") {
		t.Fatal("wildcard must match on a dot boundary, not an arbitrary suffix")
	}
}

func TestAllowList_NoMatch(t *testing.T) {
	al := NewAllowList([]string{"aistudio.google.com", "*.googleapis.com"})

	if al.Allows("example.com") {
		t.Fatal("unrelated host must not be allowed")
	}
}

func TestAllowList_Empty(t *testing.T) {
	al := NewAllowList(nil)
	if al.Allows("anything.com") {
		t.Fatal("an empty allow-list must allow nothing")
	}
}
