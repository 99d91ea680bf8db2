package mitmproxy

import "strings"

// AllowList matches a CONNECT target host against a small set of
// patterns (spec §4.3: "exact or leading-wildcard"). A pattern like
// "*.googleapis.com" matches any subdomain but not the bare domain
// itself; a pattern with no leading "*." must match exactly.
type AllowList struct {
	exact    map[string]struct{}
	wildcard []string // suffix, without the leading "*"
}

// NewAllowList builds an AllowList from the configured host patterns.
func NewAllowList(patterns []string) *AllowList {
	al := &AllowList{exact: make(map[string]struct{})}
	for _, p := range patterns {
		if strings.HasPrefix(p, "*.") {
			al.wildcard = append(al.wildcard, p[1:]) // keep the leading dot
		} else {
			al.exact[p] = struct{}{}
		}
	}
	return al
}

// Allows reports whether host should be intercepted.
func (al *AllowList) Allows(host string) bool {
	if _, ok := al.exact[host]; ok {
		return true
	}
	for _, suffix := range al.wildcard {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}
