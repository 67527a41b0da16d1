// Package privacy provides masking helpers for personally identifying
// values. Every log line that carries a contact address must go through
// MaskAddress before emission.
package privacy

import "strings"

// visibleSuffix is how many trailing characters of an address stay readable.
const visibleSuffix = 4

// MaskAddress hides all but the last few characters of a phone number or
// similar address. Short values are masked entirely.
func MaskAddress(addr string) string {
	if addr == "" {
		return ""
	}
	if len(addr) <= visibleSuffix {
		return strings.Repeat("*", len(addr))
	}
	return strings.Repeat("*", len(addr)-visibleSuffix) + addr[len(addr)-visibleSuffix:]
}
