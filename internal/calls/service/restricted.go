package service

import "strings"

// Business calling is unavailable for these dialling codes. +1 is shared by
// the US, Canada and the rest of the NANP and is treated as restricted.
var restrictedPrefixes = []struct {
	prefix  string
	country string
}{
	{"+234", "NG"},
	{"+20", "EG"},
	{"+84", "VN"},
	{"+90", "TR"},
	{"+1", "US"},
}

// restrictedCountry expects a normalized E.164 number.
func restrictedCountry(e164 string) (string, bool) {
	for _, p := range restrictedPrefixes {
		if strings.HasPrefix(e164, p.prefix) {
			return p.country, true
		}
	}
	return "", false
}
