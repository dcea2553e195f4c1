package meta

import "strings"

// NormalizeRecipient strips formatting from a phone number and returns its
// E.164 digits with a leading plus. ok is false when the result cannot be a
// phone number.
func NormalizeRecipient(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", false
		}
	}
	digits := b.String()
	// E.164 allows at most 15 digits; anything under 7 is not routable.
	if len(digits) < 7 || len(digits) > 15 || digits[0] == '0' {
		return "", false
	}
	return "+" + digits, true
}
