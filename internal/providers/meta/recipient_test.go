package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRecipient(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"+62 812-3456-789", "+628123456789", true},
		{"628123456789", "+628123456789", true},
		{"(+1) 415 555 0100", "", false},
		{"+1 (415) 555-0100", "+14155550100", true},
		{"0812345678", "", false},
		{"+12", "", false},
		{"+62abc", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizeRecipient(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}
