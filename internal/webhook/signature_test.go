package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account"}`)
	good := Sign("secret", body)

	tests := []struct {
		name   string
		secret string
		header string
		want   bool
	}{
		{name: "valid", secret: "secret", header: good, want: true},
		{name: "wrong secret", secret: "other", header: good},
		{name: "missing prefix", secret: "secret", header: good[len("sha256="):]},
		{name: "empty header", secret: "secret"},
		{name: "no secret configured", header: Sign("", body)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifySignature(tt.secret, body, tt.header))
		})
	}
}
