package oauth2provider

import (
	"strings"
	"time"

	"github.com/smallbiznis/walue/internal/config"
)

// Config is the slice of runtime settings the provider reads per call.
type Config struct {
	SigningKey []byte
	CodeTTL    time.Duration
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// configFrom falls back to the webhook verify token when no dedicated
// signing secret is set, matching existing tenant integrations.
func configFrom(s config.Settings) Config {
	key := strings.TrimSpace(s.OAuthSecret)
	if key == "" {
		key = strings.TrimSpace(s.VerifyToken)
	}
	return Config{
		SigningKey: []byte(key),
		CodeTTL:    s.AuthCodeTTL,
		AccessTTL:  s.AccessTokenTTL,
		RefreshTTL: s.RefreshTokenTTL,
	}
}
