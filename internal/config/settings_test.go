package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeSettings(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.yml"), []byte(body), 0o600))
}

func TestSettingsHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, `
enabled: true
meta_app_id: app
meta_app_secret: secret
verify_token: verify
oauth_secret: signing
access_token_ttl: 10m
`)

	h, err := NewSettingsHolder(Config{SettingsDir: dir}, nil)
	require.NoError(t, err)

	s := h.Get()
	require.True(t, s.Enabled)
	require.Equal(t, "signing", s.OAuthSecret)
	require.Equal(t, 10*time.Minute, s.AccessTokenTTL)
	require.Equal(t, 2592000*time.Second, s.RefreshTokenTTL)
	require.Equal(t, 0.03, s.CallRatePerMinute)
}

func TestSettingsHolderRejectsIncompleteEnabledSettings(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, "enabled: true\nmeta_app_id: app\n")

	_, err := NewSettingsHolder(Config{SettingsDir: dir}, nil)
	require.ErrorIs(t, err, ErrSettingsIncomplete)
}

func TestSettingsHolderReloadKeepsPreviousOnInvalid(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, "oauth_secret: first\n")

	h, err := NewSettingsHolder(Config{SettingsDir: dir}, nil)
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen []string
	)
	h.OnChange(func(s Settings) {
		mu.Lock()
		seen = append(seen, s.OAuthSecret)
		mu.Unlock()
	})

	writeSettings(t, dir, "oauth_secret: second\n")
	require.NoError(t, h.Reload())
	require.Equal(t, "second", h.Get().OAuthSecret)

	writeSettings(t, dir, "oauth_secret: third\nretention_days: -1\n")
	require.ErrorIs(t, h.Reload(), ErrSettingsInvalid)
	require.Equal(t, "second", h.Get().OAuthSecret)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, seen, "second")
	require.NotContains(t, seen, "third")
}

func TestStaticSettingsSetNotifies(t *testing.T) {
	h := NewStaticSettings(DefaultSettings())

	called := 0
	h.OnChange(func(Settings) { called++ })

	next := DefaultSettings()
	next.OAuthSecret = "rotated"
	require.NoError(t, h.Set(next))
	require.Equal(t, 1, called)
	require.Equal(t, "rotated", h.Get().OAuthSecret)

	next.AccessTokenTTL = 0
	require.ErrorIs(t, h.Set(next), ErrSettingsInvalid)
	require.Equal(t, 1, called)
}
