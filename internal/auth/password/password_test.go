package password

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	hash, err := Hash("s3cret")
	require.NoError(t, err)
	require.NotEqual(t, "s3cret", hash)

	require.True(t, Verify("s3cret", hash))
	require.False(t, Verify("other", hash))
	require.False(t, Verify("", hash))
	require.False(t, Verify("s3cret", ""))

	_, err = Hash("")
	require.Error(t, err)
}

func TestRandomToken(t *testing.T) {
	a, err := RandomToken(ClientSecretBytes)
	require.NoError(t, err)
	b, err := RandomToken(ClientSecretBytes)
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	raw, err := base64.RawURLEncoding.DecodeString(a)
	require.NoError(t, err)
	require.Len(t, raw, ClientSecretBytes)
}
