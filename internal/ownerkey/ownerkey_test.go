package ownerkey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIssueVerify_RoundTrip(t *testing.T) {
	secret, token, err := Issue()
	require.NoError(t, err)
	require.NotEmpty(t, secret)
	require.NotEmpty(t, token)

	require.True(t, Verify(secret, token))
}

func TestVerify_ForeignToken(t *testing.T) {
	secretA, _, err := Issue()
	require.NoError(t, err)
	_, tokenB, err := Issue()
	require.NoError(t, err)

	require.False(t, Verify(secretA, tokenB))
}

func TestVerify_NeverPanics(t *testing.T) {
	secret, token, err := Issue()
	require.NoError(t, err)

	require.False(t, Verify(nil, token))
	require.False(t, Verify(secret, ""))
	require.False(t, Verify(secret, "not base64 at all!"))
	require.False(t, Verify(secret, "bm90IGEga2V5"))
	require.False(t, Verify([]byte("garbage secret"), token))
}
