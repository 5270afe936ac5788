package network

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeAuthenticator(t *testing.T) {
	auth := NewChangeAuthenticator([]byte("secret"))
	require.True(t, auth.Enabled())

	token, err := auth.IssueToken("trust-layer", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/changes", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	subject, err := auth.Verify(req)
	require.NoError(t, err)
	assert.Equal(t, "trust-layer", subject)
}

func TestChangeAuthenticatorRejects(t *testing.T) {
	auth := NewChangeAuthenticator([]byte("secret"))
	other := NewChangeAuthenticator([]byte("other"))

	forged, err := other.IssueToken("x", time.Minute)
	require.NoError(t, err)
	expired, err := auth.IssueToken("x", -time.Minute)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "x"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"not bearer", "Basic abc"},
		{"wrong secret", "Bearer " + forged},
		{"expired", "Bearer " + expired},
		{"alg none", "Bearer " + none},
		{"garbage", "Bearer abc.def.ghi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/changes", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			_, err := auth.Verify(req)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestChangeAuthenticatorDisabled(t *testing.T) {
	var nilAuth *ChangeAuthenticator
	assert.False(t, nilAuth.Enabled())

	auth := NewChangeAuthenticator(nil)
	_, err := auth.IssueToken("x", time.Minute)
	assert.ErrorIs(t, err, ErrChangesDisabled)
	_, err = auth.Verify(httptest.NewRequest("POST", "/changes", nil))
	assert.ErrorIs(t, err, ErrChangesDisabled)
}
