package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stpericial/stpericial-backend/pkg/config"
	apperrors "github.com/stpericial/stpericial-backend/pkg/errors"
)

func newManager() *Manager {
	return NewManager(&config.JWTConfig{Secret: "test-secret", Issuer: "stpericial"})
}

var ana = UserInfo{ID: "u-expert", Email: "ana.souza@stpericial.local", Name: "Dra. Ana Souza", Role: "perito"}

func TestIssueAndValidate(t *testing.T) {
	m := newManager()

	token, err := m.IssueAccessToken(ana, time.Minute)
	require.NoError(t, err)

	claims, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, ana.ID, claims.UserID)
	assert.Equal(t, ana.Email, claims.Email)
	assert.Equal(t, ana.Name, claims.Name)
	assert.Equal(t, ana.Role, claims.Role)
	assert.Equal(t, "stpericial", claims.Issuer)
}

func TestValidate_Expired(t *testing.T) {
	m := newManager()
	m.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, err := m.IssueAccessToken(ana, time.Minute)
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.ValidateAccessToken(token)
	assert.True(t, apperrors.Is(err, apperrors.ErrTokenExpired))
}

func TestValidate_Rejects(t *testing.T) {
	m := newManager()

	otherSecret := NewManager(&config.JWTConfig{Secret: "other", Issuer: "stpericial"})
	forged, err := otherSecret.IssueAccessToken(ana, time.Minute)
	require.NoError(t, err)

	otherIssuer := NewManager(&config.JWTConfig{Secret: "test-secret", Issuer: "elsewhere"})
	foreign, err := otherIssuer.IssueAccessToken(ana, time.Minute)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user_id": "u-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	anonymous, err := m.IssueAccessToken(UserInfo{Role: "perito"}, time.Minute)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":      "not-a-token",
		"wrong secret": forged,
		"wrong issuer": foreign,
		"alg none":     none,
		"no subject":   anonymous,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := m.ValidateAccessToken(token)
			assert.True(t, apperrors.Is(err, apperrors.ErrTokenInvalid), "got %v", err)
		})
	}
}
