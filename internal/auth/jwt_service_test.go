package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateAccessToken(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{
		Secret: "test-secret",
		Issuer: "pathlight",
	})
	require.NoError(t, err)

	token, err := svc.GenerateAccessToken(AccessTokenInput{
		PrincipalID: "dddddddd-0000-0000-0000-000000000001",
		Service:     "pathlight-web",
	})
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, "dddddddd-0000-0000-0000-000000000001", claims.PrincipalID)
	require.Equal(t, "pathlight-web", claims.Service)
	require.Equal(t, "pathlight", claims.Issuer)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	issuer, err := NewJWTService(JWTConfig{
		Secret:         "test-secret",
		AccessTokenTTL: time.Minute,
		Clock:          func() time.Time { return past },
	})
	require.NoError(t, err)

	token, err := issuer.GenerateAccessToken(AccessTokenInput{PrincipalID: "p1"})
	require.NoError(t, err)

	verifier, err := NewJWTService(JWTConfig{Secret: "test-secret"})
	require.NoError(t, err)

	_, err = verifier.ValidateAccessToken(token)
	require.Error(t, err)
}

func TestValidateRejectsWrongIssuerAndSecret(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: "test-secret", Issuer: "pathlight"})
	require.NoError(t, err)

	token, err := svc.GenerateAccessToken(AccessTokenInput{PrincipalID: "p1"})
	require.NoError(t, err)

	other, err := NewJWTService(JWTConfig{Secret: "test-secret", Issuer: "someone-else"})
	require.NoError(t, err)
	_, err = other.ValidateAccessToken(token)
	require.Error(t, err)

	forged, err := NewJWTService(JWTConfig{Secret: "wrong-secret", Issuer: "pathlight"})
	require.NoError(t, err)
	_, err = forged.ValidateAccessToken(token)
	require.Error(t, err)
}

func TestNewJWTServiceRequiresSecret(t *testing.T) {
	_, err := NewJWTService(JWTConfig{})
	require.Error(t, err)
}
