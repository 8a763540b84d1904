package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_RoundTrip(t *testing.T) {
	svc := NewAuthService("secret", time.Hour)

	token, err := svc.GenerateToken("ops", RoleModerator)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Operator)
	assert.Equal(t, RoleModerator, claims.Role)

	assert.NoError(t, svc.CheckPermission(claims, RoleViewer))
	assert.NoError(t, svc.CheckPermission(claims, RoleModerator))
	assert.ErrorIs(t, svc.CheckPermission(claims, RoleHost), ErrUnauthorized)
	assert.ErrorIs(t, svc.CheckPermission(nil, RoleViewer), ErrUnauthorized)
}

func TestAuthService_RejectsBadTokens(t *testing.T) {
	svc := NewAuthService("secret", time.Hour)
	other := NewAuthService("other-secret", time.Hour)

	token, err := other.GenerateToken("ops", RoleHost)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.ValidateToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.GenerateToken("ops", OperatorRole("root"))
	assert.Error(t, err)
}

func TestAuthService_ExpiredToken(t *testing.T) {
	svc := NewAuthService("secret", -time.Minute)

	token, err := svc.GenerateToken("ops", RoleHost)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}
