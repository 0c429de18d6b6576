package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-testing"

func sign(t *testing.T, method jwt.SigningMethod, claims Claims, key interface{}) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestGenerateToken_RoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		userID    string
		role      string
		wantAdmin bool
	}{
		{"user", "user-123", RoleUser, false},
		{"admin", "admin-1", RoleAdmin, true},
		{"uuid subject", "5f0c8e0a-3b7a-4f4e-9a55-0d6a5c2b9e11", RoleUser, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := GenerateToken(tt.userID, tt.role, testSecret, 24)
			require.NoError(t, err)

			claims, err := ParseToken(token, testSecret)
			require.NoError(t, err)
			assert.Equal(t, tt.userID, claims.UserID)
			assert.Equal(t, tt.userID, claims.Subject)
			assert.Equal(t, tt.role, claims.Role)
			assert.Equal(t, tt.wantAdmin, claims.IsAdmin())
			assert.WithinDuration(t, time.Now().Add(24*time.Hour), claims.ExpiresAt.Time, time.Minute)
		})
	}
}

func TestParseToken_SubjectFallback(t *testing.T) {
	token := sign(t, jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "external-user",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, []byte(testSecret))

	claims, err := ParseToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "external-user", claims.UserID)
	assert.False(t, claims.IsAdmin())
}

func TestParseToken_Rejects(t *testing.T) {
	valid, err := GenerateToken("user-123", RoleUser, testSecret, 24)
	require.NoError(t, err)

	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"empty", "", ErrInvalidToken},
		{"garbage", "invalid.token.string", ErrInvalidToken},
		{"wrong secret", sign(t, jwt.SigningMethodHS256, Claims{UserID: "user-123",
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future}}, []byte("wrong-secret")), ErrInvalidToken},
		{"no user", sign(t, jwt.SigningMethodHS256, Claims{
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future}}, []byte(testSecret)), ErrInvalidToken},
		{"none algorithm", sign(t, jwt.SigningMethodNone, Claims{UserID: "user-123", Role: RoleAdmin,
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future}}, jwt.UnsafeAllowNoneSignatureType), ErrInvalidToken},
		{"expired", sign(t, jwt.SigningMethodHS256, Claims{UserID: "user-123",
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))}},
			[]byte(testSecret)), ErrExpiredToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ParseToken(tt.token, testSecret)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, claims)
		})
	}

	_, err = ParseToken(valid, "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestErrors(t *testing.T) {
	assert.Equal(t, "invalid token", ErrInvalidToken.Error())
	assert.Equal(t, "token has expired", ErrExpiredToken.Error())
}
