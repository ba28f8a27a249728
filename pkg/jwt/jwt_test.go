package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	tests := []struct {
		name       string
		userID     string
		expiration time.Duration
		secret     string
		wantErr    bool
	}{
		{name: "valid token generation", userID: "user-123", expiration: 15 * time.Minute, secret: "test-secret-key-32-characters!"},
		{name: "long expiration", userID: "user-789", expiration: 24 * time.Hour, secret: "test-secret"},
		{name: "empty secret", userID: "user-1", expiration: time.Minute, secret: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := GenerateToken(tt.userID, tt.expiration, tt.secret)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Greater(t, len(token), 100)
		})
	}
}

func TestValidateToken(t *testing.T) {
	userID := "cli-user"
	secret := "validation-secret-key-32-chars"

	validToken, err := GenerateToken(userID, time.Hour, secret)
	require.NoError(t, err)
	expiredToken, err := GenerateToken(userID, -time.Hour, secret)
	require.NoError(t, err)
	refreshToken, err := GenerateRefreshToken(userID, time.Hour, secret)
	require.NoError(t, err)

	claims, err := ValidateToken(validToken, secret)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, userID, claims.Subject)

	failures := map[string]struct{ token, secret string }{
		"expired token":          {expiredToken, secret},
		"wrong secret":           {validToken, "wrong-secret"},
		"invalid token format":   {"invalid.token.format", secret},
		"empty token":            {"", secret},
		"refresh used as access": {refreshToken, secret},
	}
	for name, tc := range failures {
		t.Run(name, func(t *testing.T) {
			_, err := ValidateToken(tc.token, tc.secret)
			assert.Error(t, err)
		})
	}
}

func TestValidateRefreshToken(t *testing.T) {
	secret := "refresh-secret-key"
	refresh, err := GenerateRefreshToken("u", 7*24*time.Hour, secret)
	require.NoError(t, err)

	claims, err := ValidateRefreshToken(refresh, secret)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeRefresh, claims.TokenType)

	access, err := GenerateToken("u", time.Hour, secret)
	require.NoError(t, err)
	_, err = ValidateRefreshToken(access, secret)
	assert.ErrorIs(t, err, ErrWrongTokenType)
}

func TestClaimsTimestamps(t *testing.T) {
	expiration := time.Hour

	before := time.Now().Add(-time.Second)
	token, err := GenerateToken("timestamp-test-user", expiration, "timestamp-test-secret")
	require.NoError(t, err)
	after := time.Now().Add(time.Second)

	claims, err := ValidateToken(token, "timestamp-test-secret")
	require.NoError(t, err)

	assert.WithinRange(t, claims.IssuedAt.Time, before, after)
	assert.WithinRange(t, claims.NotBefore.Time, before, after)
	assert.WithinRange(t, claims.ExpiresAt.Time, before.Add(expiration), after.Add(expiration))
}

func BenchmarkValidateToken(b *testing.B) {
	secret := "benchmark-secret-key"
	token, _ := GenerateToken("benchmark-user", 15*time.Minute, secret)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ValidateToken(token, secret); err != nil {
			b.Fatalf("ValidateToken() error = %v", err)
		}
	}
}
