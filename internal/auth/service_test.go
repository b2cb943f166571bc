package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, now *time.Time) *Service {
	t.Helper()
	s, err := NewService("test-secret", time.Hour)
	require.NoError(t, err)
	if now != nil {
		s.now = func() time.Time { return *now }
	}
	return s
}

func TestNewService(t *testing.T) {
	t.Run("should require a secret", func(t *testing.T) {
		_, err := NewService("", time.Hour)
		assert.ErrorIs(t, err, ErrMissingSecret)
	})
}

func TestIssueAndVerify(t *testing.T) {
	t.Run("should round trip the account", func(t *testing.T) {
		s := newTestService(t, nil)

		token, err := s.Issue("alice")
		require.NoError(t, err)

		claims, err := s.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.Account)
		assert.Equal(t, "alice", claims.Subject)
	})

	t.Run("should accept a bearer prefix", func(t *testing.T) {
		s := newTestService(t, nil)
		token, err := s.Issue("alice")
		require.NoError(t, err)

		claims, err := s.Verify("Bearer " + token)
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.Account)
	})

	t.Run("should refuse empty accounts", func(t *testing.T) {
		_, err := newTestService(t, nil).Issue("  ")
		assert.ErrorIs(t, err, ErrMissingAccount)
	})

	t.Run("should report expiry", func(t *testing.T) {
		now := time.Now()
		s := newTestService(t, &now)
		token, err := s.Issue("alice")
		require.NoError(t, err)

		now = now.Add(2 * time.Hour)
		_, err = s.Verify(token)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("should reject tokens signed with another secret", func(t *testing.T) {
		other, err := NewService("other-secret", time.Hour)
		require.NoError(t, err)
		token, err := other.Issue("alice")
		require.NoError(t, err)

		_, err = newTestService(t, nil).Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("should reject unsigned tokens", func(t *testing.T) {
		claims := &Claims{
			Account: "alice",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    issuer,
				Subject:   "alice",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = newTestService(t, nil).Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("should reject garbage", func(t *testing.T) {
		s := newTestService(t, nil)
		for _, token := range []string{"", "Bearer ", "not-a-jwt"} {
			_, err := s.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken, token)
		}
	})
}
