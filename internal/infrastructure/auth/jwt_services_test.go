package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParse(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		token, err := GenerateJWT("admin", "test-secret", time.Hour)
		require.NoError(t, err)

		subject, err := ParseSubject(token, "test-secret")
		require.NoError(t, err)
		assert.Equal(t, "admin", subject)
	})

	t.Run("empty secret refused", func(t *testing.T) {
		_, err := GenerateJWT("admin", "", time.Hour)
		assert.Error(t, err)
	})

	t.Run("wrong secret rejected", func(t *testing.T) {
		token, err := GenerateJWT("admin", "test-secret", time.Hour)
		require.NoError(t, err)

		_, err = ParseSubject(token, "other-secret")
		assert.Error(t, err)
	})

	t.Run("expired token rejected", func(t *testing.T) {
		token, err := GenerateJWT("admin", "test-secret", -time.Minute)
		require.NoError(t, err)

		_, err = ParseSubject(token, "test-secret")
		assert.Error(t, err)
	})
}
