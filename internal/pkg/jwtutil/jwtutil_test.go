package jwtutil_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherchat/internal/pkg/jwtutil"
)

const secret = "test-secret-key-with-32-chars!!"

func TestGenerateAndParse(t *testing.T) {
	userID := uuid.New()

	token, err := jwtutil.GenerateToken(secret, 15*time.Minute, userID, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := jwtutil.ParseToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "alice", claims.Username)
}

func TestParseToken_Rejects(t *testing.T) {
	userID := uuid.New()

	t.Run("wrong secret", func(t *testing.T) {
		token, err := jwtutil.GenerateToken(secret, time.Minute, userID, "alice")
		require.NoError(t, err)

		_, err = jwtutil.ParseToken("another-secret-another-secret!!", token)
		assert.ErrorIs(t, err, jwtutil.ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := jwtutil.GenerateToken(secret, -time.Minute, userID, "alice")
		require.NoError(t, err)

		_, err = jwtutil.ParseToken(secret, token)
		assert.ErrorIs(t, err, jwtutil.ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := jwtutil.ParseToken(secret, "not.a.token")
		assert.ErrorIs(t, err, jwtutil.ErrInvalidToken)
	})
}
