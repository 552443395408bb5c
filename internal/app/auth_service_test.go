package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherchat/internal/pkg/jwtutil"
	"gopherchat/internal/repository"
	"gopherchat/internal/testutil"
)

const testSecret = "unit-test-secret-0123456789"

func TestAuthService_RegisterLoginMe(t *testing.T) {
	ctx := context.Background()
	svc := NewAuthService(repository.NewUserRepository(testutil.NewDB(t)), testSecret, time.Hour)

	reg, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "Alice@Example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", reg.User.Email)
	assert.NotEqual(t, "password123", reg.User.PasswordHash)

	claims, err := jwtutil.ParseToken(testSecret, reg.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, claims.UserID)

	_, err = svc.Register(ctx, RegisterInput{Username: "alice", Email: "other@example.com", Password: "password123"})
	assert.ErrorIs(t, err, ErrUsernameExists)
	_, err = svc.Register(ctx, RegisterInput{Username: "alice2", Email: "alice@example.com", Password: "password123"})
	assert.ErrorIs(t, err, ErrEmailExists)
	_, err = svc.Register(ctx, RegisterInput{Username: "bob", Email: "bob@example.com", Password: "short"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	login, err := svc.Login(ctx, LoginInput{Username: "alice", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, login.User.ID)

	_, err = svc.Login(ctx, LoginInput{Username: "alice", Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrInvalidCredential)
	_, err = svc.Login(ctx, LoginInput{Username: "nobody", Password: "password123"})
	assert.ErrorIs(t, err, ErrInvalidCredential)

	me, err := svc.Me(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", me.Username)

	_, err = svc.Me(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrUnauthorized)
}
