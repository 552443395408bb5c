package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherchat/internal/model"
	"gopherchat/internal/repository"
	"gopherchat/internal/testutil"
)

func TestChatRepository_ListByOwnerID(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewChatRepository(testutil.NewDB(t))

	alice, bob := uuid.New(), uuid.New()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	// inserted out of creation order on purpose
	for _, c := range []*model.Chat{
		{OwnerID: alice, DisplayName: "third", CreatedAt: base.Add(2 * time.Minute)},
		{OwnerID: bob, DisplayName: "bob's", CreatedAt: base},
		{OwnerID: alice, DisplayName: "first", CreatedAt: base},
		{OwnerID: alice, DisplayName: "second", CreatedAt: base.Add(time.Minute)},
	} {
		require.NoError(t, repo.Create(ctx, c))
	}

	chats, err := repo.ListByOwnerID(ctx, alice)
	require.NoError(t, err)
	require.Len(t, chats, 3)
	for i, name := range []string{"first", "second", "third"} {
		assert.Equal(t, name, chats[i].DisplayName)
		assert.Equal(t, alice, chats[i].OwnerID)
	}

	none, err := repo.ListByOwnerID(ctx, uuid.New())
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestChatRepository_GetByIDAndOwnerID(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewChatRepository(testutil.NewDB(t))

	owner := uuid.New()
	chat := &model.Chat{OwnerID: owner}
	require.NoError(t, repo.Create(ctx, chat))
	assert.Equal(t, model.DefaultChatName, chat.DisplayName)

	got, err := repo.GetByIDAndOwnerID(ctx, chat.ID, owner)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, chat.ID, got.ID)

	got, err = repo.GetByIDAndOwnerID(ctx, chat.ID, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = repo.GetByIDAndOwnerID(ctx, uuid.New(), owner)
	require.NoError(t, err)
	assert.Nil(t, got)
}
