package client

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherchat/internal/model"
)

type stubAPI struct {
	chunks   []string
	result   StreamResult
	err      error
	appended []string
	during   func()
}

func (s *stubAPI) GetMessages(context.Context, uuid.UUID) ([]model.Message, error) {
	return nil, nil
}

func (s *stubAPI) SendMessage(_ context.Context, _ uuid.UUID, _ string, onChunk func(string)) (*StreamResult, error) {
	res := s.result
	for _, c := range s.chunks {
		onChunk(c)
		res.Reply += c
		if s.during != nil {
			s.during()
		}
	}
	return &res, s.err
}

func (s *stubAPI) AppendAssistantMessage(_ context.Context, chatID uuid.UUID, content string) (*model.Message, error) {
	s.appended = append(s.appended, content)
	return &model.Message{ID: uuid.New(), ChatID: chatID, Role: model.RoleAssistant, Content: content}, nil
}

func TestSubmit_OptimisticInsertAndPlaceholder(t *testing.T) {
	userID := uuid.New()
	api := &stubAPI{chunks: []string{"a", "b"}, result: StreamResult{UserMessageID: userID, ServerPersisted: true, Complete: true}}
	conv := NewConversation(api, uuid.New())

	var snapshots [][]LocalMessage
	api.during = func() { snapshots = append(snapshots, conv.Messages()) }
	api.result.AssistantMessageID = uuid.New()

	require.NoError(t, conv.Submit(context.Background(), "q", nil))

	require.Len(t, snapshots, 2)
	assert.Equal(t, "a", snapshots[0][1].Content)
	assert.True(t, snapshots[0][1].Pending)
	assert.True(t, snapshots[0][0].Pending)
	assert.Equal(t, "temp-1", snapshots[0][0].ID)
	assert.Equal(t, "ab", snapshots[1][1].Content)

	final := conv.Messages()
	assert.Equal(t, userID.String(), final[0].ID)
	assert.Equal(t, api.result.AssistantMessageID.String(), final[1].ID)
	assert.Equal(t, "ab", final[1].Content)
}

func TestSubmit_FailureKeepsPartialPlaceholder(t *testing.T) {
	userID := uuid.New()
	api := &stubAPI{
		chunks: []string{"par"},
		result: StreamResult{UserMessageID: userID, ServerPersisted: true},
		err:    errors.New("connection reset"),
	}
	conv := NewConversation(api, uuid.New())

	err := conv.Submit(context.Background(), "q", nil)
	require.Error(t, err)

	local := conv.Messages()
	require.Len(t, local, 2)
	assert.Equal(t, userID.String(), local[0].ID)
	assert.False(t, local[0].Pending)
	assert.Equal(t, "par", local[1].Content)
	assert.True(t, local[1].Pending)
}

func TestSubmit_ServerModeWithoutTrailerIsIncomplete(t *testing.T) {
	api := &stubAPI{chunks: []string{"cut"}, result: StreamResult{UserMessageID: uuid.New(), ServerPersisted: true}}
	conv := NewConversation(api, uuid.New())

	err := conv.Submit(context.Background(), "q", nil)
	assert.ErrorIs(t, err, ErrReplyIncomplete)
	assert.Empty(t, api.appended)
	assert.True(t, conv.Messages()[1].Pending)
}

func TestSubmit_ClientModeAppendsReply(t *testing.T) {
	api := &stubAPI{chunks: []string{"He", "llo"}, result: StreamResult{UserMessageID: uuid.New(), Complete: true}}
	conv := NewConversation(api, uuid.New())

	require.NoError(t, conv.Submit(context.Background(), "q", nil))
	assert.Equal(t, []string{"Hello"}, api.appended)
	assert.False(t, conv.Messages()[1].Pending)
}

func TestSubmit_ClientModeCutStreamIsNotAppended(t *testing.T) {
	api := &stubAPI{chunks: []string{"Hel"}, result: StreamResult{UserMessageID: uuid.New()}}
	conv := NewConversation(api, uuid.New())

	err := conv.Submit(context.Background(), "q", nil)
	assert.ErrorIs(t, err, ErrReplyIncomplete)
	assert.Empty(t, api.appended)
	local := conv.Messages()
	assert.Equal(t, "Hel", local[1].Content)
	assert.True(t, local[1].Pending)
}

func TestSubmit_RejectsOverlap(t *testing.T) {
	api := &stubAPI{chunks: []string{"x"}, result: StreamResult{ServerPersisted: true, AssistantMessageID: uuid.New(), Complete: true}}
	conv := NewConversation(api, uuid.New())

	var nested error
	api.during = func() { nested = conv.Submit(context.Background(), "again", nil) }
	require.NoError(t, conv.Submit(context.Background(), "q", nil))
	assert.ErrorIs(t, nested, ErrBusy)
	assert.Len(t, conv.Messages(), 2)
}
