package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"gopherchat/internal/ai"
	"gopherchat/internal/bootstrap"
	"gopherchat/internal/config"
	"gopherchat/internal/model"
	"gopherchat/internal/testutil"
	httptransport "gopherchat/internal/transport/http"
	"gopherchat/internal/transport/http/handler"
)

// scriptedProvider replies with fixed fragments. When gate is set it blocks
// after signalling entered until the gate is closed. A non-nil fail is
// returned once the fragments are out.
type scriptedProvider struct {
	chunks  []string
	fail    error
	entered chan struct{}
	gate    chan struct{}
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) StreamChat(ctx context.Context, _ ai.StreamRequest, onChunk func(string) error) (string, error) {
	if p.gate != nil {
		p.entered <- struct{}{}
		select {
		case <-p.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	full := ""
	for _, c := range p.chunks {
		full += c
		if err := onChunk(c); err != nil {
			return "", err
		}
	}
	if p.fail != nil {
		return full, p.fail
	}
	return full, nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	handler http.Handler
	db      *gorm.DB
}

func newTestServer(t *testing.T, provider ai.Provider, tweak ...func(*config.Config)) *testServer {
	t.Helper()
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "none.toml"))
	t.Setenv("GIN_MODE", "test")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := config.Load()
	require.NoError(t, err)
	for _, f := range tweak {
		f(cfg)
	}

	db := testutil.NewDB(t)
	app, err := bootstrap.Assemble(context.Background(), bootstrap.Resources{
		Config:   cfg,
		DB:       db,
		Provider: provider,
	})
	require.NoError(t, err)

	return &testServer{handler: httptransport.NewRouter(app), db: db}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	if out != nil {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return env
}

func (s *testServer) register(t *testing.T, name string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": name,
		"email":    name + "@example.com",
		"password": "password123",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var data struct {
		Token string `json:"token"`
	}
	decode(t, rec, &data)
	return data.Token
}

func (s *testServer) createChat(t *testing.T, token string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/chats", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var data struct {
		ID string `json:"id"`
	}
	decode(t, rec, &data)
	return data.ID
}

func (s *testServer) messageCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, s.db.Model(&model.Message{}).Count(&n).Error)
	return n
}

func TestExchange_StreamsAndPersistsReply(t *testing.T) {
	srv := newTestServer(t, &scriptedProvider{chunks: []string{"He", "llo"}})
	token := srv.register(t, "alice")
	chatID := srv.createChat(t, token)

	rec := srv.do(t, http.MethodPost, "/api/v1/chats/"+chatID+"/messages", token, map[string]string{"msg": "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Equal(t, "server", rec.Header().Get(handler.HeaderReplyPersistence))

	res := rec.Result()
	userID := res.Header.Get(handler.HeaderUserMessageID)
	assistantID := res.Trailer.Get(handler.TrailerAssistantMessageID)
	assert.Equal(t, "true", res.Trailer.Get(handler.TrailerReplyComplete))
	require.NotEmpty(t, userID)
	require.NotEmpty(t, assistantID)

	rec = srv.do(t, http.MethodGet, "/api/v1/chats/"+chatID+"/messages", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var messages []model.Message
	decode(t, rec, &messages)
	require.Len(t, messages, 2)
	assert.Equal(t, userID, messages[0].ID.String())
	assert.Equal(t, model.RoleUser, messages[0].Role)
	assert.Equal(t, "hello", messages[0].Content)
	assert.Equal(t, assistantID, messages[1].ID.String())
	assert.Equal(t, "Hello", messages[1].Content)
}

func TestExchange_LegacyAppendFlow(t *testing.T) {
	srv := newTestServer(t, &scriptedProvider{chunks: []string{"Hel", "lo"}}, func(c *config.Config) {
		c.Chat.PersistReply = false
	})
	token := srv.register(t, "alice")
	chatID := srv.createChat(t, token)

	rec := srv.do(t, http.MethodPost, "/api/v1/chats/"+chatID+"/messages", token, map[string]string{"msg": "hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello", rec.Body.String())
	assert.Empty(t, rec.Result().Trailer.Get(handler.TrailerAssistantMessageID))
	assert.Equal(t, "true", rec.Result().Trailer.Get(handler.TrailerReplyComplete))
	assert.Equal(t, "client", rec.Header().Get(handler.HeaderReplyPersistence))
	assert.EqualValues(t, 1, srv.messageCount(t))

	rec = srv.do(t, http.MethodPost, "/api/v1/chats/"+chatID+"/messages/assistant", token, map[string]string{"content": "Hello"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var msg model.Message
	decode(t, rec, &msg)
	assert.Equal(t, model.RoleAssistant, msg.Role)
	assert.Equal(t, chatID, msg.ChatID.String())
	assert.Equal(t, "Hello", msg.Content)
}

func TestExchange_MidStreamFailureIsNotMarkedComplete(t *testing.T) {
	for _, persistReply := range []bool{true, false} {
		provider := &scriptedProvider{chunks: []string{"Hel"}, fail: errors.New("upstream dropped")}
		srv := newTestServer(t, provider, func(c *config.Config) {
			c.Chat.PersistReply = persistReply
		})
		token := srv.register(t, "alice")
		chatID := srv.createChat(t, token)

		rec := srv.do(t, http.MethodPost, "/api/v1/chats/"+chatID+"/messages", token, map[string]string{"msg": "hello"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Hel", rec.Body.String())

		res := rec.Result()
		assert.NotEmpty(t, res.Header.Get(handler.HeaderUserMessageID))
		assert.Empty(t, res.Trailer.Get(handler.TrailerReplyComplete), "persistReply=%v", persistReply)
		assert.Empty(t, res.Trailer.Get(handler.TrailerAssistantMessageID))
		assert.EqualValues(t, 1, srv.messageCount(t))
	}
}

func TestChats_ListAndGet(t *testing.T) {
	srv := newTestServer(t, &scriptedProvider{})
	alice := srv.register(t, "alice")
	bob := srv.register(t, "bob")

	first := srv.createChat(t, alice)
	rec := srv.do(t, http.MethodPost, "/api/v1/chats", alice, map[string]string{"display_name": "Second"})
	require.Equal(t, http.StatusOK, rec.Code)
	srv.createChat(t, bob)

	rec = srv.do(t, http.MethodGet, "/api/v1/chats", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var chats []model.Chat
	decode(t, rec, &chats)
	require.Len(t, chats, 2)
	assert.Equal(t, first, chats[0].ID.String())
	assert.Equal(t, model.DefaultChatName, chats[0].DisplayName)
	assert.Equal(t, "Second", chats[1].DisplayName)

	rec = srv.do(t, http.MethodGet, "/api/v1/chats/"+first, bob, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/v1/auth/me", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me struct {
		Username string `json:"username"`
	}
	decode(t, rec, &me)
	assert.Equal(t, "alice", me.Username)
}

func TestUnauthenticatedRequestsAreRejected(t *testing.T) {
	srv := newTestServer(t, &scriptedProvider{chunks: []string{"x"}})
	chatID := uuid.NewString()

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/chats"},
		{http.MethodPost, "/api/v1/chats"},
		{http.MethodGet, "/api/v1/chats/" + chatID},
		{http.MethodGet, "/api/v1/chats/" + chatID + "/messages"},
		{http.MethodPost, "/api/v1/chats/" + chatID + "/messages"},
		{http.MethodPost, "/api/v1/chats/" + chatID + "/messages/assistant"},
	} {
		rec := srv.do(t, tc.method, tc.path, "", map[string]string{"msg": "hi", "content": "hi"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, tc.path)
	}

	rec := srv.do(t, http.MethodGet, "/api/v1/chats", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var chats int64
	require.NoError(t, srv.db.Model(&model.Chat{}).Count(&chats).Error)
	assert.Zero(t, chats)
	assert.Zero(t, srv.messageCount(t))
}

func TestMalformedChatIDIsBadRequest(t *testing.T) {
	srv := newTestServer(t, &scriptedProvider{chunks: []string{"x"}})
	token := srv.register(t, "alice")

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/chats/not-a-uuid"},
		{http.MethodGet, "/api/v1/chats/not-a-uuid/messages"},
		{http.MethodPost, "/api/v1/chats/not-a-uuid/messages"},
		{http.MethodPost, "/api/v1/chats/not-a-uuid/messages/assistant"},
	} {
		rec := srv.do(t, tc.method, tc.path, token, map[string]string{"msg": "hi", "content": "hi"})
		assert.Equal(t, http.StatusBadRequest, rec.Code, tc.path)
	}
	assert.Zero(t, srv.messageCount(t))
}

func TestAppendOnForeignChatIsNotFound(t *testing.T) {
	srv := newTestServer(t, &scriptedProvider{})
	alice := srv.register(t, "alice")
	bob := srv.register(t, "bob")
	chatID := srv.createChat(t, alice)

	rec := srv.do(t, http.MethodPost, "/api/v1/chats/"+chatID+"/messages/assistant", bob, map[string]string{"content": "Hello"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/v1/chats/"+chatID+"/messages", bob, map[string]string{"msg": "hello"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, srv.messageCount(t))
}

func TestConcurrentSubmissionIsConflict(t *testing.T) {
	provider := &scriptedProvider{
		chunks:  []string{"done"},
		entered: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	srv := newTestServer(t, provider)
	token := srv.register(t, "alice")
	chatID := srv.createChat(t, token)
	path := "/api/v1/chats/" + chatID + "/messages"

	firstDone := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		firstDone <- srv.do(t, http.MethodPost, path, token, map[string]string{"msg": "one"})
	}()

	select {
	case <-provider.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first exchange never reached the provider")
	}

	rec := srv.do(t, http.MethodPost, path, token, map[string]string{"msg": "two"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(provider.gate)
	first := <-firstDone
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "done", first.Body.String())
	assert.EqualValues(t, 2, srv.messageCount(t))
}

func TestBlankMessageIsBadRequest(t *testing.T) {
	srv := newTestServer(t, &scriptedProvider{chunks: []string{"x"}})
	token := srv.register(t, "alice")
	chatID := srv.createChat(t, token)

	rec := srv.do(t, http.MethodPost, "/api/v1/chats/"+chatID+"/messages", token, map[string]string{"msg": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/v1/chats/"+chatID+"/messages", token, map[string]int{"msg": 3})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, srv.messageCount(t))
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &scriptedProvider{})
	rec := srv.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"llm_provider":"scripted"`)
}
