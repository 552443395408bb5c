// Package client talks to the chat API and keeps a local, optimistically
// updated copy of a conversation.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"gopherchat/internal/model"
)

const (
	headerUserMessageID       = "X-User-Message-Id"
	trailerAssistantMessageID = "X-Assistant-Message-Id"
	headerReplyPersistence    = "X-Reply-Persistence"
	trailerReplyComplete      = "X-Reply-Complete"
)

// APIError is a non-2xx answer decoded from the response envelope.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (code %d): %s", e.Status, e.Code, e.Message)
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type User struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
}

type AuthResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// StreamResult describes a finished send. AssistantMessageID is uuid.Nil
// when the server did not store the reply.
type StreamResult struct {
	UserMessageID      uuid.UUID
	AssistantMessageID uuid.UUID
	Reply              string
	// ServerPersisted is false when the caller is expected to append the reply.
	ServerPersisted bool
	// Complete is set only when the server confirmed the stream ran to the
	// end. A body that ends without it was cut short.
	Complete bool
}

type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/") + "/api/v1",
		httpClient: httpClient,
	}
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) Register(ctx context.Context, username, email, password string) (*AuthResult, error) {
	var out AuthResult
	body := map[string]string{"username": username, "email": email, "password": password}
	if err := c.call(ctx, http.MethodPost, "/auth/register", body, &out); err != nil {
		return nil, err
	}
	c.SetToken(out.Token)
	return &out, nil
}

func (c *Client) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	var out AuthResult
	body := map[string]string{"username": username, "password": password}
	if err := c.call(ctx, http.MethodPost, "/auth/login", body, &out); err != nil {
		return nil, err
	}
	c.SetToken(out.Token)
	return &out, nil
}

func (c *Client) ListChats(ctx context.Context) ([]model.Chat, error) {
	var chats []model.Chat
	if err := c.call(ctx, http.MethodGet, "/chats", nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func (c *Client) CreateChat(ctx context.Context, displayName string) (uuid.UUID, error) {
	var out struct {
		ID uuid.UUID `json:"id"`
	}
	var body interface{}
	if displayName != "" {
		body = map[string]string{"display_name": displayName}
	}
	if err := c.call(ctx, http.MethodPost, "/chats", body, &out); err != nil {
		return uuid.Nil, err
	}
	return out.ID, nil
}

func (c *Client) GetChat(ctx context.Context, chatID uuid.UUID) (*model.Chat, error) {
	var chat model.Chat
	if err := c.call(ctx, http.MethodGet, "/chats/"+chatID.String(), nil, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (c *Client) GetMessages(ctx context.Context, chatID uuid.UUID) ([]model.Message, error) {
	var messages []model.Message
	if err := c.call(ctx, http.MethodGet, "/chats/"+chatID.String()+"/messages", nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *Client) AppendAssistantMessage(ctx context.Context, chatID uuid.UUID, content string) (*model.Message, error) {
	var msg model.Message
	body := map[string]string{"content": content}
	if err := c.call(ctx, http.MethodPost, "/chats/"+chatID.String()+"/messages/assistant", body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendMessage submits msg and hands each reply fragment to onChunk as it
// arrives. Fragments never split a UTF-8 sequence. A transport failure mid
// stream returns the partial result together with the error.
func (c *Client) SendMessage(ctx context.Context, chatID uuid.UUID, msg string, onChunk func(string)) (*StreamResult, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/chats/"+chatID.String()+"/messages", map[string]string{"msg": msg})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send message failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	result := &StreamResult{
		ServerPersisted: resp.Header.Get(headerReplyPersistence) != "client",
	}
	if id, err := uuid.Parse(resp.Header.Get(headerUserMessageID)); err == nil {
		result.UserMessageID = id
	}

	var reply strings.Builder
	buf := make([]byte, 4096)
	var pending []byte
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			complete, rest := splitUTF8(pending)
			if len(complete) > 0 {
				chunk := string(complete)
				reply.WriteString(chunk)
				if onChunk != nil {
					onChunk(chunk)
				}
			}
			pending = append(pending[:0], rest...)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			result.Reply = reply.String()
			return result, fmt.Errorf("read reply stream failed: %w", readErr)
		}
	}
	if len(pending) > 0 {
		reply.Write(pending)
		if onChunk != nil {
			onChunk(string(pending))
		}
	}

	result.Reply = reply.String()
	if id, err := uuid.Parse(resp.Trailer.Get(trailerAssistantMessageID)); err == nil {
		result.AssistantMessageID = id
	}
	result.Complete = resp.Trailer.Get(trailerReplyComplete) == "true"
	return result, nil
}

// splitUTF8 returns the longest prefix of p that does not end inside a
// multi-byte sequence, and the remainder.
func splitUTF8(p []byte) ([]byte, []byte) {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if utf8.RuneStart(p[i]) {
			if utf8.FullRune(p[i:]) {
				return p, nil
			}
			return p[:i], p[i:]
		}
	}
	return p, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body failed: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request failed: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response failed: %w", err)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data failed: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Message != "" {
		apiErr.Code = env.Code
		apiErr.Message = env.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	return apiErr
}
