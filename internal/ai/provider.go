package ai

import (
	"context"
	"errors"
)

var ErrProviderConfig = errors.New("llm provider config is invalid")

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamRequest is one inference call: the system instruction plus the
// conversation in chronological order.
type StreamRequest struct {
	System   string
	Messages []ChatMessage
}

// Provider produces a reply as a sequence of text fragments. onChunk is
// called once per fragment, in arrival order; a non-nil return aborts the
// stream. The concatenated reply is returned on success.
type Provider interface {
	Name() string
	StreamChat(ctx context.Context, req StreamRequest, onChunk func(string) error) (string, error)
}
