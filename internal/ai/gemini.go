package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type GeminiClient struct {
	client *genai.Client
	model  string
}

func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" || model == "" {
		return nil, ErrProviderConfig
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client failed: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

func (g *GeminiClient) Name() string {
	return "gemini"
}

func (g *GeminiClient) Close() error {
	return g.client.Close()
}

func (g *GeminiClient) StreamChat(ctx context.Context, req StreamRequest, onChunk func(string) error) (string, error) {
	if len(req.Messages) == 0 {
		return "", errors.New("gemini stream requires at least one message")
	}

	model := g.client.GenerativeModel(g.model)
	if strings.TrimSpace(req.System) != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}

	history, last := toGeminiHistory(req.Messages)
	session := model.StartChat()
	session.History = history

	iter := session.SendMessageStream(ctx, genai.Text(last.Content))

	var full strings.Builder
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("gemini stream failed: %w", err)
		}

		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				text, ok := part.(genai.Text)
				if !ok || text == "" {
					continue
				}
				full.WriteString(string(text))
				if err := onChunk(string(text)); err != nil {
					return "", err
				}
			}
		}
	}
	return full.String(), nil
}

// toGeminiHistory splits the conversation into prior turns and the message to
// send. Gemini only knows "user" and "model" turns.
func toGeminiHistory(messages []ChatMessage) ([]*genai.Content, ChatMessage) {
	last := messages[len(messages)-1]
	history := make([]*genai.Content, 0, len(messages)-1)
	for _, m := range messages[:len(messages)-1] {
		history = append(history, &genai.Content{
			Role:  geminiRole(m.Role),
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}
	return history, last
}

func geminiRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return "user"
}
