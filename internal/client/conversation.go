package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"gopherchat/internal/model"
)

// ErrReplyIncomplete means the stream ended without the server confirming
// the reply finished, or in server mode that it was stored.
var ErrReplyIncomplete = errors.New("reply stream was cut short or the reply was not stored")

// ErrBusy is returned while a Submit on the same Conversation is running.
var ErrBusy = errors.New("a message is already being sent")

// ExchangeAPI is the slice of Client a Conversation needs.
type ExchangeAPI interface {
	GetMessages(ctx context.Context, chatID uuid.UUID) ([]model.Message, error)
	SendMessage(ctx context.Context, chatID uuid.UUID, msg string, onChunk func(string)) (*StreamResult, error)
	AppendAssistantMessage(ctx context.Context, chatID uuid.UUID, content string) (*model.Message, error)
}

// LocalMessage is a message as the client shows it. Pending messages carry a
// temporary id until the server's id is known.
type LocalMessage struct {
	ID      string
	Role    model.Role
	Content string
	Pending bool
}

// Conversation is the local, insertion-ordered view of one chat. Readers may
// call Messages while a Submit is streaming.
type Conversation struct {
	api    ExchangeAPI
	chatID uuid.UUID

	mu       sync.RWMutex
	messages []LocalMessage
	tempSeq  int
	busy     bool
}

func NewConversation(api ExchangeAPI, chatID uuid.UUID) *Conversation {
	return &Conversation{api: api, chatID: chatID}
}

func (c *Conversation) ChatID() uuid.UUID {
	return c.chatID
}

// Load replaces the local list with the server's history.
func (c *Conversation) Load(ctx context.Context) error {
	remote, err := c.api.GetMessages(ctx, c.chatID)
	if err != nil {
		return err
	}

	local := make([]LocalMessage, 0, len(remote))
	for _, m := range remote {
		local = append(local, LocalMessage{ID: m.ID.String(), Role: m.Role, Content: m.Content})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return ErrBusy
	}
	c.messages = local
	return nil
}

// Messages returns a snapshot in local order.
func (c *Conversation) Messages() []LocalMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]LocalMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// Submit shows text immediately, streams the reply into a placeholder and
// swaps both temporary ids for durable ones. On failure the placeholder keeps
// whatever content arrived.
func (c *Conversation) Submit(ctx context.Context, text string, onChunk func(string)) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	c.busy = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
	}()

	userIdx := c.appendPending(model.RoleUser, text)
	replyIdx := c.appendPending(model.RoleAssistant, "")

	res, err := c.api.SendMessage(ctx, c.chatID, text, func(chunk string) {
		c.mu.Lock()
		c.messages[replyIdx].Content += chunk
		c.mu.Unlock()
		if onChunk != nil {
			onChunk(chunk)
		}
	})
	if res != nil && res.UserMessageID != uuid.Nil {
		c.settle(userIdx, res.UserMessageID)
	}
	if err != nil {
		return err
	}

	switch {
	case !res.Complete:
		return ErrReplyIncomplete
	case res.AssistantMessageID != uuid.Nil:
		c.settle(replyIdx, res.AssistantMessageID)
	case res.Reply == "":
		// nothing to store; the empty placeholder stays pending
	case res.ServerPersisted:
		return ErrReplyIncomplete
	default:
		stored, err := c.api.AppendAssistantMessage(ctx, c.chatID, res.Reply)
		if err != nil {
			return fmt.Errorf("store reply failed: %w", err)
		}
		c.settle(replyIdx, stored.ID)
	}
	return nil
}

func (c *Conversation) appendPending(role model.Role, content string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tempSeq++
	c.messages = append(c.messages, LocalMessage{
		ID:      fmt.Sprintf("temp-%d", c.tempSeq),
		Role:    role,
		Content: content,
		Pending: true,
	})
	return len(c.messages) - 1
}

// settle swaps the temporary id; the content is left as is.
func (c *Conversation) settle(idx int, id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[idx].ID = id.String()
	c.messages[idx].Pending = false
}
