package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gopherchat/internal/ai"
	"gopherchat/internal/cache"
	"gopherchat/internal/model"
)

type ExchangeOptions struct {
	SystemPrompt       string
	MaxContextMessages int
	MaxContextChars    int
	// PersistReply makes the server store the finished reply itself. When
	// false the caller is expected to post it back via AppendAssistantMessage.
	PersistReply bool
}

type ExchangeService struct {
	chats    ChatStore
	messages MessageStore
	writer   MessageWriter
	history  HistoryCache
	locker   ExchangeLocker
	limiter  RateLimiter
	provider ai.Provider
	opts     ExchangeOptions
	log      *zap.Logger
}

type ExchangeDeps struct {
	Chats    ChatStore
	Messages MessageStore
	Writer   MessageWriter
	History  HistoryCache
	Locker   ExchangeLocker
	Limiter  RateLimiter
	Provider ai.Provider
	Logger   *zap.Logger
}

type SendMessageInput struct {
	UserID  uuid.UUID
	ChatID  string
	Content string
	// OnAccepted runs once the user message is durable, before inference.
	OnAccepted func(userMessage *model.Message)
	// OnChunk receives each reply fragment in arrival order. A non-nil return
	// aborts the exchange.
	OnChunk func(chunk string) error
}

type ExchangeResult struct {
	UserMessage *model.Message
	// AssistantMessage is nil when the reply was empty or PersistReply is off.
	AssistantMessage *model.Message
	Reply            string
}

func NewExchangeService(deps ExchangeDeps, opts ExchangeOptions) *ExchangeService {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	writer := deps.Writer
	if writer == nil {
		writer = directWriter{deps.Messages}
	}
	return &ExchangeService{
		chats:    deps.Chats,
		messages: deps.Messages,
		writer:   writer,
		history:  deps.History,
		locker:   deps.Locker,
		limiter:  deps.Limiter,
		provider: deps.Provider,
		opts:     opts,
		log:      log,
	}
}

// PersistsReply reports whether SendMessage stores the reply itself.
func (s *ExchangeService) PersistsReply() bool {
	return s.opts.PersistReply
}

func (s *ExchangeService) GetMessages(ctx context.Context, userID uuid.UUID, chatID string) ([]model.Message, error) {
	if userID == uuid.Nil {
		return nil, ErrUnauthorized
	}
	id, err := parseChatID(chatID)
	if err != nil {
		return nil, err
	}
	if _, err := ownedChat(ctx, s.chats, userID, id); err != nil {
		return nil, err
	}

	if s.history != nil {
		if cached, hit, err := s.history.Lookup(ctx, id); err == nil && hit {
			return cached, nil
		}
	}

	messages, err := s.messages.ListByChatID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.history != nil {
		_ = s.history.Store(ctx, id, messages)
	}
	return messages, nil
}

// SendMessage runs one exchange: store the user message, build the context,
// stream the reply through in.OnChunk and, when configured, store the reply.
// A failure after the first fragment leaves the reply unsaved.
func (s *ExchangeService) SendMessage(ctx context.Context, in SendMessageInput) (*ExchangeResult, error) {
	if in.UserID == uuid.Nil {
		return nil, ErrUnauthorized
	}
	chatID, err := parseChatID(in.ChatID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, ErrMessageEmpty
	}
	if _, err := ownedChat(ctx, s.chats, in.UserID, chatID); err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx, chatID)
	if err != nil {
		return nil, err
	}
	defer release()

	// counted only once the exchange owns the chat, so a 409 costs no quota
	if err := s.checkRate(ctx, in.UserID); err != nil {
		return nil, err
	}

	userMessage := &model.Message{
		ChatID:  chatID,
		Role:    model.RoleUser,
		Content: in.Content,
	}
	s.invalidate(ctx, chatID)
	if err := s.messages.Create(ctx, userMessage); err != nil {
		return nil, fmt.Errorf("%w: persist user message: %v", ErrInternal, err)
	}
	if in.OnAccepted != nil {
		in.OnAccepted(userMessage)
	}

	req, err := s.buildRequest(ctx, chatID)
	if err != nil {
		return nil, err
	}

	onChunk := in.OnChunk
	if onChunk == nil {
		onChunk = func(string) error { return nil }
	}
	reply, err := s.provider.StreamChat(ctx, req, onChunk)
	if err != nil {
		return nil, fmt.Errorf("stream reply from %s failed: %w", s.provider.Name(), err)
	}

	result := &ExchangeResult{UserMessage: userMessage, Reply: reply}
	if reply == "" || !s.opts.PersistReply {
		return result, nil
	}

	assistant := &model.Message{
		ID:      uuid.New(),
		ChatID:  chatID,
		Role:    model.RoleAssistant,
		Content: reply,
	}
	stamp(assistant)
	s.invalidate(ctx, chatID)
	if err := s.writer.Write(ctx, assistant); err != nil {
		return result, fmt.Errorf("%w: persist assistant message: %v", ErrInternal, err)
	}
	result.AssistantMessage = assistant
	return result, nil
}

// AppendAssistantMessage stores a reply the caller collected from a stream.
// The chat must belong to the caller.
func (s *ExchangeService) AppendAssistantMessage(ctx context.Context, userID uuid.UUID, chatID, content string) (*model.Message, error) {
	if userID == uuid.Nil {
		return nil, ErrUnauthorized
	}
	id, err := parseChatID(chatID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrMessageEmpty
	}
	if _, err := ownedChat(ctx, s.chats, userID, id); err != nil {
		return nil, err
	}

	message := &model.Message{
		ChatID:  id,
		Role:    model.RoleAssistant,
		Content: content,
	}
	s.invalidate(ctx, id)
	if err := s.messages.Create(ctx, message); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return message, nil
}

func (s *ExchangeService) checkRate(ctx context.Context, userID uuid.UUID) error {
	if s.limiter == nil {
		return nil
	}
	allowed, err := s.limiter.Allow(ctx, userID)
	if err != nil {
		// a broken limiter must not take the chat down with it
		s.log.Warn("rate limiter unavailable", zap.Error(err))
		return nil
	}
	if !allowed {
		return ErrRateLimited
	}
	return nil
}

func (s *ExchangeService) acquire(ctx context.Context, chatID uuid.UUID) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	release, err := s.locker.Acquire(ctx, chatID)
	if errors.Is(err, cache.ErrLockHeld) {
		return nil, ErrExchangeInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return release, nil
}

func (s *ExchangeService) invalidate(ctx context.Context, chatID uuid.UUID) {
	if s.history == nil {
		return
	}
	if err := s.history.Invalidate(ctx, chatID); err != nil {
		s.log.Warn("history cache invalidate failed", zap.String("chat_id", chatID.String()), zap.Error(err))
	}
}

func (s *ExchangeService) buildRequest(ctx context.Context, chatID uuid.UUID) (ai.StreamRequest, error) {
	recent, err := s.messages.ListRecentByChatID(ctx, chatID, s.opts.MaxContextMessages)
	if err != nil {
		return ai.StreamRequest{}, err
	}

	history := make([]ai.ChatMessage, 0, len(recent))
	for _, m := range recent {
		history = append(history, ai.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return ai.StreamRequest{
		System:   s.opts.SystemPrompt,
		Messages: trimToCharBudget(history, s.opts.MaxContextChars),
	}, nil
}

// trimToCharBudget drops the oldest messages until the total content length,
// in characters, fits maxChars. The newest message always survives. maxChars <= 0 disables it.
func trimToCharBudget(messages []ai.ChatMessage, maxChars int) []ai.ChatMessage {
	if maxChars <= 0 || len(messages) == 0 {
		return messages
	}
	total := 0
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		total += utf8.RuneCountInString(messages[i].Content)
		if total > maxChars && i < len(messages)-1 {
			break
		}
		start = i
	}
	return messages[start:]
}

// stamp fixes the timestamps up front so a queued message carries the time
// the reply finished, not the time a worker got to it.
func stamp(m *model.Message) {
	now := time.Now()
	m.CreatedAt = now
	m.AccessedAt = now
}

type directWriter struct {
	messages MessageStore
}

func (w directWriter) Write(ctx context.Context, message *model.Message) error {
	return w.messages.Create(ctx, message)
}
