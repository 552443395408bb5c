package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gopherchat/internal/app"
	"gopherchat/internal/model"
	"gopherchat/internal/transport/http/middleware"
	"gopherchat/internal/transport/http/response"
)

const (
	HeaderUserMessageID       = "X-User-Message-Id"
	TrailerAssistantMessageID = "X-Assistant-Message-Id"
	// HeaderReplyPersistence tells the caller who stores the reply: "server",
	// or "client" when it must be posted back to the assistant endpoint.
	HeaderReplyPersistence = "X-Reply-Persistence"
	// TrailerReplyComplete is "true" only when the reply streamed to the end
	// and, in server mode, was stored. A missing value means the body was cut.
	TrailerReplyComplete = "X-Reply-Complete"
)

type MessageHandler struct {
	exchange *app.ExchangeService
	log      *zap.Logger
}

type SendMessageRequest struct {
	Msg string `json:"msg" binding:"required"`
}

type AppendAssistantRequest struct {
	Content string `json:"content" binding:"required"`
}

func NewMessageHandler(exchange *app.ExchangeService, log *zap.Logger) *MessageHandler {
	return &MessageHandler{exchange: exchange, log: log}
}

func (h *MessageHandler) ListMessages(c *gin.Context) {
	messages, err := h.exchange.GetMessages(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		writeServiceError(c, err, "list messages failed")
		return
	}
	response.OK(c, messages)
}

// SendMessage streams the reply as a plain-text chunked body. Errors found
// before the first fragment are answered with the JSON envelope; after that
// the body is cut short and the assistant id trailer stays empty.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stream not supported")
		return
	}

	started := false
	start := func() {
		c.Header("Content-Type", "text/plain; charset=utf-8")
		c.Header("Cache-Control", "no-cache")
		c.Header("X-Accel-Buffering", "no")
		c.Header("Trailer", TrailerAssistantMessageID+", "+TrailerReplyComplete)
		if h.exchange.PersistsReply() {
			c.Header(HeaderReplyPersistence, "server")
		} else {
			c.Header(HeaderReplyPersistence, "client")
		}
		c.Status(http.StatusOK)
		c.Writer.WriteHeaderNow()
		flusher.Flush()
		started = true
	}

	result, err := h.exchange.SendMessage(c.Request.Context(), app.SendMessageInput{
		UserID:  middleware.UserID(c),
		ChatID:  c.Param("id"),
		Content: req.Msg,
		OnAccepted: func(m *model.Message) {
			c.Header(HeaderUserMessageID, m.ID.String())
		},
		OnChunk: func(chunk string) error {
			if !started {
				start()
			}
			if _, err := c.Writer.WriteString(chunk); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		},
	})
	if err != nil {
		if !started {
			writeServiceError(c, err, "send message failed")
			return
		}
		h.log.Warn("reply stream ended early",
			zap.Error(err),
			zap.String("chat_id", c.Param("id")),
		)
		return
	}

	if !started {
		start()
	}
	if result.AssistantMessage != nil {
		c.Writer.Header().Set(TrailerAssistantMessageID, result.AssistantMessage.ID.String())
	}
	c.Writer.Header().Set(TrailerReplyComplete, "true")
}

func (h *MessageHandler) AppendAssistantMessage(c *gin.Context) {
	var req AppendAssistantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	message, err := h.exchange.AppendAssistantMessage(c.Request.Context(), middleware.UserID(c), c.Param("id"), req.Content)
	if err != nil {
		writeServiceError(c, err, "append assistant message failed")
		return
	}
	response.OK(c, message)
}
