package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"gopherchat/internal/app"
	"gopherchat/internal/transport/http/middleware"
	"gopherchat/internal/transport/http/response"
)

type ChatHandler struct {
	chatService *app.ChatService
}

type CreateChatRequest struct {
	DisplayName string `json:"display_name" binding:"max=256"`
}

func NewChatHandler(chatService *app.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

func (h *ChatHandler) ListChats(c *gin.Context) {
	chats, err := h.chatService.ListChats(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeServiceError(c, err, "list chats failed")
		return
	}
	response.OK(c, chats)
}

// CreateChat accepts an empty body as well as {"display_name": ...}.
func (h *ChatHandler) CreateChat(c *gin.Context) {
	var req CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	chat, err := h.chatService.CreateChat(c.Request.Context(), middleware.UserID(c), req.DisplayName)
	if err != nil {
		writeServiceError(c, err, "create chat failed")
		return
	}
	response.OK(c, gin.H{"id": chat.ID})
}

func (h *ChatHandler) GetChat(c *gin.Context) {
	chat, err := h.chatService.GetChat(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		writeServiceError(c, err, "get chat failed")
		return
	}
	response.OK(c, chat)
}
