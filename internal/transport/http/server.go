package http

import (
	"github.com/gin-gonic/gin"

	"gopherchat/internal/bootstrap"
	"gopherchat/internal/transport/http/handler"
	"gopherchat/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(middleware.RequestLogger(app.Logger.Named("http")), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	authHandler := handler.NewAuthHandler(app.AuthService)
	chatHandler := handler.NewChatHandler(app.ChatService)
	messageHandler := handler.NewMessageHandler(app.ExchangeService, app.Logger.Named("http"))
	requireAuth := middleware.AuthJWT(app.Config.Auth.JWTSecret)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", requireAuth, authHandler.Me)

	chatGroup := v1.Group("/chats")
	chatGroup.Use(requireAuth)
	chatGroup.GET("", chatHandler.ListChats)
	chatGroup.POST("", chatHandler.CreateChat)
	chatGroup.GET("/:id", chatHandler.GetChat)
	chatGroup.GET("/:id/messages", messageHandler.ListMessages)
	chatGroup.POST("/:id/messages", messageHandler.SendMessage)
	chatGroup.POST("/:id/messages/assistant", messageHandler.AppendAssistantMessage)

	return router
}
