package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/suPer8Hu/chat-sync/internal/common"
	"github.com/suPer8Hu/chat-sync/internal/httpapi/handlers"
	"github.com/suPer8Hu/chat-sync/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID(h.Log))
	r.Use(middleware.Recovery(h.Log))
	r.Use(middleware.Logger(h.Log))
	r.Use(middleware.Metrics())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// identity provider callbacks (HMAC signed)
	r.POST("/webhooks/identity", h.IdentityWebhook)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(h.Cfg.JWTSecret))

	// conversations
	authGroup.POST("/conversations", h.CreateConversation)
	authGroup.GET("/conversations", h.ListConversations)
	authGroup.DELETE("/conversations/:id", h.DeleteConversation)
	authGroup.GET("/conversations/:id/messages", h.ListMessages)
	authGroup.POST("/conversations/:id/messages", h.SendMessage)
	authGroup.POST("/conversations/:id/read", h.MarkConversationRead)
	authGroup.GET("/conversations/:id/unread", h.HasUnread)
	authGroup.GET("/conversations/:id/smart-replies", h.GetSmartReplies)
	authGroup.POST("/conversations/:id/smart-replies", h.GenerateSmartReplies)
	authGroup.PUT("/conversations/:id/typing", h.UpdateTyping)
	authGroup.GET("/conversations/:id/typing", h.TypingUsers)

	// messages
	authGroup.POST("/messages/:id/delivered", h.MarkDelivered)
	authGroup.POST("/messages/:id/read", h.MarkRead)
	authGroup.GET("/messages/:id/image", h.MessageImage)
	authGroup.POST("/messages/:id/translations", h.Translate)
	authGroup.GET("/messages/:id/translations/:lang", h.GetTranslation)
	authGroup.GET("/translations/languages", h.Languages)

	// users + presence
	authGroup.GET("/users/:id", h.GetUserByID)
	authGroup.POST("/presence/heartbeat", h.Heartbeat)
	authGroup.POST("/presence/state", h.SetAppState)

	authGroup.POST("/uploads", h.CreateUpload)
	authGroup.GET("/ws", h.ServeWS)

	admin := r.Group("/admin")
	admin.Use(middleware.AdminRequired(h.Cfg.AdminTokenHash))
	admin.GET("/migrations/translations/stats", h.MigrationStats)
	admin.POST("/migrations/translations", h.RunMigration)
	return r
}
