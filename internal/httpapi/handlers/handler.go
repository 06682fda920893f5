package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/suPer8Hu/chat-sync/internal/blob"
	"github.com/suPer8Hu/chat-sync/internal/chat"
	"github.com/suPer8Hu/chat-sync/internal/common"
	"github.com/suPer8Hu/chat-sync/internal/config"
	"github.com/suPer8Hu/chat-sync/internal/httpapi/middleware"
	"github.com/suPer8Hu/chat-sync/internal/logger"
	"github.com/suPer8Hu/chat-sync/internal/migration"
	"github.com/suPer8Hu/chat-sync/internal/realtime"
	"github.com/suPer8Hu/chat-sync/internal/smartreply"
	"github.com/suPer8Hu/chat-sync/internal/translation"
	"github.com/suPer8Hu/chat-sync/internal/typing"
	"github.com/suPer8Hu/chat-sync/internal/users"
	"go.uber.org/zap"
)

// Uploads hands out presigned URLs for message attachments.
type Uploads interface {
	UploadURL(ctx context.Context, userID, contentType string) (*blob.Upload, error)
	ResolveURL(ctx context.Context, ref string) (string, error)
}

type Deps struct {
	// BaseCtx outlives requests; work started by a handler runs under it
	// and stops at shutdown.
	BaseCtx      context.Context
	Cfg          config.Config
	Log          *zap.Logger
	Directory    *chat.Directory
	Messages     *chat.Service
	Translations *translation.Service
	SmartReplies *smartreply.Service
	Typing       *typing.Service
	Users        *users.Service
	Uploads      Uploads
	Migration    *migration.Service
	Hub          *realtime.Hub
}

type Handler struct {
	Deps
	upgrader *websocket.Upgrader
}

func NewHandler(d Deps) *Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Handler{Deps: d, upgrader: newUpgrader(d.Cfg.WSAllowedOrigins)}
}

func (h *Handler) baseCtx() context.Context {
	if h.BaseCtx == nil {
		return context.Background()
	}
	return h.BaseCtx
}

func (h *Handler) Ping(c *gin.Context) {
	ok(c, gin.H{"pong": true})
}

func ok(c *gin.Context, data any) {
	common.OK(c, data)
}

// fail writes the envelope for a service error. Internal errors are logged
// and never shown to the client.
func (h *Handler) fail(c *gin.Context, err error) {
	status, code := common.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(c.Request.Context(), h.Log).Error("request failed",
			zap.String("route", c.FullPath()), zap.Error(err))
	}
	var ce *common.Error
	if errors.As(err, &ce) && !ce.RetryAt.IsZero() {
		secs := int(time.Until(ce.RetryAt).Seconds()) + 1
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
	}
	common.Fail(c, status, code, common.PublicMessage(err))
}

func (h *Handler) currentUser(c *gin.Context) (string, bool) {
	uid, found := middleware.UserID(c)
	if !found {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return "", false
	}
	return uid, true
}

// requireParticipant writes 404 or 403 and returns false when uid may not see
// the conversation.
func (h *Handler) requireParticipant(c *gin.Context, conversationID, uid string) bool {
	member, err := h.Directory.IsParticipant(c.Request.Context(), conversationID, uid)
	if err != nil {
		h.fail(c, err)
		return false
	}
	if !member {
		if _, err := h.Directory.GetConversation(c.Request.Context(), conversationID); err != nil {
			h.fail(c, err)
			return false
		}
		h.fail(c, common.Forbidden("not a participant of this conversation"))
		return false
	}
	return true
}

// requireMessageAccess loads a message the caller is allowed to see.
func (h *Handler) requireMessageAccess(c *gin.Context, messageID, uid string) (*chat.Message, bool) {
	m, err := h.Messages.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	if !h.requireParticipant(c, m.ConversationID, uid) {
		return nil, false
	}
	return m, true
}
