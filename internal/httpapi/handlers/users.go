package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-sync/internal/common"
	"github.com/suPer8Hu/chat-sync/internal/logger"
	"github.com/suPer8Hu/chat-sync/internal/users"
	"go.uber.org/zap"
)

const signatureHeader = "X-Webhook-Signature"

func (h *Handler) GetUserByID(c *gin.Context) {
	if _, found := h.currentUser(c); !found {
		return
	}
	p, err := h.Users.Profile(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"user": p})
}

func (h *Handler) Heartbeat(c *gin.Context) {
	uid, found := h.currentUser(c)
	if !found {
		return
	}
	if err := h.Users.Heartbeat(c.Request.Context(), uid); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"next_heartbeat_seconds": int(users.HeartbeatInterval.Seconds())})
}

type appStateReq struct {
	State string `json:"state" binding:"required"`
}

func (h *Handler) SetAppState(c *gin.Context) {
	uid, found := h.currentUser(c)
	if !found {
		return
	}
	var req appStateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.Users.SetAppState(c.Request.Context(), uid, users.AppState(req.State)); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"state": req.State})
}

type typingReq struct {
	IsTyping bool `json:"is_typing"`
}

func (h *Handler) UpdateTyping(c *gin.Context) {
	uid, found := h.currentUser(c)
	if !found {
		return
	}
	var req typingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	convID := c.Param("id")
	if !h.requireParticipant(c, convID, uid) {
		return
	}
	if err := h.Typing.Update(c.Request.Context(), convID, uid, req.IsTyping); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"is_typing": req.IsTyping})
}

func (h *Handler) TypingUsers(c *gin.Context) {
	uid, found := h.currentUser(c)
	if !found {
		return
	}
	convID := c.Param("id")
	if !h.requireParticipant(c, convID, uid) {
		return
	}
	ps, err := h.Typing.TypingUsers(c.Request.Context(), convID, uid)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"users": ps})
}

// IdentityWebhook mirrors identity-provider user events. Bad signatures get
// 401; handled and ignored events both get 200 so the provider stops retrying.
func (h *Handler) IdentityWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "unreadable body")
		return
	}
	if !users.VerifySignature(h.Cfg.WebhookSecret, body, c.GetHeader(signatureHeader)) {
		common.Fail(c, http.StatusUnauthorized, 40103, "invalid signature")
		return
	}

	var ev users.IdentityEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	applied, err := h.Users.ApplyIdentityEvent(c.Request.Context(), ev)
	if err != nil {
		h.fail(c, err)
		return
	}
	logger.FromContext(c.Request.Context(), h.Log).Info("identity event",
		zap.String("type", ev.Type), zap.String("user_id", ev.Data.ID), zap.Bool("applied", applied))
	ok(c, gin.H{"applied": applied})
}
