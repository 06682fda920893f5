package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-sync/internal/common"
)

type translateReq struct {
	TargetLanguage string `json:"target_language" binding:"required"`
}

func (h *Handler) Languages(c *gin.Context) {
	ok(c, gin.H{"languages": h.Translations.Languages()})
}

// Translate returns the cached translation when there is one; only a fresh
// provider call counts against the caller's quota.
func (h *Handler) Translate(c *gin.Context) {
	uid, found := h.currentUser(c)
	if !found {
		return
	}
	var req translateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	m, allowed := h.requireMessageAccess(c, c.Param("id"), uid)
	if !allowed {
		return
	}

	t, err := h.Translations.Translate(c.Request.Context(), m.ID, req.TargetLanguage, uid)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"translation": t})
}

func (h *Handler) GetTranslation(c *gin.Context) {
	uid, found := h.currentUser(c)
	if !found {
		return
	}
	m, allowed := h.requireMessageAccess(c, c.Param("id"), uid)
	if !allowed {
		return
	}
	t, err := h.Translations.Get(c.Request.Context(), m.ID, c.Param("lang"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"translation": t})
}

func (h *Handler) GetSmartReplies(c *gin.Context) {
	uid, found := h.currentUser(c)
	if !found {
		return
	}
	convID := c.Param("id")
	if !h.requireParticipant(c, convID, uid) {
		return
	}
	r, err := h.SmartReplies.Get(c.Request.Context(), convID, uid)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"smart_reply": r})
}

// GenerateSmartReplies returns a null smart_reply when the latest message is
// the caller's own.
func (h *Handler) GenerateSmartReplies(c *gin.Context) {
	uid, found := h.currentUser(c)
	if !found {
		return
	}
	convID := c.Param("id")
	if !h.requireParticipant(c, convID, uid) {
		return
	}
	r, err := h.SmartReplies.GenerateForUser(c.Request.Context(), convID, uid)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"smart_reply": r})
}
