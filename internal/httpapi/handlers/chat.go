package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-sync/internal/blob"
	"github.com/suPer8Hu/chat-sync/internal/chat"
	"github.com/suPer8Hu/chat-sync/internal/common"
)

type createConversationReq struct {
	ParticipantIDs []string `json:"participant_ids" binding:"required"`
	Type           string   `json:"type"`
}

// CreateConversation always includes the caller. A direct conversation that
// already exists is returned with 200 instead of 201.
func (h *Handler) CreateConversation(c *gin.Context) {
	uid, found := h.currentUser(c)
	if !found {
		return
	}

	var req createConversationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	typ := chat.ConversationDirect
	if req.Type != "" {
		typ = chat.ConversationType(req.Type)
	}

	ids := append([]string{uid}, req.ParticipantIDs...)
	conv, created, err := h.Directory.CreateOrGetConversation(c.Request.Context(), ids, typ)
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"code": 0, "message": "ok", "data": gin.H{"conversation": conv, "created": created}})
}

func (h *Handler) ListConversations(c *gin.Context) {
	uid, found := h.currentUser(c)
	if !found {
		return
	}
	convs, err := h.Directory.GetUserConversations(c.Request.Context(), uid)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"conversations": convs})
}

func (h *Handler) DeleteConversation(c *gin.Context) {
	uid, found := h.currentUser(c)
	if !found {
		return
	}
	if err := h.Directory.SoftDeleteConversation(c.Request.Context(), c.Param("id"), uid); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"conversation_id": c.Param("id"), "deleted": true})
}

type sendMessageReq struct {
	Content  string  `json:"content"`
	ImageRef *string `json:"image_ref"`
}

func (h *Handler) SendMessage(c *gin.Context) {
	uid, found := h.currentUser(c)
	if !found {
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.ImageRef != nil && *req.ImageRef != "" && !blob.OwnedBy(*req.ImageRef, uid) {
		h.fail(c, common.Forbidden("image was not uploaded by this user"))
		return
	}

	m, err := h.Messages.SendMessage(c.Request.Context(), c.Param("id"), uid, req.Content, req.ImageRef)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": 0, "message": "ok", "data": gin.H{"message": m}})
}

func (h *Handler) ListMessages(c *gin.Context) {
	uid, found := h.currentUser(c)
	if !found {
		return
	}
	convID := c.Param("id")
	if !h.requireParticipant(c, convID, uid) {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.fail(c, common.Validation("limit must be an integer"))
			return
		}
		limit = n
	}
	msgs, err := h.Messages.GetMessages(c.Request.Context(), convID, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"messages": msgs})
}

func (h *Handler) MarkConversationRead(c *gin.Context) {
	uid, found := h.currentUser(c)
	if !found {
		return
	}
	n, err := h.Messages.MarkConversationAsRead(c.Request.Context(), c.Param("id"), uid)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"marked": n})
}

func (h *Handler) HasUnread(c *gin.Context) {
	uid, found := h.currentUser(c)
	if !found {
		return
	}
	convID := c.Param("id")
	if !h.requireParticipant(c, convID, uid) {
		return
	}
	unread, err := h.Messages.HasUnreadMessages(c.Request.Context(), convID, uid)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"has_unread": unread})
}

func (h *Handler) MarkDelivered(c *gin.Context) {
	uid, found := h.currentUser(c)
	if !found {
		return
	}
	if err := h.Messages.MarkAsDelivered(c.Request.Context(), c.Param("id"), uid); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"message_id": c.Param("id")})
}

func (h *Handler) MarkRead(c *gin.Context) {
	uid, found := h.currentUser(c)
	if !found {
		return
	}
	if err := h.Messages.MarkAsRead(c.Request.Context(), c.Param("id"), uid); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"message_id": c.Param("id")})
}
