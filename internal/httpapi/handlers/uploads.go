package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-sync/internal/common"
)

type uploadReq struct {
	ContentType string `json:"content_type" binding:"required"`
}

// CreateUpload returns a presigned PUT URL. The returned ref is what the
// client later sends as image_ref.
func (h *Handler) CreateUpload(c *gin.Context) {
	uid, found := h.currentUser(c)
	if !found {
		return
	}
	if h.Uploads == nil {
		h.fail(c, common.Upload("image uploads are not configured", nil))
		return
	}
	var req uploadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	up, err := h.Uploads.UploadURL(c.Request.Context(), uid, req.ContentType)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"upload": up})
}

// MessageImage returns a short-lived download URL for the message's
// attachment.
func (h *Handler) MessageImage(c *gin.Context) {
	uid, found := h.currentUser(c)
	if !found {
		return
	}
	m, allowed := h.requireMessageAccess(c, c.Param("id"), uid)
	if !allowed {
		return
	}
	if m.ImageRef == nil {
		h.fail(c, common.NotFound("message has no image"))
		return
	}
	if h.Uploads == nil {
		h.fail(c, common.Upload("image uploads are not configured", nil))
		return
	}
	u, err := h.Uploads.ResolveURL(c.Request.Context(), *m.ImageRef)
	if err != nil {
		h.fail(c, common.Upload("failed to resolve image url", err))
		return
	}
	ok(c, gin.H{"url": u})
}
