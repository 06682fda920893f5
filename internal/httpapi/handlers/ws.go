package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/suPer8Hu/chat-sync/internal/common"
	"github.com/suPer8Hu/chat-sync/internal/logger"
	"github.com/suPer8Hu/chat-sync/internal/realtime"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsMaxMessage = 4096
)

func newUpgrader(allowed []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowed),
	}
}

// originChecker admits requests without an Origin header (non-browser
// clients), same-host origins, and origins on the allow list.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimSuffix(strings.ToLower(o), "/")] = struct{}{}
	}
	_, anyOrigin := set["*"]
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || anyOrigin {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

// clientFrame is what clients may send over the socket.
type clientFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

// ServeWS streams events for the caller's user topic and every conversation
// they belong to. Conversations created later are picked up from
// conversation.updated events.
func (h *Handler) ServeWS(c *gin.Context) {
	uid, found := h.currentUser(c)
	if !found {
		return
	}
	if h.Hub == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50300, "realtime not available")
		return
	}
	ctx := c.Request.Context()
	log := logger.FromContext(ctx, h.Log).With(zap.String("user_id", uid))

	convIDs, err := h.Directory.ConversationIDsForUser(ctx, uid)
	if err != nil {
		h.fail(c, err)
		return
	}
	topics := []string{realtime.UserTopic(uid)}
	for _, id := range convIDs {
		topics = append(topics, realtime.ConversationTopic(id))
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	sub := h.Hub.Subscribe(topics...)

	// the request context ends with the handler; the socket outlives it
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go h.wsWritePump(connCtx, conn, sub, log)
	go func() {
		defer cancel()
		defer sub.Close()
		h.wsReadPump(connCtx, conn, sub, uid, log)
	}()
}

func (h *Handler) wsReadPump(ctx context.Context, conn *websocket.Conn, sub *realtime.Subscription, uid string, log *zap.Logger) {
	defer conn.Close()

	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Info("websocket closed", zap.Error(err))
			}
			return
		}
		var f clientFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			log.Debug("invalid websocket frame", zap.Error(err))
			continue
		}
		if f.ConversationID == "" {
			continue
		}
		member, err := h.Directory.IsParticipant(ctx, f.ConversationID, uid)
		if err != nil || !member {
			continue
		}

		switch f.Type {
		case "subscribe":
			sub.Add(realtime.ConversationTopic(f.ConversationID))
		case "typing":
			if err := h.Typing.Update(ctx, f.ConversationID, uid, f.IsTyping); err != nil {
				log.Warn("typing update failed", zap.String("conversation_id", f.ConversationID), zap.Error(err))
			}
		}
	}
}

func (h *Handler) wsWritePump(ctx context.Context, conn *websocket.Conn, sub *realtime.Subscription, log *zap.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !open {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if ev.Type == realtime.EventConversationUpdated {
				followConversation(sub, ev)
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// followConversation subscribes to a conversation announced on the user topic.
func followConversation(sub *realtime.Subscription, ev realtime.Event) {
	var data struct {
		ID             string `json:"id"`
		ConversationID string `json:"conversation_id"`
		Deleted        bool   `json:"deleted"`
	}
	if err := json.Unmarshal(ev.Data, &data); err != nil || data.Deleted {
		return
	}
	id := data.ConversationID
	if id == "" {
		id = data.ID
	}
	if id != "" {
		sub.Add(realtime.ConversationTopic(id))
	}
}
