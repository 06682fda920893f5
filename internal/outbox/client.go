package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/suPer8Hu/chat-sync/internal/chat"
	"github.com/suPer8Hu/chat-sync/internal/common"
)

// HTTPTransport sends messages through the chat API.
type HTTPTransport struct {
	BaseURL string
	// Token returns the current bearer token.
	Token  func(ctx context.Context) (string, error)
	Client *http.Client
}

func NewHTTPTransport(baseURL string, token func(ctx context.Context) (string, error)) *HTTPTransport {
	return &HTTPTransport{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type sendReq struct {
	Content  string  `json:"content"`
	ImageRef *string `json:"image_ref,omitempty"`
}

type apiResp struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Message *chat.Message `json:"message"`
	} `json:"data"`
}

func (t *HTTPTransport) SendMessage(ctx context.Context, conversationID, content string, imageRef *string) (*chat.Message, error) {
	if t.Client == nil {
		return nil, errors.New("outbox: http client is nil")
	}
	b, err := json.Marshal(sendReq{Content: content, ImageRef: imageRef})
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/conversations/%s/messages", t.BaseURL, conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.Token != nil {
		tok, err := t.Token(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out apiResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("outbox: decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, out.Message)
	}
	if out.Data.Message == nil {
		return nil, errors.New("outbox: response without message")
	}
	return out.Data.Message, nil
}

// statusError maps rejections back to domain kinds so Sender can tell a
// rejected message from one worth retrying.
func statusError(status int, msg string) error {
	switch status {
	case http.StatusBadRequest:
		return common.Validation(msg)
	case http.StatusForbidden:
		return common.Forbidden(msg)
	case http.StatusNotFound:
		return common.NotFound(msg)
	}
	return fmt.Errorf("outbox: server returned %d: %s", status, msg)
}
