package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSON(t *testing.T) {
	type out struct {
		Text string `json:"text"`
	}

	cases := map[string]string{
		"plain":   `{"text":"hola"}`,
		"fenced":  "```json\n{\"text\":\"hola\"}\n```",
		"chatter": "Sure! Here you go: {\"text\":\"hola\"} Hope it helps.",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			var v out
			require.NoError(t, DecodeJSON(in, &v))
			assert.Equal(t, "hola", v.Text)
		})
	}

	var arr []string
	require.NoError(t, DecodeJSON(`["a","b","c"]`, &arr))
	assert.Equal(t, []string{"a", "b", "c"}, arr)

	var v out
	assert.ErrorIs(t, DecodeJSON("no json here", &v), ErrNoJSON)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(" Fake ", func(ctx context.Context, model string) (Provider, error) {
		return NewOllamaProvider("", model), nil
	})

	p, err := reg.Get(context.Background(), "fake", "mistral")
	require.NoError(t, err)
	assert.Equal(t, "mistral", p.(*OllamaProvider).Model)

	_, err = reg.Get(context.Background(), "missing", "")
	assert.ErrorIs(t, err, ErrUnknownProvider)
	assert.Contains(t, err.Error(), "fake")
	assert.Equal(t, []string{"fake"}, reg.Names())
}

func TestOllamaProvider_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req ollamaChatReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "json", req.Format)
		assert.False(t, req.Stream)
		assert.Len(t, req.Messages, 2)
		_ = json.NewEncoder(w).Encode(ollamaChatResp{Message: ollamaMsg{Role: "assistant", Content: `{"ok":true}`}})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3")
	reply, err := p.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, reply)
}

func TestOllamaProvider_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "x").Chat(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}

func TestOpenRouterProvider_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "chat-sync", r.Header.Get("X-Title"))
		var req openRouterChatReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"done"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenRouterProvider(srv.URL, "key", "openrouter/auto", "", "chat-sync")
	reply, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
	require.NoError(t, err)
	assert.Equal(t, "done", reply)
}

func TestOpenRouterProvider_RequiresKey(t *testing.T) {
	_, err := NewOpenRouterProvider("", "", "m", "", "").Chat(context.Background(), nil)
	assert.Error(t, err)
}
