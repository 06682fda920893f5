package smartreply

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/chat-sync/internal/ai"
	"github.com/suPer8Hu/chat-sync/internal/common"
	"github.com/suPer8Hu/chat-sync/internal/metrics"
)

var systemPrompt = fmt.Sprintf(`You suggest short replies in a chat.
Lines starting with "Me:" were written by the user you help, "Other:" by the other side.
Suggest %d distinct replies the user could send next, in the language of the conversation.
Reply with a single JSON object and nothing else: {"suggestions": [string, string, string]}`, SuggestionCount)

func (s *Service) call(ctx context.Context, transcript string) ([]string, error) {
	if s.provider == nil {
		return nil, common.Provider("smart reply provider not configured", nil)
	}
	start := time.Now()
	raw, err := s.provider.Chat(ctx, []ai.Message{
		{Role: ai.RoleSystem, Content: systemPrompt},
		{Role: ai.RoleUser, Content: transcript},
	})
	if err != nil {
		metrics.AIProviderDuration.WithLabelValues("smart_replies", "error").Observe(time.Since(start).Seconds())
		return nil, common.Provider("smart reply provider failed", err)
	}

	out, err := parseSuggestions(raw)
	if err != nil {
		metrics.AIProviderDuration.WithLabelValues("smart_replies", "malformed").Observe(time.Since(start).Seconds())
		return nil, err
	}
	metrics.AIProviderDuration.WithLabelValues("smart_replies", "ok").Observe(time.Since(start).Seconds())
	return out, nil
}

// parseSuggestions accepts {"suggestions": [...]} or a bare array and
// requires exactly SuggestionCount non-empty entries.
func parseSuggestions(raw string) ([]string, error) {
	var list []string
	var obj struct {
		Suggestions []string `json:"suggestions"`
	}
	if err := ai.DecodeJSON(raw, &obj); err == nil && obj.Suggestions != nil {
		list = obj.Suggestions
	} else if err := ai.DecodeJSON(raw, &list); err != nil {
		return nil, common.Provider("smart reply provider returned malformed output", err)
	}

	if len(list) != SuggestionCount {
		return nil, common.Provider(fmt.Sprintf("expected %d suggestions, got %d", SuggestionCount, len(list)), nil)
	}
	out := make([]string, len(list))
	for i, v := range list {
		if out[i] = strings.TrimSpace(v); out[i] == "" {
			return nil, common.Provider("smart reply provider returned an empty suggestion", nil)
		}
	}
	return out, nil
}
