package translation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/chat-sync/internal/ai"
	"github.com/suPer8Hu/chat-sync/internal/common"
	"github.com/suPer8Hu/chat-sync/internal/metrics"
)

const systemPrompt = `You translate chat messages.
Reply with a single JSON object and nothing else:
{"translatedText": string, "detectedLanguage": ISO 639-1 code of the source text,
 "culturalHints": [string], "slangExplanations": [{"term": string, "explanation": string}]}
culturalHints and slangExplanations may be empty arrays.`

type providerReply struct {
	TranslatedText    string   `json:"translatedText"`
	DetectedLanguage  string   `json:"detectedLanguage"`
	CulturalHints     []string `json:"culturalHints"`
	SlangExplanations []Slang  `json:"slangExplanations"`
}

func (r providerReply) slang() []Slang {
	out := make([]Slang, 0, len(r.SlangExplanations))
	for _, s := range r.SlangExplanations {
		if strings.TrimSpace(s.Term) == "" {
			continue
		}
		out = append(out, Slang{Term: strings.TrimSpace(s.Term), Explanation: strings.TrimSpace(s.Explanation)})
	}
	return out
}

func (s *Service) call(ctx context.Context, text, lang string) (*providerReply, error) {
	if s.provider == nil {
		return nil, common.Provider("translation provider not configured", nil)
	}
	start := time.Now()
	raw, err := s.provider.Chat(ctx, []ai.Message{
		{Role: ai.RoleSystem, Content: systemPrompt},
		{Role: ai.RoleUser, Content: fmt.Sprintf("Target language: %s\nMessage:\n%s", lang, text)},
	})
	if err != nil {
		metrics.AIProviderDuration.WithLabelValues("translation", "error").Observe(time.Since(start).Seconds())
		return nil, common.Provider("translation provider failed", err)
	}

	var reply providerReply
	if err := ai.DecodeJSON(raw, &reply); err != nil {
		metrics.AIProviderDuration.WithLabelValues("translation", "malformed").Observe(time.Since(start).Seconds())
		return nil, common.Provider("translation provider returned malformed output", err)
	}
	if strings.TrimSpace(reply.TranslatedText) == "" {
		metrics.AIProviderDuration.WithLabelValues("translation", "malformed").Observe(time.Since(start).Seconds())
		return nil, common.Provider("translation provider returned no text", nil)
	}
	metrics.AIProviderDuration.WithLabelValues("translation", "ok").Observe(time.Since(start).Seconds())
	return &reply, nil
}
