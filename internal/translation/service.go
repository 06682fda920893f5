package translation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/suPer8Hu/chat-sync/internal/ai"
	"github.com/suPer8Hu/chat-sync/internal/chat"
	"github.com/suPer8Hu/chat-sync/internal/common"
	"github.com/suPer8Hu/chat-sync/internal/metrics"
	"github.com/suPer8Hu/chat-sync/internal/ratelimit"
	"github.com/suPer8Hu/chat-sync/internal/realtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UndeterminedLanguage is recorded for translated messages whose source
// language the provider never reported.
const UndeterminedLanguage = "und"

type Messages interface {
	GetMessage(ctx context.Context, messageID string) (*chat.Message, error)
	SetDetectedLanguage(ctx context.Context, messageID, lang string) error
}

type Quota interface {
	Allow(ctx context.Context, userID string, feature ratelimit.Feature) error
	Increment(ctx context.Context, userID string, feature ratelimit.Feature) (int, error)
}

type Service struct {
	db        *gorm.DB
	provider  ai.Provider
	messages  Messages
	quota     Quota
	languages []string
	pub       realtime.Publisher
	log       *zap.Logger
	now       func() time.Time
}

func NewService(db *gorm.DB, provider ai.Provider, messages Messages, quota Quota, languages []string, pub realtime.Publisher, log *zap.Logger) *Service {
	if pub == nil {
		pub = realtime.Discard
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		db:        db,
		provider:  provider,
		messages:  messages,
		quota:     quota,
		languages: languages,
		pub:       pub,
		log:       log,
		now:       time.Now,
	}
}

// Languages lists the supported target languages.
func (s *Service) Languages() []string { return slices.Clone(s.languages) }

func (s *Service) normalize(lang string) (string, error) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if !slices.Contains(s.languages, lang) {
		return "", common.Validation(fmt.Sprintf("unsupported target language %q", lang))
	}
	return lang, nil
}

func (s *Service) Get(ctx context.Context, messageID, targetLanguage string) (*Translation, error) {
	lang, err := s.normalize(targetLanguage)
	if err != nil {
		return nil, err
	}
	t, err := s.lookup(ctx, messageID, lang)
	if err != nil {
		return nil, common.NotFoundIfMissing(err, "translation not found")
	}
	return t, nil
}

func (s *Service) lookup(ctx context.Context, messageID, lang string) (*Translation, error) {
	var t Translation
	if err := s.db.WithContext(ctx).
		Where("message_id = ? AND target_language = ?", messageID, lang).
		First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// Translate returns the cached translation or produces one on behalf of
// userID. Quota is spent only when a new translation is stored.
func (s *Service) Translate(ctx context.Context, messageID, targetLanguage, userID string) (*Translation, error) {
	lang, err := s.normalize(targetLanguage)
	if err != nil {
		return nil, err
	}

	cached, err := s.lookup(ctx, messageID, lang)
	if err == nil {
		metrics.TranslationRequestsTotal.WithLabelValues("cache_hit").Inc()
		return cached, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if err := s.quota.Allow(ctx, userID, ratelimit.FeatureTranslation); err != nil {
		metrics.TranslationRequestsTotal.WithLabelValues("rate_limited").Inc()
		return nil, err
	}

	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	t, err := s.translate(ctx, msg, lang)
	if err != nil {
		return nil, err
	}

	if _, err := s.quota.Increment(ctx, userID, ratelimit.FeatureTranslation); err != nil {
		s.log.Warn("translation quota increment failed", zap.String("user_id", userID), zap.Error(err))
	}
	return t, nil
}

// Populate translates a message into every supported language that is not
// cached yet. It runs as a background job and uses no user quota.
func (s *Service) Populate(ctx context.Context, messageID string) error {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(msg.Content) == "" {
		return nil
	}

	var have []string
	if err := s.db.WithContext(ctx).Model(&Translation{}).
		Where("message_id = ?", messageID).
		Pluck("target_language", &have).Error; err != nil {
		return err
	}

	var errs []error
	for _, lang := range s.languages {
		if slices.Contains(have, lang) {
			continue
		}
		if _, err := s.translate(ctx, msg, lang); err != nil {
			s.log.Warn("background translation failed",
				zap.String("message_id", messageID), zap.String("lang", lang), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", lang, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if msg.DetectedLanguage == nil {
		return s.settleDetectedLanguage(ctx, messageID)
	}
	return nil
}

// settleDetectedLanguage marks a fully translated message as done even when
// no reply named its source language, so backfills stop picking it up.
func (s *Service) settleDetectedLanguage(ctx context.Context, messageID string) error {
	var detected []string
	if err := s.db.WithContext(ctx).Model(&Translation{}).
		Where("message_id = ? AND detected_language <> ?", messageID, "").
		Order("target_language").
		Limit(1).
		Pluck("detected_language", &detected).Error; err != nil {
		return err
	}
	lang := UndeterminedLanguage
	if len(detected) > 0 {
		lang = detected[0]
	}
	return s.messages.SetDetectedLanguage(ctx, messageID, lang)
}

func (s *Service) translate(ctx context.Context, msg *chat.Message, lang string) (*Translation, error) {
	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return nil, common.Validation("message has no text to translate")
	}

	reply, err := s.call(ctx, text, lang)
	if err != nil {
		metrics.TranslationRequestsTotal.WithLabelValues("provider_error").Inc()
		return nil, err
	}

	t := &Translation{
		MessageID:         msg.ID,
		TargetLanguage:    lang,
		TranslatedText:    strings.TrimSpace(reply.TranslatedText),
		DetectedLanguage:  strings.ToLower(strings.TrimSpace(reply.DetectedLanguage)),
		CulturalHints:     nonEmpty(reply.CulturalHints),
		SlangExplanations: reply.slang(),
		GeneratedAt:       s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "message_id"}, {Name: "target_language"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"translated_text", "detected_language", "cultural_hints", "slang_explanations", "generated_at",
		}),
	}).Create(t).Error; err != nil {
		return nil, err
	}

	if t.DetectedLanguage != "" {
		if err := s.messages.SetDetectedLanguage(ctx, msg.ID, t.DetectedLanguage); err != nil {
			s.log.Warn("set detected language failed", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}

	metrics.TranslationRequestsTotal.WithLabelValues("translated").Inc()
	s.pub.Publish(ctx, realtime.NewEvent(realtime.EventTranslationReady,
		realtime.ConversationTopic(msg.ConversationID), t))
	return t, nil
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
