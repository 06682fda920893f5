package translation

import "time"

type Slang struct {
	Term        string `json:"term"`
	Explanation string `json:"explanation"`
}

type Translation struct {
	ID                uint64    `gorm:"primaryKey" json:"-"`
	MessageID         string    `gorm:"type:varchar(26);not null;uniqueIndex:uniq_tr_msg_lang,priority:1" json:"message_id"`
	TargetLanguage    string    `gorm:"type:varchar(16);not null;uniqueIndex:uniq_tr_msg_lang,priority:2" json:"target_language"`
	TranslatedText    string    `gorm:"type:text;not null" json:"translated_text"`
	DetectedLanguage  string    `gorm:"type:varchar(16)" json:"detected_language"`
	CulturalHints     []string  `gorm:"serializer:json;type:text" json:"cultural_hints"`
	SlangExplanations []Slang   `gorm:"serializer:json;type:text" json:"slang_explanations"`
	GeneratedAt       time.Time `gorm:"index" json:"generated_at"`
}

func (Translation) TableName() string { return "message_translations" }
