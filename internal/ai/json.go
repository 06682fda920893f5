package ai

import (
	"encoding/json"
	"errors"
	"strings"
)

var ErrNoJSON = errors.New("ai: response contains no json")

// DecodeJSON parses the first JSON object or array found in a model reply.
// Models often wrap JSON in markdown fences or add a sentence around it.
func DecodeJSON(reply string, v any) error {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ErrNoJSON
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return ErrNoJSON
	}
	return json.Unmarshal([]byte(s[start:end+1]), v)
}
