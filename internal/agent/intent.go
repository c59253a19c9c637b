package agent

import "strings"

// IntentDetector classifies a message as expressing learning intent.
type IntentDetector interface {
	IsLearningIntent(message string) bool
}

// KeywordIntent matches fixed learning keywords as substrings.
type KeywordIntent struct {
	Keywords []string
}

var defaultLearningKeywords = []string{
	"学习", "想学", "教我", "了解", "掌握", "提升",
	"learn", "want to learn", "teach me", "understand", "master", "improve",
}

func NewKeywordIntent() KeywordIntent {
	return KeywordIntent{Keywords: defaultLearningKeywords}
}

func (k KeywordIntent) IsLearningIntent(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range k.Keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
