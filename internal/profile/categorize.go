package profile

import "strings"

// Keyword sets are matched as plain substrings. Latin keywords are compared
// against the lower-cased fact.
var (
	masteredKeywords = []string{"擅长", "熟练", "good at", "proficient", "mastered", "expert in"}
	learningKeywords = []string{"学习", "正在学", "learning", "studying"}
	plannedKeywords  = []string{"计划", "想学", "plan to", "want to learn"}
	interestKeywords = []string{"感兴趣", "喜欢", "interested in", "like"}
)

// Skills is the partition of facts by skill level.
type Skills struct {
	Mastered []string
	Learning []string
	Planned  []string
}

// Categorize assigns each fact to the first matching level in the order
// mastered, learning, planned. Facts matching none are dropped.
func Categorize(facts []string) Skills {
	var s Skills
	for _, f := range facts {
		switch {
		case containsAny(f, masteredKeywords):
			s.Mastered = append(s.Mastered, f)
		case containsAny(f, learningKeywords):
			s.Learning = append(s.Learning, f)
		case containsAny(f, plannedKeywords):
			s.Planned = append(s.Planned, f)
		}
	}
	return s
}

// Interests returns the facts that express an interest. A fact may be both
// a skill and an interest.
func Interests(facts []string) []string {
	var out []string
	for _, f := range facts {
		if containsAny(f, interestKeywords) {
			out = append(out, f)
		}
	}
	return out
}

func containsAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func limit[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}
