package agent

import (
	"context"
	"fmt"

	"github.com/zhuqingxun/echo/internal/memory"
)

const (
	knowledgePointLimit = 1000
	recentActivityLimit = 10
	reviewFactLimit     = 10
)

// Progress summarizes what the user has learned so far.
type Progress struct {
	Topics           []string         `json:"topics"`
	ResourcesAdded   int              `json:"resources_added"`
	KnowledgePoints  int              `json:"knowledge_points"`
	RecentActivities []memory.Episode `json:"recent_activities"`
}

type ReviewQuestion struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Topic    string `json:"topic,omitempty"`
}

func (a *Agent) GetLearningProgress(ctx context.Context) (*Progress, error) {
	prof, err := a.mem.GetUserProfile(ctx, a.userID)
	if err != nil {
		return nil, fmt.Errorf("get user profile: %w", err)
	}
	facts, err := a.mem.GetFacts(ctx, a.userID, "", knowledgePointLimit)
	if err != nil {
		return nil, fmt.Errorf("get facts: %w", err)
	}
	episodes, err := a.mem.GetEpisodes(ctx, a.userID, recentActivityLimit)
	if err != nil {
		return nil, fmt.Errorf("get episodes: %w", err)
	}
	if episodes == nil {
		episodes = []memory.Episode{}
	}
	return &Progress{
		Topics:           []string{},
		ResourcesAdded:   prof.DocumentsCount,
		KnowledgePoints:  len(facts),
		RecentActivities: episodes,
	}, nil
}

// ReviewKnowledge returns review questions over the user's facts, narrowed to
// the topic's category when one is given.
func (a *Agent) ReviewKnowledge(ctx context.Context, topic string) ([]ReviewQuestion, error) {
	limit := reviewFactLimit
	if topic != "" {
		limit = 0
	}
	facts, err := a.mem.GetFacts(ctx, a.userID, topic, limit)
	if err != nil {
		return nil, fmt.Errorf("get facts: %w", err)
	}
	return generateReviewQuestions(facts, topic), nil
}

// generateReviewQuestions turns facts into questions. Not implemented yet;
// it always returns an empty list.
func generateReviewQuestions(facts []memory.Record, topic string) []ReviewQuestion {
	return []ReviewQuestion{}
}
