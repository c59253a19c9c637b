package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/zhuqingxun/echo/internal/memory"
)

const backgroundSkillLimit = 20

type Stage struct {
	Name       string   `json:"name"`
	Duration   string   `json:"duration"`
	Level      string   `json:"level"`
	Objectives []string `json:"objectives"`
	Topics     []string `json:"topics"`
	Resources  []string `json:"resources"`
	Projects   []string `json:"projects"`
}

// Path is a staged learning plan for one topic.
type Path struct {
	Topic         string  `json:"topic"`
	Level         string  `json:"level"`
	TotalDuration string  `json:"total_duration"`
	Stages        []Stage `json:"stages"`
}

// DefaultPath is the plan used when no usable plan could be generated.
func DefaultPath(topic, level string) *Path {
	return &Path{
		Topic:         topic,
		Level:         level,
		TotalDuration: "8-12 weeks",
		Stages: []Stage{{
			Name:       "Foundation",
			Duration:   "2-3 weeks",
			Level:      "beginner",
			Objectives: []string{"Understand basic concepts", "Set up development environment"},
			Topics:     []string{},
			Resources:  []string{"documentation", "tutorial"},
			Projects:   []string{"Hello World project"},
		}},
	}
}

// ParsePath decodes a generated plan. It returns false when the text is not
// a plan with at least one stage.
func ParsePath(text, topic, level string) (*Path, bool) {
	var p Path
	if err := json.Unmarshal([]byte(memory.StripCodeFence(text)), &p); err != nil || len(p.Stages) == 0 {
		return nil, false
	}
	if strings.TrimSpace(p.Topic) == "" {
		p.Topic = topic
	}
	p.Level = level
	return &p, true
}

// CreateLearningPath plans a path from the user's recorded skills and stores
// it as a plan memory.
func (a *Agent) CreateLearningPath(ctx context.Context, topic, level string) (*Path, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("learning path: topic is required")
	}
	if level = strings.TrimSpace(level); level == "" {
		level = "beginner"
	}
	log.Printf("[agent] creating learning path for %q (level %s)", topic, level)

	skills, err := a.mem.GetFacts(ctx, a.userID, "skill", backgroundSkillLimit)
	if err != nil {
		report("load background", err)
		skills = nil
	}

	path := a.planPath(ctx, topic, level, formatBackground(skills))

	meta := map[string]any{"topic": topic, "level": level, "path": path}
	if err := a.mem.AddMemory(ctx, a.userID, "Learning path: "+topic, memory.TypePlan, meta); err != nil {
		return path, fmt.Errorf("store learning path: %w", err)
	}
	return path, nil
}

func (a *Agent) planPath(ctx context.Context, topic, level, background string) *Path {
	text, err := a.llm.Complete(ctx, jsonSystemPrompt, fmt.Sprintf(learningPathPrompt, topic, background, level, topic), a.maxTokens)
	if err != nil {
		report("generate learning path", err)
		return DefaultPath(topic, level)
	}
	path, ok := ParsePath(text, topic, level)
	if !ok {
		log.Printf("[agent] warning: unusable learning path reply, using default plan")
		return DefaultPath(topic, level)
	}
	return path
}

// UpdateProgress records that part of a topic was completed.
func (a *Agent) UpdateProgress(ctx context.Context, topic, completed string) error {
	content := fmt.Sprintf("Completed: %s - %s", strings.TrimSpace(topic), strings.TrimSpace(completed))
	if err := a.mem.AddMemory(ctx, a.userID, content, memory.TypeProgress, map[string]any{"topic": topic}); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}
