package agent

import (
	"strings"

	"github.com/zhuqingxun/echo/internal/memory"
)

const (
	promptMemoryLimit     = 3
	promptPreferenceLimit = 5
)

const SystemPrompt = `You are Echo, a personal AI learning assistant. Your job is to:

1. Help the user organize what they know and build knowledge graphs
2. Plan personalized learning paths based on the user's background
3. Recommend learning resources and hands-on projects
4. Track learning progress and suggest what to review

Principles:
- Build on what the user already knows
- Go step by step and avoid dumping too much at once
- Favor practice and recommend projects
- Remember the user's learning preferences and style

When answering, be:
- Friendly and encouraging
- Structured and clear
- Concrete and actionable
`

const jsonSystemPrompt = `You are Echo, a personal AI learning assistant. Reply with a single strict JSON object and nothing else.`

const knowledgeGraphPrompt = `Build a knowledge graph for the topic "%s".

Provide:
1. Core concepts (5-10 key concepts)
2. Relationships and dependencies between concepts
3. A recommended learning order
4. The difficulty of each concept (beginner/intermediate/advanced)
5. The importance of each concept (1-5)

Return JSON:
{
  "topic": "%s",
  "concepts": [
    {
      "name": "concept name",
      "level": "beginner|intermediate|advanced",
      "importance": 1,
      "description": "what it is",
      "prerequisites": ["concept A"]
    }
  ],
  "relationships": [
    {"from": "concept A", "to": "concept B", "type": "prerequisite|related|part_of"}
  ],
  "learning_path": ["concept A", "concept B"]
}`

const learningPathPrompt = `Create a learning path for "%s".

User background:
%s

Current level: %s

Provide:
1. 3-5 stages
2. Objectives for each stage
3. Topics for each stage
4. Estimated duration
5. Recommended resource types (docs, videos, projects...)
6. Practice project ideas

Return JSON:
{
  "topic": "%s",
  "total_duration": "N weeks",
  "stages": [
    {
      "name": "stage name",
      "duration": "N weeks",
      "level": "beginner|intermediate|advanced",
      "objectives": ["objective"],
      "topics": ["topic"],
      "resources": ["resource type"],
      "projects": ["project idea"]
    }
  ]
}`

// BuildContextPrompt composes the chat prompt from the message and its
// retrieved context. Empty sections are left out entirely.
func BuildContextPrompt(message string, c Context) string {
	var sb strings.Builder

	if len(c.Memories) > 0 {
		sb.WriteString("Relevant background about the user:\n")
		for i, m := range c.Memories {
			if i == promptMemoryLimit {
				break
			}
			sb.WriteString("- " + m.Content + "\n")
		}
		sb.WriteString("\n")
	}

	if len(c.Preferences) > 0 {
		sb.WriteString("User preferences:\n")
		for i, p := range c.Preferences {
			if i == promptPreferenceLimit {
				break
			}
			sb.WriteString("- " + p.Key + ": " + p.Value + "\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("User question: " + message + "\n\n")
	sb.WriteString("Answer the question using the user's background above.")
	return sb.String()
}

func formatBackground(skills []memory.Record) string {
	if len(skills) == 0 {
		return "(no recorded skills)"
	}
	lines := make([]string, len(skills))
	for i, s := range skills {
		lines[i] = "- " + s.Content
	}
	return strings.Join(lines, "\n")
}
