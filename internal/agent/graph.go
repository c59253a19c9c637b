package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/zhuqingxun/echo/internal/memory"
)

const graphSearchLimit = 5

// ParseKnowledgeGraph decodes generated graph JSON. Text that is not a JSON
// object is kept under the "raw" key.
func ParseKnowledgeGraph(text string) map[string]any {
	var graph map[string]any
	if err := json.Unmarshal([]byte(memory.StripCodeFence(text)), &graph); err != nil || graph == nil {
		return map[string]any{"raw": text}
	}
	return graph
}

// BuildKnowledgeGraph generates and stores a knowledge graph for topic, then
// refreshes the profile. Failures are returned as {"error": message}.
func (a *Agent) BuildKnowledgeGraph(ctx context.Context, topic string) map[string]any {
	topic = strings.TrimSpace(topic)
	log.Printf("[agent] building knowledge graph for %q", topic)

	text, err := a.llm.Complete(ctx, jsonSystemPrompt, fmt.Sprintf(knowledgeGraphPrompt, topic, topic), a.maxTokens)
	if err != nil {
		log.Printf("[agent] build knowledge graph failed: %v", err)
		return map[string]any{"error": err.Error()}
	}
	graph := ParseKnowledgeGraph(text)

	if err := a.mem.AddMemory(ctx, a.userID, "Knowledge graph: "+topic, memory.TypeKnowledgeGraph, graph); err != nil {
		log.Printf("[agent] store knowledge graph failed: %v", err)
		return map[string]any{"error": err.Error()}
	}

	a.UpdateProfile(ctx)
	return graph
}

// GetGraph returns the stored graph for topic, or an empty map. An exact
// topic match wins over the best search hit.
func (a *Agent) GetGraph(ctx context.Context, topic string) (map[string]any, error) {
	content := "Knowledge graph: " + strings.TrimSpace(topic)
	records, err := a.mem.Search(ctx, a.userID, content, []string{memory.TypeKnowledgeGraph}, graphSearchLimit)
	if err != nil {
		return nil, fmt.Errorf("search knowledge graph: %w", err)
	}
	if len(records) == 0 {
		return map[string]any{}, nil
	}
	best := records[0]
	for _, r := range records {
		if r.Content == content {
			best = r
			break
		}
	}
	if best.Metadata == nil {
		return map[string]any{}, nil
	}
	return best.Metadata, nil
}
