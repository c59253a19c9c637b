package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	extractionSystem = `You are a memory extraction engine for a personal learning assistant. Reply with strict JSON only.`

	extractionPrompt = `Extract durable facts about the user from the conversation.

Rules:
1. Extract only explicit facts, no speculation
2. Keep each fact concise and independent, written in the user's language
3. Phrase skills so their level is explicit, e.g. "good at Go", "learning Rust", "plan to learn Kubernetes", "interested in databases"
4. category must be one of: skill/interest/goal/background/other
5. Also provide a one-sentence summary of the conversation

Return strict JSON object:
{"facts":[{"content":"...","category":"skill"}],"summary":"..."}

Conversation:
%s`

	defaultExtractionTokens = 1024
)

// Completer is the single-turn completion capability extraction needs.
// llm.Gateway satisfies it.
type Completer interface {
	Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error)
}

// LLMExtractor asks a language model to extract facts from a conversation.
type LLMExtractor struct {
	llm       Completer
	maxTokens int
}

func NewLLMExtractor(c Completer, maxTokens int) *LLMExtractor {
	if maxTokens <= 0 {
		maxTokens = defaultExtractionTokens
	}
	return &LLMExtractor{llm: c, maxTokens: maxTokens}
}

func (x *LLMExtractor) Extract(ctx context.Context, conversation string) (*ExtractionResult, error) {
	resp, err := x.llm.Complete(ctx, extractionSystem, fmt.Sprintf(extractionPrompt, conversation), x.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	var out ExtractionResult
	if err := json.Unmarshal([]byte(StripCodeFence(resp)), &out); err != nil {
		return nil, fmt.Errorf("parse extraction result: %w", err)
	}
	return &out, nil
}

// StripCodeFence removes a surrounding ```json fence some models add to JSON
// replies.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
