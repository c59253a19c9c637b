package memory

import (
	"context"
	"errors"
	"fmt"
)

// Memory types understood by both backends.
const (
	TypePreference     = "preference"
	TypeFact           = "fact"
	TypeEpisodic       = "episodic"
	TypeDocument       = "document"
	TypePlan           = "plan"
	TypeKnowledgeGraph = "knowledge_graph"
	TypeProgress       = "progress"
)

// ContextTypes are the record types searched when assembling chat context.
var ContextTypes = []string{TypePreference, TypeFact, TypeEpisodic, TypeDocument}

var ErrNotFound = errors.New("memory: not found")

// Record is one stored memory as returned by search and fact queries.
type Record struct {
	ID        string         `json:"id"`
	Type      string         `json:"memory_type"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at,omitempty"`
}

// Category returns the metadata category of a fact, if any.
func (r Record) Category() string {
	if r.Metadata == nil {
		return ""
	}
	if c, ok := r.Metadata["category"].(string); ok {
		return c
	}
	return ""
}

type Preference struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Episode struct {
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// UserProfile is the aggregate count view of a user's memory.
type UserProfile struct {
	UserID           string `json:"user_id"`
	DocumentsCount   int    `json:"documents_count"`
	FactsCount       int    `json:"facts_count"`
	PreferencesCount int    `json:"preferences_count"`
	EpisodesCount    int    `json:"episodes_count"`
	MessagesCount    int    `json:"messages_count"`
}

// Message is one conversation message appended to a session.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ExtractedFact is a fact produced by conversation extraction.
type ExtractedFact struct {
	Content  string `json:"content"`
	Category string `json:"category"`
}

// ExtractionResult is the LLM extraction output.
type ExtractionResult struct {
	Facts   []ExtractedFact `json:"facts"`
	Summary string          `json:"summary"`
}

// Gateway is the capability set the assistant needs from a memory backend.
// Both the local sqlite Engine and the remote Client implement it.
type Gateway interface {
	Search(ctx context.Context, userID, query string, types []string, limit int) ([]Record, error)
	GetPreferences(ctx context.Context, userID string) ([]Preference, error)
	GetFacts(ctx context.Context, userID, category string, limit int) ([]Record, error)
	GetEpisodes(ctx context.Context, userID string, limit int) ([]Episode, error)
	GetUserProfile(ctx context.Context, userID string) (*UserProfile, error)
	AddMemory(ctx context.Context, userID, content, memoryType string, metadata map[string]any) error
	AppendConversation(ctx context.Context, userID, sessionID string, msgs []Message) error
	EnableAutoExtract(ctx context.Context, userID, trigger string, threshold int) error
	Close() error
}

func validType(t string) bool {
	switch t {
	case TypePreference, TypeFact, TypeEpisodic, TypeDocument, TypePlan, TypeKnowledgeGraph, TypeProgress:
		return true
	}
	return false
}

func checkType(t string) error {
	if !validType(t) {
		return fmt.Errorf("memory: unknown memory type %q", t)
	}
	return nil
}
