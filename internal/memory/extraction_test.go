package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

type mockExtractor struct {
	mu        sync.Mutex
	calls     int
	lastInput string
	extractFn func(conversation string) (*ExtractionResult, error)
}

func (m *mockExtractor) Extract(_ context.Context, conversation string) (*ExtractionResult, error) {
	m.mu.Lock()
	m.calls++
	m.lastInput = conversation
	m.mu.Unlock()
	if m.extractFn != nil {
		return m.extractFn(conversation)
	}
	return &ExtractionResult{}, nil
}

func (m *mockExtractor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func turn(user, assistant string) []Message {
	return []Message{{Role: "user", Content: user}, {Role: "assistant", Content: assistant}}
}

func TestExtractPending(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if err := e.AppendConversation(ctx, "u1", "s1", turn("I am learning Rust", "Great choice")); err != nil {
		t.Fatalf("AppendConversation error: %v", err)
	}

	x := &mockExtractor{extractFn: func(string) (*ExtractionResult, error) {
		return &ExtractionResult{
			Facts:   []ExtractedFact{{Content: "learning Rust", Category: "skill"}, {Content: "  "}},
			Summary: "User started learning Rust",
		}, nil
	}}
	if err := e.ExtractPending(ctx, "u1", x); err != nil {
		t.Fatalf("ExtractPending error: %v", err)
	}
	if !strings.Contains(x.lastInput, "[user]: I am learning Rust") || !strings.Contains(x.lastInput, "[assistant]: Great choice") {
		t.Fatalf("unexpected conversation input: %q", x.lastInput)
	}

	facts, err := e.GetFacts(ctx, "u1", "skill", 10)
	if err != nil {
		t.Fatalf("GetFacts error: %v", err)
	}
	if len(facts) != 1 || facts[0].Content != "learning Rust" {
		t.Fatalf("expected extracted skill fact, got %+v", facts)
	}
	eps, err := e.GetEpisodes(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("GetEpisodes error: %v", err)
	}
	if len(eps) != 1 || eps[0].Content != "User started learning Rust" {
		t.Fatalf("expected summary episode, got %+v", eps)
	}

	pending, err := e.pendingCount(ctx, "u1")
	if err != nil {
		t.Fatalf("pendingCount error: %v", err)
	}
	if pending != 0 {
		t.Fatalf("expected no pending messages, got %d", pending)
	}

	// Nothing left to extract.
	if err := e.ExtractPending(ctx, "u1", x); err != nil {
		t.Fatalf("ExtractPending error: %v", err)
	}
	if x.callCount() != 1 {
		t.Fatalf("expected extractor to be skipped with no pending messages, calls=%d", x.callCount())
	}
}

func TestExtractPendingKeepsMessagesOnError(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_ = e.AppendConversation(ctx, "u1", "s1", turn("hello", "hi"))
	x := &mockExtractor{extractFn: func(string) (*ExtractionResult, error) {
		return nil, errors.New("model down")
	}}
	if err := e.ExtractPending(ctx, "u1", x); err == nil {
		t.Fatal("expected extraction error")
	}
	pending, err := e.pendingCount(ctx, "u1")
	if err != nil {
		t.Fatalf("pendingCount error: %v", err)
	}
	if pending != 2 {
		t.Fatalf("expected messages to stay pending, got %d", pending)
	}
}

func TestAutoExtractAtThreshold(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	x := &mockExtractor{extractFn: func(string) (*ExtractionResult, error) {
		return &ExtractionResult{Facts: []ExtractedFact{{Content: "likes Go", Category: "interest"}}}, nil
	}}
	e.SetExtractor(x)
	if err := e.EnableAutoExtract(ctx, "u1", "message_count", 4); err != nil {
		t.Fatalf("EnableAutoExtract error: %v", err)
	}

	_ = e.AppendConversation(ctx, "u1", "s1", turn("one", "1"))
	e.extractWg.Wait()
	if x.callCount() != 0 {
		t.Fatalf("extraction should wait for threshold, calls=%d", x.callCount())
	}

	_ = e.AppendConversation(ctx, "u1", "s1", turn("two", "2"))
	e.extractWg.Wait()
	if x.callCount() != 1 {
		t.Fatalf("expected one extraction at threshold, calls=%d", x.callCount())
	}
	facts, err := e.GetFacts(ctx, "u1", "", 10)
	if err != nil {
		t.Fatalf("GetFacts error: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("expected 1 extracted fact, got %d", len(facts))
	}
}

func TestAutoExtractDisabled(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	x := &mockExtractor{}
	e.SetExtractor(x)
	for i := 0; i < 10; i++ {
		_ = e.AppendConversation(ctx, "u1", "s1", turn("q", "a"))
	}
	e.extractWg.Wait()
	if x.callCount() != 0 {
		t.Fatalf("extraction should not run without EnableAutoExtract, calls=%d", x.callCount())
	}
}

func TestEnableAutoExtractValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if err := e.EnableAutoExtract(ctx, "u1", "time", 10); err == nil {
		t.Fatal("expected error for unsupported trigger")
	}
	if err := e.EnableAutoExtract(ctx, "u1", "message_count", 0); err == nil {
		t.Fatal("expected error for zero threshold")
	}
	if err := e.EnableAutoExtract(ctx, "u1", "message_count", 10); err != nil {
		t.Fatalf("EnableAutoExtract error: %v", err)
	}
	// Re-enabling updates the threshold.
	if err := e.EnableAutoExtract(ctx, "u1", "message_count", 20); err != nil {
		t.Fatalf("EnableAutoExtract update error: %v", err)
	}
	threshold, err := e.autoExtractThreshold(ctx, "u1")
	if err != nil {
		t.Fatalf("autoExtractThreshold error: %v", err)
	}
	if threshold != 20 {
		t.Fatalf("threshold = %d, want 20", threshold)
	}
	if _, err := e.autoExtractThreshold(ctx, "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
