package memory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func schemaObjectExists(t *testing.T, e *Engine, name, kind string) bool {
	t.Helper()
	var n int
	if err := e.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = ? AND type = ?`, name, kind).Scan(&n); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	return n > 0
}

func TestNewEngine(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "memory.db")

	e, err := NewEngine(dbPath)
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	if err := e.AddMemory(context.Background(), "u1", "likes Go", TypeFact, nil); err != nil {
		t.Fatalf("AddMemory error: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	// Idempotent reopen against the same path keeps data.
	e2, err := NewEngine(dbPath)
	if err != nil {
		t.Fatalf("NewEngine reopen error: %v", err)
	}
	defer e2.Close()

	facts, err := e2.GetFacts(context.Background(), "u1", "", 10)
	if err != nil {
		t.Fatalf("GetFacts error: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("expected 1 fact after reopen, got %d", len(facts))
	}
}

func TestInitSchema(t *testing.T) {
	e := newTestEngine(t)

	for _, table := range []string{"memories", "memories_fts", "preferences", "conversations", "auto_extract"} {
		if !schemaObjectExists(t, e, table, "table") {
			t.Fatalf("expected table %q to exist", table)
		}
	}
	for _, index := range []string{"idx_memories_user_type", "idx_memories_category", "idx_conversations_pending"} {
		if !schemaObjectExists(t, e, index, "index") {
			t.Fatalf("expected index %q to exist", index)
		}
	}
	for _, trigger := range []string{"memories_ai", "memories_ad", "memories_au"} {
		if !schemaObjectExists(t, e, trigger, "trigger") {
			t.Fatalf("expected trigger %q to exist", trigger)
		}
	}
}

func TestAddMemoryValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if err := e.AddMemory(ctx, "u1", "x", "bogus", nil); err == nil {
		t.Fatal("expected error for unknown memory type")
	}
	if err := e.AddMemory(ctx, "u1", "   ", TypeFact, nil); err == nil {
		t.Fatal("expected error for empty content")
	}
	if err := e.AddMemory(ctx, "u1", "dark mode", TypePreference, nil); err == nil {
		t.Fatal("expected error for preference without key")
	}
}

func TestGetFacts(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	must := func(content, category string) {
		t.Helper()
		var meta map[string]any
		if category != "" {
			meta = map[string]any{"category": category}
		}
		if err := e.AddMemory(ctx, "u1", content, TypeFact, meta); err != nil {
			t.Fatalf("AddMemory error: %v", err)
		}
	}
	must("good at Python", "skill")
	must("likes hiking", "interest")
	must("learning Rust", "skill")
	if err := e.AddMemory(ctx, "u2", "other user fact", TypeFact, nil); err != nil {
		t.Fatalf("AddMemory error: %v", err)
	}

	all, err := e.GetFacts(ctx, "u1", "", 50)
	if err != nil {
		t.Fatalf("GetFacts error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 facts, got %d", len(all))
	}
	if all[0].Content != "learning Rust" {
		t.Fatalf("expected newest first, got %q", all[0].Content)
	}

	skills, err := e.GetFacts(ctx, "u1", "skill", 50)
	if err != nil {
		t.Fatalf("GetFacts error: %v", err)
	}
	if len(skills) != 2 {
		t.Fatalf("expected 2 skill facts, got %d", len(skills))
	}
	for _, f := range skills {
		if f.Category() != "skill" {
			t.Fatalf("unexpected category %q", f.Category())
		}
	}

	limited, err := e.GetFacts(ctx, "u1", "", 1)
	if err != nil {
		t.Fatalf("GetFacts error: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit 1, got %d", len(limited))
	}
}

func TestPreferences(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if err := e.AddMemory(ctx, "u1", "prefers videos", TypePreference, map[string]any{"key": "learning_style", "value": "visual"}); err != nil {
		t.Fatalf("AddMemory error: %v", err)
	}
	if err := e.SetPreference(ctx, "u1", "preferred_language", "Go"); err != nil {
		t.Fatalf("SetPreference error: %v", err)
	}
	if err := e.SetPreference(ctx, "u1", "learning_style", "hands-on"); err != nil {
		t.Fatalf("SetPreference error: %v", err)
	}

	prefs, err := e.GetPreferences(ctx, "u1")
	if err != nil {
		t.Fatalf("GetPreferences error: %v", err)
	}
	if len(prefs) != 2 {
		t.Fatalf("expected 2 preferences, got %+v", prefs)
	}
	if prefs[0].Key != "learning_style" || prefs[0].Value != "hands-on" {
		t.Fatalf("expected upserted first preference, got %+v", prefs[0])
	}
	if prefs[1].Key != "preferred_language" {
		t.Fatalf("unexpected second preference %+v", prefs[1])
	}

	other, err := e.GetPreferences(ctx, "nobody")
	if err != nil {
		t.Fatalf("GetPreferences error: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected no preferences for unknown user, got %+v", other)
	}
}

func TestGetEpisodes(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	for _, c := range []string{"studied ownership", "studied lifetimes", "studied traits"} {
		if err := e.AddMemory(ctx, "u1", c, TypeEpisodic, nil); err != nil {
			t.Fatalf("AddMemory error: %v", err)
		}
	}
	eps, err := e.GetEpisodes(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("GetEpisodes error: %v", err)
	}
	if len(eps) != 2 {
		t.Fatalf("expected 2 episodes, got %d", len(eps))
	}
	if eps[0].Content != "studied traits" {
		t.Fatalf("expected newest episode first, got %q", eps[0].Content)
	}
	if eps[0].Timestamp == "" {
		t.Fatal("expected episode timestamp")
	}
}

func TestGetUserProfile(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_ = e.AddMemory(ctx, "u1", "Rust book", TypeDocument, map[string]any{"url": "https://doc.rust-lang.org/book/"})
	_ = e.AddMemory(ctx, "u1", "good at Go", TypeFact, nil)
	_ = e.AddMemory(ctx, "u1", "learning Rust", TypeFact, nil)
	_ = e.AddMemory(ctx, "u1", "talked about Rust", TypeEpisodic, nil)
	_ = e.SetPreference(ctx, "u1", "learning_style", "visual")
	if err := e.AppendConversation(ctx, "u1", "s1", []Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}}); err != nil {
		t.Fatalf("AppendConversation error: %v", err)
	}

	p, err := e.GetUserProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUserProfile error: %v", err)
	}
	if p.DocumentsCount != 1 || p.FactsCount != 2 || p.EpisodesCount != 1 || p.PreferencesCount != 1 || p.MessagesCount != 2 {
		t.Fatalf("unexpected profile counts: %+v", p)
	}

	empty, err := e.GetUserProfile(ctx, "nobody")
	if err != nil {
		t.Fatalf("GetUserProfile error: %v", err)
	}
	if empty.DocumentsCount != 0 || empty.FactsCount != 0 {
		t.Fatalf("expected zero counts, got %+v", empty)
	}
}

func TestSearch(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_ = e.AddMemory(ctx, "u1", "User is learning Rust ownership", TypeFact, nil)
	_ = e.AddMemory(ctx, "u1", "User is good at Python", TypeFact, nil)
	_ = e.AddMemory(ctx, "u1", "Rust book chapter notes", TypeDocument, nil)
	_ = e.AddMemory(ctx, "u1", "Rust plan", TypePlan, nil)
	_ = e.AddMemory(ctx, "u1", "用户正在学习机器学习", TypeFact, nil)
	_ = e.AddMemory(ctx, "u2", "Rust for another user", TypeFact, nil)

	got, err := e.Search(ctx, "u1", "How do I start with Rust?", ContextTypes, 5)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rust matches in context types, got %+v", got)
	}
	for _, r := range got {
		if !strings.Contains(r.Content, "Rust") {
			t.Fatalf("unexpected match %q", r.Content)
		}
		if r.Type == TypePlan {
			t.Fatal("plan should be filtered out by types")
		}
	}

	plans, err := e.Search(ctx, "u1", "rust", []string{TypePlan}, 5)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(plans) != 1 || plans[0].Type != TypePlan {
		t.Fatalf("expected the plan record, got %+v", plans)
	}

	han, err := e.Search(ctx, "u1", "机器学习", nil, 5)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(han) != 1 || !strings.Contains(han[0].Content, "机器学习") {
		t.Fatalf("expected Han fallback match, got %+v", han)
	}

	recent, err := e.Search(ctx, "u1", "?!", nil, 2)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(recent) != 2 || recent[0].Content != "用户正在学习机器学习" {
		t.Fatalf("expected most recent records, got %+v", recent)
	}

	if _, err := e.Search(ctx, "u1", "rust", []string{"bogus"}, 5); err == nil {
		t.Fatal("expected error for unknown type filter")
	}
}

func TestSearchOperatorsInQuery(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	_ = e.AddMemory(ctx, "u1", "notes about go generics", TypeFact, nil)

	got, err := e.Search(ctx, "u1", `"generics" AND NOT (go*) NEAR`, nil, 5)
	if err != nil {
		t.Fatalf("Search with operators should not fail: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 match, got %d", len(got))
	}
}

func TestSearchMixedScriptQuery(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	_ = e.AddMemory(ctx, "u1", "notes on Go concurrency patterns", TypeFact, nil)
	_ = e.AddMemory(ctx, "u1", "正在学习并发编程", TypeFact, nil)
	_ = e.AddMemory(ctx, "u1", "good at Python", TypeFact, nil)

	got, err := e.Search(ctx, "u1", "并发编程 concurrency", nil, 5)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected both the latin and the Han match, got %+v", got)
	}
	if got[0].Content != "notes on Go concurrency patterns" || got[1].Content != "正在学习并发编程" {
		t.Fatalf("full-text hits should come first, got %+v", got)
	}

	one, err := e.Search(ctx, "u1", "并发编程 concurrency", nil, 1)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(one) != 1 {
		t.Fatalf("limit not applied: %+v", one)
	}
}

func TestSearchLikeEscapesWildcards(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	_ = e.AddMemory(ctx, "u1", "my_var holds the config", TypeFact, nil)
	_ = e.AddMemory(ctx, "u1", "myXvar is unrelated", TypeFact, nil)
	_ = e.AddMemory(ctx, "u1", "100% done", TypeFact, nil)

	got, err := e.searchLike(ctx, "u1", []string{"my_var"}, nil, 5)
	if err != nil {
		t.Fatalf("searchLike error: %v", err)
	}
	if len(got) != 1 || got[0].Content != "my_var holds the config" {
		t.Fatalf("underscore should match literally, got %+v", got)
	}

	got, err = e.searchLike(ctx, "u1", []string{"0%"}, nil, 5)
	if err != nil {
		t.Fatalf("searchLike error: %v", err)
	}
	if len(got) != 1 || got[0].Content != "100% done" {
		t.Fatalf("percent should match literally, got %+v", got)
	}

	all, err := e.Search(ctx, "u1", "where is my_var set", nil, 5)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	for _, r := range all {
		if r.Content == "myXvar is unrelated" {
			t.Fatalf("wildcard leaked into search: %+v", all)
		}
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	meta := map[string]any{"topic": "Rust", "level": "beginner", "tags": []string{"a", "b"}}
	if err := e.AddMemory(ctx, "u1", "Learning path: Rust", TypePlan, meta); err != nil {
		t.Fatalf("AddMemory error: %v", err)
	}
	got, err := e.Search(ctx, "u1", "Rust", []string{TypePlan}, 1)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one record, got %d", len(got))
	}
	if got[0].Metadata["topic"] != "Rust" || got[0].Metadata["level"] != "beginner" {
		t.Fatalf("metadata not preserved: %+v", got[0].Metadata)
	}
	if tags, ok := got[0].Metadata["tags"].([]any); !ok || len(tags) != 2 {
		t.Fatalf("tags not preserved: %+v", got[0].Metadata["tags"])
	}
}

func TestExtractKeywords(t *testing.T) {
	kw := extractKeywords("我想学习 Rust 和 machine-learning，怎么开始")
	if len(kw) == 0 {
		t.Fatal("expected non-empty keywords")
	}
	joined := strings.Join(kw, " ")
	if !strings.Contains(joined, "rust") || !strings.Contains(joined, "machine-learning") {
		t.Fatalf("missing latin keywords: %v", kw)
	}

	many := extractKeywords("alpha bravo charlie delta echo foxtrot golf hotel india juliet")
	if len(many) != maxKeywords {
		t.Fatalf("expected %d keywords, got %d", maxKeywords, len(many))
	}
}

func TestSanitizeFTSTokens(t *testing.T) {
	got := sanitizeFTSTokens([]string{"machine-learning", "and", "Rust", "rust"})
	want := []string{"machine", "learning", "rust"}
	if len(got) != len(want) {
		t.Fatalf("sanitizeFTSTokens = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sanitizeFTSTokens = %v, want %v", got, want)
		}
	}
	if expr := matchExpression([]string{"a", "b"}); expr != `"a" OR "b"` {
		t.Fatalf("matchExpression = %q", expr)
	}
}
