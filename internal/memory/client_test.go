package memory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/memory/search" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer nm-key" {
			t.Fatalf("auth header mismatch: %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Fatal("expected request id header")
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["user_id"] != "alice" || body["query"] != "rust" || body["limit"].(float64) != 5 {
			t.Fatalf("unexpected body: %+v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"id": "m1", "memory_type": "fact", "content": "learning Rust", "metadata": map[string]any{"category": "skill"}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "nm-key")
	got, err := c.Search(context.Background(), "alice", "rust", ContextTypes, 5)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(got) != 1 || got[0].Content != "learning Rust" || got[0].Category() != "skill" {
		t.Fatalf("unexpected results: %+v", got)
	}
}

func TestClientReads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("user_id") == "" && r.URL.Path != "/v1/users/alice/profile" {
			t.Fatalf("missing user_id on %s", r.URL.Path)
		}
		switch r.URL.Path {
		case "/v1/memory/preferences":
			_ = json.NewEncoder(w).Encode(map[string]any{"preferences": []Preference{{Key: "learning_style", Value: "visual"}}})
		case "/v1/memory/facts":
			if r.URL.Query().Get("category") != "skill" || r.URL.Query().Get("limit") != "20" {
				t.Fatalf("unexpected facts query: %s", r.URL.RawQuery)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"facts": []Record{{Content: "good at Go"}}})
		case "/v1/memory/episodes":
			_ = json.NewEncoder(w).Encode(map[string]any{"episodes": []Episode{{Content: "studied", Timestamp: "2026-01-01"}}})
		case "/v1/users/alice/profile":
			_ = json.NewEncoder(w).Encode(map[string]any{"documents_count": 3, "facts_count": 7})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	ctx := context.Background()

	prefs, err := c.GetPreferences(ctx, "alice")
	if err != nil || len(prefs) != 1 || prefs[0].Value != "visual" {
		t.Fatalf("GetPreferences = %+v, %v", prefs, err)
	}
	facts, err := c.GetFacts(ctx, "alice", "skill", 20)
	if err != nil || len(facts) != 1 {
		t.Fatalf("GetFacts = %+v, %v", facts, err)
	}
	eps, err := c.GetEpisodes(ctx, "alice", 10)
	if err != nil || len(eps) != 1 || eps[0].Timestamp != "2026-01-01" {
		t.Fatalf("GetEpisodes = %+v, %v", eps, err)
	}
	p, err := c.GetUserProfile(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserProfile error: %v", err)
	}
	if p.DocumentsCount != 3 || p.FactsCount != 7 || p.UserID != "alice" {
		t.Fatalf("unexpected profile: %+v", p)
	}
}

func TestClientWrites(t *testing.T) {
	seen := map[string]map[string]any{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Fatalf("content type = %q", r.Header.Get("Content-Type"))
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		seen[r.URL.Path] = body
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	ctx := context.Background()

	if err := c.AddMemory(ctx, "alice", "Learning path: Go", TypePlan, map[string]any{"topic": "Go"}); err != nil {
		t.Fatalf("AddMemory error: %v", err)
	}
	if err := c.AppendConversation(ctx, "alice", "s1", turn("hi", "hello")); err != nil {
		t.Fatalf("AppendConversation error: %v", err)
	}
	if err := c.EnableAutoExtract(ctx, "alice", "message_count", 10); err != nil {
		t.Fatalf("EnableAutoExtract error: %v", err)
	}

	if seen["/v1/memory"]["memory_type"] != TypePlan {
		t.Fatalf("unexpected add memory body: %+v", seen["/v1/memory"])
	}
	if msgs, ok := seen["/v1/conversations/messages"]["messages"].([]any); !ok || len(msgs) != 2 {
		t.Fatalf("unexpected append body: %+v", seen["/v1/conversations/messages"])
	}
	if seen["/v1/conversations/auto-extract"]["threshold"].(float64) != 10 {
		t.Fatalf("unexpected auto extract body: %+v", seen["/v1/conversations/auto-extract"])
	}

	if err := c.AddMemory(ctx, "alice", "x", "bogus", nil); err == nil {
		t.Fatal("expected unknown type to be rejected before sending")
	}
}

func TestClientAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"invalid api key"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bad")
	_, err := c.GetPreferences(context.Background(), "alice")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Message != "invalid api key" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestClientMissingBaseURL(t *testing.T) {
	c := NewClient("", "")
	if err := c.AppendConversation(context.Background(), "u", "s", nil); err == nil {
		t.Fatal("expected error without base url")
	}
}
