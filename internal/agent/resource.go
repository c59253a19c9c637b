package agent

import (
	"context"
	"log"
	"strings"

	"github.com/zhuqingxun/echo/internal/memory"
)

// Resource is the outcome of adding a learning resource. Error is set when
// the resource could not be fetched or stored.
type Resource struct {
	URL      string   `json:"url"`
	Title    string   `json:"title,omitempty"`
	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// AddResource fetches url, stores the article as a document memory and
// refreshes the profile.
func (a *Agent) AddResource(ctx context.Context, url, category string, tags []string) Resource {
	res := Resource{URL: strings.TrimSpace(url), Category: category, Tags: tags}
	log.Printf("[agent] adding resource %s", res.URL)

	doc, err := a.fetcher.Fetch(ctx, res.URL)
	if err != nil {
		log.Printf("[agent] add resource failed: %v", err)
		res.Error = err.Error()
		return res
	}
	res.Title = doc.Title

	meta := map[string]any{
		"url":      doc.URL,
		"title":    doc.Title,
		"category": category,
		"tags":     tagList(tags),
	}
	if doc.Byline != "" {
		meta["byline"] = doc.Byline
	}
	if err := a.mem.AddMemory(ctx, a.userID, doc.Markdown, memory.TypeDocument, meta); err != nil {
		log.Printf("[agent] store resource failed: %v", err)
		res.Error = err.Error()
		return res
	}

	a.linkResourceToKnowledge(ctx, doc)
	a.UpdateProfile(ctx)
	return res
}

// linkResourceToKnowledge attaches a stored document to existing knowledge
// graphs. Not implemented yet.
func (a *Agent) linkResourceToKnowledge(ctx context.Context, doc *memory.FetchedDocument) {}

func tagList(tags []string) []any {
	out := make([]any, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
