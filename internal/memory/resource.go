package memory

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/go-shiori/go-readability"
)

const (
	fetchTimeout   = 30 * time.Second
	fetchUserAgent = "Mozilla/5.0 (compatible; Echo/1.0; learning assistant)"
)

// FetchedDocument is a web page reduced to its main article.
type FetchedDocument struct {
	URL      string
	Title    string
	Byline   string
	Markdown string
}

// ResourceFetcher downloads learning resources and converts them to Markdown.
type ResourceFetcher struct {
	httpClient *http.Client
}

func NewResourceFetcher() *ResourceFetcher {
	return &ResourceFetcher{httpClient: &http.Client{Timeout: fetchTimeout}}
}

func (f *ResourceFetcher) Fetch(ctx context.Context, rawURL string) (*FetchedDocument, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("fetch resource: invalid url %q", rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch resource: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch resource: http %d", resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, u)
	if err != nil {
		return nil, fmt.Errorf("parse article: %w", err)
	}

	doc := &FetchedDocument{
		URL:    u.String(),
		Title:  strings.TrimSpace(article.Title),
		Byline: strings.TrimSpace(article.Byline),
	}

	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(article.Content)
	if err != nil {
		markdown = article.TextContent
	}
	doc.Markdown = strings.TrimSpace(markdown)
	if doc.Title == "" {
		doc.Title = u.Host
	}
	if doc.Markdown == "" {
		return nil, fmt.Errorf("parse article: no readable content at %s", u.String())
	}
	return doc, nil
}
