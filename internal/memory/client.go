package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const clientTimeout = 30 * time.Second

// APIError is a non-2xx response from the remote memory service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("memory api http %d: %s", e.StatusCode, e.Message)
}

// Client talks to a remote NeuroMemory service over JSON/HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ Gateway = (*Client)(nil)

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: clientTimeout},
	}
}

func (c *Client) Search(ctx context.Context, userID, query string, types []string, limit int) ([]Record, error) {
	body := map[string]any{
		"user_id":      userID,
		"query":        query,
		"memory_types": types,
		"limit":        limit,
	}
	var out struct {
		Results []Record `json:"results"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/memory/search", nil, body, &out); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return out.Results, nil
}

func (c *Client) GetPreferences(ctx context.Context, userID string) ([]Preference, error) {
	var out struct {
		Preferences []Preference `json:"preferences"`
	}
	q := url.Values{"user_id": {userID}}
	if err := c.do(ctx, http.MethodGet, "/v1/memory/preferences", q, nil, &out); err != nil {
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	return out.Preferences, nil
}

func (c *Client) GetFacts(ctx context.Context, userID, category string, limit int) ([]Record, error) {
	q := url.Values{"user_id": {userID}}
	if category != "" {
		q.Set("category", category)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Facts []Record `json:"facts"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/memory/facts", q, nil, &out); err != nil {
		return nil, fmt.Errorf("get facts: %w", err)
	}
	return out.Facts, nil
}

func (c *Client) GetEpisodes(ctx context.Context, userID string, limit int) ([]Episode, error) {
	q := url.Values{"user_id": {userID}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Episodes []Episode `json:"episodes"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/memory/episodes", q, nil, &out); err != nil {
		return nil, fmt.Errorf("get episodes: %w", err)
	}
	return out.Episodes, nil
}

func (c *Client) GetUserProfile(ctx context.Context, userID string) (*UserProfile, error) {
	var out UserProfile
	if err := c.do(ctx, http.MethodGet, "/v1/users/"+url.PathEscape(userID)+"/profile", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("get user profile: %w", err)
	}
	if out.UserID == "" {
		out.UserID = userID
	}
	return &out, nil
}

func (c *Client) AddMemory(ctx context.Context, userID, content, memoryType string, metadata map[string]any) error {
	if err := checkType(memoryType); err != nil {
		return err
	}
	body := map[string]any{
		"user_id":     userID,
		"content":     content,
		"memory_type": memoryType,
		"metadata":    metadata,
	}
	if err := c.do(ctx, http.MethodPost, "/v1/memory", nil, body, nil); err != nil {
		return fmt.Errorf("add memory: %w", err)
	}
	return nil
}

func (c *Client) AppendConversation(ctx context.Context, userID, sessionID string, msgs []Message) error {
	body := map[string]any{
		"user_id":    userID,
		"session_id": sessionID,
		"messages":   msgs,
	}
	if err := c.do(ctx, http.MethodPost, "/v1/conversations/messages", nil, body, nil); err != nil {
		return fmt.Errorf("append conversation: %w", err)
	}
	return nil
}

func (c *Client) EnableAutoExtract(ctx context.Context, userID, trigger string, threshold int) error {
	body := map[string]any{
		"user_id":   userID,
		"trigger":   trigger,
		"threshold": threshold,
	}
	if err := c.do(ctx, http.MethodPost, "/v1/conversations/auto-extract", nil, body, nil); err != nil {
		return fmt.Errorf("enable auto extract: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("missing memory base url")
	}
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: apiErrorMessage(respBody)}
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func apiErrorMessage(body []byte) string {
	var decoded struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &decoded); err == nil {
		for _, m := range []string{decoded.Detail, decoded.Message, decoded.Error} {
			if strings.TrimSpace(m) != "" {
				return strings.TrimSpace(m)
			}
		}
	}
	return strings.TrimSpace(string(body))
}
