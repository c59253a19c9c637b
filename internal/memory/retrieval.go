package memory

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

const maxKeywords = 8

var (
	cnWordRegex = regexp.MustCompile(`[\p{Han}]{2,}`)
	enWordRegex = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_\-]{2,}`)
)

// Search ranks the user's records against the query. FTS5 hits come first in
// bm25 order. Han runs are not split by unicode61, so remaining slots up to
// limit are filled by a substring scan over all keywords, newest first and
// without duplicates. A query with no usable keywords returns the most
// recent records.
func (e *Engine) Search(ctx context.Context, userID, query string, types []string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 5
	}
	for _, t := range types {
		if err := checkType(t); err != nil {
			return nil, err
		}
	}

	keywords := sanitizeFTSTokens(extractKeywords(query))
	if len(keywords) == 0 {
		return e.recent(ctx, userID, types, limit)
	}

	results, err := e.searchFTS(ctx, userID, keywords, types, limit)
	if err != nil {
		return nil, err
	}
	if len(results) >= limit {
		return results, nil
	}

	like, err := e.searchLike(ctx, userID, keywords, types, limit)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		seen[r.ID] = struct{}{}
	}
	for _, r := range like {
		if len(results) >= limit {
			break
		}
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		results = append(results, r)
	}
	return results, nil
}

func (e *Engine) searchFTS(ctx context.Context, userID string, keywords, types []string, limit int) ([]Record, error) {
	q := `
		SELECT m.id, m.memory_type, m.content, m.metadata, m.created_at
		FROM memories m
		JOIN memories_fts f ON m.id = f.rowid
		WHERE memories_fts MATCH ?
		  AND m.user_id = ?`
	args := []any{matchExpression(keywords), userID}
	q, args = appendTypeFilter(q, args, "m.memory_type", types)
	q += ` ORDER BY bm25(memories_fts), m.id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search fts: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (e *Engine) searchLike(ctx context.Context, userID string, keywords, types []string, limit int) ([]Record, error) {
	conds := make([]string, len(keywords))
	args := []any{userID}
	for i, kw := range keywords {
		conds[i] = `content LIKE ? ESCAPE '\'`
		args = append(args, "%"+likeEscaper.Replace(kw)+"%")
	}
	q := `SELECT id, memory_type, content, metadata, created_at FROM memories WHERE user_id = ? AND (` +
		strings.Join(conds, " OR ") + `)`
	q, args = appendTypeFilter(q, args, "memory_type", types)
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search like: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (e *Engine) recent(ctx context.Context, userID string, types []string, limit int) ([]Record, error) {
	q := `SELECT id, memory_type, content, metadata, created_at FROM memories WHERE user_id = ?`
	args := []any{userID}
	q, args = appendTypeFilter(q, args, "memory_type", types)
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func appendTypeFilter(q string, args []any, column string, types []string) (string, []any) {
	if len(types) == 0 {
		return q, args
	}
	q += ` AND ` + column + ` IN (` + placeholders(len(types)) + `)`
	for _, t := range types {
		args = append(args, t)
	}
	return q, args
}

func extractKeywords(msg string) []string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return nil
	}

	keywords := make([]string, 0)
	seen := map[string]struct{}{}

	for _, w := range cnWordRegex.FindAllString(msg, -1) {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		keywords = append(keywords, w)
	}
	for _, w := range enWordRegex.FindAllString(strings.ToLower(msg), -1) {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		keywords = append(keywords, w)
	}

	if len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}
	return keywords
}

// sanitizeFTSTokens drops FTS5 operators and punctuation so user text can
// never change the shape of the MATCH expression.
func sanitizeFTSTokens(tokens []string) []string {
	if len(tokens) == 0 {
		return nil
	}

	reserved := map[string]struct{}{
		"and":  {},
		"or":   {},
		"not":  {},
		"near": {},
	}

	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		for _, part := range strings.Fields(normalizeFTSToken(token)) {
			if _, blocked := reserved[part]; blocked {
				continue
			}
			if _, exists := seen[part]; exists {
				continue
			}
			seen[part] = struct{}{}
			out = append(out, part)
		}
	}
	if len(out) > maxKeywords {
		out = out[:maxKeywords]
	}
	return out
}

func normalizeFTSToken(token string) string {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteByte(' ')
	}
	return b.String()
}

func matchExpression(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}
