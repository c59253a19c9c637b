package memory

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

const (
	extractBatchLimit = 500
	extractTimeout    = 2 * time.Minute
)

// Extractor turns a formatted conversation into durable facts and a summary.
type Extractor interface {
	Extract(ctx context.Context, conversation string) (*ExtractionResult, error)
}

type pendingMessage struct {
	ID      int64
	Role    string
	Content string
}

// maybeExtract starts a background extraction for the user when auto
// extraction is enabled and the pending message count reached the threshold.
// At most one extraction per user runs at a time.
func (e *Engine) maybeExtract(ctx context.Context, userID string) {
	e.extractMu.Lock()
	x := e.extractor
	busy := e.extracting[userID]
	e.extractMu.Unlock()
	if x == nil || busy {
		return
	}

	threshold, err := e.autoExtractThreshold(ctx, userID)
	if err != nil {
		if err != ErrNotFound {
			log.Printf("[memory] warning: auto extract lookup failed: %v", err)
		}
		return
	}
	pending, err := e.pendingCount(ctx, userID)
	if err != nil {
		log.Printf("[memory] warning: %v", err)
		return
	}
	if pending < threshold {
		return
	}

	e.extractMu.Lock()
	if e.extracting[userID] {
		e.extractMu.Unlock()
		return
	}
	e.extracting[userID] = true
	e.extractWg.Add(1)
	e.extractMu.Unlock()

	go func() {
		defer e.extractWg.Done()
		defer func() {
			e.extractMu.Lock()
			delete(e.extracting, userID)
			e.extractMu.Unlock()
		}()

		runCtx, cancel := context.WithTimeout(context.Background(), extractTimeout)
		defer cancel()
		if err := e.ExtractPending(runCtx, userID, x); err != nil {
			log.Printf("[memory] extraction error: %v", err)
		}
	}()
}

// ExtractPending runs one extraction pass over the user's unextracted
// messages. On failure the messages stay pending for the next pass.
func (e *Engine) ExtractPending(ctx context.Context, userID string, x Extractor) error {
	msgs, err := e.pendingMessages(ctx, userID, extractBatchLimit)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	extracted, err := x.Extract(ctx, formatConversation(msgs))
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin extraction: %w", err)
	}
	defer tx.Rollback()

	for _, fact := range extracted.Facts {
		content := strings.TrimSpace(fact.Content)
		if content == "" {
			continue
		}
		meta := map[string]any{"source": "extraction"}
		if c := strings.TrimSpace(fact.Category); c != "" {
			meta["category"] = c
		}
		if err := e.insertMemory(ctx, tx, userID, TypeFact, content, meta); err != nil {
			return err
		}
	}
	if summary := strings.TrimSpace(extracted.Summary); summary != "" {
		if err := e.insertMemory(ctx, tx, userID, TypeEpisodic, summary, map[string]any{"source": "extraction"}); err != nil {
			return err
		}
	}

	ids := make([]any, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET extracted = 1 WHERE id IN (`+placeholders(len(ids))+`)`, ids...); err != nil {
		return fmt.Errorf("mark extracted: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit extraction: %w", err)
	}
	log.Printf("[memory] extracted %d facts from %d messages for %s", len(extracted.Facts), len(msgs), userID)
	return nil
}

func (e *Engine) pendingMessages(ctx context.Context, userID string, limit int) ([]pendingMessage, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, role, content FROM conversations
		WHERE user_id = ? AND extracted = 0
		ORDER BY id ASC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending messages: %w", err)
	}
	defer rows.Close()

	msgs := make([]pendingMessage, 0)
	for rows.Next() {
		var m pendingMessage
		if err := rows.Scan(&m.ID, &m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("scan pending message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending messages: %w", err)
	}
	return msgs, nil
}

func formatConversation(msgs []pendingMessage) string {
	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString(fmt.Sprintf("[%s]: %s\n", m.Role, m.Content))
	}
	return strings.TrimSpace(sb.String())
}
