package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agentcore/pkg/llm"
)

// SaveConversation inserts or updates a conversation row. The row is keyed by
// conversation ID, so saving the same run twice (once mid-flight, once at its
// terminal status) overwrites cleanly.
func (s *Store) SaveConversation(c *Conversation) error {
	if c.ID == "" {
		return errors.New("conversation ID cannot be empty")
	}

	now := time.Now().UTC()
	created := c.CreatedAt
	if created.IsZero() {
		created = now
	}

	query := `
		INSERT INTO conversations (
			id, status, turn_count, model, summary, error,
			prompt_tokens, completion_tokens, total_tokens, estimated,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			turn_count = excluded.turn_count,
			model = excluded.model,
			summary = excluded.summary,
			error = excluded.error,
			prompt_tokens = excluded.prompt_tokens,
			completion_tokens = excluded.completion_tokens,
			total_tokens = excluded.total_tokens,
			estimated = excluded.estimated,
			updated_at = excluded.updated_at`

	_, err := s.db.Exec(query,
		c.ID, c.Status, c.TurnCount, c.Model, c.Summary, c.Error,
		c.PromptTokens, c.CompletionTokens, c.TotalTokens, boolToInt(c.Estimated),
		created, now)
	if err != nil {
		return fmt.Errorf("failed to save conversation %s: %w", c.ID, err)
	}
	return nil
}

// SaveMessages replaces the stored transcript for a conversation with the
// given rows. Replacement keeps the stored transcript an exact snapshot even
// after overflow truncation rewrote history mid-run.
func (s *Store) SaveMessages(conversationID string, rows []Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", conversationID); err != nil {
		return fmt.Errorf("failed to clear messages for %s: %w", conversationID, err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO messages (conversation_id, seq, role, content, tool_calls, tool_results)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err := stmt.Exec(conversationID, row.Seq, row.Role, row.Content, row.ToolCallsJSON, row.ToolResultsJSON)
		if err != nil {
			return fmt.Errorf("failed to insert message %d for %s: %w", row.Seq, conversationID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit messages for %s: %w", conversationID, err)
	}
	return nil
}

// SaveTranscript persists a conversation row together with its full message
// transcript. This is the one call a finished run needs.
func (s *Store) SaveTranscript(c *Conversation, msgs []llm.CompletionMessage) error {
	rows, err := NewMessages(c.ID, msgs)
	if err != nil {
		return err
	}
	if err := s.SaveConversation(c); err != nil {
		return err
	}
	return s.SaveMessages(c.ID, rows)
}

// RecordStep appends one per-turn step record. Steps arrive while the run is
// still in flight, before the final conversation row is saved, so a stub
// conversation row is created on first contact to satisfy the foreign key.
func (s *Store) RecordStep(step *Step) error {
	if step.ConversationID == "" {
		return errors.New("step conversation ID cannot be empty")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec("INSERT OR IGNORE INTO conversations (id, status) VALUES (?, 'active')", step.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to ensure conversation %s: %w", step.ConversationID, err)
	}

	created := step.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	_, err = tx.Exec(`
		INSERT INTO steps (
			conversation_id, turn, entry_id, model, tool_calls,
			prompt_tokens, completion_tokens, total_tokens, estimated,
			duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ConversationID, step.Turn, step.EntryID, step.Model, step.ToolCalls,
		step.PromptTokens, step.CompletionTokens, step.TotalTokens, boolToInt(step.Estimated),
		step.DurationMS, created)
	if err != nil {
		return fmt.Errorf("failed to record step %d for %s: %w", step.Turn, step.ConversationID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit step %d for %s: %w", step.Turn, step.ConversationID, err)
	}
	return nil
}

// GetConversation returns the conversation row with the given ID.
func (s *Store) GetConversation(id string) (*Conversation, error) {
	query := `
		SELECT id, status, turn_count, model, summary, error,
			prompt_tokens, completion_tokens, total_tokens, estimated,
			created_at, updated_at
		FROM conversations WHERE id = ?`

	var c Conversation
	var estimated int
	err := s.db.QueryRow(query, id).Scan(
		&c.ID, &c.Status, &c.TurnCount, &c.Model, &c.Summary, &c.Error,
		&c.PromptTokens, &c.CompletionTokens, &c.TotalTokens, &estimated,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	c.Estimated = estimated != 0
	return &c, nil
}

// ListConversations returns the most recently updated conversations, newest
// first. A limit of 0 or less returns everything.
func (s *Store) ListConversations(limit int) ([]*Conversation, error) {
	query := `
		SELECT id, status, turn_count, model, summary, error,
			prompt_tokens, completion_tokens, total_tokens, estimated,
			created_at, updated_at
		FROM conversations ORDER BY updated_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		var c Conversation
		var estimated int
		err := rows.Scan(
			&c.ID, &c.Status, &c.TurnCount, &c.Model, &c.Summary, &c.Error,
			&c.PromptTokens, &c.CompletionTokens, &c.TotalTokens, &estimated,
			&c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		c.Estimated = estimated != 0
		conversations = append(conversations, &c)
	}
	return conversations, rows.Err()
}

// MessagesFor returns the stored transcript for a conversation in order.
func (s *Store) MessagesFor(conversationID string) ([]*Message, error) {
	rows, err := s.db.Query(`
		SELECT conversation_id, seq, role, content, tool_calls, tool_results
		FROM messages WHERE conversation_id = ? ORDER BY seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var m Message
		err := rows.Scan(&m.ConversationID, &m.Seq, &m.Role, &m.Content, &m.ToolCallsJSON, &m.ToolResultsJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// StepsFor returns the step records for a conversation in turn order.
func (s *Store) StepsFor(conversationID string) ([]*Step, error) {
	rows, err := s.db.Query(`
		SELECT conversation_id, turn, entry_id, model, tool_calls,
			prompt_tokens, completion_tokens, total_tokens, estimated,
			duration_ms, created_at
		FROM steps WHERE conversation_id = ? ORDER BY turn, id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get steps for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var steps []*Step
	for rows.Next() {
		var st Step
		var estimated int
		err := rows.Scan(
			&st.ConversationID, &st.Turn, &st.EntryID, &st.Model, &st.ToolCalls,
			&st.PromptTokens, &st.CompletionTokens, &st.TotalTokens, &estimated,
			&st.DurationMS, &st.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		st.Estimated = estimated != 0
		steps = append(steps, &st)
	}
	return steps, rows.Err()
}

// Usage sums token spend across all stored conversations.
func (s *Store) Usage() (*UsageTotals, error) {
	var totals UsageTotals
	err := s.db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(completion_tokens), 0),
			COALESCE(SUM(total_tokens), 0)
		FROM conversations`).Scan(
		&totals.Conversations, &totals.PromptTokens, &totals.CompletionTokens, &totals.TotalTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to sum usage: %w", err)
	}
	return &totals, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
