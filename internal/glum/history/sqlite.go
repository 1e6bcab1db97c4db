package history

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLiteBackend stores transcripts in the history_messages table created by
// the store package's migrations.
type SQLiteBackend struct {
	db *sql.DB
}

func NewSQLiteBackend(db *sql.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

func (b *SQLiteBackend) Load(ctx context.Context, threadID string) ([]Message, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT role, content FROM history_messages WHERE thread_id = ? ORDER BY seq`, threadID)
	if err != nil {
		return nil, fmt.Errorf("history sqlite: query: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("history sqlite: scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history sqlite: rows: %w", err)
	}
	return msgs, nil
}

// Save replaces the thread's rows in a single transaction.
func (b *SQLiteBackend) Save(ctx context.Context, threadID string, msgs []Message) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM history_messages WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("history sqlite: delete: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO history_messages (thread_id, seq, role, content) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("history sqlite: prepare: %w", err)
	}
	defer stmt.Close()

	for i, m := range msgs {
		if _, err := stmt.ExecContext(ctx, threadID, i, string(m.Role), m.Content); err != nil {
			return fmt.Errorf("history sqlite: insert message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history sqlite: commit: %w", err)
	}
	return nil
}
