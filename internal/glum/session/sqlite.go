package session

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLiteBackend stores the session in the session_state table.
type SQLiteBackend struct {
	db *sql.DB
}

func NewSQLiteBackend(db *sql.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

func (b *SQLiteBackend) Load(ctx context.Context) (map[string]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key, value FROM session_state`)
	if err != nil {
		return nil, fmt.Errorf("session sqlite: query: %w", err)
	}
	defer rows.Close()

	values := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("session sqlite: scan: %w", err)
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session sqlite: rows: %w", err)
	}
	return values, nil
}

// Save upserts every value and removes keys that are no longer present.
func (b *SQLiteBackend) Save(ctx context.Context, values map[string]string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("session sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_state`); err != nil {
		return fmt.Errorf("session sqlite: delete: %w", err)
	}
	for k, v := range values {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_state (key, value, updated_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, k, v); err != nil {
			return fmt.Errorf("session sqlite: upsert %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("session sqlite: commit: %w", err)
	}
	return nil
}
