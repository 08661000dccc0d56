package storage

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS pending_orders (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id    TEXT     NOT NULL,
		order_id   TEXT     NOT NULL,
		payload    BLOB     NOT NULL,
		status     TEXT     NOT NULL DEFAULT 'pending',
		thread_id  TEXT     NOT NULL DEFAULT '',
		attempts   INTEGER  NOT NULL DEFAULT 0,
		last_error TEXT     NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (user_id, order_id)
	)`,
	`CREATE INDEX IF NOT EXISTS pending_orders_status_idx ON pending_orders (status, user_id)`,
}

// Migrate creates the tables the bot needs; safe to run on every start.
func (s *storageImpl) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
