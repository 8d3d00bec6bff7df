package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// KVRepository stores profile key/value entries in MySQL. It satisfies kv.Backend.
type KVRepository struct {
	db *sql.DB
}

func NewKVRepository(db *sql.DB) *KVRepository {
	return &KVRepository{db: db}
}

func (r *KVRepository) Get(ctx context.Context, profileID, key string) (string, bool, error) {
	const query = `SELECT entry_value FROM kv_entries WHERE profile_id = ? AND entry_key = ?`
	row := r.db.QueryRowContext(ctx, query, profileID, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read kv entry: %w", err)
	}
	return value, true, nil
}

func (r *KVRepository) Put(ctx context.Context, profileID, key, value string) error {
	const query = `
INSERT INTO kv_entries (profile_id, entry_key, entry_value)
VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE entry_value = VALUES(entry_value), updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, profileID, key, value); err != nil {
		return fmt.Errorf("write kv entry: %w", err)
	}
	return nil
}

func (r *KVRepository) Remove(ctx context.Context, profileID, key string) error {
	const query = `DELETE FROM kv_entries WHERE profile_id = ? AND entry_key = ?`
	if _, err := r.db.ExecContext(ctx, query, profileID, key); err != nil {
		return fmt.Errorf("delete kv entry: %w", err)
	}
	return nil
}
