package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	// SQLite driver, referenced only through the connection string.
	_ "github.com/mattn/go-sqlite3"

	"pulsewire/pkg/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS offline_messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id     TEXT    NOT NULL,
	payload     BLOB    NOT NULL,
	enqueued_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_offline_messages_user ON offline_messages(user_id);
`

// SQLiteStore is a durable queue store: offline messages survive process
// restarts. WAL mode allows concurrent reads while keeping writes simple.
type SQLiteStore struct {
	db      *sql.DB
	maxSize int
}

// NewSQLiteStore opens (and migrates) the store at path.
func NewSQLiteStore(path string, maxSize int) (*SQLiteStore, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxQueueSize
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	// Single writer avoids SQLite write contention; reads share WAL.
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply queue schema: %w", err)
	}

	return &SQLiteStore{db: db, maxSize: maxSize}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, userID string, msg *types.Message, enqueuedAt time.Time) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode queued message: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin queue append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO offline_messages (user_id, payload, enqueued_at) VALUES (?, ?, ?)`,
		userID, payload, enqueuedAt.UnixNano()); err != nil {
		return fmt.Errorf("failed to append queued message: %w", err)
	}

	// Ring-buffer semantics: evict the oldest rows beyond capacity.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM offline_messages
		 WHERE user_id = ?
		   AND id NOT IN (
			SELECT id FROM offline_messages
			WHERE user_id = ?
			ORDER BY id DESC
			LIMIT ?)`,
		userID, userID, s.maxSize); err != nil {
		return fmt.Errorf("failed to trim queue: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) DrainAll(ctx context.Context, userID string, cutoff time.Time) ([]*types.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin queue drain: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT payload, enqueued_at FROM offline_messages WHERE user_id = ? ORDER BY id ASC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read queued messages: %w", err)
	}

	var msgs []*types.Message
	for rows.Next() {
		var payload []byte
		var enqueuedAt int64
		if err := rows.Scan(&payload, &enqueuedAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan queued message: %w", err)
		}
		if time.Unix(0, enqueuedAt).Before(cutoff) {
			continue // expired
		}
		var msg types.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue // corrupt row, skip rather than block the flush
		}
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("failed to iterate queued messages: %w", err)
	}
	_ = rows.Close()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM offline_messages WHERE user_id = ?`, userID); err != nil {
		return nil, fmt.Errorf("failed to clear drained queue: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit queue drain: %w", err)
	}
	return msgs, nil
}

func (s *SQLiteStore) Len(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM offline_messages WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count queued messages: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Total(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM offline_messages`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue total: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
