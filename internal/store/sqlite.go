package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	recipient  TEXT    NOT NULL,
	body       BLOB    NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages (recipient, id);
`

// SQLite keeps queues in a single messages table ordered by rowid.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %v: %w", path, err)
	}

	// one connection: writes serialize anyway and :memory: is per connection
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Append(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (recipient, body, created_at) VALUES (?, ?, ?)`,
		key, value, time.Now().Unix(),
	)

	return err
}

func (s *SQLite) Range(ctx context.Context, key string) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM messages WHERE recipient = ? ORDER BY id`, key)
	if err != nil {
		return nil, err
	}

	//goland:noinspection GoUnhandledErrorResult
	defer rows.Close()

	out := [][]byte{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}

		out = append(out, body)
	}

	return out, rows.Err()
}

func (s *SQLite) Last(ctx context.Context, key string) ([]byte, bool, error) {
	var body []byte

	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM messages WHERE recipient = ? ORDER BY id DESC LIMIT 1`, key,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}

	return body, true, nil
}

func (s *SQLite) Reset(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE recipient = ?`, key)
	return err
}

func (s *SQLite) RemoveLast(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE id = (SELECT MAX(id) FROM messages WHERE recipient = ?)`, key,
	)

	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
