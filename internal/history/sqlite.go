package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the history of all users in a single sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("sqlite history: empty path")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// a single writer avoids SQLITE_BUSY on concurrent appends
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL,
			item TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating history table: %w", err)
	}
	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS history_username ON history (username, id)`,
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating history index: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, username string) ([]Item, error) {
	if err := checkUsername(username); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT item FROM history WHERE username=? ORDER BY id`, username,
	)
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.ErrorContext(ctx, "closing rows failed", "error", err)
		}
	}()

	items := []Item{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning row failed: %w", err)
		}
		item, err := ParseItem([]byte(raw))
		if err != nil {
			slog.WarnContext(ctx, "invalid history item skipped", "username", username, "error", err)
			continue
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows failed: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) Append(ctx context.Context, username string, item Item) error {
	if err := checkUsername(username); err != nil {
		return err
	}
	if err := checkItem(item); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.ErrorContext(ctx, "Calling `tx.Rollback()` failed.", "username", username)
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO history (username, item, created_at) VALUES (?,?,?);`,
		username, string(item.Bytes()), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("executing sql insert failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
