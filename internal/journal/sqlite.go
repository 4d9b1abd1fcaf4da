package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "cub3dnotify/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS notifications (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	at     TEXT    NOT NULL,
	rule   TEXT    NOT NULL,
	app_id TEXT    NOT NULL,
	title  TEXT,
	body   TEXT,
	ok     INTEGER NOT NULL,
	err    TEXT
);
CREATE INDEX IF NOT EXISTS notifications_at ON notifications(at);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("journal.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Append(ctx context.Context, r Record) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	ok := 0
	if r.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications(at, rule, app_id, title, body, ok, err) VALUES(?,?,?,?,?,?,?)`,
		r.At.UTC().Format(time.RFC3339Nano), r.Rule, r.AppID, nullStr(r.Title), nullStr(r.Body), ok, nullStr(r.Error),
	)
	return err
}

func (s *sqliteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, rule, app_id, title, body, ok, err FROM notifications ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			at                string
			title, body, errS sql.NullString
			ok                int
			r                 Record
		)
		if err := rows.Scan(&at, &r.Rule, &r.AppID, &title, &body, &ok, &errS); err != nil {
			return nil, err
		}
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		r.Title, r.Body, r.Error = title.String, body.String, errS.String
		r.OK = ok != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}
