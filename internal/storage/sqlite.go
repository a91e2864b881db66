package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "taskloop/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS fires (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	at      INTEGER NOT NULL,
	task    TEXT    NOT NULL,
	task_id INTEGER NOT NULL,
	tick    INTEGER NOT NULL,
	took_ns INTEGER NOT NULL,
	manual  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS fires_task ON fires(task);
`

type sqliteStore struct {
	db     *sql.DB
	log    logx.Logger
	retain int

	writes     atomic.Uint64
	pruneEvery uint64
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
	// One writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	retain := cfg.retain()
	every := uint64(retain / 10)
	if every == 0 {
		every = 1
	}
	log.Debug("journal opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log, retain: retain, pruneEvery: every}, nil
}

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendFire(ctx context.Context, r FireRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fires(at, task, task_id, tick, took_ns, manual) VALUES(?,?,?,?,?,?)`,
		r.At.UnixNano(), r.Task, r.TaskID, int64(r.Tick), int64(r.Took), boolInt(r.Manual),
	)
	if err != nil {
		return err
	}
	if s.writes.Add(1)%s.pruneEvery == 0 {
		if err := s.prune(ctx); err != nil {
			s.log.Debug("journal prune failed", logx.Err(err))
		}
	}
	return nil
}

func (s *sqliteStore) RecentFires(ctx context.Context, limit int) ([]FireRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, task, task_id, tick, took_ns, manual FROM fires ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]FireRecord, 0, limit)
	for rows.Next() {
		var (
			at, tick, took int64
			manual         int
			r              FireRecord
		)
		if err := rows.Scan(&at, &r.Task, &r.TaskID, &tick, &took, &manual); err != nil {
			return nil, err
		}
		r.At = time.Unix(0, at)
		r.Tick = uint32(tick)
		r.Took = time.Duration(took)
		r.Manual = manual != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM fires WHERE id <= (SELECT MAX(id) FROM fires) - ?`, s.retain)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
