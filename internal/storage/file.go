package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "taskloop/pkg/logx"
)

// fileStore appends FireRecords as JSON Lines. Once the file holds twice
// the retain limit it is rewritten with the newest records only.
type fileStore struct {
	log    logx.Logger
	path   string
	retain int

	mu    sync.Mutex
	f     *os.File
	lines int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("journal.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	lines, err := countLines(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s := &fileStore{log: log, path: path, retain: cfg.retain(), f: f, lines: lines}
	log.Debug("journal opened", logx.String("path", path), logx.Int("records", lines))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendFire(ctx context.Context, r FireRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if _, err := s.f.Write(b); err != nil {
		return err
	}
	s.lines++
	if s.lines >= 2*s.retain {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) RecentFires(ctx context.Context, limit int) ([]FireRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}
	tail, err := s.tailLocked(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]FireRecord, 0, len(tail))
	for i := len(tail) - 1; i >= 0; i-- {
		var r FireRecord
		if err := json.Unmarshal(tail[i], &r); err != nil {
			// A torn last line after a crash is skipped.
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// tailLocked returns the last n raw lines of the journal, oldest first.
func (s *fileStore) tailLocked(ctx context.Context, n int) ([][]byte, error) {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	ring := make([][]byte, 0, n)
	sc := bufio.NewScanner(s.f)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := append([]byte(nil), sc.Bytes()...)
		if len(ring) == n {
			copy(ring, ring[1:])
			ring = ring[:n-1]
		}
		ring = append(ring, line)
	}
	return ring, sc.Err()
}

// compactLocked rewrites the journal keeping the newest retain records.
func (s *fileStore) compactLocked() error {
	keep, err := s.tailLocked(context.Background(), s.retain)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, line := range keep {
		_, _ = w.Write(line)
		_ = w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	_ = s.f.Close()
	renameErr := os.Rename(tmp, s.path)
	// Reopen whichever file is now at path so appends keep working even if
	// the rename failed.
	nf, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		s.f = nil
		return err
	}
	s.f = nf
	if renameErr != nil {
		_ = os.Remove(tmp)
		return renameErr
	}
	s.lines = len(keep)
	s.log.Debug("journal compacted", logx.Int("records", s.lines))
	return nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		n++
	}
	return n, sc.Err()
}
