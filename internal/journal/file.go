package journal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "cub3dnotify/pkg/logx"
)

// fileStore appends records to a JSON Lines file.
//
// Recent scans the whole file; the journal is expected to be rotated
// externally if it grows large.
type fileStore struct {
	log  logx.Logger
	path string

	mu sync.Mutex
	f  *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("journal.path is required for file driver")
	}
	if filepath.Ext(path) == "" {
		path += ".jsonl"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path, f: f}, nil
}

func (s *fileStore) Append(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrDisabled
	}
	return json.NewEncoder(s.f).Encode(r)
}

func (s *fileStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	closed := s.f == nil
	s.mu.Unlock()
	if closed {
		return nil, ErrDisabled
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Keep the last limit records in a ring. Lines are read whole, however
	// long; a body may be as large as the stream read limit.
	ring := make([]Record, 0, limit)
	next := 0
	rd := bufio.NewReader(f)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := rd.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var r Record
			if uerr := json.Unmarshal(line, &r); uerr != nil {
				s.log.Debug("skipping corrupt journal line", logx.Err(uerr))
			} else if len(ring) < limit {
				ring = append(ring, r)
			} else {
				ring[next] = r
				next = (next + 1) % limit
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	out := make([]Record, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		out = append(out, ring[(next+i)%len(ring)])
	}
	return out, nil
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
