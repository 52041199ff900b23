package dedup

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kazz187/taskvault/pkg/cerr"
	"github.com/kazz187/taskvault/pkg/storage"
)

type Format int

const (
	// FormatJSON is {"ids": [...], "last_updated": "<RFC3339>"}. On load the
	// key processed_ids and a bare JSON array are accepted as well.
	FormatJSON Format = iota
	// FormatLines is one id per line.
	FormatLines
)

const defaultJSONKey = "ids"

// Store is a persisted set of opaque ids owned by one watcher. The whole
// set is loaded at startup and rewritten on Flush.
type Store struct {
	st      storage.Storage
	path    string
	format  Format
	jsonKey string
	now     func() time.Time

	mu    sync.Mutex
	ids   map[string]struct{}
	order []string
	dirty bool
}

type Option func(*Store)

func WithFormat(f Format) Option {
	return func(s *Store) {
		s.format = f
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Load reads the set stored at p. The format defaults to JSON for a .json
// path and lines otherwise. A missing file is an empty set. An undecodable
// file is copied aside to p+".corrupt" and replaced by an empty set, which
// at worst lets already seen events through once more.
func Load(ctx context.Context, st storage.Storage, p string, opts ...Option) (*Store, error) {
	s := &Store{
		st:      st,
		path:    p,
		format:  FormatLines,
		jsonKey: defaultJSONKey,
		now:     time.Now,
		ids:     map[string]struct{}{},
	}
	if strings.EqualFold(path.Ext(p), ".json") {
		s.format = FormatJSON
	}
	for _, opt := range opts {
		opt(s)
	}

	data, err := st.Read(ctx, p)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return s, nil
		}
		return nil, cerr.WrapStorageReadError(p, err)
	}

	ids, err := s.decode(data)
	if err != nil {
		slog.Warn("dedup store unreadable, starting empty", "path", p, "error", err)
		if werr := st.Write(ctx, p+".corrupt", data); werr != nil {
			slog.Warn("failed to keep corrupt dedup store", "path", p, "error", werr)
		}
		return s, nil
	}
	for _, id := range ids {
		s.add(id)
	}
	return s, nil
}

func (s *Store) decode(data []byte) ([]string, error) {
	switch s.format {
	case FormatJSON:
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) == 0 {
			return nil, nil
		}
		if trimmed[0] == '[' {
			var ids []string
			if err := json.Unmarshal(trimmed, &ids); err != nil {
				return nil, fmt.Errorf("failed to decode id list: %w", err)
			}
			return ids, nil
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, fmt.Errorf("failed to decode id object: %w", err)
		}
		for _, key := range []string{defaultJSONKey, "processed_ids"} {
			raw, ok := obj[key]
			if !ok {
				continue
			}
			var ids []string
			if err := json.Unmarshal(raw, &ids); err != nil {
				return nil, fmt.Errorf("failed to decode %s: %w", key, err)
			}
			s.jsonKey = key
			return ids, nil
		}
		return nil, nil
	default:
		var ids []string
		sc := bufio.NewScanner(bytes.NewReader(data))
		for sc.Scan() {
			if id := strings.TrimSpace(sc.Text()); id != "" {
				ids = append(ids, id)
			}
		}
		return ids, sc.Err()
	}
}

func (s *Store) encode() ([]byte, error) {
	switch s.format {
	case FormatJSON:
		obj := map[string]any{
			s.jsonKey:      slices.Clone(s.order),
			"last_updated": s.now().Format(time.RFC3339),
		}
		data, err := json.MarshalIndent(obj, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	default:
		var buf bytes.Buffer
		for _, id := range s.order {
			buf.WriteString(id)
			buf.WriteByte('\n')
		}
		return buf.Bytes(), nil
	}
}

func (s *Store) add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

var lineBreaks = strings.NewReplacer("\r", " ", "\n", " ")

// key folds line breaks out of ids stored one per line.
func (s *Store) key(id string) string {
	if s.format == FormatLines {
		return lineBreaks.Replace(id)
	}
	return id
}

func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[s.key(id)]
	return ok
}

// Add records id in memory and reports whether it was new. It is durable
// only after the next successful Flush.
func (s *Store) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := s.add(s.key(id))
	if added {
		s.dirty = true
	}
	return added
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

func (s *Store) Path() string {
	return s.path
}

// Flush persists the set if it changed since the last successful Flush.
// A failure leaves the in-memory set intact and is returned as
// PersistenceWriteFailure; callers log it and carry on.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	data, err := s.encode()
	if err != nil {
		return cerr.NewError(cerr.PersistenceWriteFailure, "failed to encode dedup store", err)
	}
	if err := s.st.Write(ctx, s.path, data); err != nil {
		return cerr.WrapStorageWriteError(s.path, err)
	}
	s.dirty = false
	return nil
}
