package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	logx "chartbot/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
  path       TEXT PRIMARY KEY,
  collection TEXT NOT NULL,
  body       TEXT,
  deleted    INTEGER NOT NULL DEFAULT 0,
  version    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection, version);
CREATE INDEX IF NOT EXISTS idx_documents_version ON documents(version);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	feed *feed

	// poller state
	pollEvery time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu     sync.Mutex
	cursor int64
	known  map[string]bool // paths currently alive, as seen by the poller
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}

	every := cfg.PollInterval
	if every <= 0 {
		every = time.Second
	}
	st := &sqliteStore{
		db:        db,
		log:       log,
		feed:      newFeed(),
		pollEvery: every,
		stopCh:    make(chan struct{}),
		known:     map[string]bool{},
	}
	if err := st.seedCursor(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	st.wg.Add(1)
	go st.pollLoop()
	return st, nil
}

// seedCursor positions the change feed at the current tail so Watch only sees
// changes made after open, and primes the alive-paths index.
func (s *sqliteStore) seedCursor(ctx context.Context) error {
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM documents`)
	if err := row.Scan(&s.cursor); err != nil {
		return err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM documents WHERE deleted = 0`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return err
		}
		s.known[p] = true
	}
	return rows.Err()
}

func (s *sqliteStore) Get(ctx context.Context, path string) (Document, error) {
	var body sql.NullString
	row := s.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE path = ? AND deleted = 0`, path)
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeBody(body)
}

func (s *sqliteStore) Set(ctx context.Context, path string, doc Document) error {
	b, err := json.Marshal(normalizeForJSON(doc))
	if err != nil {
		return err
	}
	collection, _ := SplitPath(path)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents(path, collection, body, deleted, version)
		 VALUES(?, ?, ?, 0, (SELECT COALESCE(MAX(version), 0) + 1 FROM documents))
		 ON CONFLICT(path) DO UPDATE SET
		   body = excluded.body,
		   deleted = 0,
		   version = excluded.version`,
		path, collection, string(b),
	)
	return err
}

func (s *sqliteStore) Merge(ctx context.Context, path string, patch Document) error {
	base, err := s.Get(ctx, path)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return s.Set(ctx, path, mergeDocs(base, patch))
}

func (s *sqliteStore) Delete(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET deleted = 1, body = NULL,
		   version = (SELECT COALESCE(MAX(version), 0) + 1 FROM documents)
		 WHERE path = ? AND deleted = 0`,
		path,
	)
	return err
}

func (s *sqliteStore) List(ctx context.Context, collection string) (map[string]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, body FROM documents WHERE collection = ? AND deleted = 0`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]Document{}
	for rows.Next() {
		var path string
		var body sql.NullString
		if err := rows.Scan(&path, &body); err != nil {
			return nil, err
		}
		doc, err := decodeBody(body)
		if err != nil {
			return nil, err
		}
		_, id := SplitPath(path)
		out[id] = doc
	}
	return out, rows.Err()
}

func (s *sqliteStore) Watch(collection string) (<-chan Event, func(), error) {
	select {
	case <-s.stopCh:
		return nil, nil, ErrClosed
	default:
	}
	ch, unsub := s.feed.subscribe(collection, 0)
	return ch, unsub, nil
}

func (s *sqliteStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.feed.closeAll()
	return s.db.Close()
}

// pollLoop scans for rows past the cursor and feeds Watch subscriptions.
// Polling trades latency for simplicity; SQLite has no native change feed.
func (s *sqliteStore) pollLoop() {
	defer s.wg.Done()
	t := time.NewTicker(s.pollEvery)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			if err := s.pollOnce(); err != nil {
				s.log.Warn("change feed poll failed", logx.Err(err))
			}
		}
	}
}

func (s *sqliteStore) pollOnce() error {
	if len(s.feed.watched()) == 0 {
		// Still advance the cursor so a new subscriber doesn't replay history.
		s.mu.Lock()
		defer s.mu.Unlock()
		row := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM documents`)
		var v int64
		if err := row.Scan(&v); err != nil {
			return err
		}
		if v > s.cursor {
			return s.reindexKnown(v)
		}
		return nil
	}

	s.mu.Lock()
	cursor := s.cursor
	s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT path, collection, body, deleted, version FROM documents WHERE version > ? ORDER BY version`,
		cursor,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	type change struct {
		path, collection string
		body             sql.NullString
		deleted          bool
		version          int64
	}
	var changes []change
	for rows.Next() {
		var c change
		if err := rows.Scan(&c.path, &c.collection, &c.body, &c.deleted, &c.version); err != nil {
			return err
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range changes {
		_, id := SplitPath(c.path)
		if c.deleted {
			if s.known[c.path] {
				delete(s.known, c.path)
				s.feed.publish(c.collection, Event{Type: Removed, Path: c.path, ID: id})
			}
		} else {
			doc, err := decodeBody(c.body)
			if err != nil {
				s.log.Warn("change feed skipped undecodable document", logx.String("path", c.path), logx.Err(err))
			} else {
				typ := Added
				if s.known[c.path] {
					typ = Modified
				}
				s.known[c.path] = true
				s.feed.publish(c.collection, Event{Type: typ, Path: c.path, ID: id, Doc: doc})
			}
		}
		if c.version > s.cursor {
			s.cursor = c.version
		}
	}
	return nil
}

// reindexKnown refreshes the alive-paths index and jumps the cursor to v.
// Called when changes happened while nobody was watching.
func (s *sqliteStore) reindexKnown(v int64) error {
	rows, err := s.db.Query(`SELECT path FROM documents WHERE deleted = 0`)
	if err != nil {
		return err
	}
	defer rows.Close()
	known := map[string]bool{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return err
		}
		known[p] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}
	s.known = known
	s.cursor = v
	return nil
}

func decodeBody(body sql.NullString) (Document, error) {
	if !body.Valid || body.String == "" {
		return Document{}, nil
	}
	var doc Document
	if err := json.Unmarshal([]byte(body.String), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
