// Package requestlog persists a record of every proxied request to
// SQLite. Writes are buffered and applied by a background goroutine so
// the request path never waits on disk, and a cron job prunes records
// past the retention window.
package requestlog

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/robfig/cron/v3"
)

const schema = `
CREATE TABLE IF NOT EXISTS requests (
	id                TEXT PRIMARY KEY,
	created_at        TIMESTAMP NOT NULL,
	protocol          TEXT NOT NULL,
	model             TEXT NOT NULL,
	provider_id       TEXT NOT NULL,
	provider_name     TEXT NOT NULL,
	stream            INTEGER NOT NULL,
	status_code       INTEGER NOT NULL,
	duration_ms       INTEGER NOT NULL,
	prompt_tokens     INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_tokens      INTEGER NOT NULL,
	error             TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_requests_created_at ON requests(created_at);
CREATE INDEX IF NOT EXISTS idx_requests_provider ON requests(provider_id);
`

// Entry is one proxied request.
type Entry struct {
	ID               string
	CreatedAt        time.Time
	Protocol         string
	Model            string
	ProviderID       string
	ProviderName     string
	Stream           bool
	StatusCode       int
	DurationMs       int64
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Error            string
}

// Config configures the store.
type Config struct {
	// Path is the database file.
	Path string

	// BufferSize is the async write queue length. Entries are dropped
	// when the queue is full.
	BufferSize int

	// RetentionDays prunes records older than this. Zero disables the
	// pruner.
	RetentionDays int

	// PruneSchedule is the cron expression for prune runs.
	PruneSchedule string
}

// Store is the SQLite-backed request log.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	entries chan Entry
	dropped atomic.Int64

	retentionDays int
	cron          *cron.Cron

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// Open creates or opens the request log database and starts the
// background writer and the retention job.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("request log path cannot be empty")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "requestlog")

	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open request log database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create request log schema: %w", err)
	}

	s := &Store{
		db:            db,
		logger:        logger,
		entries:       make(chan Entry, cfg.BufferSize),
		retentionDays: cfg.RetentionDays,
		done:          make(chan struct{}),
	}

	s.wg.Add(1)
	go s.runWriter()

	if cfg.RetentionDays > 0 && cfg.PruneSchedule != "" {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(cfg.PruneSchedule, s.pruneJob); err != nil {
			s.Close()
			return nil, fmt.Errorf("invalid prune schedule %q: %w", cfg.PruneSchedule, err)
		}
		s.cron.Start()
	}

	logger.Info("request log opened",
		"path", cfg.Path,
		"buffer_size", cfg.BufferSize,
		"retention_days", cfg.RetentionDays,
	)
	return s, nil
}

// Log queues one entry for persistence. Never blocks: when the buffer
// is full the entry is dropped and counted.
func (s *Store) Log(e Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	select {
	case s.entries <- e:
	default:
		if s.dropped.Add(1)%1000 == 1 {
			s.logger.Warn("request log buffer full, dropping entries",
				"dropped_total", s.dropped.Load(),
			)
		}
	}
}

// Dropped returns how many entries were discarded due to backpressure.
func (s *Store) Dropped() int64 {
	return s.dropped.Load()
}

// Recent returns the newest entries, up to limit.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, created_at, protocol, model, provider_id, provider_name,
		       stream, status_code, duration_ms, prompt_tokens,
		       completion_tokens, total_tokens, error
		FROM requests ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query request log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var stream int
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.Protocol, &e.Model,
			&e.ProviderID, &e.ProviderName, &stream, &e.StatusCode,
			&e.DurationMs, &e.PromptTokens, &e.CompletionTokens,
			&e.TotalTokens, &e.Error); err != nil {
			return nil, fmt.Errorf("failed to scan request log row: %w", err)
		}
		e.Stream = stream != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries older than the cutoff and reports how many
// were removed.
func (s *Store) Prune(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM requests WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune request log: %w", err)
	}
	return res.RowsAffected()
}

// Flush blocks until the write queue has drained. Tests use it to
// observe writes deterministically.
func (s *Store) Flush() {
	for len(s.entries) > 0 {
		time.Sleep(time.Millisecond)
	}
}

// Close stops the writer, drains pending entries, and closes the
// database.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.cron != nil {
			s.cron.Stop()
		}
		close(s.done)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *Store) runWriter() {
	defer s.wg.Done()

	for {
		select {
		case e := <-s.entries:
			s.write(e)
		case <-s.done:
			for {
				select {
				case e := <-s.entries:
					s.write(e)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) write(e Entry) {
	stream := 0
	if e.Stream {
		stream = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO requests (id, created_at, protocol, model, provider_id,
			provider_name, stream, status_code, duration_ms, prompt_tokens,
			completion_tokens, total_tokens, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CreatedAt, e.Protocol, e.Model, e.ProviderID, e.ProviderName,
		stream, e.StatusCode, e.DurationMs, e.PromptTokens,
		e.CompletionTokens, e.TotalTokens, e.Error)
	if err != nil {
		s.logger.Error("failed to write request log entry", "error", err)
	}
}

func (s *Store) pruneJob() {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	removed, err := s.Prune(cutoff)
	if err != nil {
		s.logger.Error("request log prune failed", "error", err)
		return
	}
	s.logger.Info("request log pruned",
		"removed", removed,
		"cutoff", cutoff.Format(time.RFC3339),
	)
}
