// Package passivehealth persists the outcome of every upstream attempt
// to SQLite. Unlike the in-memory circuit breaker, this record survives
// restarts and lets operators review provider reliability over time.
package passivehealth

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS attempts (
	provider_id TEXT NOT NULL,
	model       TEXT NOT NULL,
	success     INTEGER NOT NULL,
	status_code INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_provider ON attempts(provider_id, created_at);
`

// attempt is one queued outcome.
type attempt struct {
	providerID string
	model      string
	success    bool
	statusCode int
	errMsg     string
	createdAt  time.Time
}

// ProviderStats summarizes one provider's recorded attempts.
type ProviderStats struct {
	ProviderID  string     `json:"provider_id"`
	Attempts    int64      `json:"attempts"`
	Failures    int64      `json:"failures"`
	LastFailure *time.Time `json:"last_failure,omitempty"`
}

// Recorder is the SQLite-backed attempt log. It satisfies the
// orchestrator's PassiveHealthSink.
type Recorder struct {
	db      *sql.DB
	logger  *slog.Logger
	queue   chan attempt
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// Config configures the recorder.
type Config struct {
	// Path is the database file.
	Path string

	// BufferSize is the async write queue length.
	BufferSize int
}

// Open creates or opens the attempt database and starts the background
// writer.
func Open(cfg Config, logger *slog.Logger) (*Recorder, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("passive health path cannot be empty")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "passivehealth")

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open passive health database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create passive health schema: %w", err)
	}

	r := &Recorder{
		db:     db,
		logger: logger,
		queue:  make(chan attempt, cfg.BufferSize),
		done:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.runWriter()

	logger.Info("passive health recorder opened", "path", cfg.Path)
	return r, nil
}

// Record implements the orchestrator's PassiveHealthSink. Never blocks.
func (r *Recorder) Record(providerID, model string, success bool, statusCode int, errMsg string) {
	a := attempt{
		providerID: providerID,
		model:      model,
		success:    success,
		statusCode: statusCode,
		errMsg:     errMsg,
		createdAt:  time.Now().UTC(),
	}
	select {
	case r.queue <- a:
	default:
		r.dropped.Add(1)
	}
}

// Stats aggregates attempts per provider since the given time.
// created_at is stored as unix seconds so the MAX aggregate scans as an
// integer regardless of driver time handling.
func (r *Recorder) Stats(since time.Time) ([]ProviderStats, error) {
	rows, err := r.db.Query(`
		SELECT provider_id,
		       COUNT(*),
		       SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END),
		       MAX(CASE WHEN success = 0 THEN created_at ELSE NULL END)
		FROM attempts
		WHERE created_at >= ?
		GROUP BY provider_id
		ORDER BY provider_id`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query passive health stats: %w", err)
	}
	defer rows.Close()

	var stats []ProviderStats
	for rows.Next() {
		var s ProviderStats
		var lastFailure sql.NullInt64
		if err := rows.Scan(&s.ProviderID, &s.Attempts, &s.Failures, &lastFailure); err != nil {
			return nil, fmt.Errorf("failed to scan passive health row: %w", err)
		}
		if lastFailure.Valid {
			t := time.Unix(lastFailure.Int64, 0).UTC()
			s.LastFailure = &t
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Close stops the writer, drains the queue, and closes the database.
func (r *Recorder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		err = r.db.Close()
	})
	return err
}

func (r *Recorder) runWriter() {
	defer r.wg.Done()

	for {
		select {
		case a := <-r.queue:
			r.write(a)
		case <-r.done:
			for {
				select {
				case a := <-r.queue:
					r.write(a)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(a attempt) {
	success := 0
	if a.success {
		success = 1
	}
	_, err := r.db.Exec(`
		INSERT INTO attempts (provider_id, model, success, status_code, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.providerID, a.model, success, a.statusCode, a.errMsg, a.createdAt.Unix())
	if err != nil {
		r.logger.Error("failed to write passive health attempt", "error", err)
	}
}
