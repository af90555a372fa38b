// Package history keeps a queryable record of completed recognitions in
// SQLite. It is separate from reqlog: history powers the /history endpoint
// and honors the same consent rules, while reqlog is an operator audit file.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aacboard/speechgate/internal/config"
	"github.com/aacboard/speechgate/internal/protocol"
	_ "modernc.org/sqlite"
)

// Record is one stored recognition.
type Record struct {
	ID            int64    `json:"id"`
	RequestID     string   `json:"requestId"`
	UserID        string   `json:"userId,omitempty"`
	Transcription string   `json:"transcription"`
	Confidence    *float64 `json:"confidence,omitempty"`
	Service       string   `json:"service"`
	CommandMode   bool     `json:"commandMode"`
	CommandType   string   `json:"commandType,omitempty"`
	DurationSec   float64  `json:"durationSec,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Store wraps the SQLite-backed recognition history.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the history store according to config. A disabled
// store is valid and every method on it is a no-op.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	if !cfg.Enabled {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("history vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("history prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS recognitions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    user_id TEXT,
    transcription TEXT,
    confidence REAL,
    service TEXT,
    command_mode INTEGER NOT NULL DEFAULT 0,
    command_type TEXT,
    duration_sec REAL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recognitions_user_created ON recognitions(user_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append stores a successful recognition. Failed requests are not history.
func (s *Store) Append(ctx context.Context, env protocol.ResponseEnvelope, userID string) error {
	if s.db == nil || !env.Success {
		return nil
	}
	var confidence any
	if env.Confidence != nil {
		confidence = *env.Confidence
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recognitions(request_id, user_id, transcription, confidence, service, command_mode, command_type, duration_sec, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		env.RequestID, userID, env.Transcription, confidence, env.Service,
		env.AAC.CommandMode, env.AAC.CommandType, env.Audio.Duration, s.clock().UTC())
	return err
}

// List retrieves up to limit records for a user, newest first, skipping
// offset records. An empty userID lists across all users.
func (s *Store) List(ctx context.Context, userID string, limit, offset int) ([]Record, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT id, request_id, user_id, transcription, confidence, service, command_mode, command_type, duration_sec, created_at
	 FROM recognitions`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var confidence sql.NullFloat64
		var created string
		if err := rows.Scan(&r.ID, &r.RequestID, &r.UserID, &r.Transcription, &confidence,
			&r.Service, &r.CommandMode, &r.CommandType, &r.DurationSec, &created); err != nil {
			return nil, err
		}
		if confidence.Valid {
			v := confidence.Float64
			r.Confidence = &v
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.CreatedAt = ts
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM recognitions WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxRecords > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM recognitions WHERE id IN (
			SELECT id FROM recognitions ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRecords)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
