// Package audit keeps a Postgres log of anonymization runs. Only counts and
// fingerprints are stored; original values and mappings never are.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/raaihank/chat-anonymizer/internal/anonymizer"
	"github.com/raaihank/chat-anonymizer/internal/logger"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 500
)

// Run is one row of the audit log
type Run struct {
	ID              int64     `db:"id" json:"id"`
	RunID           string    `db:"run_id" json:"run_id"`
	StartedAt       time.Time `db:"started_at" json:"started_at"`
	DurationMs      int64     `db:"duration_ms" json:"duration_ms"`
	Records         int       `db:"records" json:"records"`
	Skipped         int       `db:"skipped" json:"skipped"`
	Replacements    int       `db:"replacements" json:"replacements"`
	Policy          string    `db:"policy" json:"policy"`
	LinkMode        string    `db:"link_mode" json:"link_mode"`
	RuleFingerprint string    `db:"rule_fingerprint" json:"rule_fingerprint"`
}

// NewRun summarizes a finished anonymization run
func NewRun(runID string, startedAt time.Time, opts anonymizer.Options, result *anonymizer.Result) *Run {
	run := &Run{
		RunID:        runID,
		StartedAt:    startedAt.UTC(),
		DurationMs:   result.Duration.Milliseconds(),
		Records:      len(result.Records),
		Skipped:      len(result.Skipped),
		Replacements: result.Replacements,
		Policy:       string(result.Policy),
		LinkMode:     string(opts.LinkMode),
	}
	if result.RuleSet != nil {
		run.RuleFingerprint = result.RuleSet.Fingerprint()
	}
	return run
}

// Config contains database configuration
type Config struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// Store writes and reads the audit log
type Store struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// Open connects to Postgres and makes sure the audit table exists
func Open(ctx context.Context, config Config, log *logger.Logger) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	store := NewStore(db, log)
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store.logger.Info("Audit store initialized",
		zap.String("database_url", logger.MaskURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns))

	return store, nil
}

// NewStore wraps an existing connection
func NewStore(db *sqlx.DB, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{db: db, logger: log.WithComponent("audit")}
}

const schema = `
CREATE TABLE IF NOT EXISTS anonymization_runs (
	id               BIGSERIAL PRIMARY KEY,
	run_id           TEXT NOT NULL UNIQUE,
	started_at       TIMESTAMPTZ NOT NULL,
	duration_ms      BIGINT NOT NULL,
	records          INTEGER NOT NULL,
	skipped          INTEGER NOT NULL,
	replacements     INTEGER NOT NULL,
	policy           TEXT NOT NULL,
	link_mode        TEXT NOT NULL,
	rule_fingerprint TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS anonymization_runs_started_at_idx ON anonymization_runs (started_at DESC);`

// EnsureSchema creates the audit table if it does not exist
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

// Record inserts a run and sets its ID
func (s *Store) Record(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO anonymization_runs
			(run_id, started_at, duration_ms, records, skipped, replacements, policy, link_mode, rule_fingerprint)
		VALUES (:run_id, :started_at, :duration_ms, :records, :skipped, :replacements, :policy, :link_mode, :rule_fingerprint)
		RETURNING id`

	rows, err := s.db.NamedQueryContext(ctx, query, run)
	if err != nil {
		s.logger.Error("Failed to record run", zap.String("run_id", run.RunID), zap.Error(err))
		return fmt.Errorf("failed to record run: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&run.ID); err != nil {
			return fmt.Errorf("failed to read run id: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	s.logger.Debug("Run recorded", zap.String("run_id", run.RunID), zap.Int64("id", run.ID))
	return nil
}

// Recent returns the latest runs, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	limit = min(limit, maxRecentLimit)

	query := `
		SELECT id, run_id, started_at, duration_ms, records, skipped, replacements, policy, link_mode, rule_fingerprint
		FROM anonymization_runs
		ORDER BY started_at DESC, id DESC
		LIMIT $1`

	runs := []Run{}
	if err := s.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
