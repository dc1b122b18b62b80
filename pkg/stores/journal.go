package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/loomview/renderstate/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// TransitionJournal persists tier transitions to SQLite. It implements
// engine.TransitionSink, so a frame driver can journal every frame's
// transitions durably.
type TransitionJournal struct {
	db   *sql.DB
	path string

	// retainFrames bounds how far back the journal keeps history; zero
	// keeps everything.
	retainFrames int
}

// JournalConfig holds transition journal configuration.
type JournalConfig struct {
	Path         string
	RetainFrames int
}

// NewTransitionJournal creates a journal instance. Init must be called before
// use.
func NewTransitionJournal(cfg JournalConfig) (*TransitionJournal, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &TransitionJournal{
		path:         cfg.Path,
		retainFrames: cfg.RetainFrames,
	}, nil
}

// Init opens the database connection and enables WAL mode.
func (j *TransitionJournal) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", j.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// A single writer on the frame path; no need for a wide pool.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	j.db = db
	return nil
}

// HealthCheck verifies the database connection is alive.
func (j *TransitionJournal) HealthCheck(ctx context.Context) error {
	if j.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return j.db.PingContext(ctx)
}

// Close closes the database connection.
func (j *TransitionJournal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Migrate runs the journal schema migrations.
func (j *TransitionJournal) Migrate(_ context.Context) error {
	if j.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(j.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RecordTransitions journals one frame's transitions in a single
// transaction. It implements engine.TransitionSink.
func (j *TransitionJournal) RecordTransitions(frame uint64, transitions []engine.Transition) error {
	if len(transitions) == 0 {
		return nil
	}
	if j.db == nil {
		return fmt.Errorf("database not initialized")
	}

	ctx := context.Background()
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transitions (frame, node_id, from_tier, to_tier, cause, forced, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range transitions {
		if _, err := stmt.ExecContext(ctx,
			frame,
			string(t.NodeID),
			string(t.From),
			string(t.To),
			string(t.Cause),
			t.Forced,
			t.At,
		); err != nil {
			return fmt.Errorf("failed to insert transition: %w", err)
		}
	}

	if j.retainFrames > 0 && frame > uint64(j.retainFrames) {
		cutoff := frame - uint64(j.retainFrames)
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM transitions WHERE frame < ?`, cutoff,
		); err != nil {
			return fmt.Errorf("failed to prune journal: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RecentTransitions returns the most recent transitions, newest first.
func (j *TransitionJournal) RecentTransitions(ctx context.Context, limit int) ([]*TransitionRecord, error) {
	query := `
		SELECT id, frame, node_id, from_tier, to_tier, cause, forced, at
		FROM transitions
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	return scanTransitions(rows)
}

// TransitionsForNode returns a node's transition history, newest first.
func (j *TransitionJournal) TransitionsForNode(ctx context.Context, nodeID string, limit int) ([]*TransitionRecord, error) {
	query := `
		SELECT id, frame, node_id, from_tier, to_tier, cause, forced, at
		FROM transitions
		WHERE node_id = ?
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := j.db.QueryContext(ctx, query, nodeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query node transitions: %w", err)
	}
	defer rows.Close()

	return scanTransitions(rows)
}

// CountsByCause aggregates the journal by transition cause.
func (j *TransitionJournal) CountsByCause(ctx context.Context) ([]*CauseCount, error) {
	query := `
		SELECT cause, COUNT(*) AS n
		FROM transitions
		GROUP BY cause
		ORDER BY n DESC
	`
	rows, err := j.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate transitions: %w", err)
	}
	defer rows.Close()

	counts := []*CauseCount{}
	for rows.Next() {
		c := &CauseCount{}
		if err := rows.Scan(&c.Cause, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan cause count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// ForcedDemotions returns journaled forced demotions, newest first.
func (j *TransitionJournal) ForcedDemotions(ctx context.Context, limit int) ([]*TransitionRecord, error) {
	query := `
		SELECT id, frame, node_id, from_tier, to_tier, cause, forced, at
		FROM transitions
		WHERE forced = 1
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query forced demotions: %w", err)
	}
	defer rows.Close()

	return scanTransitions(rows)
}

func scanTransitions(rows *sql.Rows) ([]*TransitionRecord, error) {
	records := []*TransitionRecord{}
	for rows.Next() {
		r := &TransitionRecord{}
		if err := rows.Scan(
			&r.ID,
			&r.Frame,
			&r.NodeID,
			&r.FromTier,
			&r.ToTier,
			&r.Cause,
			&r.Forced,
			&r.At,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
