// Package runstore persists training runs and their per-epoch loss
// breakdown to sqlite, so runs can be compared and reported after the
// fact.
package runstore

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/skyhaven-systems/trajgen/internal/config"
	"github.com/skyhaven-systems/trajgen/internal/cvae"
	"github.com/skyhaven-systems/trajgen/internal/train"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Run is one training run's bookkeeping row.
type Run struct {
	ID          string
	Status      string
	ConfigJSON  string
	BestValLoss float64
	BestEpoch   int
	EpochsRun   int
	StartedAt   time.Time
	FinishedAt  *time.Time
}

// Run statuses.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the run database at path and applies
// pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// migrateUp applies all pending embedded migrations.
func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	// Closing m would close the underlying DB connection, so it is left
	// to be collected.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool { return false }

// CreateRun registers a new run with the configuration it uses and
// returns its generated identifier.
func (s *Store) CreateRun(cfg *config.Config) (string, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to serialize run config: %w", err)
	}
	id := uuid.NewString()
	_, err = s.db.Exec(
		`INSERT INTO runs (run_id, status, config_json, started_at) VALUES (?, ?, ?, ?)`,
		id, StatusRunning, string(cfgJSON), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}
	return id, nil
}

// FinishRun records the outcome of a run.
func (s *Store) FinishRun(runID string, res *train.Result) error {
	_, err := s.db.Exec(
		`UPDATE runs SET status = ?, best_val_loss = ?, best_epoch = ?, epochs_run = ?,
		 finished_at = ? WHERE run_id = ?`,
		StatusFinished, res.BestValLoss, res.BestEpoch, res.EpochsRun,
		time.Now().UTC().Format(time.RFC3339Nano), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	return nil
}

// FailRun marks a run as failed.
func (s *Store) FailRun(runID string) error {
	_, err := s.db.Exec(
		`UPDATE runs SET status = ?, finished_at = ? WHERE run_id = ?`,
		StatusFailed, time.Now().UTC().Format(time.RFC3339Nano), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark run %s failed: %w", runID, err)
	}
	return nil
}

// GetRun fetches one run row.
func (s *Store) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(
		`SELECT run_id, status, config_json,
		        COALESCE(best_val_loss, 0), COALESCE(best_epoch, -1), COALESCE(epochs_run, 0),
		        started_at, finished_at
		 FROM runs WHERE run_id = ?`, runID)

	r, err := scanRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return r, nil
}

// scanRun reads one run row; timestamps are stored as RFC 3339 text.
func scanRun(scan func(dest ...any) error) (*Run, error) {
	var r Run
	var started string
	var finished sql.NullString
	if err := scan(&r.ID, &r.Status, &r.ConfigJSON, &r.BestValLoss, &r.BestEpoch, &r.EpochsRun, &started, &finished); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return nil, fmt.Errorf("bad started_at %q: %w", started, err)
	}
	r.StartedAt = t
	if finished.Valid {
		ft, err := time.Parse(time.RFC3339Nano, finished.String)
		if err != nil {
			return nil, fmt.Errorf("bad finished_at %q: %w", finished.String, err)
		}
		r.FinishedAt = &ft
	}
	return &r, nil
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns() ([]Run, error) {
	rows, err := s.db.Query(
		`SELECT run_id, status, config_json,
		        COALESCE(best_val_loss, 0), COALESCE(best_epoch, -1), COALESCE(epochs_run, 0),
		        started_at, finished_at
		 FROM runs ORDER BY started_at DESC, run_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// recordEpoch inserts one epoch row for a run.
func (s *Store) recordEpoch(runID string, e train.EpochStats) error {
	_, err := s.db.Exec(
		`INSERT INTO epochs (run_id, epoch,
		   train_total, train_recon, train_kl, train_smooth, train_boundary,
		   val_total, val_recon, val_kl, val_smooth, val_boundary,
		   learning_rate, tf_ratio)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, e.Epoch,
		e.Train.Total, e.Train.Reconstruction, e.Train.KL, e.Train.Smoothness, e.Train.Boundary,
		e.Val.Total, e.Val.Reconstruction, e.Val.KL, e.Val.Smoothness, e.Val.Boundary,
		e.LearningRate, e.TFRatio,
	)
	if err != nil {
		return fmt.Errorf("failed to record epoch %d of run %s: %w", e.Epoch, runID, err)
	}
	return nil
}

// EpochHistory returns all epoch rows of a run in epoch order.
func (s *Store) EpochHistory(runID string) ([]train.EpochStats, error) {
	rows, err := s.db.Query(
		`SELECT epoch,
		   train_total, train_recon, train_kl, train_smooth, train_boundary,
		   val_total, val_recon, val_kl, val_smooth, val_boundary,
		   learning_rate, tf_ratio
		 FROM epochs WHERE run_id = ? ORDER BY epoch`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load epoch history of run %s: %w", runID, err)
	}
	defer rows.Close()

	var history []train.EpochStats
	for rows.Next() {
		var e train.EpochStats
		var tr, vl cvae.LossValues
		if err := rows.Scan(&e.Epoch,
			&tr.Total, &tr.Reconstruction, &tr.KL, &tr.Smoothness, &tr.Boundary,
			&vl.Total, &vl.Reconstruction, &vl.KL, &vl.Smoothness, &vl.Boundary,
			&e.LearningRate, &e.TFRatio); err != nil {
			return nil, fmt.Errorf("failed to scan epoch row: %w", err)
		}
		e.Train, e.Val = tr, vl
		history = append(history, e)
	}
	return history, rows.Err()
}

// RunRecorder adapts a Store to the train.Recorder interface for one run.
type RunRecorder struct {
	store *Store
	runID string
}

// Recorder returns a train.Recorder that writes epochs under runID.
func (s *Store) Recorder(runID string) *RunRecorder {
	return &RunRecorder{store: s, runID: runID}
}

// RecordEpoch implements train.Recorder.
func (r *RunRecorder) RecordEpoch(stats train.EpochStats) error {
	return r.store.recordEpoch(r.runID, stats)
}
