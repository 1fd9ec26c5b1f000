package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/pet-price-crawler/internal/models"
)

var ErrRunNotFound = errors.New("run not found")

const runColumns = `id, shop, mode, status, stats, error, created_at, started_at, completed_at`

type RunRepository struct {
	db *DB
}

func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) Create(ctx context.Context, run *models.Run) error {
	id, err := uuid.Parse(run.ID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", run.ID, err)
	}

	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal run stats: %w", err)
	}

	query := `
		INSERT INTO crawl_runs (id, shop, mode, status, stats, error, created_at, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = r.db.Exec(ctx, query,
		id, run.Shop, string(run.Mode), string(run.Status), stats, run.Error, run.CreatedAt, run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

func (r *RunRepository) Get(ctx context.Context, runID string) (*models.Run, error) {
	id, err := uuid.Parse(runID)
	if err != nil {
		return nil, ErrRunNotFound
	}

	row := r.db.QueryRow(ctx, `SELECT `+runColumns+` FROM crawl_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

func (r *RunRepository) List(ctx context.Context, limit int) ([]*models.Run, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+runColumns+` FROM crawl_runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return runs, nil
}

// ClaimNext marks the oldest pending run as running and returns it, or nil
// when nothing is queued.
func (r *RunRepository) ClaimNext(ctx context.Context) (*models.Run, error) {
	query := `
		UPDATE crawl_runs SET status = $1, started_at = now()
		WHERE id = (
			SELECT id FROM crawl_runs
			WHERE status = $2
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + runColumns

	run, err := scanRun(r.db.QueryRow(ctx, query,
		string(models.RunStatusRunning), string(models.RunStatusPending)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim run: %w", err)
	}

	return run, nil
}

// Finish stores the final status, stats and error of a run.
func (r *RunRepository) Finish(ctx context.Context, run *models.Run) error {
	id, err := uuid.Parse(run.ID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", run.ID, err)
	}

	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal run stats: %w", err)
	}

	query := `
		UPDATE crawl_runs
		SET status = $1, stats = $2, error = $3, completed_at = $4
		WHERE id = $5`

	result, err := r.db.Exec(ctx, query, string(run.Status), stats, run.Error, run.CompletedAt, id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrRunNotFound
	}

	return nil
}

func scanRun(row pgx.Row) (*models.Run, error) {
	var (
		run    models.Run
		id     uuid.UUID
		mode   string
		status string
		stats  []byte
	)

	err := row.Scan(&id, &run.Shop, &mode, &status, &stats, &run.Error,
		&run.CreatedAt, &run.StartedAt, &run.CompletedAt)
	if err != nil {
		return nil, err
	}

	run.ID = id.String()
	run.Mode = models.RunMode(mode)
	run.Status = models.RunStatus(status)
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &run.Stats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run stats: %w", err)
		}
	}

	return &run, nil
}
