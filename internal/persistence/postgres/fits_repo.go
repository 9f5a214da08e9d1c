package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/timmatch/internal/persistence"
)

// fitsRepo implements persistence.FitRepo for PostgreSQL
type fitsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewFitsRepo creates a PostgreSQL fits repository.
func NewFitsRepo(db *sqlx.DB, timeout time.Duration) persistence.FitRepo {
	return &fitsRepo{db: db, timeout: timeout}
}

func (r *fitsRepo) Save(ctx context.Context, rec persistence.FitRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if rec.ID == "" {
		return fmt.Errorf("fit record has no id")
	}

	query := `
		INSERT INTO tim_fits (id, created_at, method, units, ate, att, retention, snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.CreatedAt, rec.Method, rec.Units,
		rec.ATE, rec.ATT, rec.Retention, string(rec.Snapshot))
	if err != nil {
		return fmt.Errorf("failed to insert fit: %w", err)
	}
	return nil
}

func (r *fitsRepo) Get(ctx context.Context, id string) (*persistence.FitRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, created_at, method, units, ate, att, retention, snapshot
		FROM tim_fits
		WHERE id = $1`

	var rec persistence.FitRecord
	if err := r.db.QueryRowxContext(ctx, query, id).StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get fit: %w", err)
	}
	return &rec, nil
}

func (r *fitsRepo) List(ctx context.Context, limit int) ([]persistence.FitRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, created_at, method, units, ate, att, retention
		FROM tim_fits
		ORDER BY created_at DESC, id
		LIMIT $1`

	var recs []persistence.FitRecord
	if err := r.db.SelectContext(ctx, &recs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list fits: %w", err)
	}
	return recs, nil
}
