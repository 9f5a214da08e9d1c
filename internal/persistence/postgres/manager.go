package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/sawpanic/timmatch/internal/config"
	"github.com/sawpanic/timmatch/internal/persistence"
)

// Schema creates the fits table.
const Schema = `
	CREATE TABLE IF NOT EXISTS tim_fits (
		id         TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL,
		method     TEXT NOT NULL,
		units      INTEGER NOT NULL,
		ate        DOUBLE PRECISION NOT NULL,
		att        DOUBLE PRECISION NOT NULL,
		retention  DOUBLE PRECISION NOT NULL,
		snapshot   JSONB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS tim_fits_created_at_idx ON tim_fits (created_at DESC);`

// Manager owns the database connection and the fits repository.
type Manager struct {
	db     *sqlx.DB
	cfg    config.DatabaseConfig
	fits   persistence.FitRepo
	health *healthChecker
}

// Open connects to PostgreSQL and applies the schema. A disabled config
// yields a Manager with no repository.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Manager, error) {
	if !cfg.Enabled {
		return &Manager{cfg: cfg, health: &healthChecker{}}, nil
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required when enabled")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	m := NewManager(db, cfg)
	if err := m.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

// NewManager wraps an open connection.
func NewManager(db *sqlx.DB, cfg config.DatabaseConfig) *Manager {
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Manager{
		db:     db,
		cfg:    cfg,
		fits:   NewFitsRepo(db, timeout),
		health: &healthChecker{db: db, timeout: timeout},
	}
}

// Migrate applies Schema.
func (m *Manager) Migrate(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	if _, err := m.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Fits returns the fits repository, or nil when the database is disabled.
func (m *Manager) Fits() persistence.FitRepo {
	return m.fits
}

// Health returns the health checker.
func (m *Manager) Health() persistence.RepositoryHealth {
	return m.health
}

// Close closes the connection.
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

type healthChecker struct {
	db      *sqlx.DB
	timeout time.Duration
}

func (h *healthChecker) Health(ctx context.Context) persistence.HealthCheck {
	if h.db == nil {
		return persistence.HealthCheck{
			Healthy:   true,
			Errors:    []string{"database persistence disabled"},
			LastCheck: time.Now(),
		}
	}

	start := time.Now()
	var errors []string
	if err := h.Ping(ctx); err != nil {
		errors = append(errors, fmt.Sprintf("ping failed: %v", err))
	}

	stats := h.db.Stats()
	return persistence.HealthCheck{
		Healthy: len(errors) == 0,
		Errors:  errors,
		ConnectionPool: map[string]int{
			"max_open": stats.MaxOpenConnections,
			"open":     stats.OpenConnections,
			"in_use":   stats.InUse,
			"idle":     stats.Idle,
		},
		LastCheck:      time.Now(),
		ResponseTimeMS: time.Since(start).Milliseconds(),
	}
}

func (h *healthChecker) Ping(ctx context.Context) error {
	if h.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.db.PingContext(ctx)
}
