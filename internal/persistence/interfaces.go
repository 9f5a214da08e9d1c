// Package persistence stores fitted models as JSON snapshots behind a
// repository and an optional cache.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sawpanic/timmatch/internal/matcher"
)

// ErrNotFound is returned when no fit exists for an id.
var ErrNotFound = errors.New("fit not found")

// FitRecord is one stored fit: a few summary columns for listing plus the
// full snapshot.
type FitRecord struct {
	ID        string    `json:"id" db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	Method    string    `json:"method" db:"method"`
	Units     int       `json:"units" db:"units"`
	ATE       float64   `json:"ate" db:"ate"`
	ATT       float64   `json:"att" db:"att"`
	Retention float64   `json:"retention" db:"retention"`
	Snapshot  []byte    `json:"-" db:"snapshot"`
}

// NewRecord serializes a model into a record.
func NewRecord(m *matcher.Model) (FitRecord, error) {
	snapshot, err := json.Marshal(m)
	if err != nil {
		return FitRecord{}, fmt.Errorf("failed to marshal fit %s: %w", m.ID(), err)
	}
	res := m.Result()
	return FitRecord{
		ID:        m.ID(),
		CreatedAt: m.CreatedAt(),
		Method:    m.Method(),
		Units:     m.Units(),
		ATE:       res.ATE.Estimate,
		ATT:       res.ATT.Estimate,
		Retention: res.Retention,
		Snapshot:  snapshot,
	}, nil
}

// Model restores the record's snapshot.
func (r FitRecord) Model() (*matcher.Model, error) {
	if len(r.Snapshot) == 0 {
		return nil, fmt.Errorf("fit %s has no snapshot", r.ID)
	}
	return matcher.Decode(r.Snapshot)
}

// FitRepo persists fit records.
type FitRepo interface {
	// Save stores a record; saving an existing id is a no-op since fits are
	// immutable.
	Save(ctx context.Context, rec FitRecord) error

	// Get returns the record with its snapshot, or nil when absent.
	Get(ctx context.Context, id string) (*FitRecord, error)

	// List returns the newest records first, without snapshots.
	List(ctx context.Context, limit int) ([]FitRecord, error)
}

// Cache holds serialized snapshots by fit id.
type Cache interface {
	// Get reports a miss as (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool,omitempty"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for the persistence layer.
type RepositoryHealth interface {
	Health(ctx context.Context) HealthCheck
	Ping(ctx context.Context) error
}
