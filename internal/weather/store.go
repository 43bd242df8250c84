package weather

import (
	"context"
	"time"
)

// Store is the contract of the local measure database.
type Store interface {
	EnsureSchema(ctx context.Context) error
	LookupOrCreateSensor(ctx context.Context, name string) (int64, error)
	AppendMeasure(ctx context.Context, sensorID int64, at time.Time, temperature, humidity float64) error
	SaveSnapshot(ctx context.Context, snapshot Snapshot, at time.Time) error
	QueryMeasuresSince(ctx context.Context, sensorName string, since time.Time) ([]Measure, error)
}

// Mirror receives every snapshot after it was stored locally.
// Mirrors are write-only copies; the local store stays the source of truth.
type Mirror interface {
	Name() string
	Publish(ctx context.Context, snapshot Snapshot, at time.Time) error
}
