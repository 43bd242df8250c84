package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/i474232898/weatherstation/internal/weather"
)

var (
	// ErrNoSuchSensor is returned when a sensor lookup finds no row.
	ErrNoSuchSensor = errors.New("no such sensor")
)

const schema = `
CREATE TABLE IF NOT EXISTS sensor (
	id   INTEGER PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS sensor_name_idx ON sensor(name);
CREATE TABLE IF NOT EXISTS measure (
	id          INTEGER PRIMARY KEY,
	created_at  TIMESTAMP NOT NULL,
	temperature REAL NOT NULL,
	humidity    REAL NOT NULL,
	sensor_id   INTEGER NOT NULL REFERENCES sensor(id)
);
CREATE INDEX IF NOT EXISTS measure_sensor_created_idx ON measure(sensor_id, created_at);
`

// SQLiteStore keeps sensors and measures in a SQLite file.
// It is safe for one writer process and any number of reader processes.
type SQLiteStore struct {
	db *sqlx.DB
}

// execer is satisfied by both *sqlx.DB and *sqlx.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

// Open opens (or creates) the database file at path.
func Open(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the sensor and measure tables when they are missing.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// LookupOrCreateSensor returns the id of the named sensor, inserting it first if needed.
func (s *SQLiteStore) LookupOrCreateSensor(ctx context.Context, name string) (int64, error) {
	return lookupOrCreateSensor(ctx, s.db, name)
}

func lookupOrCreateSensor(ctx context.Context, db execer, name string) (int64, error) {
	if _, err := db.ExecContext(ctx, `INSERT OR IGNORE INTO sensor(name) VALUES (?)`, name); err != nil {
		return 0, fmt.Errorf("insert sensor %q: %w", name, err)
	}

	var id int64
	err := db.GetContext(ctx, &id, `SELECT id FROM sensor WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %q", ErrNoSuchSensor, name)
	}
	if err != nil {
		return 0, fmt.Errorf("lookup sensor %q: %w", name, err)
	}
	return id, nil
}

// AppendMeasure inserts one measure. There is no deduplication.
func (s *SQLiteStore) AppendMeasure(ctx context.Context, sensorID int64, at time.Time, temperature, humidity float64) error {
	return appendMeasure(ctx, s.db, sensorID, at, temperature, humidity)
}

func appendMeasure(ctx context.Context, db execer, sensorID int64, at time.Time, temperature, humidity float64) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO measure(created_at, temperature, humidity, sensor_id) VALUES (?, ?, ?, ?)`,
		weather.FormatTimestamp(at), temperature, humidity, sensorID)
	if err != nil {
		return fmt.Errorf("insert measure for sensor %d: %w", sensorID, err)
	}
	return nil
}

// SaveSnapshot stores every reading of the snapshot with the same timestamp,
// creating missing sensors on the way. It is all or nothing.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snapshot weather.Snapshot, at time.Time) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, r := range snapshot.Readings {
		id, err := lookupOrCreateSensor(ctx, tx, r.Name)
		if err != nil {
			return err
		}
		if err := appendMeasure(ctx, tx, id, at, r.Temperature, r.Humidity); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

type measureRow struct {
	CreatedAt   string  `db:"created_at"`
	Temperature float64 `db:"temperature"`
	Humidity    float64 `db:"humidity"`
}

// QueryMeasuresSince returns the measures of a sensor recorded at least one second
// after since, oldest first. A measure stamped exactly at since is never returned.
func (s *SQLiteStore) QueryMeasuresSince(ctx context.Context, sensorName string, since time.Time) ([]weather.Measure, error) {
	bound := since.In(time.Local).Truncate(time.Second).Add(time.Second)

	var rows []measureRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT CAST(m.created_at AS TEXT) AS created_at, m.temperature, m.humidity
		FROM measure m
		JOIN sensor s ON s.id = m.sensor_id
		WHERE s.name = ? AND m.created_at >= ?
		ORDER BY m.created_at ASC, m.id ASC`,
		sensorName, weather.FormatTimestamp(bound))
	if err != nil {
		return nil, fmt.Errorf("query measures for %q: %w", sensorName, err)
	}

	measures := make([]weather.Measure, 0, len(rows))
	for _, row := range rows {
		ts, err := weather.ParseTimestamp(row.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("measure of %q: %w", sensorName, err)
		}
		measures = append(measures, weather.Measure{
			CreatedAt:   ts,
			Temperature: row.Temperature,
			Humidity:    row.Humidity,
		})
	}
	return measures, nil
}

// Sensors lists all known sensors ordered by id.
func (s *SQLiteStore) Sensors(ctx context.Context) ([]weather.Sensor, error) {
	var sensors []weather.Sensor
	if err := s.db.SelectContext(ctx, &sensors, `SELECT id, name FROM sensor ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list sensors: %w", err)
	}
	return sensors, nil
}
