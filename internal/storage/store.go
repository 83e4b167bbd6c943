package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/aquameter/telemetry-hub/internal/model"
)

// Store is the durable home for validated readings and alert records,
// backed by SQLite. Readings are append-only; alerts transition through
// their status lifecycle and are never deleted.
type Store struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewStore opens (or creates) the database at dbPath and ensures the
// schema exists.
func NewStore(logger *zap.Logger, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		logger: logger,
		db:     db,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the necessary tables if they don't exist
func (s *Store) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			payload TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_readings_timestamp ON readings(timestamp);

		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			sensor TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			value REAL,
			threshold TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			resolved_at DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_sensor ON alerts(sensor);
		CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// InsertReading appends one validated reading. The full reading is kept as
// JSON alongside its parsed timestamp for range queries.
func (s *Store) InsertReading(ctx context.Context, reading *model.ValidatedReading) error {
	if reading.Timestamp == nil {
		return fmt.Errorf("reading has no timestamp")
	}
	ts, err := time.Parse(time.RFC3339, *reading.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to parse reading timestamp: %w", err)
	}

	payload, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO readings (timestamp, payload) VALUES (?, ?)`,
		ts.UTC(), string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to store reading: %w", err)
	}
	return nil
}

// LatestReadingTime returns the timestamp of the most recent reading. The
// zero time with a nil error means no readings exist yet.
func (s *Store) LatestReadingTime(ctx context.Context) (time.Time, error) {
	var ts time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT timestamp FROM readings ORDER BY timestamp DESC LIMIT 1`,
	).Scan(&ts)
	if err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to query latest reading: %w", err)
	}
	return ts, nil
}

// ListReadings returns readings with timestamps in [from, to], newest
// first, capped at limit.
func (s *Store) ListReadings(ctx context.Context, from, to time.Time, limit int) ([]*model.ValidatedReading, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM readings
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp DESC LIMIT ?`,
		from.UTC(), to.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list readings: %w", err)
	}
	defer rows.Close()

	var readings []*model.ValidatedReading
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		reading := &model.ValidatedReading{}
		if err := json.Unmarshal([]byte(payload), reading); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reading: %w", err)
		}
		readings = append(readings, reading)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return readings, nil
}

// CreateAlert inserts a new alert record.
func (s *Store) CreateAlert(ctx context.Context, alert *model.AlertRecord) error {
	var value sql.NullFloat64
	if alert.Value != nil {
		value = sql.NullFloat64{Float64: *alert.Value, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (
			id, sensor, severity, message, value, threshold, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID,
		alert.Sensor,
		string(alert.Severity),
		alert.Message,
		value,
		alert.Threshold,
		string(alert.Status),
		alert.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store alert: %w", err)
	}
	return nil
}

// FindNonResolvedAlert returns the active or acknowledged alert for the
// given (sensor, severity) pair, or nil when none exists.
func (s *Store) FindNonResolvedAlert(ctx context.Context, sensor string, severity model.AlertSeverity) (*model.AlertRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sensor, severity, message, value, threshold, status, created_at, resolved_at
		FROM alerts
		WHERE sensor = ? AND severity = ? AND status IN (?, ?)
		LIMIT 1`,
		sensor, string(severity),
		string(model.AlertStatusActive), string(model.AlertStatusAcknowledged),
	)

	alert, err := scanAlert(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query alert: %w", err)
	}
	return alert, nil
}

// BulkResolveAlerts transitions every alert for sensor with a status in
// statuses to resolved, stamping resolvedAt. Returns the number of records
// transitioned.
func (s *Store) BulkResolveAlerts(ctx context.Context, sensor string, statuses []model.AlertStatus, resolvedAt time.Time) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := []interface{}{string(model.AlertStatusResolved), resolvedAt.UTC(), sensor}
	for _, status := range statuses {
		args = append(args, string(status))
	}

	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE alerts SET status = ?, resolved_at = ?
		WHERE sensor = ? AND status IN (%s)`, placeholders),
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve alerts: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected, nil
}

// AcknowledgeAlert marks an active alert as acknowledged. Resolving or
// re-acknowledging is rejected by the status guard.
func (s *Store) AcknowledgeAlert(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET status = ? WHERE id = ? AND status = ?`,
		string(model.AlertStatusAcknowledged), id, string(model.AlertStatusActive),
	)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("no active alert with id %s", id)
	}
	return nil
}

// ListAlerts returns alert records newest first with pagination.
func (s *Store) ListAlerts(ctx context.Context, offset, limit int) ([]*model.AlertRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sensor, severity, message, value, threshold, status, created_at, resolved_at
		FROM alerts
		ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*model.AlertRecord
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return alerts, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*model.AlertRecord, error) {
	var alert model.AlertRecord
	var severity, status string
	var value sql.NullFloat64
	var resolvedAt sql.NullTime

	err := row.Scan(
		&alert.ID,
		&alert.Sensor,
		&severity,
		&alert.Message,
		&value,
		&alert.Threshold,
		&status,
		&alert.Timestamp,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	alert.Severity = model.AlertSeverity(severity)
	alert.Status = model.AlertStatus(status)
	if value.Valid {
		alert.Value = &value.Float64
	}
	if resolvedAt.Valid {
		alert.ResolvedAt = &resolvedAt.Time
	}
	return &alert, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
