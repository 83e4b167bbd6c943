package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aquameter/telemetry-hub/internal/hub"
	"github.com/aquameter/telemetry-hub/internal/metrics"
	"github.com/aquameter/telemetry-hub/internal/model"
)

// Store is the slice of durable storage the engine needs.
type Store interface {
	FindNonResolvedAlert(ctx context.Context, sensor string, severity model.AlertSeverity) (*model.AlertRecord, error)
	CreateAlert(ctx context.Context, alert *model.AlertRecord) error
	BulkResolveAlerts(ctx context.Context, sensor string, statuses []model.AlertStatus, resolvedAt time.Time) (int64, error)
}

// Broadcaster pushes named events to connected dashboard clients.
type Broadcaster interface {
	Broadcast(event string, payload interface{})
}

type alertKey struct {
	sensor   string
	severity model.AlertSeverity
}

// resolvedEvent is the payload of an alert_resolved broadcast.
type resolvedEvent struct {
	Sensor string `json:"sensor"`
}

// Engine maintains the in-memory index of active alert keys, creates and
// resolves alert records, and deduplicates against both the index and
// durable storage. The index is populated lazily per key, so it is correct
// after a restart without a bulk reload.
type Engine struct {
	logger      *zap.Logger
	store       Store
	broadcaster Broadcaster
	rules       []Rule
	enabled     bool

	// mu is held across the full check-then-write sequence in Fire and
	// Clear, so concurrent first-time triggers for the same key cannot
	// both miss the index.
	mu    sync.Mutex
	index map[alertKey]struct{}
}

// NewEngine creates an alert engine with the given rule table. When
// enabled is false, Evaluate is a no-op; Fire and Clear stay available for
// the device-liveness watchdog.
func NewEngine(logger *zap.Logger, store Store, broadcaster Broadcaster, rules []Rule, enabled bool) *Engine {
	return &Engine{
		logger:      logger.Named("alert-engine"),
		store:       store,
		broadcaster: broadcaster,
		rules:       rules,
		enabled:     enabled,
		index:       make(map[alertKey]struct{}),
	}
}

// Evaluate runs every threshold rule against one accepted reading. Rule
// failures are logged and never propagate; a bad packet must not stall the
// ingestion loop.
func (e *Engine) Evaluate(ctx context.Context, reading *model.ValidatedReading) {
	if !e.enabled {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Rule evaluation panicked", zap.Any("panic", r))
		}
	}()

	for _, rule := range e.rules {
		value, outcome := rule.Eval(reading)
		switch outcome {
		case OutcomeFire:
			v := value
			if err := e.Fire(ctx, rule.Sensor, rule.Severity, rule.Message(value), &v, rule.Threshold); err != nil {
				e.logger.Error("Failed to fire alert",
					zap.String("sensor", rule.Sensor),
					zap.String("severity", string(rule.Severity)),
					zap.Error(err))
			}
		case OutcomeClear:
			if err := e.Clear(ctx, rule.Sensor); err != nil {
				e.logger.Error("Failed to clear alerts",
					zap.String("sensor", rule.Sensor),
					zap.Error(err))
			}
		case OutcomeSkip:
			// Field absent from this packet; prior alert state stands.
		}
	}
}

// Fire raises an alert for the (sensor, severity) key unless one is
// already active. The in-memory index is the fast path; durable storage is
// consulted once per key after a restart.
func (e *Engine) Fire(ctx context.Context, sensor string, severity model.AlertSeverity, message string, value *float64, threshold string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := alertKey{sensor: sensor, severity: severity}
	if _, ok := e.index[key]; ok {
		return nil
	}

	existing, err := e.store.FindNonResolvedAlert(ctx, sensor, severity)
	if err != nil {
		return fmt.Errorf("failed to check for existing alert: %w", err)
	}
	if existing != nil {
		// Index was stale after a restart; repopulate, create nothing.
		e.index[key] = struct{}{}
		return nil
	}

	e.index[key] = struct{}{}

	record := &model.AlertRecord{
		ID:        uuid.New().String(),
		Severity:  severity,
		Sensor:    sensor,
		Message:   message,
		Value:     value,
		Threshold: threshold,
		Timestamp: time.Now().UTC(),
		Status:    model.AlertStatusActive,
	}
	if err := e.store.CreateAlert(ctx, record); err != nil {
		// Keep index and storage consistent so the next trigger retries.
		delete(e.index, key)
		return fmt.Errorf("failed to create alert: %w", err)
	}

	metrics.AlertsFired.WithLabelValues(sensor, string(severity)).Inc()
	e.broadcaster.Broadcast(hub.EventAlert, record)

	e.logger.Info("Alert fired",
		zap.String("id", record.ID),
		zap.String("sensor", sensor),
		zap.String("severity", string(severity)),
		zap.String("message", message))

	return nil
}

// Clear resolves every non-resolved alert for the sensor, across all
// severities. Clearing an already-clear sensor is a no-op beyond the
// index scan.
func (e *Engine) Clear(ctx context.Context, sensor string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for key := range e.index {
		if key.sensor == sensor {
			delete(e.index, key)
		}
	}

	resolved, err := e.store.BulkResolveAlerts(ctx, sensor,
		[]model.AlertStatus{model.AlertStatusActive, model.AlertStatusAcknowledged},
		time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to resolve alerts: %w", err)
	}

	if resolved > 0 {
		metrics.AlertsResolved.WithLabelValues(sensor).Inc()
		e.broadcaster.Broadcast(hub.EventAlertResolved, resolvedEvent{Sensor: sensor})

		e.logger.Info("Alerts resolved",
			zap.String("sensor", sensor),
			zap.Int64("count", resolved))
	}
	return nil
}
