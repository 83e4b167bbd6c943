package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aquameter/telemetry-hub/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	store, err := NewStore(logger, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }

func testReading(ts time.Time, ph float64) *model.ValidatedReading {
	return &model.ValidatedReading{
		TelemetryPacket: model.TelemetryPacket{
			Timestamp: strPtr(ts.UTC().Format(time.RFC3339Nano)),
			PH:        floatPtr(ph),
		},
		Validation: model.Validation{Status: model.ValidationPass, FailedParameters: []string{}},
	}
}

func TestStore_InsertAndListReadings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 5; i++ {
		err := store.InsertReading(ctx, testReading(base.Add(time.Duration(i)*time.Minute), 7.0+float64(i)*0.1))
		require.NoError(t, err)
	}

	readings, err := store.ListReadings(ctx, base.Add(time.Minute), base.Add(3*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, readings, 3)

	// Newest first.
	require.Equal(t, 7.3, *readings[0].PH)
	require.Equal(t, 7.1, *readings[2].PH)
}

func TestStore_LatestReadingTime(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	latest, err := store.LatestReadingTime(ctx)
	require.NoError(t, err)
	require.True(t, latest.IsZero(), "empty store reports zero time")

	base := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.InsertReading(ctx, testReading(base.Add(-time.Hour), 7.0)))
	require.NoError(t, store.InsertReading(ctx, testReading(base, 7.2)))

	latest, err = store.LatestReadingTime(ctx)
	require.NoError(t, err)
	require.True(t, latest.Equal(base), "expected %s, got %s", base, latest)
}

func TestStore_InsertReadingRejectsMissingTimestamp(t *testing.T) {
	store := newTestStore(t)

	err := store.InsertReading(context.Background(), &model.ValidatedReading{})
	require.Error(t, err)
}

func TestStore_AlertLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	alert := &model.AlertRecord{
		ID:        "alert-1",
		Sensor:    "ph",
		Severity:  model.AlertSeverityWarning,
		Message:   "ph out of range",
		Value:     floatPtr(9.0),
		Threshold: "6.5 - 8.5",
		Status:    model.AlertStatusActive,
		Timestamp: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.CreateAlert(ctx, alert))

	found, err := store.FindNonResolvedAlert(ctx, "ph", model.AlertSeverityWarning)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, "alert-1", found.ID)
	require.Equal(t, 9.0, *found.Value)
	require.Nil(t, found.ResolvedAt)

	// Different severity does not match the dedup slot.
	found, err = store.FindNonResolvedAlert(ctx, "ph", model.AlertSeverityCritical)
	require.NoError(t, err)
	require.Nil(t, found)

	// Acknowledged alerts still occupy the slot.
	require.NoError(t, store.AcknowledgeAlert(ctx, "alert-1"))
	found, err = store.FindNonResolvedAlert(ctx, "ph", model.AlertSeverityWarning)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, model.AlertStatusAcknowledged, found.Status)

	// Acknowledging twice fails the status guard.
	require.Error(t, store.AcknowledgeAlert(ctx, "alert-1"))

	resolvedAt := time.Now().UTC().Truncate(time.Second)
	n, err := store.BulkResolveAlerts(ctx, "ph",
		[]model.AlertStatus{model.AlertStatusActive, model.AlertStatusAcknowledged}, resolvedAt)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	found, err = store.FindNonResolvedAlert(ctx, "ph", model.AlertSeverityWarning)
	require.NoError(t, err)
	require.Nil(t, found, "resolved alerts no longer occupy the slot")

	alerts, err := store.ListAlerts(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, model.AlertStatusResolved, alerts[0].Status)
	require.NotNil(t, alerts[0].ResolvedAt)
}

func TestStore_BulkResolveIsScopedToSensor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	for i, sensor := range []string{"ph", "ph", "tds"} {
		severity := model.AlertSeverityWarning
		if i == 1 {
			severity = model.AlertSeverityCritical
		}
		require.NoError(t, store.CreateAlert(ctx, &model.AlertRecord{
			ID:        string(rune('a' + i)),
			Sensor:    sensor,
			Severity:  severity,
			Message:   "out of range",
			Threshold: "n/a",
			Status:    model.AlertStatusActive,
			Timestamp: now,
		}))
	}

	n, err := store.BulkResolveAlerts(ctx, "ph",
		[]model.AlertStatus{model.AlertStatusActive, model.AlertStatusAcknowledged}, now)
	require.NoError(t, err)
	require.EqualValues(t, 2, n, "both severities for the sensor resolve")

	found, err := store.FindNonResolvedAlert(ctx, "tds", model.AlertSeverityWarning)
	require.NoError(t, err)
	require.NotNil(t, found, "other sensors are untouched")

	// Resolving an already-clear sensor is a no-op.
	n, err = store.BulkResolveAlerts(ctx, "ph",
		[]model.AlertStatus{model.AlertStatusActive, model.AlertStatusAcknowledged}, now)
	require.NoError(t, err)
	require.Zero(t, n)
}
