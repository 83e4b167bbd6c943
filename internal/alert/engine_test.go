package alert

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aquameter/telemetry-hub/internal/config"
	"github.com/aquameter/telemetry-hub/internal/hub"
	"github.com/aquameter/telemetry-hub/internal/model"
	"github.com/aquameter/telemetry-hub/internal/storage"
)

type capturedEvent struct {
	event   string
	payload interface{}
}

type captureBroadcaster struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (b *captureBroadcaster) Broadcast(event string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, capturedEvent{event: event, payload: payload})
}

func (b *captureBroadcaster) count(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.event == event {
			n++
		}
	}
	return n
}

func floatPtr(f float64) *float64 { return &f }
func strPtr(s string) *string     { return &s }

func testThresholds() config.AlertsConfig {
	return config.AlertsConfig{
		Enabled: true,
		Thresholds: map[string]config.Bounds{
			"ph":  {Min: floatPtr(6.5), Max: floatPtr(8.5)},
			"tds": {Max: floatPtr(5000)},
		},
	}
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	store, err := storage.NewStore(logger, filepath.Join(t.TempDir(), "alerts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestEngine(t *testing.T, store Store) (*Engine, *captureBroadcaster) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	broadcaster := &captureBroadcaster{}
	engine := NewEngine(logger, store, broadcaster, BuildRules(testThresholds()), true)
	return engine, broadcaster
}

func reading(ts time.Time, mutate func(*model.TelemetryPacket)) *model.ValidatedReading {
	pkt := model.TelemetryPacket{Timestamp: strPtr(ts.UTC().Format(time.RFC3339Nano))}
	if mutate != nil {
		mutate(&pkt)
	}
	return &model.ValidatedReading{
		TelemetryPacket: pkt,
		Validation:      model.Validation{Status: model.ValidationPass, FailedParameters: []string{}},
	}
}

func TestEngine_FireIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	engine, broadcaster := newTestEngine(t, store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := engine.Fire(ctx, "ph", model.AlertSeverityWarning, "ph out of range", floatPtr(9.0), "6.5 - 8.5")
		require.NoError(t, err)
	}

	alerts, err := store.ListAlerts(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1, "exactly one record despite repeated fires")
	require.Equal(t, model.AlertStatusActive, alerts[0].Status)
	require.Equal(t, 1, broadcaster.count(hub.EventAlert), "exactly one broadcast")
}

func TestEngine_SameSensorDifferentSeverityIsSeparateSlot(t *testing.T) {
	store := newTestStore(t)
	engine, broadcaster := newTestEngine(t, store)
	ctx := context.Background()

	require.NoError(t, engine.Fire(ctx, "ph", model.AlertSeverityWarning, "warn", nil, "n/a"))
	require.NoError(t, engine.Fire(ctx, "ph", model.AlertSeverityCritical, "crit", nil, "n/a"))

	alerts, err := store.ListAlerts(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	require.Equal(t, 2, broadcaster.count(hub.EventAlert))
}

func TestEngine_LazyIndexRepopulationAfterRestart(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, _ := newTestEngine(t, store)
	require.NoError(t, first.Fire(ctx, "tds", model.AlertSeverityWarning, "tds high", floatPtr(6000), "<= 5000"))

	// A fresh engine over the same store models a process restart.
	second, broadcaster := newTestEngine(t, store)
	require.NoError(t, second.Fire(ctx, "tds", model.AlertSeverityWarning, "tds high", floatPtr(6100), "<= 5000"))

	alerts, err := store.ListAlerts(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1, "restart must not duplicate the alert")
	require.Zero(t, broadcaster.count(hub.EventAlert), "no broadcast for the repopulation no-op")

	// The repopulated index still clears correctly.
	require.NoError(t, second.Clear(ctx, "tds"))
	require.Equal(t, 1, broadcaster.count(hub.EventAlertResolved))
}

func TestEngine_FireThenClearRoundTrip(t *testing.T) {
	store := newTestStore(t)
	engine, broadcaster := newTestEngine(t, store)
	ctx := context.Background()

	require.NoError(t, engine.Fire(ctx, "ph", model.AlertSeverityWarning, "warn", nil, "n/a"))
	require.NoError(t, engine.Fire(ctx, "ph", model.AlertSeverityCritical, "crit", nil, "n/a"))
	require.NoError(t, engine.Clear(ctx, "ph"))

	found, err := store.FindNonResolvedAlert(ctx, "ph", model.AlertSeverityWarning)
	require.NoError(t, err)
	require.Nil(t, found)
	found, err = store.FindNonResolvedAlert(ctx, "ph", model.AlertSeverityCritical)
	require.NoError(t, err)
	require.Nil(t, found)

	require.Equal(t, 1, broadcaster.count(hub.EventAlertResolved), "one resolution event per sweep")

	// Clearing an already-clear sensor broadcasts nothing.
	require.NoError(t, engine.Clear(ctx, "ph"))
	require.Equal(t, 1, broadcaster.count(hub.EventAlertResolved))

	// The slot is free again.
	require.NoError(t, engine.Fire(ctx, "ph", model.AlertSeverityWarning, "warn", nil, "n/a"))
	alerts, err := store.ListAlerts(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 3)
}

func TestEngine_EvaluateFiresAndClears(t *testing.T) {
	store := newTestStore(t)
	engine, broadcaster := newTestEngine(t, store)
	ctx := context.Background()
	now := time.Now()

	engine.Evaluate(ctx, reading(now, func(p *model.TelemetryPacket) {
		p.PH = floatPtr(9.0)
		p.TDS = floatPtr(8000)
	}))
	require.Equal(t, 2, broadcaster.count(hub.EventAlert), "both sensors fire")

	engine.Evaluate(ctx, reading(now, func(p *model.TelemetryPacket) {
		p.PH = floatPtr(7.0)
		p.TDS = floatPtr(1200)
	}))
	require.Equal(t, 2, broadcaster.count(hub.EventAlertResolved), "both sensors clear")

	alerts, err := store.ListAlerts(ctx, 0, 10)
	require.NoError(t, err)
	for _, a := range alerts {
		require.Equal(t, model.AlertStatusResolved, a.Status)
	}
}

func TestEngine_EvaluateSkipsAbsentFields(t *testing.T) {
	store := newTestStore(t)
	engine, broadcaster := newTestEngine(t, store)
	ctx := context.Background()
	now := time.Now()

	engine.Evaluate(ctx, reading(now, func(p *model.TelemetryPacket) {
		p.PH = floatPtr(9.0)
	}))
	require.Equal(t, 1, broadcaster.count(hub.EventAlert))

	// A packet without ph must leave the ph alert untouched.
	engine.Evaluate(ctx, reading(now, func(p *model.TelemetryPacket) {
		p.Temperature = floatPtr(22.0)
	}))

	found, err := store.FindNonResolvedAlert(ctx, "ph", model.AlertSeverityWarning)
	require.NoError(t, err)
	require.NotNil(t, found, "skip must not clear the active alert")
	require.Zero(t, broadcaster.count(hub.EventAlertResolved))
}

func TestEngine_DisabledEvaluateIsNoOp(t *testing.T) {
	store := newTestStore(t)
	logger, _ := zap.NewDevelopment()
	broadcaster := &captureBroadcaster{}
	engine := NewEngine(logger, store, broadcaster, BuildRules(testThresholds()), false)

	engine.Evaluate(context.Background(), reading(time.Now(), func(p *model.TelemetryPacket) {
		p.PH = floatPtr(9.0)
	}))
	require.Empty(t, broadcaster.events)

	// Fire stays available for the watchdog even when rules are disabled.
	require.NoError(t, engine.Fire(context.Background(), model.DeviceSensor, model.AlertSeverityCritical, "offline", nil, "no data"))
	require.Equal(t, 1, broadcaster.count(hub.EventAlert))
}

type failingStore struct {
	Store
	failCreate bool
}

func (s *failingStore) CreateAlert(ctx context.Context, alert *model.AlertRecord) error {
	if s.failCreate {
		return errors.New("storage unavailable")
	}
	return s.Store.CreateAlert(ctx, alert)
}

func TestEngine_FireRetriesAfterStorageFailure(t *testing.T) {
	inner := newTestStore(t)
	store := &failingStore{Store: inner, failCreate: true}
	logger, _ := zap.NewDevelopment()
	broadcaster := &captureBroadcaster{}
	engine := NewEngine(logger, store, broadcaster, nil, true)
	ctx := context.Background()

	err := engine.Fire(ctx, "ph", model.AlertSeverityWarning, "warn", nil, "n/a")
	require.Error(t, err)
	require.Zero(t, broadcaster.count(hub.EventAlert))

	// Once storage recovers, the same key fires instead of no-opping on a
	// phantom index entry.
	store.failCreate = false
	require.NoError(t, engine.Fire(ctx, "ph", model.AlertSeverityWarning, "warn", nil, "n/a"))
	require.Equal(t, 1, broadcaster.count(hub.EventAlert))
}
