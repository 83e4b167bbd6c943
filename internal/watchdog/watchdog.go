package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/aquameter/telemetry-hub/internal/metrics"
	"github.com/aquameter/telemetry-hub/internal/model"
)

const tickTimeout = 10 * time.Second

// LatestReadingSource reports the timestamp of the most recently persisted
// reading. The zero time means no readings exist yet.
type LatestReadingSource interface {
	LatestReadingTime(ctx context.Context) (time.Time, error)
}

// AlertSink is the slice of the alert engine the watchdog drives.
type AlertSink interface {
	Fire(ctx context.Context, sensor string, severity model.AlertSeverity, message string, value *float64, threshold string) error
	Clear(ctx context.Context, sensor string) error
}

// Watchdog periodically inspects the age of the most recent persisted
// reading and drives the device-liveness alert key. It owns the schedule
// for the life of the process; transient storage failures are logged and
// the next tick proceeds regardless.
type Watchdog struct {
	logger       *zap.Logger
	source       LatestReadingSource
	sink         AlertSink
	period       time.Duration
	offlineAfter time.Duration
	cron         *cron.Cron
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// New creates a watchdog ticking every period, alerting once readings are
// older than offlineAfter.
func New(logger *zap.Logger, source LatestReadingSource, sink AlertSink, period, offlineAfter time.Duration) *Watchdog {
	named := logger.Named("watchdog")
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(&cronLogger{logger: named})),
	)

	return &Watchdog{
		logger:       named,
		source:       source,
		sink:         sink,
		period:       period,
		offlineAfter: offlineAfter,
		cron:         c,
	}
}

// Start schedules the tick and begins running. The schedule is fixed and
// independent of message arrival.
func (w *Watchdog) Start() error {
	spec := fmt.Sprintf("@every %s", w.period)
	if _, err := w.cron.AddFunc(spec, w.tick); err != nil {
		return fmt.Errorf("failed to schedule watchdog: %w", err)
	}

	w.cron.Start()
	w.logger.Info("Watchdog started",
		zap.Duration("period", w.period),
		zap.Duration("offline_after", w.offlineAfter))
	return nil
}

// Stop halts the schedule and waits for a running tick to finish.
func (w *Watchdog) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
	w.logger.Info("Watchdog stopped")
}

func (w *Watchdog) tick() {
	metrics.WatchdogTicks.Inc()

	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()
	w.check(ctx, time.Now())
}

// check runs one liveness evaluation. Split from tick so tests can drive
// it with a fixed clock.
func (w *Watchdog) check(ctx context.Context, now time.Time) {
	latest, err := w.source.LatestReadingTime(ctx)
	if err != nil {
		w.logger.Error("Failed to read latest reading timestamp", zap.Error(err))
		return
	}
	if latest.IsZero() {
		// Never alert on an empty history.
		return
	}

	age := now.Sub(latest)
	if age > w.offlineAfter {
		message := fmt.Sprintf("Device offline: no telemetry received for %.0f seconds", age.Seconds())
		threshold := fmt.Sprintf("no data > %s", w.offlineAfter)
		if err := w.sink.Fire(ctx, model.DeviceSensor, model.AlertSeverityCritical, message, nil, threshold); err != nil {
			w.logger.Error("Failed to fire device-offline alert", zap.Error(err))
		}
		return
	}

	if err := w.sink.Clear(ctx, model.DeviceSensor); err != nil {
		w.logger.Error("Failed to clear device-offline alert", zap.Error(err))
	}
}
