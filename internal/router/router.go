package router

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/aquameter/telemetry-hub/internal/config"
	"github.com/aquameter/telemetry-hub/internal/hub"
	"github.com/aquameter/telemetry-hub/internal/metrics"
	"github.com/aquameter/telemetry-hub/internal/model"
	"github.com/aquameter/telemetry-hub/internal/validator"
)

const handleTimeout = 10 * time.Second

// allowedCommands is the fixed allow-list of command tokens the device
// echoes back on the command subject.
var allowedCommands = map[string]struct{}{
	"OPEN":  {},
	"CLOSE": {},
	"AUTO":  {},
}

// ReadingStore persists accepted readings.
type ReadingStore interface {
	InsertReading(ctx context.Context, reading *model.ValidatedReading) error
}

// Evaluator runs the threshold rules over one accepted reading.
type Evaluator interface {
	Evaluate(ctx context.Context, reading *model.ValidatedReading)
}

// Broadcaster pushes named events to connected dashboard clients.
type Broadcaster interface {
	Broadcast(event string, payload interface{})
}

// LatestCache holds the most recent reading for dashboard hydration.
// Optional; writes are best-effort.
type LatestCache interface {
	SetLatest(ctx context.Context, reading *model.ValidatedReading) error
}

// commandAck is the payload of a command_ack broadcast. The transport echo
// is the single source of truth for confirmations, regardless of which
// client issued the command.
type commandAck struct {
	Command   string `json:"command"`
	Timestamp string `json:"timestamp"`
}

// Router demultiplexes transport messages by subject and sequences the
// telemetry pipeline: validate, persist, evaluate, broadcast. Nothing a
// single message does is allowed to crash the process or block the next
// message.
type Router struct {
	logger    *zap.Logger
	nc        *nats.Conn
	subjects  config.SubjectsConfig
	validator *validator.Validator
	store     ReadingStore
	engine    Evaluator
	hub       Broadcaster
	cache     LatestCache
	subs      []*nats.Subscription
}

// New creates a router. cache may be nil.
func New(logger *zap.Logger, nc *nats.Conn, subjects config.SubjectsConfig, v *validator.Validator,
	store ReadingStore, engine Evaluator, broadcaster Broadcaster, cache LatestCache) *Router {
	return &Router{
		logger:    logger.Named("router"),
		nc:        nc,
		subjects:  subjects,
		validator: v,
		store:     store,
		engine:    engine,
		hub:       broadcaster,
		cache:     cache,
	}
}

// Start subscribes to the telemetry, alert, and command subjects.
// Subscriptions survive broker reconnects; the client re-establishes them.
func (r *Router) Start() error {
	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{r.subjects.Telemetry, r.handleTelemetry},
		{r.subjects.Alerts, r.handleAlert},
		{r.subjects.Commands, r.handleCommand},
	}

	for _, h := range handlers {
		sub, err := r.nc.Subscribe(h.subject, r.guard(h.handler))
		if err != nil {
			r.Stop()
			return err
		}
		r.subs = append(r.subs, sub)
		r.logger.Info("Subscribed", zap.String("subject", h.subject))
	}
	return nil
}

// Stop unsubscribes from all subjects.
func (r *Router) Stop() {
	for _, sub := range r.subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			r.logger.Warn("Failed to unsubscribe", zap.Error(err))
		}
	}
	r.subs = nil
}

// guard keeps a panicking handler from taking down the ingestion loop.
func (r *Router) guard(handler nats.MsgHandler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("Message handler panicked",
					zap.String("subject", msg.Subject),
					zap.Any("panic", rec))
			}
		}()
		handler(msg)
	}
}

// handleTelemetry drives the core pipeline for one packet. Persistence is
// attempted before evaluation and broadcast, but a persistence failure
// must not suppress either: real-time behavior outranks the durability of
// any single packet.
func (r *Router) handleTelemetry(msg *nats.Msg) {
	metrics.PacketsReceived.WithLabelValues("telemetry").Inc()

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	reading, err := r.validator.Validate(msg.Data, time.Now())
	if err != nil {
		var rej *validator.RejectError
		if errors.As(err, &rej) {
			metrics.PacketsRejected.WithLabelValues(rej.Code).Inc()
			r.logger.Warn("Packet rejected",
				zap.String("reason", rej.Reason),
				zap.String("code", rej.Code),
				zap.String("claimed_timestamp", rej.Timestamp))
		} else {
			r.logger.Warn("Packet rejected", zap.Error(err))
		}
		return
	}
	metrics.PacketsAccepted.Inc()

	if err := r.store.InsertReading(ctx, reading); err != nil {
		metrics.StorageErrors.WithLabelValues("insert_reading").Inc()
		r.logger.Error("Failed to persist reading, continuing pipeline",
			zap.String("timestamp", *reading.Timestamp),
			zap.Error(err))
	}

	if r.cache != nil {
		if err := r.cache.SetLatest(ctx, reading); err != nil {
			r.logger.Warn("Failed to cache latest reading", zap.Error(err))
		}
	}

	r.engine.Evaluate(ctx, reading)
	r.hub.Broadcast(hub.EventTelemetry, reading)
}

// handleAlert passes pre-formed alert payloads straight through to the
// dashboard. No validation, no persistence.
func (r *Router) handleAlert(msg *nats.Msg) {
	metrics.PacketsReceived.WithLabelValues("alert").Inc()

	if !json.Valid(msg.Data) {
		r.logger.Warn("Dropping malformed alert payload", zap.String("subject", msg.Subject))
		return
	}

	r.hub.Broadcast(hub.EventAlert, json.RawMessage(msg.Data))
}

// handleCommand validates a plain-text command echo against the
// allow-list and rebroadcasts it with a server timestamp.
func (r *Router) handleCommand(msg *nats.Msg) {
	metrics.PacketsReceived.WithLabelValues("command").Inc()

	command := string(msg.Data)
	if _, ok := allowedCommands[command]; !ok {
		r.logger.Warn("Dropping unknown command token", zap.String("command", command))
		return
	}

	r.hub.Broadcast(hub.EventCommandAck, commandAck{
		Command:   command,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
