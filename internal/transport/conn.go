package transport

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/aquameter/telemetry-hub/internal/config"
)

// Connect establishes the single broker connection the pipeline rides on.
// The initial attempt is bounded by the configured timeout; after that the
// client retries forever at a fixed interval, re-delivering subscriptions
// on every reconnect. Every state transition is logged.
func Connect(cfg config.NATSConfig, name string, logger *zap.Logger) (*nats.Conn, error) {
	log := logger.Named("transport")

	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			fields := []zap.Field{zap.Error(err)}
			if sub != nil {
				fields = append(fields, zap.String("subject", sub.Subject))
			}
			log.Error("Broker error", fields...)
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("Broker disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("Broker reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("Broker connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker at %s: %w", cfg.URL, err)
	}

	log.Info("Connected to broker",
		zap.String("url", cfg.URL),
		zap.Duration("reconnect_wait", cfg.ReconnectWait))
	return nc, nil
}

// Shutdown drains the connection so in-flight messages finish before the
// process exits.
func Shutdown(nc *nats.Conn, logger *zap.Logger, timeout time.Duration) {
	if nc == nil || nc.IsClosed() {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := nc.Drain(); err != nil {
			logger.Warn("Failed to drain broker connection", zap.Error(err))
		}
	}()

	select {
	case <-done:
		logger.Info("Broker connection drained")
	case <-time.After(timeout):
		logger.Warn("Drain timeout reached, closing connection")
		nc.Close()
	}
}
