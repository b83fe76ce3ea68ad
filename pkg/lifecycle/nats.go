package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the subject prefix for lifecycle events
const DefaultSubject = "workers.lifecycle"

// NATSConfig configures the NATS publisher
type NATSConfig struct {
	URL           string
	Subject       string
	Timeout       time.Duration
	MaxReconnects int
	ReconnectWait time.Duration
}

// NATSPublisher publishes events as JSON to "<subject>.<type>"
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
	logger  *slog.Logger
}

// NewNATSPublisher connects to NATS
func NewNATSPublisher(cfg NATSConfig, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "lifecycle_nats")

	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	opts := []nats.Option{
		nats.Name("worker-launcher"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("disconnected from NATS", "error", err)
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSPublisher{
		conn:    conn,
		subject: cfg.Subject,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

// Subject returns the subject an event of eventType is published on
func (p *NATSPublisher) Subject(eventType EventType) string {
	return p.subject + "." + string(eventType)
}

// Publish sends the event without waiting for a flush
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.conn.Publish(p.Subject(event.Type), payload); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// Flush waits until the server has processed every published event
func (p *NATSPublisher) Flush() error {
	return p.conn.FlushTimeout(p.timeout)
}

// Close drains and closes the connection
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("error draining NATS connection", "error", err)
		p.conn.Close()
		return err
	}
	return nil
}
