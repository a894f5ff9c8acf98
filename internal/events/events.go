// Package events publishes structured activation events.
//
// Events are JSON envelopes published to NATS on "<subject>.<type>", for
// example "toolgate.activations.tool.activated". Publishing is best effort
// from the caller's point of view; Publish still reports failures so the
// caller can log them.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/toolgate/internal/config"
)

// TypeToolActivated is published after a successful activation.
const TypeToolActivated = "tool.activated"

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("publisher closed")

// Event is the published envelope.
type Event struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Source  string         `json:"source"`
	Subject string         `json:"subject"`
	Time    time.Time      `json:"time"`
	Data    map[string]any `json:"data,omitempty"`
}

// Publisher publishes events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher discards events.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }

// NATSPublisher publishes events to NATS core subjects.
type NATSPublisher struct {
	conn    *nats.Conn
	owned   bool
	prefix  string
	source  string
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewNATSPublisher wraps an existing connection. The caller keeps ownership
// of nc.
func NewNATSPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) *NATSPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "toolgate.activations"
	}
	return &NATSPublisher{
		conn:    nc,
		prefix:  prefix,
		source:  "toolgate",
		timeout: 2 * time.Second,
		logger:  logger,
		now:     time.Now,
	}
}

// Connect dials cfg.NATSURL and returns a publisher that owns the
// connection.
func Connect(cfg config.EventsConfig, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("toolgate"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", cfg.NATSURL, err)
	}
	logger.Info("connected to nats", zap.String("url", cfg.NATSURL))

	p := NewNATSPublisher(nc, cfg.Subject, logger)
	p.owned = true
	if cfg.Timeout > 0 {
		p.timeout = cfg.Timeout
	}
	return p, nil
}

// Subject returns the NATS subject for an event type.
func (p *NATSPublisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

// Publish fills in ID, Source, and Time when empty, then publishes and
// flushes so delivery errors surface here.
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	if p.conn == nil || p.conn.IsClosed() {
		return ErrPublisherClosed
	}
	if event.Type == "" {
		return errors.New("event type is required")
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Source == "" {
		event.Source = p.source
	}
	if event.Time.IsZero() {
		event.Time = p.now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := p.Subject(event.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush %s: %w", subject, err)
	}

	p.logger.Debug("event published",
		zap.String("subject", subject),
		zap.String("event_id", event.ID))
	return nil
}

// Close drains the connection when the publisher owns it.
func (p *NATSPublisher) Close() error {
	if !p.owned || p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}
