// Package events publishes pipeline stage events to NATS so runs can be
// followed from other processes.
//
// Subjects have the form
//
//	<prefix>.<run_id>.<stage>.<phase>
//
// e.g. forge.runs.0b6f8f5e-5d2a-4c1e-9a7b-2f0f7e1c9d11.VERIFY.completed.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/sanvibhowmick/forge/internal/config"
	"github.com/sanvibhowmick/forge/internal/pipeline"
)

// DefaultSubjectPrefix is used when none is configured.
const DefaultSubjectPrefix = "forge.runs"

// Publisher is a pipeline.EventSink backed by a NATS connection.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	owned  bool
	logger *zap.Logger
}

var _ pipeline.EventSink = (*Publisher)(nil)

// Connect dials NATS and returns a Publisher that owns the connection.
func Connect(cfg config.EventsConfig, logger *zap.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("forge"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	logger.Info("connected to NATS", zap.String("url", cfg.URL))

	p := NewPublisher(nc, cfg.SubjectPrefix, logger)
	p.owned = true
	return p, nil
}

// NewPublisher wraps an existing connection. Close leaves it open.
func NewPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		conn:   nc,
		prefix: strings.TrimSuffix(prefix, "."),
		logger: logger,
	}
}

// Conn returns the underlying connection.
func (p *Publisher) Conn() *nats.Conn {
	return p.conn
}

// Subject returns the subject an event is published on.
func (p *Publisher) Subject(ev pipeline.Event) string {
	return fmt.Sprintf("%s.%s.%s.%s", p.prefix, ev.RunID, ev.Stage, ev.Phase)
}

// RunSubject matches every event of one run.
func (p *Publisher) RunSubject(runID string) string {
	return fmt.Sprintf("%s.%s.>", p.prefix, runID)
}

// HandleEvent publishes ev as JSON.
func (p *Publisher) HandleEvent(_ context.Context, ev pipeline.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := p.Subject(ev)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe delivers every event of runID to handler until the returned
// subscription is drained or unsubscribed. Malformed payloads are dropped.
func (p *Publisher) Subscribe(runID string, handler func(pipeline.Event)) (*nats.Subscription, error) {
	return p.conn.Subscribe(p.RunSubject(runID), func(msg *nats.Msg) {
		ev, err := Decode(msg.Data)
		if err != nil {
			p.logger.Warn("dropping malformed event", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		handler(ev)
	})
}

// Decode parses a published payload.
func Decode(data []byte) (pipeline.Event, error) {
	var ev pipeline.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return pipeline.Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return ev, nil
}

// Close flushes pending events. An owned connection is also closed.
func (p *Publisher) Close() error {
	if !p.owned {
		return p.conn.Flush()
	}
	return p.conn.Drain()
}
