package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lexiqai/dictation/internal/dictation"
	"github.com/lexiqai/dictation/internal/observability"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// DefaultSubject is the subject prefix events are published under
const DefaultSubject = "dictation"

// Conn is the part of *nats.Conn the publisher uses
type Conn interface {
	Publish(subject string, data []byte) error
	Status() nats.Status
	Drain() error
	Close()
}

// Publisher forwards session events to NATS as JSON. Status, partial and
// complete events go to "<subject>.<type>"; level updates stay local.
type Publisher struct {
	conn    Conn
	subject string
	logger  zerolog.Logger
}

// Connect dials url and returns a publisher for subject
func Connect(url, subject string) (*Publisher, error) {
	if url == "" {
		return nil, errors.New("no NATS url configured")
	}

	logger := observability.Component("nats")
	options := []nats.Option{
		nats.Name("dictation"),
		nats.Timeout(5 * time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	logger.Info().Str("url", url).Str("subject", subject).Msg("Connected to NATS")
	return New(nc, subject), nil
}

// New wraps an existing connection
func New(conn Conn, subject string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{
		conn:    conn,
		subject: subject,
		logger:  observability.Component("nats"),
	}
}

// Publish sends one event. Level events are ignored.
func (p *Publisher) Publish(ev dictation.Event) error {
	if ev.Type == dictation.EventLevel {
		return nil
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := p.subject + "." + string(ev.Type)
	err = p.conn.Publish(subject, data)
	observability.RecordPublish("nats", err == nil)
	if err != nil {
		p.logger.Error().Err(err).Str("subject", subject).Str("session_id", ev.SessionID).Msg("Failed to publish event")
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Listener returns a dictation.Listener backed by the publisher
func (p *Publisher) Listener() dictation.Listener {
	return dictation.EventFunc(func(ev dictation.Event) {
		// errors are logged and counted by Publish
		_ = p.Publish(ev)
	})
}

// Healthy reports whether the connection is up. It satisfies
// observability.HealthCheckFunc.
func (p *Publisher) Healthy(ctx context.Context) (bool, error) {
	if status := p.conn.Status(); status != nats.CONNECTED {
		return false, fmt.Errorf("nats connection %s", status)
	}
	return true, nil
}

// Close flushes pending messages and closes the connection
func (p *Publisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn().Err(err).Msg("NATS drain failed")
	}
	p.conn.Close()
}
