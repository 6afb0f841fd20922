package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/realdoomsman/BTC500/internal/logging"
)

// NATSPublisher publishes events over a NATS connection.
type NATSPublisher struct {
	conn *nats.Conn
	log  *logging.Logger
}

// NewNATSPublisher connects to the given NATS server.
func NewNATSPublisher(url string, log *logging.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("btc500"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	return &NATSPublisher{
		conn: conn,
		log:  log.Component("events"),
	}, nil
}

// PublishJSON marshals data and publishes it on subject.
func (p *NATSPublisher) PublishJSON(_ context.Context, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event for %s: %w", subject, err)
	}

	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	p.log.Debug("event published", "subject", subject, "bytes", len(payload))

	return nil
}

// Close drains the connection so buffered events flush before shutdown.
func (p *NATSPublisher) Close() error {
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Drain()
}
