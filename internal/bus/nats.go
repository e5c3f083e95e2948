// Package bus publishes dashboard lifecycle events (sites created, test
// batches completed) to NATS for downstream consumers. The dashboard runs
// standalone when no NATS URL is configured: the publisher degrades to a
// no-op.
package bus

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
)

type Publisher struct {
	conn *nats.Conn
}

// NewPublisher connects to NATS. An empty url yields a disabled publisher
// whose Publish calls succeed without doing anything.
func NewPublisher(url string) (*Publisher, error) {
	if url == "" {
		return &Publisher{}, nil
	}
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn}, nil
}

// Enabled reports whether events actually reach a broker.
func (p *Publisher) Enabled() bool { return p != nil && p.conn != nil }

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Drain()
		p.conn.Close()
	}
}

func (p *Publisher) Publish(subject string, payload any) error {
	if !p.Enabled() {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.conn.Publish(subject, data)
}
