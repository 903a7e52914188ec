package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/nexxore/safeyield/internal/logger"
	"github.com/nexxore/safeyield/internal/types"
)

// DefaultSubjectPrefix is joined with the event type to form the NATS subject,
// e.g. "safeyield.events.alert.peg_deviation".
const DefaultSubjectPrefix = "safeyield.events"

// Publisher publishes JSON messages to NATS.
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher connects to the NATS server at url.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url, nats.Name("safeyield"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Publisher{conn: conn}, nil
}

// Publish marshals data to JSON and publishes it on subject.
func (p *Publisher) Publish(subject string, data any) error {
	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return p.conn.Publish(subject, bytes)
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// publisher is the subset of Publisher the emitter needs.
type publisher interface {
	Publish(subject string, data any) error
}

// NatsEmitter publishes each event on "<prefix>.<event type>". Publish failures are logged, not returned.
type NatsEmitter struct {
	pub    publisher
	prefix string
	log    zerolog.Logger
}

func NewNatsEmitter(pub *Publisher, prefix string) *NatsEmitter {
	return newNatsEmitter(pub, prefix)
}

func newNatsEmitter(pub publisher, prefix string) *NatsEmitter {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NatsEmitter{pub: pub, prefix: prefix, log: logger.GetForComponent("nats_emitter")}
}

// Subject returns the subject an event type is published on.
func (e *NatsEmitter) Subject(t types.EventType) string {
	return e.prefix + "." + string(t)
}

func (e *NatsEmitter) Emit(event types.Event) {
	subject := e.Subject(event.Type)
	if err := e.pub.Publish(subject, event); err != nil {
		e.log.Error().Err(err).Str("subject", subject).Msg("Failed to publish event")
	}
}
