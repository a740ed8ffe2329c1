// Package publish submits telemetry records to the message broker.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
)

// Quality is the broker delivery guarantee.
type Quality byte

const (
	AtMostOnce  Quality = 0
	AtLeastOnce Quality = 1
	ExactlyOnce Quality = 2
)

// Outcome describes what happened to a submitted record.
type Outcome int

const (
	// Enqueued means the broker client accepted the record into its outbound
	// queue. Transmission and acknowledgement happen later.
	Enqueued Outcome = iota + 1
)

// ErrNotConnected is returned when the broker client has no session.
var ErrNotConnected = errors.New("broker client not connected")

// Broker is the outbound side of a broker client.
type Broker interface {
	Enqueue(topic string, payload []byte, q Quality, retain bool) error
}

// Record is one message to publish.
type Record struct {
	Topic   string
	Payload []byte
	Quality Quality
	Retain  bool
}

// NewRecord builds the record for one reading: the payload is the plain
// decimal text of value.
func NewRecord(topic string, value int64, retain bool) Record {
	return Record{
		Topic:   topic,
		Payload: []byte(strconv.FormatInt(value, 10)),
		Quality: AtLeastOnce,
		Retain:  retain,
	}
}

// Topic namespaces a channel topic under the device identifier.
func Topic(device, name string) string {
	return device + "/" + name
}

// PublishError reports a record that could not be enqueued.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s failed: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Publisher hands records to the broker client. Every record is sent with
// at-least-once delivery.
type Publisher struct {
	broker Broker
	log    *slog.Logger
}

// New creates a Publisher over a broker client.
func New(broker Broker, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}

	return &Publisher{
		broker: broker,
		log:    log.With(slog.String("component", "publisher")),
	}
}

// Publish enqueues rec and returns without waiting for the broker to
// acknowledge it.
func (p *Publisher) Publish(ctx context.Context, rec Record) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, &PublishError{Topic: rec.Topic, Err: err}
	}

	if err := p.broker.Enqueue(rec.Topic, rec.Payload, AtLeastOnce, rec.Retain); err != nil {
		return 0, &PublishError{Topic: rec.Topic, Err: err}
	}

	p.log.Debug("enqueued", slog.String("topic", rec.Topic), slog.String("payload", string(rec.Payload)), slog.Bool("retain", rec.Retain))

	return Enqueued, nil
}
