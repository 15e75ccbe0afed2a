package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// NATSOptions configures the JetStream publisher.
type NATSOptions struct {
	URL           string
	Stream        string
	SubjectPrefix string
}

type natsPublisher struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	prefix string
}

// NewNATS connects to NATS and makes sure the stream capturing
// "<prefix>.>" exists.
func NewNATS(opts NATSOptions, natsOpts ...nats.Option) (Publisher, error) {
	if opts.URL == "" {
		return nil, errors.New("nats url is required")
	}
	prefix := strings.TrimSuffix(opts.SubjectPrefix, ".")
	if prefix == "" {
		prefix = "imagegen"
	}
	stream := opts.Stream
	if stream == "" {
		stream = "IMAGEGEN"
	}

	nc, err := nats.Connect(opts.URL, append([]nats.Option{nats.Name("thv-imagegen-api")}, natsOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to open jetstream context: %w", err)
	}

	if _, err := js.StreamInfo(stream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			nc.Close()
			return nil, fmt.Errorf("failed to look up stream %s: %w", stream, err)
		}
		if _, err := js.AddStream(&nats.StreamConfig{
			Name:     stream,
			Subjects: []string{prefix + ".>"},
		}); err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create stream %s: %w", stream, err)
		}
	}

	return &natsPublisher{conn: nc, js: js, prefix: prefix}, nil
}

// Subject returns the subject an event type is published on.
func Subject(prefix string, eventType Type) string {
	return strings.TrimSuffix(prefix, ".") + "." + string(eventType)
}

func (p *natsPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	// the message id lets JetStream drop duplicates inside its dedupe window
	_, err = p.js.Publish(Subject(p.prefix, event.Type), data, nats.Context(ctx), nats.MsgId(event.ID))
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}
	return nil
}

func (p *natsPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}
