// Package broker delivers outbox events to NATS JetStream and routes queued
// financial sync retries back into the synchronizer.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"larder/pkg/logger"
)

// SubjectPrefix prefixes every subject this service publishes to.
const SubjectPrefix = "larder"

// DefaultStream is the stream capturing SubjectPrefix.>.
const DefaultStream = "LARDER"

// Headers attached to every published message.
const (
	HeaderOwner         = "Larder-Owner"
	HeaderAggregateType = "Larder-Aggregate-Type"
	HeaderAggregateID   = "Larder-Aggregate-Id"
	HeaderEventType     = "Larder-Event-Type"
)

// Message is one event ready for the broker.
type Message struct {
	ID      string
	Subject string
	Headers map[string]string
	Data    []byte
}

// Publisher sends messages to the broker.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Subject returns the subject for an event type.
func Subject(eventType string) string {
	return SubjectPrefix + "." + eventType
}

// NATSConfig configures the JetStream connection.
type NATSConfig struct {
	URL        string
	Stream     string
	MaxAge     time.Duration
	Duplicates time.Duration
}

// NATSPublisher publishes to JetStream. The outbox id is the message id, so
// a message re-sent after a lost ack is dropped by the stream's
// duplicate window.
type NATSPublisher struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// ConnectNATS dials NATS and makes sure the stream exists.
func ConnectNATS(ctx context.Context, cfg NATSConfig) (*NATSPublisher, error) {
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 7 * 24 * time.Hour
	}
	if cfg.Duplicates <= 0 {
		cfg.Duplicates = 2 * time.Hour
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("larder"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn(context.Background(), "nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info(context.Background(), "nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{SubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		MaxAge:     cfg.MaxAge,
		Duplicates: cfg.Duplicates,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
	}

	logger.Info(ctx, "connected to nats", "url", conn.ConnectedUrl(), "stream", cfg.Stream)
	return &NATSPublisher{conn: conn, js: js}, nil
}

// Publish implements Publisher and waits for the stream ack.
func (p *NATSPublisher) Publish(ctx context.Context, msg Message) error {
	m := nats.NewMsg(msg.Subject)
	m.Data = msg.Data
	for k, v := range msg.Headers {
		m.Header.Set(k, v)
	}

	var opts []jetstream.PublishOpt
	if msg.ID != "" {
		opts = append(opts, jetstream.WithMsgID(msg.ID))
	}

	ack, err := p.js.PublishMsg(ctx, m, opts...)
	if err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	if ack.Duplicate {
		logger.Debug(ctx, "broker dropped duplicate", "subject", msg.Subject, "msg_id", msg.ID)
	}
	return nil
}

// Ready reports whether the connection is up.
func (p *NATSPublisher) Ready() bool {
	return p.conn != nil && p.conn.IsConnected()
}

// Close drains the connection.
func (p *NATSPublisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
