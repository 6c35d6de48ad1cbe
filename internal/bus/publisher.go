// Package bus publishes transcript events to NATS.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/mudra/internal/stream"
)

// DefaultSubjectPrefix is prepended to the gesture label to form the subject.
const DefaultSubjectPrefix = "mudra.gesture"

// Config configures the NATS connection.
type Config struct {
	Servers        []string
	SubjectPrefix  string
	Token          string
	ConnectTimeout time.Duration
}

// Message is the JSON payload published for each transcript entry.
type Message struct {
	SessionID  string    `json:"session_id"`
	Gesture    string    `json:"gesture"`
	Confidence float64   `json:"confidence"`
	Transcript []string  `json:"transcript"`
	At         time.Time `json:"at"`
}

// Publisher sends transcript events to NATS. It implements stream.Listener.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	log    logrus.FieldLogger
}

// Connect dials the configured servers.
func Connect(cfg Config, log logrus.FieldLogger) (*Publisher, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 2 * time.Second
	}

	log = log.WithField("component", "bus")
	options := []nats.Option{
		nats.Name("mudra"),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.WithField("url", c.ConnectedUrl()).Info("reconnected to NATS")
		}),
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.WithField("servers", url).Info("connected to NATS")

	return &Publisher{
		conn:   conn,
		prefix: cfg.SubjectPrefix,
		log:    log,
	}, nil
}

// Subject returns the subject a gesture is published on.
func (p *Publisher) Subject(gesture string) string {
	return Subject(p.prefix, gesture)
}

// Subject joins prefix and a gesture label into a NATS subject. Characters
// that are not valid in a subject token are replaced with underscores.
func Subject(prefix, gesture string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, gesture)
	return prefix + "." + token
}

// OnTranscript publishes ev. Failures are logged and never reach the stream.
func (p *Publisher) OnTranscript(_ context.Context, ev stream.Event) {
	data, err := json.Marshal(Message{
		SessionID:  ev.SessionID,
		Gesture:    ev.Gesture,
		Confidence: ev.Confidence,
		Transcript: ev.Transcript,
		At:         ev.At,
	})
	if err != nil {
		p.log.WithError(err).Error("failed to encode gesture event")
		return
	}
	if err := p.conn.Publish(p.Subject(ev.Gesture), data); err != nil {
		p.log.WithError(err).WithField("gesture", ev.Gesture).Warn("failed to publish gesture event")
	}
}

// Healthy reports whether the connection is up.
func (p *Publisher) Healthy() bool {
	return p != nil && p.conn != nil && p.conn.Status() == nats.CONNECTED
}

// Conn returns the underlying connection.
func (p *Publisher) Conn() *nats.Conn {
	return p.conn
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	p.log.Info("closing NATS connection")
	return p.conn.Drain()
}

// Subscribe delivers every message published under prefix to fn until ctx
// is done.
func Subscribe(ctx context.Context, conn *nats.Conn, prefix string, fn func(subject string, m Message)) error {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	sub, err := conn.Subscribe(prefix+".>", func(msg *nats.Msg) {
		var m Message
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			return
		}
		fn(msg.Subject, m)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", prefix, err)
	}
	<-ctx.Done()
	return sub.Unsubscribe()
}
