// Package bus republishes session events on NATS so that other processes
// can follow playback.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats.go"

	"github.com/dgnsrekt/insight-tts/internal/session"
)

// DefaultSubject is the subject events are published on.
const DefaultSubject = "insight-tts.events"

// Config configures the bridge.
type Config struct {
	URL            string
	Subject        string
	ConnectTimeout time.Duration
}

// Message is the JSON payload of a published event.
type Message struct {
	SessionID        string    `json:"session_id"`
	Provider         string    `json:"provider"`
	State            string    `json:"state"`
	Code             string    `json:"code,omitempty"`
	Error            string    `json:"error,omitempty"`
	NeedsCredentials bool      `json:"needs_credentials,omitempty"`
	Cached           bool      `json:"cached"`
	At               time.Time `json:"at"`
}

// NewMessage converts a session event.
func NewMessage(ev session.Event) Message {
	m := Message{
		SessionID: ev.SessionID,
		Provider:  string(ev.Provider),
		State:     ev.State.String(),
		Cached:    ev.Cached,
		At:        ev.At,
	}
	if ev.Err != nil {
		m.Code = string(ev.Err.Code)
		m.Error = ev.Err.Error()
		m.NeedsCredentials = ev.Err.NeedsCredentials()
	}
	return m
}

// Bridge publishes session events to NATS.
type Bridge struct {
	conn    *nats.Conn
	subject string
}

// Connect dials the NATS server at cfg.URL.
func Connect(cfg Config) (*Bridge, error) {
	if cfg.URL == "" {
		return nil, errors.New("no NATS server configured")
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 2 * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("insight-tts"),
		nats.Timeout(cfg.ConnectTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("Connected to NATS", "url", cfg.URL, "subject", cfg.Subject)
	return &Bridge{conn: conn, subject: cfg.Subject}, nil
}

// Publish sends one event.
func (b *Bridge) Publish(ev session.Event) error {
	data, err := json.Marshal(NewMessage(ev))
	if err != nil {
		return err
	}
	return b.conn.Publish(b.subject, data)
}

// Run publishes events until the channel closes or ctx is done.
func (b *Bridge) Run(ctx context.Context, events <-chan session.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := b.Publish(ev); err != nil {
				log.Warn("Failed to publish session event", "state", ev.State, "error", err)
			}
		}
	}
}

// Close flushes pending messages and closes the connection.
func (b *Bridge) Close() {
	if b == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		log.Debug("NATS drain failed", "error", err)
	}
	b.conn.Close()
}
