package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"wedding-quiz-service/internal/app"
)

// Conn is the subset of *nats.Conn the relay needs.
type Conn interface {
	Publish(subj string, data []byte) error
	ChanSubscribe(subj string, ch chan *nats.Msg) (*nats.Subscription, error)
}

// Connect dials NATS with reconnect handling suited to a long-running server.
// A server that is down at startup is retried in the background.
func Connect(url string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("wedding-quiz-relay"),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Relay mirrors committed events to every instance over a NATS subject.
type Relay struct {
	conn    Conn
	subject string
	local   app.Publisher
	origin  string
}

var _ app.Publisher = (*Relay)(nil)

func NewRelay(conn Conn, subject string, local app.Publisher) *Relay {
	return &Relay{conn: conn, subject: subject, local: local, origin: uuid.NewString()}
}

func (r *Relay) Publish(ctx context.Context, ev app.Event) {
	r.local.Publish(ctx, ev)

	data, err := app.EncodeRelayEvent(r.origin, ev)
	if err != nil {
		log.Error().Err(err).Str("type", ev.Type).Msg("relay encode failed")
		return
	}
	if err := r.conn.Publish(r.subject, data); err != nil {
		log.Warn().Err(err).Str("subject", r.subject).Msg("nats relay publish failed")
	}
}

// Run forwards events from other instances until ctx is canceled.
func (r *Relay) Run(ctx context.Context) error {
	msgs := make(chan *nats.Msg, 64)
	sub, err := r.conn.ChanSubscribe(r.subject, msgs)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.subject, err)
	}
	defer func() {
		if sub != nil {
			_ = sub.Unsubscribe()
		}
	}()
	log.Info().Str("subject", r.subject).Msg("nats relay subscribed")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-msgs:
			origin, ev, err := app.DecodeRelayEvent(msg.Data)
			if err != nil {
				log.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed relay message")
				continue
			}
			if origin == r.origin {
				continue
			}
			r.local.Publish(ctx, ev)
		}
	}
}
