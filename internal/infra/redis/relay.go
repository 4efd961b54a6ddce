package redis

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"wedding-quiz-service/internal/app"
)

// Relay mirrors committed events to every instance over a Redis pub/sub channel.
// Local subscribers are served directly; remote events are forwarded into local.
type Relay struct {
	client  *redis.Client
	channel string
	local   app.Publisher
	origin  string
	// newBackOff paces resubscription after the subscription fails.
	newBackOff func() backoff.BackOff
}

var _ app.Publisher = (*Relay)(nil)

func NewRelay(client *redis.Client, channel string, local app.Publisher) *Relay {
	return &Relay{
		client:     client,
		channel:    channel,
		local:      local,
		origin:     uuid.NewString(),
		newBackOff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

func (r *Relay) Publish(ctx context.Context, ev app.Event) {
	r.local.Publish(ctx, ev)

	data, err := app.EncodeRelayEvent(r.origin, ev)
	if err != nil {
		log.Error().Err(err).Str("type", ev.Type).Msg("relay encode failed")
		return
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		// Other instances converge on their next event or poll.
		log.Warn().Err(err).Str("channel", r.channel).Msg("redis relay publish failed")
	}
}

// Run forwards events from other instances until ctx is canceled. A failed
// or dropped subscription is retried with exponential backoff.
func (r *Relay) Run(ctx context.Context) error {
	b := backoff.WithContext(r.newBackOff(), ctx)
	for {
		subscribed, err := r.forward(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if subscribed {
			b.Reset()
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return nil
		}
		log.Warn().Err(err).Str("channel", r.channel).Dur("retry_in", wait).Msg("redis relay subscription failed")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// forward runs one subscription and reports whether it was confirmed before
// it ended.
func (r *Relay) forward(ctx context.Context) (bool, error) {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return false, err
	}
	log.Info().Str("channel", r.channel).Msg("redis relay subscribed")

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return true, errors.New("subscription closed")
			}
			origin, ev, err := app.DecodeRelayEvent([]byte(msg.Payload))
			if err != nil {
				log.Warn().Err(err).Msg("dropping malformed relay message")
				continue
			}
			if origin == r.origin {
				continue
			}
			r.local.Publish(ctx, ev)
		}
	}
}
