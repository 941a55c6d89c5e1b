package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trafficwatch/trafficwatch/internal/protocol"
)

// DefaultRedisPrefix namespaces the pub/sub channels.
const DefaultRedisPrefix = "trafficwatch"

// Redis exchanges envelopes over redis pub/sub: the backend publishes on
// <prefix>:events and listens on <prefix>:commands.
type Redis struct {
	rdb       *redis.Client
	prefix    string
	opts      Options
	events    chan protocol.Envelope
	logger    *slog.Logger
	connected atomic.Bool
}

// NewRedis creates a pub/sub transport on rdb.
func NewRedis(rdb *redis.Client, prefix string, opts Options, logger *slog.Logger) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{
		rdb:    rdb,
		prefix: prefix,
		opts:   opts.withDefaults(),
		events: make(chan protocol.Envelope, 64),
		logger: logger,
	}
}

// EventsChannel is the channel the backend publishes events on.
func (r *Redis) EventsChannel() string { return r.prefix + ":events" }

// CommandsChannel is the channel commands are published on.
func (r *Redis) CommandsChannel() string { return r.prefix + ":commands" }

// Events returns inbound envelopes in arrival order.
func (r *Redis) Events() <-chan protocol.Envelope {
	return r.events
}

// Connected reports whether the subscription is live.
func (r *Redis) Connected() bool {
	return r.connected.Load()
}

// Run subscribes to the events channel and forwards messages until ctx is
// done. go-redis re-establishes a dropped subscription on its own. A ping
// every HealthInterval drives Connected.
func (r *Redis) Run(ctx context.Context) error {
	defer close(r.events)

	var pubsub *redis.PubSub
	err := r.opts.retry(ctx, func() error {
		ps := r.rdb.Subscribe(ctx, r.EventsChannel())
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			r.logger.Debug("subscribe failed", "channel", r.EventsChannel(), "error", err)
			return fmt.Errorf("subscribing to %s: %w", r.EventsChannel(), err)
		}
		pubsub = ps
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer func() { _ = pubsub.Close() }()

	r.logger.Info("subscribed to backend", "channel", r.EventsChannel())
	r.connected.Store(true)
	defer r.connected.Store(false)

	health := time.NewTicker(r.opts.HealthInterval)
	defer health.Stop()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-health.C:
			r.checkHealth(ctx)
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			env, err := protocol.DecodeEnvelope([]byte(msg.Payload))
			if err != nil {
				r.logger.Warn("dropping malformed message", "channel", msg.Channel, "error", err)
				continue
			}
			select {
			case r.events <- env:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// checkHealth pings the server and logs connection changes.
func (r *Redis) checkHealth(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, r.opts.DialTimeout)
	defer cancel()
	err := r.rdb.Ping(pingCtx).Err()
	if ctx.Err() != nil {
		return
	}
	up := err == nil
	if r.connected.Swap(up) == up {
		return
	}
	if up {
		r.logger.Info("backend reachable again", "addr", r.rdb.Options().Addr)
	} else {
		r.logger.Warn("backend unreachable", "addr", r.rdb.Options().Addr, "error", err)
	}
}

// Emit publishes cmd on the commands channel.
func (r *Redis) Emit(ctx context.Context, cmd protocol.Command) error {
	env, err := cmd.Envelope()
	if err != nil {
		return err
	}
	frame, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encoding %s: %w", cmd.Name, err)
	}
	if err := r.rdb.Publish(ctx, r.CommandsChannel(), frame).Err(); err != nil {
		return fmt.Errorf("publishing %s: %w: %w", cmd.Name, ErrNotConnected, err)
	}
	return nil
}

// Close closes the redis client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
