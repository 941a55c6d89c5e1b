// Package transport carries envelopes between the dashboard and the
// detection backend over a websocket or redis pub/sub.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/redis/go-redis/v9"

	"github.com/trafficwatch/trafficwatch/internal/config"
	"github.com/trafficwatch/trafficwatch/internal/protocol"
)

// ErrNotConnected is returned by Emit while no backend connection is up.
var ErrNotConnected = errors.New("not connected to backend")

// Transport is a bidirectional channel to the backend. Run owns the
// connection and closes Events when it returns.
type Transport interface {
	Run(ctx context.Context) error
	Events() <-chan protocol.Envelope
	Emit(ctx context.Context, cmd protocol.Command) error
	Connected() bool
	Close() error
}

// Options tunes connection handling.
type Options struct {
	DialTimeout       time.Duration
	ReconnectAttempts uint // 0 retries forever
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	HealthInterval    time.Duration // redis only
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 500 * time.Millisecond
	}
	if o.MaxReconnectDelay <= 0 {
		o.MaxReconnectDelay = 30 * time.Second
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = time.Second
	}
	return o
}

// retry runs fn under the (re)connect backoff policy.
func (o Options) retry(ctx context.Context, fn func() error) error {
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(o.ReconnectAttempts),
		retry.Delay(o.ReconnectDelay),
		retry.MaxDelay(o.MaxReconnectDelay),
		retry.LastErrorOnly(true),
		retry.DelayType(retry.BackOffDelay),
	)
	return r.Do(fn)
}

// New builds the transport selected by cfg.
func New(cfg config.BackendConfig, logger *slog.Logger) (Transport, error) {
	opts := Options{
		DialTimeout:       cfg.DialTimeout,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
	}
	switch cfg.Transport {
	case config.TransportWebSocket, "":
		return NewWebSocket(cfg.URL, opts, logger), nil
	case config.TransportRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:        cfg.RedisAddr,
			DialTimeout: opts.withDefaults().DialTimeout,
		})
		return NewRedis(rdb, cfg.RedisPrefix, opts, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
