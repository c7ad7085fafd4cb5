package nats

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	berr "github.com/next-trace/scg-async-trace/contract/errors"
)

// Concrete NATS connection-backed Publisher and constructor.

// Config configures NewWithNATS.
type Config struct {
	URL           string
	Name          string
	ConnTimeout   time.Duration
	MaxReconnects int
	// MaxPending bounds in-flight asynchronous publishes; zero keeps the client default.
	MaxPending int
}

type jsPublisher struct{ js jetstream.JetStream }

func (p jsPublisher) PublishMsgAsync(msg *nats.Msg) (AckFuture, error) { //nolint:ireturn
	return p.js.PublishMsgAsync(msg)
}

// NewWithNATS creates a real NATS connection with a JetStream context and returns a
// Transport and a cleanup.
func NewWithNATS(cfg Config) (*Transport, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: nats url required", berr.ErrDialFailed)
	}

	nc, err := nats.Connect(cfg.URL, cfg.options()...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: nats connect: %w", berr.ErrDialFailed, err)
	}

	js, err := jetstream.New(nc, cfg.jetStreamOptions()...)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("%w: jetstream: %w", berr.ErrDialFailed, err)
	}

	tr := New(jsPublisher{js: js})
	cleanup := func() {
		if nc != nil && !nc.IsClosed() {
			_ = nc.Drain() //nolint:errcheck // best-effort shutdown; cannot return error here
			nc.Close()
		}
	}

	return tr, cleanup, nil
}

func (cfg Config) options() []nats.Option {
	var opts []nats.Option
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.ConnTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnTimeout))
	}

	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}

	return opts
}

func (cfg Config) jetStreamOptions() []jetstream.JetStreamOpt {
	if cfg.MaxPending <= 0 {
		return nil
	}

	return []jetstream.JetStreamOpt{jetstream.WithPublishAsyncMaxPending(cfg.MaxPending)}
}
