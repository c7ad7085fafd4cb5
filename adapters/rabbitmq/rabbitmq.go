package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	berr "github.com/next-trace/scg-async-trace/contract/errors"
	cpipe "github.com/next-trace/scg-async-trace/contract/pipeline"
	"github.com/next-trace/scg-async-trace/eventloop"
)

// PubMsg is one message to publish to an exchange.
type PubMsg struct {
	Exchange   string
	RoutingKey string
	Body       []byte
	Headers    map[string]string
}

// Confirmation is the broker's pending verdict on one publish.
// *amqp.DeferredConfirmation satisfies it.
type Confirmation interface {
	Done() <-chan struct{}
	Acked() bool
}

// Publisher publishes to a channel in confirm mode.
type Publisher interface {
	Publish(ctx context.Context, m PubMsg) (Confirmation, error)
}

// Transport implements cpipe.Transport over an injected Publisher. Each connection
// publishes from its own goroutine in send order, so Send never blocks the caller.
type Transport struct {
	Publisher Publisher
	Exchange  string
	// PublishTimeout bounds one publish, including waiting for a reconnect. Zero waits indefinitely.
	PublishTimeout time.Duration
	Logger         *slog.Logger
}

var _ cpipe.Transport = (*Transport)(nil)

// New creates a new RabbitMQ transport with the provided publisher.
func New(p Publisher) *Transport { return &Transport{Publisher: p} }

// Dial starts a connection publishing to routing key remote by default.
func (t *Transport) Dial(ctx context.Context, remote, _ string) (cpipe.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if t.Publisher == nil {
		return nil, fmt.Errorf("rabbitmq dial %s: %w", remote, berr.ErrDialFailed)
	}

	return &conn{
		t:          t,
		routingKey: remote,
		out:        eventloop.New("rabbitmq-"+remote, t.Logger),
	}, nil
}

type conn struct {
	t          *Transport
	routingKey string
	out        *eventloop.Loop
}

func (c *conn) Send(_ context.Context, m cpipe.Message, done func(error)) {
	pm := PubMsg{
		Exchange:   c.t.Exchange,
		RoutingKey: c.routingKey,
		Body:       m.Body,
		Headers:    headers(m),
	}
	if m.Destination != "" {
		pm.RoutingKey = m.Destination
	}

	err := c.out.Execute(func(ctx context.Context) {
		c.publish(ctx, pm, done)
	})
	if err != nil {
		done(fmt.Errorf("rabbitmq publish %s: %w", pm.RoutingKey, errors.Join(berr.ErrChannelClosed, err)))
	}
}

func (c *conn) publish(ctx context.Context, pm PubMsg, done func(error)) {
	if c.t.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.t.PublishTimeout)
		defer cancel()
	}

	conf, err := c.t.Publisher.Publish(ctx, pm)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			done(err)
			return
		}

		done(fmt.Errorf("rabbitmq publish %s: %w", pm.RoutingKey, errors.Join(berr.ErrSendFailed, err)))

		return
	}

	go watch(pm.RoutingKey, conf, done)
}

// Close stops accepting sends and waits for queued publishes to be handed to the broker.
func (c *conn) Close() error { return c.out.Close() }

func watch(routingKey string, conf Confirmation, done func(error)) {
	<-conf.Done()

	if !conf.Acked() {
		done(fmt.Errorf("rabbitmq publish %s: %w", routingKey, berr.ErrNotAcknowledged))
		return
	}

	done(nil)
}

func headers(m cpipe.Message) map[string]string {
	h := make(map[string]string, len(m.Headers)+1)
	for k, v := range m.Headers {
		h[k] = v
	}

	if len(m.Key) > 0 {
		h["key"] = string(m.Key)
	}

	return h
}

func publishing(m PubMsg) amqp.Publishing {
	var h amqp.Table
	if len(m.Headers) > 0 {
		h = amqp.Table{}
		for k, v := range m.Headers {
			h[k] = v
		}
	}

	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Headers:      h,
		ContentType:  "application/json",
		Body:         m.Body,
	}
}

// confirmed is returned for channels not in confirm mode.
type confirmed struct{}

var closedDone = func() chan struct{} {
	c := make(chan struct{})
	close(c)

	return c
}()

func (confirmed) Done() <-chan struct{} { return closedDone }
func (confirmed) Acked() bool           { return true }

func publishDeferred(ctx context.Context, ch *amqp.Channel, m PubMsg) (Confirmation, error) { //nolint:ireturn
	dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, m.Exchange, m.RoutingKey, false, false, publishing(m))
	if err != nil {
		return nil, err
	}

	if dc == nil {
		return confirmed{}, nil
	}

	return dc, nil
}

type amqpChannelPublisher struct{ ch *amqp.Channel }

func (p amqpChannelPublisher) Publish(ctx context.Context, m PubMsg) (Confirmation, error) { //nolint:ireturn
	return publishDeferred(ctx, p.ch, m)
}

// NewWithAMQPChannel publishes on ch. Put ch in confirm mode to complete sends on broker acks.
func NewWithAMQPChannel(ch *amqp.Channel) *Transport {
	return &Transport{Publisher: amqpChannelPublisher{ch: ch}}
}
