package nats

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	berr "github.com/next-trace/scg-async-trace/contract/errors"
	cpipe "github.com/next-trace/scg-async-trace/contract/pipeline"
)

// AckFuture resolves once the server acknowledged or rejected a publish.
// jetstream.PubAckFuture satisfies it.
type AckFuture interface {
	Ok() <-chan *jetstream.PubAck
	Err() <-chan error
}

// Publisher is a minimal asynchronous JetStream publisher.
// Users can provide a wrapper around their JetStream context to satisfy this.
type Publisher interface {
	PublishMsgAsync(msg *nats.Msg) (AckFuture, error)
}

// Transport implements cpipe.Transport over an injected Publisher. Sends return once
// the message is handed to the client; completion arrives with the server ack.
type Transport struct {
	Publisher Publisher
}

// Ensure Transport implements the contract.
var _ cpipe.Transport = (*Transport)(nil)

// New creates a new NATS transport with the provided publisher.
func New(p Publisher) *Transport { return &Transport{Publisher: p} }

// Dial binds a connection publishing to subject remote by default.
func (t *Transport) Dial(ctx context.Context, remote, _ string) (cpipe.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if t.Publisher == nil {
		return nil, fmt.Errorf("nats dial %s: %w", remote, berr.ErrDialFailed)
	}

	return &conn{pub: t.Publisher, subject: remote}, nil
}

type conn struct {
	pub     Publisher
	subject string
}

func (c *conn) Send(_ context.Context, m cpipe.Message, done func(error)) {
	msg := &nats.Msg{Subject: c.subjectFor(m), Data: m.Body, Header: headers(m)}

	f, err := c.pub.PublishMsgAsync(msg)
	if err != nil {
		done(sendError(msg.Subject, err))
		return
	}

	go awaitAck(msg.Subject, f, done)
}

func (c *conn) Close() error { return nil }

func (c *conn) subjectFor(m cpipe.Message) string {
	if m.Destination != "" {
		return m.Destination
	}

	return c.subject
}

func awaitAck(subject string, f AckFuture, done func(error)) {
	select {
	case <-f.Ok():
		done(nil)
	case err := <-f.Err():
		done(sendError(subject, err))
	}
}

func sendError(subject string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return fmt.Errorf("nats publish %s: %w", subject, errors.Join(berr.ErrSendFailed, err))
}

func headers(m cpipe.Message) nats.Header {
	if len(m.Headers) == 0 && len(m.Key) == 0 {
		return nil
	}

	h := nats.Header{}
	for k, v := range m.Headers {
		h.Add(k, v)
	}

	if len(m.Key) > 0 {
		h.Set("key", string(m.Key))
	}

	return h
}
