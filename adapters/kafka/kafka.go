package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/next-trace/scg-async-trace/carrier"
	berr "github.com/next-trace/scg-async-trace/contract/errors"
	cpipe "github.com/next-trace/scg-async-trace/contract/pipeline"
	"github.com/next-trace/scg-async-trace/trace"
)

// Producer is the asynchronous produce subset of *kgo.Client.
// TryProduce never blocks: a full buffer fails the record through its promise.
type Producer interface {
	TryProduce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

// Transport implements cpipe.Transport over an injected Producer.
//
// The context active while Send runs is attached to the produced record, so the
// produce callback, which runs on the client's goroutine, records its span in the
// right trace.
type Transport struct {
	Producer Producer
	Tracer   *trace.Tracer

	once    sync.Once
	records *carrier.Registry[kgo.Record]
}

var _ cpipe.Transport = (*Transport)(nil)

// New creates a new Kafka transport with the provided producer.
func New(p Producer) *Transport {
	return &Transport{Producer: p}
}

// Records resolves the trace context carried by in-flight records.
func (t *Transport) Records() *carrier.Registry[kgo.Record] {
	t.once.Do(func() { t.records = carrier.NewRegistry[kgo.Record]() })
	return t.records
}

// Dial binds a connection producing to topic remote by default.
func (t *Transport) Dial(ctx context.Context, remote, _ string) (cpipe.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if t.Producer == nil {
		return nil, fmt.Errorf("kafka dial %s: %w", remote, berr.ErrDialFailed)
	}

	return &conn{t: t, topic: remote}, nil
}

type conn struct {
	t     *Transport
	topic string
}

func (c *conn) Send(ctx context.Context, m cpipe.Message, done func(error)) {
	rec := &kgo.Record{Topic: c.topic, Key: m.Key, Value: m.Body}
	if m.Destination != "" {
		rec.Topic = m.Destination
	}

	if len(m.Headers) > 0 {
		rec.Headers = make([]kgo.RecordHeader, 0, len(m.Headers))
		for k, v := range m.Headers {
			rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
		}
	}

	if tc := trace.Current(ctx); tc != nil && c.t.Tracer != nil {
		c.t.Records().For(rec).Store(c.t.Tracer.Child(tc, "kafka.Produce "+rec.Topic))
	}

	c.t.Producer.TryProduce(ctx, rec, func(r *kgo.Record, err error) {
		c.t.produced(r, err)
		done(wrapProduceErr(r.Topic, err))
	})
}

func (c *conn) Close() error { return nil }

func (t *Transport) produced(r *kgo.Record, err error) {
	f, ok := t.Records().Lookup(r)
	if !ok {
		return
	}

	span := f.Load()
	if span == nil {
		return
	}

	t.Tracer.Record(trace.Event{
		TransactionID: span.TransactionID,
		SpanID:        span.SpanID,
		ParentSpanID:  span.ParentSpanID,
		Name:          span.EntryPoint,
		ServiceType:   trace.ServiceTypeInternal,
		Start:         span.StartTime,
		Duration:      t.Tracer.Since(span.StartTime),
		Failed:        err != nil,
	})
}

func wrapProduceErr(topic string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return fmt.Errorf("kafka produce to %q: %w", topic, errors.Join(berr.ErrSendFailed, err))
}
