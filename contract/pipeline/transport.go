package pipeline

import "context"

// Transport abstracts establishing a connection to a remote destination.
// Library users provide an implementation backed by their broker (Kafka, NATS, RabbitMQ, in-memory, etc.).
//
// Dial may block; the pipeline never calls it from an event loop.
type Transport interface {
	Dial(ctx context.Context, remote, local string) (Conn, error)
}

// Conn is an established connection able to send encoded messages.
// Implementations must be safe for concurrent use by multiple goroutines.
type Conn interface {
	// Send hands m to the transport and returns immediately. done is called exactly once
	// when the transport knows the outcome; it may run on any goroutine, including the caller's.
	Send(ctx context.Context, m Message, done func(error))
	Close() error
}
