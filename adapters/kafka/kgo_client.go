package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"

	berr "github.com/next-trace/scg-async-trace/contract/errors"
	"github.com/next-trace/scg-async-trace/trace"
)

// Concrete franz-go based constructor.

const defaultFlushTimeout = 5 * time.Second

// SASLConfig selects a SASL mechanism and its credentials.
type SASLConfig struct {
	Mechanism string // PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512
	Username  string
	Password  string
}

// Config configures NewWithKgo.
type Config struct {
	Brokers  []string
	TLS      *tls.Config
	SASL     *SASLConfig
	ClientID string
	// Acks is "all" (default), "leader" or "none". Anything but "all" disables idempotent writes.
	Acks               string
	DisableIdempotence bool
	Compression        []kgo.CompressionCodec
	// MaxBufferedRecords bounds records awaiting acks; TryProduce fails beyond it.
	MaxBufferedRecords int
	FlushTimeout       time.Duration
	Tracer             *trace.Tracer
}

// NewWithKgo builds a franz-go client based Transport. The returned cleanup flushes
// buffered records and closes the client.
func NewWithKgo(cfg Config) (*Transport, func(), error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil, fmt.Errorf("%w: kafka brokers required", berr.ErrDialFailed)
	}
	opts := []kgo.Opt{kgo.SeedBrokers(cfg.Brokers...)}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.TLS != nil {
		opts = append(opts, kgo.DialTLSConfig(cfg.TLS))
	}
	if len(cfg.Compression) > 0 {
		opts = append(opts, kgo.ProducerBatchCompression(cfg.Compression...))
	}
	if cfg.MaxBufferedRecords > 0 {
		opts = append(opts, kgo.MaxBufferedRecords(cfg.MaxBufferedRecords))
	}
	ackOpts, err := acks(cfg.Acks, cfg.DisableIdempotence)
	if err != nil {
		return nil, nil, err
	}
	opts = append(opts, ackOpts...)
	if cfg.SASL != nil && cfg.SASL.Mechanism != "" {
		m, err := mechanism(cfg.SASL)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, kgo.SASL(m))
	}
	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: kafka client init: %w", berr.ErrDialFailed, err)
	}
	tr := New(cl)
	tr.Tracer = cfg.Tracer
	flushTimeout := cfg.FlushTimeout
	if flushTimeout <= 0 {
		flushTimeout = defaultFlushTimeout
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		_ = cl.Flush(ctx) //nolint:errcheck // best-effort shutdown; cannot return error here
		cl.Close()
	}
	return tr, cleanup, nil
}

func acks(mode string, disableIdempotence bool) ([]kgo.Opt, error) {
	var opts []kgo.Opt
	switch strings.ToLower(mode) {
	case "", "all":
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	case "leader":
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()))
		disableIdempotence = true
	case "none":
		opts = append(opts, kgo.RequiredAcks(kgo.NoAck()))
		disableIdempotence = true
	default:
		return nil, fmt.Errorf("%w: unknown kafka acks %q", berr.ErrDialFailed, mode)
	}
	if disableIdempotence {
		opts = append(opts, kgo.DisableIdempotentWrite())
	}
	return opts, nil
}

func mechanism(c *SASLConfig) (sasl.Mechanism, error) { //nolint:ireturn
	switch strings.ToUpper(c.Mechanism) {
	case "PLAIN":
		return plain.Auth{User: c.Username, Pass: c.Password}.AsMechanism(), nil
	case "SCRAM-SHA-256":
		return scram.Auth{User: c.Username, Pass: c.Password}.AsSha256Mechanism(), nil
	case "SCRAM-SHA-512":
		return scram.Auth{User: c.Username, Pass: c.Password}.AsSha512Mechanism(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported SASL mechanism %q", berr.ErrDialFailed, c.Mechanism)
	}
}
