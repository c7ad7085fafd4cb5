package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	berr "github.com/next-trace/scg-async-trace/contract/errors"
	cpipe "github.com/next-trace/scg-async-trace/contract/pipeline"
	"github.com/next-trace/scg-async-trace/instrument"
)

// Keyed is implemented by payloads that carry a partition or routing key.
type Keyed interface {
	MessageKey() []byte
}

// Routed is implemented by payloads that choose their own destination.
type Routed interface {
	Destination() string
}

// Encoder turns outbound payloads into transport messages.
// Messages pass through, byte slices and strings become the body, anything else is JSON.
type Encoder struct {
	table *instrument.Table
}

// NewEncoder creates an encoder instrumented through table.
func NewEncoder(table *instrument.Table) *Encoder { return &Encoder{table: table} }

// Encode encodes msg.
func (e *Encoder) Encode(ctx context.Context, msg any) (cpipe.Message, error) {
	res, err := e.table.Invoke(ctx, MethodEncode, e, []any{msg}, func(context.Context) (any, error) {
		return encode(msg)
	})
	if err != nil {
		return cpipe.Message{}, err
	}

	m, _ := res.(cpipe.Message)

	return m, nil
}

func encode(msg any) (cpipe.Message, error) {
	var m cpipe.Message

	switch v := msg.(type) {
	case cpipe.Message:
		return v, nil
	case *cpipe.Message:
		if v == nil {
			return m, fmt.Errorf("encode nil message: %w", berr.ErrSerializationFailed)
		}

		return *v, nil
	case []byte:
		m.Body = v
	case string:
		m.Body = []byte(v)
	default:
		body, err := sonic.Marshal(v)
		if err != nil {
			return m, fmt.Errorf("encode %T: %w", msg, errors.Join(berr.ErrSerializationFailed, err))
		}

		m.Body = body
	}

	if k, ok := msg.(Keyed); ok {
		m.Key = k.MessageKey()
	}

	if r, ok := msg.(Routed); ok {
		m.Destination = r.Destination()
	}

	return m, nil
}
