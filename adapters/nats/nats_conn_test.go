package nats

import (
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	berr "github.com/next-trace/scg-async-trace/contract/errors"
)

func TestNewWithNATS_EmptyURL(t *testing.T) {
	_, _, err := NewWithNATS(Config{})
	if !errors.Is(err, berr.ErrDialFailed) {
		t.Fatalf("want ErrDialFailed, got %v", err)
	}
}

func TestNewWithNATS_Unreachable(t *testing.T) {
	_, cleanup, err := NewWithNATS(Config{URL: "nats://127.0.0.1:1", ConnTimeout: 200 * time.Millisecond, MaxPending: 64})
	if !errors.Is(err, berr.ErrDialFailed) {
		t.Fatalf("want ErrDialFailed, got %v", err)
	}

	if cleanup != nil {
		t.Fatalf("cleanup returned on failure")
	}
}

func TestConfig_Options(t *testing.T) {
	cfg := Config{Name: "async-trace", ConnTimeout: time.Second, MaxReconnects: -1}

	o := nats.GetDefaultOptions()
	for _, opt := range cfg.options() {
		if err := opt(&o); err != nil {
			t.Fatalf("apply option: %v", err)
		}
	}

	if o.Name != "async-trace" || o.Timeout != time.Second || o.MaxReconnect != -1 {
		t.Fatalf("unexpected options: name=%q timeout=%v maxReconnect=%d", o.Name, o.Timeout, o.MaxReconnect)
	}

	if n := len((Config{}).options()); n != 0 {
		t.Fatalf("zero config produced %d options", n)
	}
}

func TestConfig_JetStreamMaxPending(t *testing.T) {
	if opts := (Config{}).jetStreamOptions(); opts != nil {
		t.Fatalf("zero MaxPending produced options")
	}

	if opts := (Config{MaxPending: -3}).jetStreamOptions(); opts != nil {
		t.Fatalf("negative MaxPending produced options")
	}

	if opts := (Config{MaxPending: 256}).jetStreamOptions(); len(opts) != 1 {
		t.Fatalf("want 1 jetstream option, got %d", len(opts))
	}
}
