// Package memory wires an agent to the in-memory transport for tests and demos.
package memory

import (
	"github.com/next-trace/scg-async-trace/adapters/inmemory"
	"github.com/next-trace/scg-async-trace/agent"
	"github.com/next-trace/scg-async-trace/plugin"
)

// New constructs an enabled agent and an in-memory transport to bootstrap channels
// with, along with a cleanup function that stops the agent's event loops.
func New(opts ...agent.Option) (*agent.Agent, *inmemory.Transport, func()) {
	a := agent.New(plugin.DefaultConfig(), opts...)
	tr := inmemory.New()
	cleanup := func() {
		tr.Wait()
		_ = a.Close()
	}

	return a, tr, cleanup
}
