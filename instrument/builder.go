package instrument

import (
	"fmt"
	"log/slog"
	"sync"

	berr "github.com/next-trace/scg-async-trace/contract/errors"
	"github.com/next-trace/scg-async-trace/scope"
)

// Builder collects interceptor registrations during setup.
// It is safe for concurrent use; registrations after Build fail.
type Builder struct {
	catalog *Catalog
	logger  *slog.Logger

	mu       sync.Mutex
	bindings map[string][]Interceptor
	sealed   bool
}

// NewBuilder creates a builder over the join points of catalog.
func NewBuilder(catalog *Catalog, logger *slog.Logger) *Builder {
	if catalog == nil {
		catalog = NewCatalog()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Builder{
		catalog:  catalog,
		logger:   logger,
		bindings: make(map[string][]Interceptor),
	}
}

// Class is a handle on one instrumentable class.
type Class struct {
	b    *Builder
	name string
}

// Target is a handle on one join point.
type Target struct {
	b *Builder
	m Method
}

// Class returns a handle for name, or ErrClassNotFound when the catalog lacks it.
func (b *Builder) Class(name string) (*Class, error) {
	if _, ok := b.catalog.classes[name]; !ok {
		return nil, fmt.Errorf("class %s: %w", name, berr.ErrClassNotFound)
	}

	return &Class{b: b, name: name}, nil
}

// Name returns the class name.
func (c *Class) Name() string { return c.name }

// DeclaredMethod returns the join point name(params...), or ErrHookNotFound.
func (c *Class) DeclaredMethod(name string, params ...string) (*Target, error) {
	m, _, ok := c.b.catalog.lookup(c.name, name, params)
	if !ok {
		missing := Method{Class: c.name, Name: name, Params: params}
		return nil, fmt.Errorf("method %s: %w", missing.Signature(), berr.ErrHookNotFound)
	}

	return &Target{b: c.b, m: m}, nil
}

// Method returns the join point.
func (t *Target) Method() Method { return t.m }

// AddInterceptor runs i on every invocation.
func (t *Target) AddInterceptor(i Interceptor) error {
	return t.b.bind(t.m, i)
}

// AddScopedInterceptor runs i when policy admits the nesting depth of scopeName.
func (t *Target) AddScopedInterceptor(i Interceptor, scopeName string, policy scope.Policy) error {
	return t.b.bind(t.m, &scoped{next: i, name: scopeName, policy: policy})
}

func (b *Builder) bind(m Method, i Interceptor) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sealed {
		return fmt.Errorf("bind %s: %w", m.Signature(), berr.ErrBuilderSealed)
	}

	sig := m.Signature()
	b.bindings[sig] = append(b.bindings[sig], i)

	return nil
}

// Build seals the builder and returns the immutable table.
func (b *Builder) Build() *Table {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sealed = true

	bindings := make(map[string][]Interceptor, len(b.bindings))
	for sig, chain := range b.bindings {
		bindings[sig] = append([]Interceptor(nil), chain...)
	}

	return &Table{bindings: bindings, logger: b.logger}
}
