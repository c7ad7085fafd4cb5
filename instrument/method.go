// Package instrument is the hook engine instrumented code runs through.
//
// A library version declares the join points it exposes in a Catalog. Plugins
// register interceptors on those join points through a Builder once, at startup;
// Build seals the registrations into an immutable Table that instrumented code
// consults on every call via Invoke.
package instrument

import "strings"

// Method identifies a join point: a method of a class with a parameter list.
// Params distinguish overloads of one logical operation.
type Method struct {
	Class  string
	Name   string
	Params []string
}

// Signature returns the canonical key of m, e.g. "pipeline.Bootstrap.ConnectTo(string)".
func (m Method) Signature() string {
	var b strings.Builder

	b.WriteString(m.Class)
	b.WriteByte('.')
	b.WriteString(m.Name)
	b.WriteByte('(')
	b.WriteString(strings.Join(m.Params, ", "))
	b.WriteByte(')')

	return b.String()
}

func (m Method) String() string { return m.Signature() }

// Catalog lists the join points available in a given library build.
type Catalog struct {
	classes map[string]map[string]Method
}

// NewCatalog declares methods.
func NewCatalog(methods ...Method) *Catalog {
	c := &Catalog{classes: make(map[string]map[string]Method)}
	for _, m := range methods {
		c.add(m)
	}

	return c
}

func (c *Catalog) add(m Method) {
	ms, ok := c.classes[m.Class]
	if !ok {
		ms = make(map[string]Method)
		c.classes[m.Class] = ms
	}

	ms[m.Signature()] = m
}

// Without returns a copy of c lacking the given methods, modelling an older library build.
func (c *Catalog) Without(methods ...Method) *Catalog {
	drop := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		drop[m.Signature()] = struct{}{}
	}

	out := NewCatalog()

	for _, ms := range c.classes {
		for sig, m := range ms {
			if _, skip := drop[sig]; !skip {
				out.add(m)
			}
		}
	}

	return out
}

func (c *Catalog) lookup(class, name string, params []string) (Method, bool, bool) {
	ms, ok := c.classes[class]
	if !ok {
		return Method{}, false, false
	}

	m, ok := ms[Method{Class: class, Name: name, Params: params}.Signature()]

	return m, true, ok
}
