package trace

// Slot is the active-context stack of one execution unit.
// It is not safe for concurrent use; only the owning goroutine touches it.
type Slot struct {
	stack []*Context
}

// Token restores a Slot to the state it had before the matching Activate.
type Token struct {
	depth int
}

// Current returns the context in effect, or nil.
func (s *Slot) Current() *Context {
	if len(s.stack) == 0 {
		return nil
	}

	return s.stack[len(s.stack)-1]
}

// Active reports whether a non-nil context is in effect.
func (s *Slot) Active() bool { return s.Current() != nil }

// Activate makes c the current context. Activating nil masks any outer context
// until the returned token is restored.
func (s *Slot) Activate(c *Context) Token {
	tok := Token{depth: len(s.stack)}
	s.stack = append(s.stack, c)

	return tok
}

// Restore pops everything pushed since the token's Activate. Restoring an outer
// token also discards inner activations that were never restored.
func (s *Slot) Restore(t Token) {
	if t.depth >= len(s.stack) {
		return
	}

	clear(s.stack[t.depth:])
	s.stack = s.stack[:t.depth]
}

// Mark returns a token for the current depth without activating anything.
func (s *Slot) Mark() Token { return Token{depth: len(s.stack)} }

// Depth returns the number of activations in effect.
func (s *Slot) Depth() int { return len(s.stack) }
