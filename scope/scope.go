// Package scope implements the execution scope guard: per execution unit depth
// counters that let nested instrumented calls of one boundary family defer to the
// outermost call.
package scope

// Boundary families. Guards never cross families: a write issued from inside a
// listener callback is a genuinely new boundary.
const (
	Connect = "connect"
	Write   = "write"
	Promise = "promise"
	Codec   = "codec"
)

// Policy decides whether an interceptor runs at a given nesting depth.
type Policy int

const (
	// Always runs on every invocation.
	Always Policy = iota
	// Boundary runs only for the outermost invocation of the scope.
	Boundary
	// Internal runs only for invocations nested inside an outer one.
	Internal
)

// Run reports whether an interceptor with this policy runs at depth, where depth
// counts the current invocation (the outermost invocation sees 1).
func (p Policy) Run(depth int) bool {
	switch p {
	case Boundary:
		return depth == 1
	case Internal:
		return depth > 1
	default:
		return depth > 0
	}
}

func (p Policy) String() string {
	switch p {
	case Boundary:
		return "boundary"
	case Internal:
		return "internal"
	default:
		return "always"
	}
}

// Guard tracks scope depth for one execution unit.
// It is not safe for concurrent use; each unit owns its guard.
type Guard struct {
	depth      map[string]int
	attachment map[string]any
}

// Enter records entry into name and returns the new depth.
func (g *Guard) Enter(name string) int {
	if g.depth == nil {
		g.depth = make(map[string]int)
	}

	g.depth[name]++

	return g.depth[name]
}

// Leave records exit from name and returns the remaining depth.
// Unbalanced leaves are clamped at zero.
func (g *Guard) Leave(name string) int {
	d := g.depth[name]
	if d <= 1 {
		delete(g.depth, name)
		delete(g.attachment, name)

		return 0
	}

	g.depth[name] = d - 1

	return d - 1
}

// Depth returns the current depth of name.
func (g *Guard) Depth(name string) int { return g.depth[name] }

// Active reports whether any invocation of name is in progress.
func (g *Guard) Active(name string) bool { return g.depth[name] > 0 }

// SetAttachment stores v for the invocation chain currently inside name. The
// attachment is dropped when the outermost invocation leaves. It is a no-op
// outside the scope.
func (g *Guard) SetAttachment(name string, v any) {
	if g.depth[name] == 0 {
		return
	}

	if g.attachment == nil {
		g.attachment = make(map[string]any)
	}

	g.attachment[name] = v
}

// Attachment returns the value stored by SetAttachment, or nil.
func (g *Guard) Attachment(name string) any { return g.attachment[name] }

// State is the saved depth and attachments of a guard.
type State struct {
	depth      map[string]int
	attachment map[string]any
}

// Suspend clears the guard and returns what it held. Callbacks invoked from inside
// an instrumented call run on a suspended guard, so their own calls are outermost.
func (g *Guard) Suspend() State {
	s := State{depth: g.depth, attachment: g.attachment}
	g.depth, g.attachment = nil, nil

	return s
}

// Resume restores a state returned by Suspend, discarding anything entered since.
func (g *Guard) Resume(s State) {
	g.depth, g.attachment = s.depth, s.attachment
}
