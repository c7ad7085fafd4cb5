package trace

import (
	"time"
)

// ServiceType classifies recorded events so trace assembly can separate internal
// notification plumbing from business logic.
type ServiceType int

const (
	ServiceTypeUser ServiceType = iota
	ServiceTypeInternal
)

func (s ServiceType) String() string {
	if s == ServiceTypeInternal {
		return "internal"
	}

	return "user"
}

// Context identifies where an execution is in a trace. It is immutable once created
// and shared by pointer; a nil *Context means no trace is active.
type Context struct {
	TransactionID string
	SpanID        string
	ParentSpanID  string
	EntryPoint    string
	StartTime     time.Time
}

// Event is a recorded unit of work inside a trace.
type Event struct {
	TransactionID string
	SpanID        string
	ParentSpanID  string
	Name          string
	ServiceType   ServiceType
	Start         time.Time
	Duration      time.Duration
	Failed        bool
}
