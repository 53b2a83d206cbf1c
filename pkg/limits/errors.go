package limits

import (
	"errors"
	"fmt"
)

// Kind identifies which quota a check ran against.
type Kind string

const (
	KindCPU         Kind = "cpu"
	KindMemory      Kind = "memory"
	KindConnections Kind = "connections"
)

var (
	// ErrLimitExceeded is matched by errors.Is for every quota breach,
	// regardless of which resource tripped it.
	ErrLimitExceeded = errors.New("resource limit exceeded")

	// ErrConnectionExists indicates an acquire with an id that is
	// already held. Every live connection has exactly one entry.
	ErrConnectionExists = errors.New("connection id already acquired")
)

// LimitError reports a quota breach at the call site that attempted to
// exceed it. It is raised before the expensive work proceeds; the core
// never retries it.
type LimitError struct {
	Kind    Kind
	Current float64
	Limit   float64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s limit exceeded: current %.2f, limit %.2f", e.Kind, e.Current, e.Limit)
}

// Is reports a match against ErrLimitExceeded so callers can catch any
// breach without inspecting the kind.
func (e *LimitError) Is(target error) bool {
	return target == ErrLimitExceeded
}
