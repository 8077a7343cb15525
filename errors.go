package enginetest

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error kinds. Use errors.Is against these to tell infrastructure failures apart.
var (
	// ErrSetup occurs when an environment precondition fails before or during launch.
	ErrSetup = errors.New("setup failed")

	// ErrLaunch occurs when the target process, or the mechanism used to spawn it, fails to start.
	ErrLaunch = errors.New("launch failed")

	// ErrConnection occurs when a remote console socket can not be opened or was lost.
	ErrConnection = errors.New("connection failed")

	// ErrTimeout occurs when a bounded wait passes its deadline without success.
	ErrTimeout = errors.New("timed out")

	// ErrTeardown occurs when cleanup could not complete.
	ErrTeardown = errors.New("teardown failed")

	// ErrInvalidState occurs when an operation is invoked out of sequence.
	ErrInvalidState = errors.New("invalid state")
)

// Error describes a failure in one phase of a test run. It unwraps to both
// its Kind and the underlying cause.
type Error struct {
	Kind     error
	Phase    string // setup, launch, connect, wait, teardown, ...
	Resource string
	Deadline time.Duration
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(e.Phase)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())

	if e.Resource != "" {
		fmt.Fprintf(&b, " (%s)", e.Resource)
	}

	if e.Deadline > 0 {
		fmt.Fprintf(&b, " after %s", e.Deadline)
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

// Unwrap exposes both the error kind and its cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError builds an *Error of the given kind.
func NewError(kind error, phase, resource string, err error) *Error {
	return &Error{Kind: kind, Phase: phase, Resource: resource, Err: err}
}

// TimeoutError reports that waiting on resource exceeded deadline.
func TimeoutError(phase, resource string, deadline time.Duration, err error) *Error {
	return &Error{Kind: ErrTimeout, Phase: phase, Resource: resource, Deadline: deadline, Err: err}
}

// StateError reports an operation invoked from the wrong state.
func StateError(op string, current fmt.Stringer) *Error {
	return &Error{
		Kind:     ErrInvalidState,
		Phase:    op,
		Resource: fmt.Sprintf("state %s", current),
	}
}

// Classify wraps err as kind unless it already carries one of the known kinds.
func Classify(kind error, phase, resource string, err error) error {
	if err == nil {
		return nil
	}

	for _, k := range []error{ErrSetup, ErrLaunch, ErrConnection, ErrTimeout, ErrTeardown, ErrInvalidState} {
		if errors.Is(err, k) {
			return err
		}
	}

	return NewError(kind, phase, resource, err)
}
