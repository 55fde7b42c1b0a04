package drawer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// Kind classifies why an attempt or an invocation failed.
type Kind int

const (
	KindNone Kind = iota
	// KindConfiguration: no network or serial target could be resolved.
	KindConfiguration
	// KindUnreachable: connection refused, host or network unreachable.
	KindUnreachable
	// KindTimeout: nothing happened within the attempt's time budget.
	KindTimeout
	// KindWriteFailure: the transport was open but rejected the frame.
	KindWriteFailure
	// KindExhausted: every candidate, rate and command failed.
	KindExhausted
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindConfiguration:
		return "configuration"
	case KindUnreachable:
		return "unreachable"
	case KindTimeout:
		return "timeout"
	case KindWriteFailure:
		return "write_failure"
	case KindExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrNoSerialPorts is returned when enumeration finds no devices.
var ErrNoSerialPorts = errors.New("no serial ports found")

// ErrSerialUnavailable is returned when the engine has no serial capability.
var ErrSerialUnavailable = errors.New("serial port access is not available")

// ErrHandleBusy is wrapped when the engine-wide handle slot did not free up
// within an attempt's time budget.
var ErrHandleBusy = errors.New("no transport handle free")

// AttemptError is the outcome of one failed attempt against one target.
type AttemptError struct {
	Kind   Kind
	Target string
	Err    error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Target, e.Kind, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// KindOf extracts the Kind from an error chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	// Checked first: an ExhaustedError wraps the AttemptErrors it collected.
	var ee *ExhaustedError
	if errors.As(err, &ee) {
		return KindExhausted
	}
	var ae *AttemptError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return classifyNetError(err)
}

// classifyNetError maps dial and I/O errors onto the taxonomy.
func classifyNetError(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	// Refused, host/network unreachable, reset and anything unrecognised
	// all mean "move on to the next candidate".
	return KindUnreachable
}

// cause strips the AttemptError wrapper for human-readable messages.
func cause(err error) error {
	var ae *AttemptError
	if errors.As(err, &ae) && ae.Err != nil {
		return ae.Err
	}
	return err
}
