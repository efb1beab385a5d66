package scan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// ErrorKind groups transport failures by how they are classified.
type ErrorKind int

const (
	// KindFailed is any fault that is not one of the kinds below.
	KindFailed ErrorKind = iota
	// KindUnreachable covers refused connections and hosts that are down.
	KindUnreachable
	// KindTimeout means the probe hit its deadline.
	KindTimeout
	// KindMalformed means a reply arrived but could not be parsed.
	KindMalformed
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindTimeout:
		return "timeout"
	case KindMalformed:
		return "malformed"
	default:
		return "failed"
	}
}

// ProbeError wraps a transport error raised inside a probe.
type ProbeError struct {
	Kind ErrorKind
	Err  error
}

func (e *ProbeError) Error() string {
	if e.Err == nil {
		return "probe " + e.Kind.String()
	}
	return fmt.Sprintf("probe %s: %v", e.Kind, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

func malformed(format string, args ...any) error {
	return &ProbeError{Kind: KindMalformed, Err: fmt.Errorf(format, args...)}
}

// wrapNetError maps a dial/read/write error to a ProbeError.
func wrapNetError(err error) error {
	if err == nil {
		return nil
	}
	var perr *ProbeError
	if errors.As(err, &perr) {
		return err
	}
	return &ProbeError{Kind: errorKind(err), Err: err}
}

func errorKind(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EHOSTDOWN):
		return KindUnreachable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return KindUnreachable
	}
	return KindFailed
}

// StatusForError converts a non-nil probe failure into a port status.
func StatusForError(err error) Status {
	var perr *ProbeError
	if !errors.As(err, &perr) {
		perr = &ProbeError{Kind: errorKind(err), Err: err}
	}
	switch perr.Kind {
	case KindUnreachable:
		return StatusInactive
	case KindTimeout:
		return StatusTimeout
	default:
		return StatusError
	}
}
