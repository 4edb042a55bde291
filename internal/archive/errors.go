package archive

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-checkable category of a failed job.
type ErrorKind string

const (
	KindInvalidInput           ErrorKind = "invalid_input"
	KindBinaryUnavailable      ErrorKind = "binary_unavailable"
	KindSubprocessLaunchFailed ErrorKind = "subprocess_launch_failed"
	KindSubprocessFatal        ErrorKind = "subprocess_fatal"
	KindCommandLineError       ErrorKind = "command_line_error"
	KindOutOfMemory            ErrorKind = "out_of_memory"
	KindCancelled              ErrorKind = "cancelled"
	KindIOFailure              ErrorKind = "io_failure"
	KindIntegrityCheckFailed   ErrorKind = "integrity_check_failed"
)

// Sentinel errors, matched by errors.Is against an *Error of the same kind.
var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrBinaryUnavailable      = errors.New("compressor binary unavailable")
	ErrSubprocessLaunchFailed = errors.New("subprocess launch failed")
	ErrSubprocessFatal        = errors.New("subprocess fatal error")
	ErrCommandLineError       = errors.New("command line error")
	ErrOutOfMemory            = errors.New("out of memory")
	ErrCancelled              = errors.New("cancelled")
	ErrIOFailure              = errors.New("i/o failure")
	ErrIntegrityCheckFailed   = errors.New("integrity check failed")
)

var sentinels = map[ErrorKind]error{
	KindInvalidInput:           ErrInvalidInput,
	KindBinaryUnavailable:      ErrBinaryUnavailable,
	KindSubprocessLaunchFailed: ErrSubprocessLaunchFailed,
	KindSubprocessFatal:        ErrSubprocessFatal,
	KindCommandLineError:       ErrCommandLineError,
	KindOutOfMemory:            ErrOutOfMemory,
	KindCancelled:              ErrCancelled,
	KindIOFailure:              ErrIOFailure,
	KindIntegrityCheckFailed:   ErrIntegrityCheckFailed,
}

// Error is a classified archiving failure.
type Error struct {
	Kind ErrorKind
	Op   string // operation that failed, e.g. "validate", "launch"
	Msg  string
	Err  error
}

// Errorf creates an *Error of the given kind with a formatted message.
// A %w verb in format is honoured.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	wrapped := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Msg: wrapped.Error(), Err: errors.Unwrap(wrapped)}
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for the package sentinels.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if s, ok := sentinels[e.Kind]; ok && s == target {
		return true
	}
	if t, ok := target.(*Error); ok {
		return t.Kind == e.Kind
	}
	return false
}

// KindOf extracts the ErrorKind of err, or returns fallback when err carries none.
func KindOf(err error, fallback ErrorKind) ErrorKind {
	var ae *Error
	if errors.As(err, &ae) && ae.Kind != "" {
		return ae.Kind
	}
	return fallback
}
