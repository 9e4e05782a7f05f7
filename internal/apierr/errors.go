// Package apierr defines the closed error taxonomy engine operations surface
// to the API dispatcher (spec §7). Every error the engine returns that should
// shape an HTTP response is, or wraps, one of these.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the closed set of error categories the dispatcher maps to HTTP status.
type Kind int

const (
	// Internal covers anything unexpected; maps to 500.
	Internal Kind = iota
	// InvalidArgument is bad input from the caller; maps to 400.
	InvalidArgument
	// NotFound is an unknown container/image/layer; maps to 404.
	NotFound
	// Conflict is a state-machine violation; maps to 409.
	Conflict
	// IO is a filesystem or socket error; maps to 500.
	IO
	// Syscall is a clone/mount/pivot/exec failure; maps to 500.
	Syscall
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case NotFound:
		return "NotFound"
	case Conflict:
		return "Conflict"
	case IO:
		return "IO"
	case Syscall:
		return "Syscall"
	default:
		return "Internal"
	}
}

// HTTPStatus returns the status code the dispatcher should write for this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case InvalidArgument:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case IO, Syscall, Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error is a typed error carrying a Kind alongside the usual message/wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs an *Error of the given kind around a lower-level cause,
// matching the teacher's fmt.Errorf("...: %w", err) wrapping idiom but keeping
// the Kind machine-readable for the dispatcher.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf unwraps err looking for an *Error and returns its Kind, or Internal
// if err is not (or does not wrap) a tagged apierr.Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

func NotFoundf(format string, args ...any) *Error {
	return New(NotFound, fmt.Sprintf(format, args...))
}

func Conflictf(format string, args ...any) *Error {
	return New(Conflict, fmt.Sprintf(format, args...))
}

func InvalidArgumentf(format string, args ...any) *Error {
	return New(InvalidArgument, fmt.Sprintf(format, args...))
}
