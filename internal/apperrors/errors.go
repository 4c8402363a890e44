// Package apperrors defines the error kinds shared by the backend and the bot.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers, HTTP mapping and metrics.
type Kind string

const (
	KindNotFound   Kind = "not_found"
	KindForbidden  Kind = "forbidden"
	KindValidation Kind = "validation"
	KindUpstream   Kind = "upstream"
	KindStorage    Kind = "storage"
	KindUnknown    Kind = "unknown"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrValidation = errors.New("validation failed")
	ErrUpstream   = errors.New("upstream failure")
	ErrStorage    = errors.New("storage failure")
)

var sentinels = map[Kind]error{
	KindNotFound:   ErrNotFound,
	KindForbidden:  ErrForbidden,
	KindValidation: ErrValidation,
	KindUpstream:   ErrUpstream,
	KindStorage:    ErrStorage,
}

// Error carries a kind, the failing operation and an optional cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var s string
	switch {
	case e.Msg != "" && e.Op != "":
		s = e.Op + ": " + e.Msg
	case e.Msg != "":
		s = e.Msg
	case e.Op != "":
		s = e.Op + ": " + string(e.Kind)
	default:
		s = string(e.Kind)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNotFound) match without exposing the struct.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && target == s
}

func newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(op, format string, args ...any) error {
	return newf(KindNotFound, op, format, args...)
}

func Forbidden(op, format string, args ...any) error {
	return newf(KindForbidden, op, format, args...)
}

func Validation(op, format string, args ...any) error {
	return newf(KindValidation, op, format, args...)
}

// Upstream wraps a failure of the language-model provider.
func Upstream(op string, err error) error {
	return &Error{Kind: KindUpstream, Op: op, Err: err}
}

// Storage wraps a failure of the durable store.
func Storage(op string, err error) error {
	return &Error{Kind: KindStorage, Op: op, Err: err}
}

// KindOf reports the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnknown
}
