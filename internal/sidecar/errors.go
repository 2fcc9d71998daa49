package sidecar

import (
	"context"
	"errors"
	"fmt"
)

// Kind tells how a sidecar call failed.
type Kind int

const (
	// KindTransport means the call never produced a sidecar answer: dial
	// failures, timeouts, cancelled contexts, broken connections.
	KindTransport Kind = iota + 1

	// KindEmbedded means the sidecar answered, and the answer carried an error.
	KindEmbedded
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindEmbedded:
		return "embedded"
	default:
		return "unknown"
	}
}

// Error is the single failure shape returned by every Client implementation.
type Error struct {
	Kind    Kind
	Op      string
	Code    string // sidecar error code, e.g. ERR_STATE_STORE_NOT_FOUND
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s error %s: %s", e.Op, e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transport builds a KindTransport error for op.
func Transport(op string, err error) *Error {
	msg := "sidecar unreachable"
	if err != nil {
		msg = err.Error()
	}
	return &Error{Kind: KindTransport, Op: op, Message: msg, Err: err}
}

// Embedded builds a KindEmbedded error for op from a sidecar-reported code and message.
func Embedded(op, code, message string) *Error {
	if message == "" {
		message = "sidecar reported an error"
	}
	return &Error{Kind: KindEmbedded, Op: op, Code: code, Message: message}
}

// Normalize returns err as *Error. Errors that are not already classified
// are treated as transport failures.
func Normalize(op string, err error) error {
	if err == nil {
		return nil
	}

	var sErr *Error
	if errors.As(err, &sErr) {
		if sErr.Op == "" {
			c := *sErr
			c.Op = op
			return &c
		}
		return sErr
	}

	return Transport(op, err)
}

// KindOf returns the kind of a normalized error, or 0 when err is not a sidecar error.
func KindOf(err error) Kind {
	var sErr *Error
	if errors.As(err, &sErr) {
		return sErr.Kind
	}
	return 0
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	return KindOf(err) == KindTransport
}

// IsEmbedded reports whether err is an error reported by the sidecar itself.
func IsEmbedded(err error) bool {
	return KindOf(err) == KindEmbedded
}

// CheckContext returns a transport error when ctx is already done.
func CheckContext(ctx context.Context, op string) error {
	select {
	case <-ctx.Done():
		return Transport(op, ctx.Err())
	default:
		return nil
	}
}
