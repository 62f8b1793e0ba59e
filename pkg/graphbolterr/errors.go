// Package graphbolterr defines the error taxonomy used throughout the driver:
// a closed set of error kinds, classification of server failure codes into
// those kinds, and retryability rules for the managed transaction executor.
package graphbolterr

import (
	"fmt"
	"runtime"
	"strings"
)

// Kind is a closed classification of everything that can go wrong talking to
// a server. Callers switch on Kind, never on error message text or a
// concrete Go type.
type Kind string

const (
	ServiceUnavailable  Kind = "ServiceUnavailable"
	SessionExpired      Kind = "SessionExpired"
	ProtocolError       Kind = "ProtocolError"
	ClientError         Kind = "ClientError"
	TransientError      Kind = "TransientError"
	DatabaseError       Kind = "DatabaseError"
	AuthenticationError Kind = "AuthenticationError"
)

// frame captures a single call site for a lightweight, dependency-free stack
// trace. An error records one where it was constructed and one more each
// time Wrap is called on it.
type frame struct {
	function string
	file     string
	line     int
}

func (f frame) String() string {
	return fmt.Sprintf("%s\n\t%s:%d", f.function, f.file, f.line)
}

func caller(skip int) frame {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return frame{function: "unknown"}
	}
	fn := runtime.FuncForPC(pc)
	name := "unknown"
	if fn != nil {
		name = fn.Name()
	}
	return frame{function: name, file: file, line: line}
}

// Error is the concrete error type returned by every package in this module.
// It carries a Kind for classification, an optional server Code, and its
// call-site frames: the construction site plus one frame per Wrap call.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	frames  []frame
	cause   error

	// ForgetWriterOnly is set on the NotALeader rewrite: the routing
	// provider should forget only the writer for the affected database,
	// not the whole server address.
	ForgetWriterOnly bool
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Stack renders the recorded call-site frames, most recent first.
func (e *Error) Stack() string {
	var b strings.Builder
	for i := len(e.frames) - 1; i >= 0; i-- {
		b.WriteString(e.frames[i].String())
		if i > 0 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, frames: []frame{caller(2)}}
}

// Wrap records a second, delivery-site frame on an existing *Error, or
// constructs a new ClientError wrapping an arbitrary error if err is not
// already one of ours.
func Wrap(err error, msg string) *Error {
	if err == nil {
		return nil
	}
	if ge, ok := err.(*Error); ok {
		ge.frames = append(ge.frames, caller(1))
		if msg != "" {
			ge.Message = msg + ": " + ge.Message
		}
		return ge
	}
	e := newError(ClientError, "", fmt.Sprintf("%s: %v", msg, err))
	e.cause = err
	return e
}

func NewServiceUnavailable(msg string) *Error  { return newError(ServiceUnavailable, "", msg) }
func NewSessionExpired(msg string) *Error      { return newError(SessionExpired, "", msg) }
func NewProtocolError(msg string) *Error       { return newError(ProtocolError, "", msg) }
func NewClientError(msg string) *Error         { return newError(ClientError, "", msg) }
func NewAuthenticationError(msg string) *Error { return newError(AuthenticationError, "", msg) }

// NewServerError constructs the appropriate *Error for a failure code and
// message received over the wire: its Kind comes from Classify, except that a
// NotALeader code is rewritten to SessionExpired with ForgetWriterOnly set.
func NewServerError(code, message string) *Error {
	kind := Classify(code)
	if strings.HasSuffix(code, ".Cluster.NotALeader") {
		e := newError(SessionExpired, code, message)
		e.ForgetWriterOnly = true
		return e
	}
	return newError(kind, code, message)
}

// Classify maps a dot-delimited server failure code of the form
// "Neo.ClassName.Category.Title" to a Kind.
func Classify(code string) Kind {
	parts := strings.Split(code, ".")
	if len(parts) < 2 {
		return DatabaseError
	}
	class := parts[1]
	switch class {
	case "ClientError":
		if len(parts) >= 3 && parts[2] == "Security" {
			return AuthenticationError
		}
		return ClientError
	case "TransientError":
		return TransientError
	case "DatabaseError":
		return DatabaseError
	default:
		return DatabaseError
	}
}

// nonRetryableTransient lists Neo.TransientError subcodes that must NOT be
// retried even though their class is TransientError: these indicate the
// caller's own resource limits, not a transient cluster condition.
var nonRetryableTransient = map[string]bool{
	"Neo.TransientError.Memory.TransactionOutOfMemoryError": true,
	"Neo.TransientError.General.OutOfMemoryError":            true,
	"Neo.TransientError.General.StackOverFlowError":          true,
}

// IsRetryable reports whether an error should be retried by the managed
// transaction executor.
func IsRetryable(err error) bool {
	ge, ok := err.(*Error)
	if !ok {
		return false
	}
	switch ge.Kind {
	case ServiceUnavailable, SessionExpired:
		return true
	case TransientError:
		return !nonRetryableTransient[ge.Code]
	default:
		return false
	}
}
