package crawler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrQueueClosed is returned by Dequeue once the queue is closed and drained.
var ErrQueueClosed = errors.New("queue closed")

// Kind classifies a failure by how callers should react to it.
type Kind int

// Failure kinds.
const (
	KindUnknown Kind = iota
	KindTransientNetwork
	KindPermanentNetwork
	KindParseAnomaly
	KindFilesystem
	KindFatalSetup
	// KindCanceled marks work dropped because the run was interrupted.
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindTransientNetwork:
		return "transient_network"
	case KindPermanentNetwork:
		return "permanent_network"
	case KindParseAnomaly:
		return "parse_anomaly"
	case KindFilesystem:
		return "filesystem"
	case KindFatalSetup:
		return "fatal_setup"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is a classified failure raised at a component boundary.
type Error struct {
	Kind       Kind
	Op         string
	URL        string
	StatusCode int
	Err        error
}

// NewError builds an *Error.
func NewError(kind Kind, op, url string, err error) *Error {
	return &Error{Kind: kind, Op: op, URL: url, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.URL != "" {
		b.WriteString(" ")
		b.WriteString(e.URL)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// IsTransient reports whether err is worth retrying. A per-request timeout is
// transient; cancellation of the caller's context is never classified and so
// never transient.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransientNetwork
}

// StatusKind maps an HTTP status code to a failure kind.
// 2xx codes return KindUnknown since they are not failures.
func StatusKind(code int) Kind {
	switch {
	case code >= 200 && code < 300:
		return KindUnknown
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return KindTransientNetwork
	default:
		return KindPermanentNetwork
	}
}

// StatusError builds the error for a non-success HTTP response.
func StatusError(op, url string, code int) *Error {
	return &Error{
		Kind:       StatusKind(code),
		Op:         op,
		URL:        url,
		StatusCode: code,
		Err:        errors.New(http.StatusText(code)),
	}
}
