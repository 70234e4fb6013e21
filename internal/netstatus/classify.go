// Package netstatus classifies store errors and tracks connectivity.
package netstatus

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/syntrixbase/bizdata/pkg/model"
)

// ErrAborted marks a request that was torn down before it completed, for
// example a closed connection under an in-flight call.
var ErrAborted = errors.New("request aborted")

// networkMarkers are matched against the lower-cased error code and message.
var networkMarkers = []string{
	"unavailable",
	"network-request-failed",
	"deadline-exceeded",
	"network",
	"timeout",
	"failed to fetch",
}

var permissionMarkers = []string{
	"permission-denied",
	"permission denied",
	"insufficient permissions",
	"unauthorized",
}

// Coder is implemented by errors carrying a store-specific status code.
type Coder interface {
	Code() string
}

// NetworkError wraps a failure that happened on the way to the store.
type NetworkError struct {
	Op   string
	Kind string // e.g. "unavailable", "timeout"
	Err  error
}

func (e *NetworkError) Error() string {
	msg := "network error"
	if e.Kind != "" {
		msg = e.Kind
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Code reports the kind so code-based classification sees it too.
func (e *NetworkError) Code() string { return e.Kind }

// Unavailable builds the error returned while the network channel is disabled.
func Unavailable(op string) error {
	return &NetworkError{Op: op, Kind: "unavailable", Err: model.ErrUnavailable}
}

// IsNetworkError reports whether err originated from connectivity rather than
// from the application.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, ErrAborted) || errors.Is(err, model.ErrUnavailable) {
		return true
	}
	var stdNetErr net.Error
	if errors.As(err, &stdNetErr) {
		return true
	}

	var coder Coder
	if errors.As(err, &coder) && containsAny(strings.ToLower(coder.Code()), networkMarkers) {
		return true
	}
	return containsAny(strings.ToLower(err.Error()), networkMarkers)
}

// IsPermissionError reports whether the store refused the caller.
func IsPermissionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, model.ErrPermissionDenied) {
		return true
	}
	var coder Coder
	if errors.As(err, &coder) && containsAny(strings.ToLower(coder.Code()), permissionMarkers) {
		return true
	}
	return containsAny(strings.ToLower(err.Error()), permissionMarkers)
}

// Kind is the coarse category of a failure.
type Kind int

const (
	KindNone Kind = iota
	KindNetwork
	KindPermission
	KindCanceled
	KindLogical
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNetwork:
		return "network"
	case KindPermission:
		return "permission"
	case KindCanceled:
		return "canceled"
	case KindLogical:
		return "logical"
	default:
		return "unknown"
	}
}

// Classify sorts err into a Kind. Caller cancellation wins over everything so
// a cancelled context is never retried.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.Canceled) || errors.Is(err, model.ErrCanceled):
		return KindCanceled
	case IsPermissionError(err):
		return KindPermission
	case IsNetworkError(err):
		return KindNetwork
	default:
		return KindLogical
	}
}

func containsAny(s string, markers []string) bool {
	if s == "" {
		return false
	}
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
