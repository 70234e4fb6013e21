package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/syntrixbase/bizdata/internal/netstatus"
	"github.com/syntrixbase/bizdata/pkg/model"
)

// ErrTokenExpired is returned before any request is sent with an expired
// bearer token.
var ErrTokenExpired = fmt.Errorf("%w: token expired", model.ErrPermissionDenied)

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %s: %s", e.Status, e.Body)
}

// Unwrap maps the status onto the model error it stands for.
func (e *HTTPError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return model.ErrPermissionDenied
	case http.StatusNotFound:
		return model.ErrNotFound
	case http.StatusBadRequest:
		return model.ErrInvalidQuery
	case http.StatusConflict:
		return model.ErrExists
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return model.ErrUnavailable
	}
	return nil
}

// GetHTTPError returns the HTTPError from an error if it exists.
func GetHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	ok := errors.As(err, &httpErr)
	return httpErr, ok
}

func statusError(op string, resp *http.Response, body []byte) error {
	if resp.Status == "" {
		resp.Status = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	httpErr := &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(body)}
	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &netstatus.NetworkError{Op: op, Kind: "unavailable", Err: httpErr}
	}
	return httpErr
}

// transportError classifies a failure to get any response at all.
func transportError(ctx context.Context, op string, err error) error {
	if cerr := ctx.Err(); errors.Is(cerr, context.Canceled) {
		return cerr
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &netstatus.NetworkError{Op: op, Kind: "timeout", Err: err}
	}
	return &netstatus.NetworkError{Op: op, Kind: "unavailable", Err: err}
}
