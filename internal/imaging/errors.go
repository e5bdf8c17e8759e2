package imaging

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"

	gobreaker "github.com/sony/gobreaker/v2"
)

// Failure categories reported for transport-level errors.
const (
	CategoryTimeout           = "timeout"
	CategoryCanceled          = "canceled"
	CategoryDNS               = "dns"
	CategoryConnectionRefused = "connection refused"
	CategoryConnection        = "connection"
	CategoryCircuitOpen       = "circuit open"
	CategoryInvalidResponse   = "invalid response"
	CategoryUpstreamStatus    = "upstream status"
	CategoryTransport         = "transport"
)

// errCallerAborted wraps transport errors that happened because the caller's
// context was canceled or reached its deadline.
var errCallerAborted = errors.New("request aborted by caller")

// UnavailableError means the imaging service could not be reached or gave
// an unusable answer. No HTTP status from upstream is available.
type UnavailableError struct {
	// Op names the client operation, e.g. "GetViewingSession".
	Op string

	// Category is one of the Category* constants.
	Category string

	Cause error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("imaging service %s failed (%s): %v", e.Op, e.Category, e.Cause)
}

func (e *UnavailableError) Unwrap() error {
	return e.Cause
}

// Timeout reports whether the failure was a deadline.
func (e *UnavailableError) Timeout() bool {
	return e.Category == CategoryTimeout
}

// ProtocolError means the imaging service answered with a non-2xx status.
// It carries enough of the response to relay it to the viewer.
type ProtocolError struct {
	Op         string
	StatusCode int
	// Status is the reason phrase, e.g. "Not Found".
	Status string
	Header http.Header
	// Body holds at most the first few KiB of the response.
	Body []byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("imaging service %s returned %d %s", e.Op, e.StatusCode, e.Status)
}

// Classify names the category of a transport failure.
func Classify(err error) string {
	var (
		dnsErr *net.DNSError
		netErr net.Error
		opErr  *net.OpError
	)

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return CategoryCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	case errors.Is(err, context.Canceled):
		return CategoryCanceled
	case errors.As(err, &dnsErr):
		return CategoryDNS
	case errors.As(err, &netErr) && netErr.Timeout():
		return CategoryTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return CategoryConnectionRefused
	case errors.As(err, &opErr):
		return CategoryConnection
	default:
		return CategoryTransport
	}
}
