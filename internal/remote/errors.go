package remote

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure returned by a Client wraps exactly one of them,
// so callers branch with errors.Is:
//
//	if errors.Is(err, remote.ErrNetwork) {
//	    // keep the entry queued and retry later
//	}
var (
	// ErrNetwork means the service could not be reached: connection
	// failure, timeout or cancelled request.
	ErrNetwork = errors.New("network unavailable")

	// ErrValidation means the service rejected the request content.
	ErrValidation = errors.New("rejected by server")

	// ErrServer means the service failed to process a well-formed request
	// or answered with something that could not be decoded.
	ErrServer = errors.New("server error")

	// ErrNotFound means the addressed entry does not exist on the service.
	ErrNotFound = errors.New("not found")
)

// Error describes one failed remote call.
type Error struct {
	// Op is the client operation, e.g. "create entry".
	Op string

	// Kind is one of ErrNetwork, ErrValidation, ErrServer, ErrNotFound.
	Kind error

	// Status is the HTTP status, zero for transport failures.
	Status int

	// Message is the server's explanation when it sent one.
	Message string

	// Err is the underlying transport or decode error, if any.
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsRetryable reports whether the failure is transient. Network and server
// failures are worth retrying; validation and not-found are final.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrServer)
}

// KindName returns a short label for the error kind, for logs and metrics.
func KindName(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrServer):
		return "server"
	default:
		return "other"
	}
}

// kindForStatus maps a non-2xx status to an error kind.
func kindForStatus(status int) error {
	switch {
	case status == 404:
		return ErrNotFound
	case status >= 500:
		return ErrServer
	default:
		// 400, 422 and every other 4xx: the request itself was refused.
		return ErrValidation
	}
}
