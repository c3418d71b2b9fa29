package ai

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// ErrUnavailable means the provider is not configured (missing key etc).
// Retrying cannot help, so it classifies as permanent.
var ErrUnavailable = errors.New("ai provider unavailable")

type Kind int

const (
	KindTransient Kind = iota + 1
	KindPermanent
)

func (k Kind) String() string {
	if k == KindPermanent {
		return "permanent"
	}
	return "transient"
}

type classifiedError struct {
	kind Kind
	err  error
}

func (e *classifiedError) Error() string {
	return e.err.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.err
}

// Transient marks an error as retryable: the same call is expected to
// succeed later (network failure, timeout, rate limit).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{kind: KindTransient, err: err}
}

// Permanent marks an error as not worth retrying (malformed input,
// unsupported format, empty result).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{kind: KindPermanent, err: err}
}

// KindOf resolves the classification attached at the adapter boundary.
// Unclassified errors default to transient so that an unknown transport
// failure still gets the bounded retry treatment.
func KindOf(err error) Kind {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.kind
	}
	if errors.Is(err, ErrUnavailable) {
		return KindPermanent
	}
	return KindTransient
}

func IsPermanent(err error) bool {
	return KindOf(err) == KindPermanent
}

// classifyCallErr wraps transport-level failures from an HTTP round trip.
func classifyCallErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient(err)
	}
	return Transient(err)
}

// classifyStatus maps an HTTP failure status onto the retry taxonomy.
func classifyStatus(status int, err error) error {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return Transient(err)
	case status >= http.StatusInternalServerError:
		return Transient(err)
	default:
		return Permanent(err)
	}
}
