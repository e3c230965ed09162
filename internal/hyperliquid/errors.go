package hyperliquid

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed request so callers can decide whether the
// failure is retryable and how to account for it.
type ErrorKind string

const (
	// KindUpstream marks HTTP-level failures: non-2xx status codes and
	// transport errors. These are retryable.
	KindUpstream ErrorKind = "upstream"
	// KindDecode marks responses that arrived but could not be parsed into
	// the expected schema. Retrying would return the same bytes, so these
	// are terminal.
	KindDecode ErrorKind = "decode"
	// KindTimeout marks requests cancelled by deadline or context.
	KindTimeout ErrorKind = "timeout"
)

// FetchError wraps a failed /info request with its classification and the
// request type that produced it.
type FetchError struct {
	Kind    ErrorKind
	Request string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("hyperliquid %s request failed (%s): %v", e.Request, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the error is worth retrying. Upstream failures
// and timeouts are transient; decode failures are deterministic, retrying
// would parse the same bytes again.
func IsRetryable(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind == KindUpstream || fe.Kind == KindTimeout
	}
	return false
}

// KindOf extracts the classification from an error chain, returning an empty
// kind when the error did not originate from the client.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
