package uploader

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies remote marketplace failures. The worker picks its
// retry/fallback behavior from the kind, never from the message.
type ErrorKind string

const (
	// KindRateLimited means the marketplace throttled the call. Recoverable;
	// the entry is released back to the queue with a delay.
	KindRateLimited ErrorKind = "rate_limited"

	// KindNotFound means the remote listing no longer exists. Triggers a
	// verification step before any delist transition, never a bare retry.
	KindNotFound ErrorKind = "not_found"

	// KindTransient covers network errors and 5xx responses. One immediate
	// retry, then failure.
	KindTransient ErrorKind = "transient"

	// KindPermanent covers rejections that will not succeed on retry
	// (4xx validation responses, auth failures).
	KindPermanent ErrorKind = "permanent"
)

// RemoteError is a classified failure from a marketplace API.
type RemoteError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// KindOf extracts the error kind, defaulting to transient for unclassified
// errors so a lost connection is retried rather than failed outright.
func KindOf(err error) ErrorKind {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindTransient
}

// ValidationError reports required payload fields that are missing. Items
// failing validation are skipped, never dispatched.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.Missing, ", ")
}
