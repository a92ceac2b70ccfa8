package networks

import (
	"errors"
	"fmt"
)

// ErrorKind classifies upstream failures.
type ErrorKind int

// Upstream failure kinds.
const (
	// KindNetwork covers transport failures, timeouts and non-2xx responses without an error body.
	KindNetwork ErrorKind = iota + 1
	// KindMalformed means the payload matched none of the expected shapes.
	KindMalformed
	// KindRemoteRejected means the master server answered with an explicit error object.
	KindRemoteRejected
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindMalformed:
		return "malformed"
	case KindRemoteRejected:
		return "remote_rejected"
	default:
		return "unknown"
	}
}

// UpstreamError is returned by every Client call that fails.
type UpstreamError struct {
	Err    error
	Remote *APIError
	Op     string
	Detail string
	Kind   ErrorKind
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("333networks %s: %s", e.Op, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an UpstreamError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Kind == kind
}

func networkError(op string, err error) *UpstreamError {
	return &UpstreamError{Op: op, Kind: KindNetwork, Err: err}
}

func malformedError(op, detail string, err error) *UpstreamError {
	return &UpstreamError{Op: op, Kind: KindMalformed, Detail: detail, Err: err}
}

func rejectedError(op string, remote *APIError) *UpstreamError {
	detail := remote.In
	if remote.Internal != "" {
		detail += " (" + remote.Internal + ")"
	}

	return &UpstreamError{Op: op, Kind: KindRemoteRejected, Detail: detail, Remote: remote}
}
