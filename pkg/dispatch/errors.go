package dispatch

import "errors"

var (
	// ErrInvalidRequest marks a chat request the gateway could not accept.
	ErrInvalidRequest = errors.New("invalid chat request")
	// ErrMissingCredential marks a dispatch whose provider has no usable
	// credential configured.
	ErrMissingCredential = errors.New("provider credential not configured")
	// ErrMalformedUpstream marks a success-status upstream response whose
	// body did not contain the expected result shape.
	ErrMalformedUpstream = errors.New("unexpected upstream response shape")
)

// UpstreamError carries the error message an upstream provider reported,
// verbatim, so the caller sees the real cause.
type UpstreamError struct {
	Provider string
	Message  string
}

func (e *UpstreamError) Error() string {
	return e.Message
}
