package issuing

import "errors"

// ErrTransientNetwork wraps any timeout, connection-refused, or 5xx failure
// talking to the issuing service. It never mutates caller state;
// propagation is the orchestrator's job.
var ErrTransientNetwork = errors.New("issuing: transient network error")

// ErrIssuanceRejected is returned by Emit when the issuing service's
// response has success != "TRUE". The message field of the response is
// preserved via errors.Unwrap-compatible wrapping so callers can surface it
// verbatim.
var ErrIssuanceRejected = errors.New("issuing: emission rejected")
