package httpclient

import (
	"encoding/json"
	"errors"
)

var (
	ErrBlockedByEdgeProtection = errors.New("blocked by edge protection")
	ErrAccessDenied            = errors.New("access denied")
	ErrGenericForbidden        = errors.New("403 forbidden")
	ErrTransport               = errors.New("transport failure")
)

// ResultKind tags the shape of a completed exchange so callers are forced
// to handle the unexpected branches explicitly.
type ResultKind int

const (
	// KindOK: HTTP 200 with a parseable JSON body.
	KindOK ResultKind = iota
	// KindStructuredError: the server answered with parseable JSON and a
	// non-200 status.
	KindStructuredError
	// KindBlocked: a 403 classified as anti-bot blocking. Never retried;
	// blocking is not solved by retrying.
	KindBlocked
	// KindMalformed: a response whose content type or body could not be
	// interpreted.
	KindMalformed
	// KindTransportError: no usable response after the attempt cap.
	KindTransportError
)

func (k ResultKind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindStructuredError:
		return "structured_error"
	case KindBlocked:
		return "blocked"
	case KindMalformed:
		return "malformed"
	case KindTransportError:
		return "transport_error"
	}
	return "unknown"
}

// Result is the uniform outcome of Send. HTTP-level failures are values,
// not errors; only the caller decides whether a branch is fatal.
type Result struct {
	Kind       ResultKind
	StatusCode int
	// Data holds the parsed JSON body for KindOK and KindStructuredError.
	Data json.RawMessage
	// ContentType carries the unrecognized type for KindMalformed.
	ContentType string
	// Body holds a truncated raw body for diagnostics on the non-JSON kinds.
	Body string
	// Err describes KindBlocked and KindTransportError outcomes.
	Err error
}

// Success reports a usable 200/JSON exchange.
func (r Result) Success() bool {
	return r.Kind == KindOK
}

// Decode unmarshals Data into v.
func (r Result) Decode(v interface{}) error {
	return json.Unmarshal(r.Data, v)
}
