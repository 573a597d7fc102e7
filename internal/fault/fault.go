// Package fault defines the error kinds produced along the prompt pipeline.
//
// Every stage returns a *Error tagged with one Kind so the bridge can map
// failures to envelopes with an exhaustive switch instead of string matching.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// KindUnknown is reported for errors that carry no fault kind.
	KindUnknown Kind = iota

	// ProviderUnreachable means the completion provider could not be reached
	// (connection refused, DNS failure, timeout).
	ProviderUnreachable

	// ProviderBadStatus means the provider answered with a non-2xx status.
	ProviderBadStatus

	// ProviderMalformedEnvelope means the provider's response lacked
	// choices[0].message.content or could not be decoded.
	ProviderMalformedEnvelope

	// MalformedJSON means the model output is not a JSON object with a string type.
	MalformedJSON

	// DeviceUnavailable means the device connection could not be obtained or broke.
	DeviceUnavailable

	// DeviceRejected means the device answered but refused the command.
	DeviceRejected
)

var kindNames = map[Kind]string{
	KindUnknown:               "unknown",
	ProviderUnreachable:       "provider_unreachable",
	ProviderBadStatus:         "provider_bad_status",
	ProviderMalformedEnvelope: "provider_malformed_envelope",
	MalformedJSON:             "malformed_json",
	DeviceUnavailable:         "device_unavailable",
	DeviceRejected:            "device_rejected",
}

// String returns the snake_case name of the kind, used in logs.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified pipeline error.
type Error struct {
	Kind Kind

	// Detail is the human-readable message. For DeviceRejected it is the
	// device's own diagnostic text, unchanged.
	Detail string

	// Err is the underlying cause, if any.
	Err error
}

// Error returns Detail, falling back to the wrapped cause.
func (e *Error) Error() string {
	switch {
	case e.Detail != "":
		return e.Detail
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind with a formatted detail message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around err. The detail is
// "<msg>: <err>", or just err's text when msg is empty.
func Wrap(kind Kind, err error, msg string) *Error {
	detail := msg
	if err != nil {
		if detail == "" {
			detail = err.Error()
		} else {
			detail = msg + ": " + err.Error()
		}
	}
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
