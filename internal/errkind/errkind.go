// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package errkind implements the error taxonomy from the core's error
// handling design: every failure the dispatcher, router, or TUN stack can
// produce is tagged with one of a small set of Kinds so the tracker and the
// management API can count errors by effect rather than by Go type.
package errkind

import (
	"errors"
	"fmt"
)

// Kind categorizes a core error by the effect it has on the connection that
// triggered it.
type Kind int

const (
	KindUnknown Kind = iota
	KindInboundHandshake
	KindRouteNoOutbound
	KindOutboundConnect
	KindResolveFailed
	KindRelayIO
	KindRejected
	KindResourceExhausted
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindInboundHandshake:
		return "inbound_handshake"
	case KindRouteNoOutbound:
		return "route_no_outbound"
	case KindOutboundConnect:
		return "outbound_connect"
	case KindResolveFailed:
		return "resolve_failed"
	case KindRelayIO:
		return "relay_io"
	case KindRejected:
		return "rejected"
	case KindResourceExhausted:
		return "resource_exhausted"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is a structured core error carrying a Kind plus optional attributes
// for the management API's error counters.
type Error struct {
	Kind       Kind
	Message    string
	Underlying error
	Attributes map[string]any
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Underlying)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Underlying }

// New creates a new Error of the given kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

// Errorf creates a new Error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err as a new Error of the given kind. Returns nil if err is nil.
func Wrap(err error, kind Kind, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Underlying: err}
}

// Wrapf wraps err as a new Error of the given kind with a formatted message.
func Wrapf(err error, kind Kind, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Underlying: err}
}

// Attr attaches a key/value attribute to err, wrapping it as KindUnknown if
// it isn't already an *Error.
func Attr(err error, key string, val any) error {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) {
		e = &Error{Kind: KindUnknown, Message: err.Error(), Underlying: err}
	}
	if e.Attributes == nil {
		e.Attributes = make(map[string]any)
	}
	e.Attributes[key] = val
	return e
}

// Get returns the Kind of err, or KindUnknown if err is not (or does not
// wrap) an *Error.
func Get(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
