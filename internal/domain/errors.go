package domain

import (
	"errors"
	"fmt"
)

// Kind is the closed set of failure classes crossing component boundaries.
type Kind string

const (
	KindInput       Kind = "input"
	KindExtraction  Kind = "extraction"
	KindPersistence Kind = "persistence"
	KindUnavailable Kind = "unavailable"
	KindInternal    Kind = "internal"
)

// Code identifies a specific failure within a Kind.
type Code string

// Error is a classified failure. Two errors match under errors.Is when their
// codes are equal, so the package-level sentinels can be used as targets.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

var (
	ErrMissingImage      = &Error{Kind: KindInput, Code: "missing_image", Message: "no image data provided"}
	ErrInvalidImage      = &Error{Kind: KindInput, Code: "invalid_image", Message: "image is not valid base64"}
	ErrUnknownProvider   = &Error{Kind: KindInput, Code: "unknown_provider", Message: "invalid model selected"}
	ErrMissingCredential = &Error{Kind: KindInput, Code: "missing_credential", Message: "api key not configured"}

	ErrTransport         = &Error{Kind: KindExtraction, Code: "transport_failure", Message: "vision provider unreachable"}
	ErrProviderStatus    = &Error{Kind: KindExtraction, Code: "provider_status", Message: "vision provider returned an error status"}
	ErrMalformedResponse = &Error{Kind: KindExtraction, Code: "malformed_response", Message: "vision provider response is malformed"}
	ErrNoNumericValue    = &Error{Kind: KindExtraction, Code: "no_numeric_value", Message: "could not extract temperature"}

	ErrLocalStore   = &Error{Kind: KindPersistence, Code: "local_store", Message: "session store operation failed"}
	ErrArchiveStore = &Error{Kind: KindPersistence, Code: "archive_store", Message: "archive store operation failed"}

	ErrArchiveUnavailable = &Error{Kind: KindUnavailable, Code: "archive_unavailable", Message: "archive store connection not available"}
)

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// Wrap returns a copy of e with err as its cause.
func (e *Error) Wrap(err error) *Error {
	c := *e
	c.Err = err
	return &c
}

// Withf returns a copy of e whose message is extended with detail.
func (e *Error) Withf(format string, args ...any) *Error {
	c := *e
	c.Message = e.Message + ": " + fmt.Sprintf(format, args...)
	return &c
}

// KindOf reports the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// CodeOf reports the Code of the first *Error in err's chain.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
