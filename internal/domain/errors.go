package domain

import "errors"

// ErrorKind is the closed failure taxonomy surfaced by the core.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidInput
	KindInvalidRequest
	KindAuthFailed
	KindEmptyResponse
	KindRateLimited
	KindTimeout
	KindServiceUnavailable
	KindRateLimitExceeded
)

var kindNames = map[ErrorKind]string{
	KindUnknown:            "unknown",
	KindInvalidInput:       "invalid_input",
	KindInvalidRequest:     "invalid_request",
	KindAuthFailed:         "auth_failed",
	KindEmptyResponse:      "empty_response",
	KindRateLimited:        "rate_limited",
	KindTimeout:            "timeout",
	KindServiceUnavailable: "service_unavailable",
	KindRateLimitExceeded:  "rate_limit_exceeded",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Transient reports whether a failure of this kind may succeed on retry.
// Unknown errors count as transient.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindRateLimited, KindTimeout, KindUnknown:
		return true
	}
	return false
}

// UserMessage is the short text shown to end users. It never contains transport detail.
func (k ErrorKind) UserMessage() string {
	switch k {
	case KindInvalidInput:
		return "Invalid message format"
	case KindInvalidRequest:
		return "Invalid request to AI service"
	case KindAuthFailed:
		return "Authentication failed"
	case KindEmptyResponse:
		return "Empty response from AI service"
	case KindRateLimited:
		return "Rate limit exceeded. Please try again later."
	case KindTimeout:
		return "Request timed out. Please try again."
	case KindRateLimitExceeded:
		return "You are sending messages too quickly."
	default:
		return "AI service temporarily unavailable"
	}
}

// Error carries an ErrorKind plus the underlying cause (for logs only).
type Error struct {
	Kind ErrorKind
	Msg  string // optional user-facing override
	Err  error
}

// NewError returns an *Error of kind k wrapping cause (which may be nil).
func NewError(k ErrorKind, cause error) *Error {
	return &Error{Kind: k, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrAuthFailed) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Err == nil && t.Msg == ""
}

// UserMessage returns the text that may be shown on the chat surface.
func (e *Error) UserMessage() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.UserMessage()
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidInput       = &Error{Kind: KindInvalidInput}
	ErrInvalidRequest     = &Error{Kind: KindInvalidRequest}
	ErrAuthFailed         = &Error{Kind: KindAuthFailed}
	ErrEmptyResponse      = &Error{Kind: KindEmptyResponse}
	ErrRateLimited        = &Error{Kind: KindRateLimited}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrServiceUnavailable = &Error{Kind: KindServiceUnavailable}
	ErrRateLimitExceeded  = &Error{Kind: KindRateLimitExceeded}
)

// KindOf extracts the ErrorKind from err. Returns KindUnknown for nil or foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// UserMessageOf returns the user-facing text for any error without exposing its detail.
func UserMessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.UserMessage()
	}
	return KindServiceUnavailable.UserMessage()
}
