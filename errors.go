package shelfie

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies a failure for the caller.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindTransport means no response was received.
	KindTransport
	// KindRejected means the server answered with an error.
	KindRejected
	// KindValidation means the operation was refused before any request.
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindRejected:
		return "rejected"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// APIError represents an error returned by the server.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// TransportError wraps a failure that produced no server response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError is a local refusal; no request was made.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Validation failures returned by the timeline and session.
var (
	ErrEmptyMessage      = &ValidationError{Reason: "message is empty"}
	ErrNoConversation    = &ValidationError{Reason: "no active conversation"}
	ErrBlocked           = &ValidationError{Reason: "conversation is blocked"}
	ErrNotEditable       = &ValidationError{Reason: "only text messages can be edited"}
	ErrMessageNotFound   = &ValidationError{Reason: "message not found"}
	ErrNotAuthenticated  = &ValidationError{Reason: "not signed in"}
	ErrEmptyAttachment   = &ValidationError{Reason: "attachment is empty"}
	ErrNotDirect         = &ValidationError{Reason: "not a direct conversation"}
	ErrSendNotFound      = &ValidationError{Reason: "no failed send to retry"}
	ErrStaleConversation = errors.New("conversation changed before the response arrived")
)

// Classify returns the kind of err, looking through wrapping.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var v *ValidationError
	if errors.As(err, &v) {
		return KindValidation
	}
	var a *APIError
	if errors.As(err, &a) {
		return KindRejected
	}
	var t *TransportError
	if errors.As(err, &t) {
		return KindTransport
	}
	return KindUnknown
}

// UserMessage is the text to surface for a foreground failure.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var a *APIError
	if errors.As(err, &a) && a.Message != "" {
		return a.Message
	}
	var v *ValidationError
	if errors.As(err, &v) {
		return v.Reason
	}
	var t *TransportError
	if errors.As(err, &t) {
		return "network error, please try again"
	}
	return errors.Cause(err).Error()
}
