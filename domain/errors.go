package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for close codes and HTTP responses
type Kind string

const (
	KindUpload     Kind = "upload_error"
	KindProvider   Kind = "provider_error"
	KindTransport  Kind = "transport_error"
	KindValidation Kind = "validation_error"
)

var (
	// ErrEmptyUtterance is returned when an upload carries no audio
	ErrEmptyUtterance = errors.New("utterance is empty")
	// ErrUtteranceTooLarge is returned when an upload exceeds the configured limit
	ErrUtteranceTooLarge = errors.New("utterance exceeds maximum size")
	// ErrPeerClosed is returned when the peer closes before a message completes
	ErrPeerClosed = errors.New("peer closed the connection")
)

// ProviderError is returned by stage adapters when an upstream call fails.
// StatusCode and Body are populated whenever the provider answered.
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Provider, e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" with status %d", e.StatusCode)
	}
	switch {
	case e.Body != "":
		msg += ": " + e.Body
	case e.Err != nil:
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ValidationError describes a malformed publish request
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// SessionError tags a session failure with its kind
type SessionError struct {
	Kind Kind
	Err  error
}

func (e *SessionError) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }

func (e *SessionError) Unwrap() error { return e.Err }

// NewSessionError wraps err with the given kind
func NewSessionError(kind Kind, err error) *SessionError {
	return &SessionError{Kind: kind, Err: err}
}

// KindOf reports the kind of err. Errors that carry no kind are treated as
// transport errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var sessionErr *SessionError
	if errors.As(err, &sessionErr) {
		return sessionErr.Kind
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return KindProvider
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return KindValidation
	}

	if errors.Is(err, ErrEmptyUtterance) || errors.Is(err, ErrUtteranceTooLarge) {
		return KindUpload
	}

	return KindTransport
}
