package contacts

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and for the HTTP layer.
type Kind string

const (
	KindInvalidInput     Kind = "invalid_input"
	KindNotFound         Kind = "not_found"
	KindAlreadyExists    Kind = "already_exists"
	KindDuplicateKey     Kind = "duplicate_key"
	KindIndexUnavailable Kind = "index_unavailable"
	KindPartialFailure   Kind = "partial_failure"
	KindBusy             Kind = "busy"
)

// Error is a classified error with an optional itemized payload.
type Error struct {
	Kind    Kind
	Msg     string
	Details any
	Err     error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a bare sentinel of the same kind, so
// errors.Is(err, ErrNotFound) holds for every not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinel kinds.
var (
	ErrInvalidInput     = &Error{Kind: KindInvalidInput}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrAlreadyExists    = &Error{Kind: KindAlreadyExists}
	ErrDuplicateKey     = &Error{Kind: KindDuplicateKey}
	ErrIndexUnavailable = &Error{Kind: KindIndexUnavailable}
	ErrPartialFailure   = &Error{Kind: KindPartialFailure}
	ErrBusy             = &Error{Kind: KindBusy}
)

// ErrIndexNotFound is returned by Index implementations when the target
// document is already absent. Delete flows treat it as acceptable drift.
var ErrIndexNotFound = errors.New("document not found in search index")

// KindOf returns the classification of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// DetailsOf returns the itemized payload attached to err, if any.
func DetailsOf(err error) any {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

// IndexUnavailable classifies a timeout or transport failure of the search
// index.
func IndexUnavailable(err error) error {
	if KindOf(err) == KindIndexUnavailable {
		return err
	}
	return &Error{Kind: KindIndexUnavailable, Msg: "search index unavailable", Err: err}
}

func invalidInput(details any, format string, args ...any) error {
	return &Error{Kind: KindInvalidInput, Msg: fmt.Sprintf(format, args...), Details: details}
}

func notFound(email string) error {
	return &Error{Kind: KindNotFound, Msg: "contact not found", Details: map[string]string{"email": email}}
}
