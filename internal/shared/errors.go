package shared

import "errors"

// Error kinds shared by every billing module. HTTP handlers map kinds to
// status codes; services wrap or return *Error values carrying one of them.
var (
	// ErrNotFound indicates a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or missing input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState indicates the entity status forbids the operation.
	ErrInvalidState = errors.New("invalid state")
	// ErrConflict indicates a duplicate or conflicting request.
	ErrConflict = errors.New("conflict")
)

// Error is a domain error tagged with one of the kinds above.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

// Unwrap exposes the kind so errors.Is(err, ErrNotFound) works.
func (e *Error) Unwrap() error {
	return e.Kind
}

// NotFound builds a not-found error.
func NotFound(msg string) *Error {
	return &Error{Kind: ErrNotFound, Msg: msg}
}

// Validation builds a validation error.
func Validation(msg string) *Error {
	return &Error{Kind: ErrValidation, Msg: msg}
}

// InvalidState builds an invalid-state error.
func InvalidState(msg string) *Error {
	return &Error{Kind: ErrInvalidState, Msg: msg}
}

// Conflict builds a conflict error.
func Conflict(msg string) *Error {
	return &Error{Kind: ErrConflict, Msg: msg}
}

// UserSafeMessage returns a message that can be shown to API clients.
// Errors without a kind are internal and collapse to a generic text.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Msg
	}
	return "internal error"
}
