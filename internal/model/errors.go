package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrValidation is returned for malformed local input, before any network call.
	ErrValidation = errors.New("validation error")

	// ErrInvalidCredentials is returned when the server rejects an email/password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrDuplicateIdentity is returned when the email or username is already registered.
	ErrDuplicateIdentity = errors.New("email or username already registered")

	// ErrWeakSecret is returned when a password fails the minimum-length policy.
	ErrWeakSecret = errors.New("password too weak")

	// ErrUserNotFound is returned when an email does not resolve to a registered user.
	ErrUserNotFound = errors.New("user not found")

	// ErrAlreadyCollaborator is returned when the user already collaborates on the document.
	ErrAlreadyCollaborator = errors.New("user is already a collaborator")

	// ErrNotOwner is returned when an owner-only operation is attempted by someone else.
	ErrNotOwner = errors.New("not the document owner")

	// ErrForbidden is returned when the server refuses an operation for the caller.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned when a document does not exist or is not readable by the caller.
	ErrNotFound = errors.New("not found")

	// ErrSessionExpired is returned when there is no usable session. The session
	// has already been cleared when a caller sees this error.
	ErrSessionExpired = errors.New("session expired")

	// ErrNetwork is returned on transport failures, including timeouts.
	ErrNetwork = errors.New("network error")

	// ErrExportFailed is returned when the export endpoint answers non-2xx.
	ErrExportFailed = errors.New("export failed")

	// ErrInvalidOrExpiredToken is returned when a share token cannot be redeemed.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired share token")
)

// Deny reasons produced by the access policy.
var (
	ErrInsufficientRole = errors.New("insufficient role")
	ErrNotAuthorized    = errors.New("not authorized")
)

// Error is a taxonomy error carrying server detail. It unwraps to Kind.
type Error struct {
	Kind   error
	Status int
	Detail string
	Fields map[string][]string

	// Credential is the access token a session error was raised for. It is
	// empty when the request carried none and is never part of Error().
	Credential string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "; %s: %s", k, strings.Join(e.Fields[k], ", "))
		}
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Kind }

// RejectedCredential returns the access token err was raised for, if any.
func RejectedCredential(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Credential
	}
	return ""
}

// Invalid builds a local validation error for a single field.
func Invalid(field, msg string) error {
	return &Error{Kind: ErrValidation, Fields: map[string][]string{field: {msg}}}
}

// Kind returns the taxonomy sentinel err belongs to, or nil if it is outside the taxonomy.
func Kind(err error) error {
	for _, k := range []error{
		ErrValidation, ErrInvalidCredentials, ErrDuplicateIdentity, ErrWeakSecret,
		ErrUserNotFound, ErrAlreadyCollaborator, ErrNotOwner, ErrForbidden,
		ErrNotFound, ErrSessionExpired, ErrNetwork, ErrExportFailed,
		ErrInvalidOrExpiredToken,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
