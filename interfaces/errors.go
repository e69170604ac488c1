package interfaces

import "fmt"

// The hub's failure modes form a closed set of typed errors. Every layer
// returns one of these (possibly wrapped); the HTTP layer dispatches on the
// concrete type to pick a status code. Comparison is by type via errors.As,
// never by message.

// ValidationError indicates an authentication or authorization failure:
// bad signature, unknown challenge text, expired token, scope violation,
// whitelist rejection.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// AuthTokenTimestampValidationError indicates a token whose issued-at
// predates the address's revocation watermark. It carries the watermark so
// clients can mint a fresh token without a second round trip.
type AuthTokenTimestampValidationError struct {
	Message                   string
	OldestValidTokenTimestamp int64
}

func (e *AuthTokenTimestampValidationError) Error() string { return e.Message }

// NewAuthTokenTimestampValidationError builds the error for a given watermark.
func NewAuthTokenTimestampValidationError(oldest int64) *AuthTokenTimestampValidationError {
	return &AuthTokenTimestampValidationError{
		Message:                   fmt.Sprintf("supplied auth token is too old, must have been issued after %d", oldest),
		OldestValidTokenTimestamp: oldest,
	}
}

// BadPathError indicates a malformed or traversal-attempting object path.
type BadPathError struct {
	Message string
}

func (e *BadPathError) Error() string { return e.Message }

// NewBadPathError builds a BadPathError with a formatted message.
func NewBadPathError(format string, args ...any) *BadPathError {
	return &BadPathError{Message: fmt.Sprintf(format, args...)}
}

// DoesNotExistError indicates the target object is absent, or that the path
// denotes a prefix/directory rather than an object.
type DoesNotExistError struct {
	Message string
}

func (e *DoesNotExistError) Error() string { return e.Message }

// NewDoesNotExistError builds a DoesNotExistError with a formatted message.
func NewDoesNotExistError(format string, args ...any) *DoesNotExistError {
	return &DoesNotExistError{Message: fmt.Sprintf(format, args...)}
}

// ConflictError indicates a concurrent write to the same (address, path),
// either detected by the hub's write guard or by the backend itself.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// NewConflictError builds a ConflictError with a formatted message.
func NewConflictError(format string, args ...any) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// PreconditionFailedError indicates an If-Match/If-None-Match precondition
// did not hold, or that such a precondition was supplied to a driver that
// cannot enforce it.
type PreconditionFailedError struct {
	Message      string
	ExpectedETag string
	ActualETag   string
}

func (e *PreconditionFailedError) Error() string { return e.Message }

// NewPreconditionFailedError builds the error for an etag mismatch.
func NewPreconditionFailedError(expected, actual string) *PreconditionFailedError {
	return &PreconditionFailedError{
		Message:      fmt.Sprintf("etag precondition failed: expected %q, found %q", expected, actual),
		ExpectedETag: expected,
		ActualETag:   actual,
	}
}

// InvalidInputError indicates malformed request input other than the path,
// such as an oversized content-type header or an unparsable page token.
type InvalidInputError struct {
	Message string
}

func (e *InvalidInputError) Error() string { return e.Message }

// NewInvalidInputError builds an InvalidInputError with a formatted message.
func NewInvalidInputError(format string, args ...any) *InvalidInputError {
	return &InvalidInputError{Message: fmt.Sprintf(format, args...)}
}

// PayloadTooLargeError indicates a request body over the configured limit.
type PayloadTooLargeError struct {
	Message string
}

func (e *PayloadTooLargeError) Error() string { return e.Message }

// NewPayloadTooLargeError builds a PayloadTooLargeError with a formatted message.
func NewPayloadTooLargeError(format string, args ...any) *PayloadTooLargeError {
	return &PayloadTooLargeError{Message: fmt.Sprintf(format, args...)}
}

// NotEnoughProofError indicates the proof checker rejected a write because
// the address's profile carries too few verified social proofs.
type NotEnoughProofError struct {
	Message string
}

func (e *NotEnoughProofError) Error() string { return e.Message }

// NewNotEnoughProofError builds a NotEnoughProofError with a formatted message.
func NewNotEnoughProofError(format string, args ...any) *NotEnoughProofError {
	return &NotEnoughProofError{Message: fmt.Sprintf(format, args...)}
}

// ErrorName returns the taxonomy name for an error, echoed to clients in the
// JSON error body for programmatic handling.
func ErrorName(err error) string {
	switch err.(type) {
	case *ValidationError:
		return "ValidationError"
	case *AuthTokenTimestampValidationError:
		return "AuthTokenTimestampValidationError"
	case *BadPathError:
		return "BadPathError"
	case *DoesNotExistError:
		return "DoesNotExist"
	case *ConflictError:
		return "ConflictError"
	case *PreconditionFailedError:
		return "PreconditionFailedError"
	case *InvalidInputError:
		return "InvalidInputError"
	case *PayloadTooLargeError:
		return "PayloadTooLargeError"
	case *NotEnoughProofError:
		return "NotEnoughProofError"
	default:
		return "Error"
	}
}
