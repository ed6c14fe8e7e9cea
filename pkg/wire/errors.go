package wire

import "errors"

// Error taxonomy shared by server and client. The HTTP layer maps these to
// status codes and stable code strings; the client maps them back.
var (
	// ErrUnauthenticated means the session key is unknown or missing. The
	// caller should re-acquire a session, not fail the user action.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrTimiteNotFound means Connect was called with a timite id the server
	// does not know. The caller should fall back to Register.
	ErrTimiteNotFound = errors.New("timite not found")

	// ErrInternal is an unexpected server-side failure.
	ErrInternal = errors.New("internal error")
)

// Stable code strings carried in ErrorRes.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeTimiteNotFound  = "timite_not_found"
	CodeInternal        = "internal"
)

// CodeFor returns the wire code for err, defaulting to internal.
func CodeFor(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, ErrTimiteNotFound):
		return CodeTimiteNotFound
	default:
		return CodeInternal
	}
}

// ErrFromCode is the inverse of CodeFor, used by the client.
func ErrFromCode(code string) error {
	switch code {
	case CodeUnauthenticated:
		return ErrUnauthenticated
	case CodeTimiteNotFound:
		return ErrTimiteNotFound
	default:
		return ErrInternal
	}
}
