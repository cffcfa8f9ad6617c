// ABOUTME: Rejection taxonomy shared by registration, authentication and commands
// ABOUTME: Each rejection carries a kind, an HTTP status and a client-facing message

package reject

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies why a request was refused.
type Kind int

const (
	// KindInternal covers I/O and cryptographic failures. The message sent to
	// the client never includes the underlying error.
	KindInternal Kind = iota
	KindValidation
	KindAuthorization
	KindConflict
	KindConsent
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindConsent:
		return "consent"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// internalMessage is what clients see for every KindInternal rejection.
const internalMessage = "internal error"

// Rejection is a refused request. It satisfies error so it can travel through
// ordinary error returns and be recovered with errors.As.
type Rejection struct {
	Kind    Kind
	Status  int
	Message string
	Err     error // cause, for logs only
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("%s (%d): %s: %v", r.Kind, r.Status, r.Message, r.Err)
	}
	return fmt.Sprintf("%s (%d): %s", r.Kind, r.Status, r.Message)
}

func (r *Rejection) Unwrap() error { return r.Err }

// Validation is a malformed or out-of-range client input.
func Validation(message string) *Rejection {
	return &Rejection{Kind: KindValidation, Status: http.StatusBadRequest, Message: message}
}

// BadCredentials is an authorization failure reported as 400: an unknown app
// or a signature of the wrong shape.
func BadCredentials(message string) *Rejection {
	return &Rejection{Kind: KindAuthorization, Status: http.StatusBadRequest, Message: message}
}

// Unauthorized is a signature that does not verify.
func Unauthorized(message string) *Rejection {
	return &Rejection{Kind: KindAuthorization, Status: http.StatusUnauthorized, Message: message}
}

// Conflict is a duplicate or a state clash.
func Conflict(message string) *Rejection {
	return &Rejection{Kind: KindConflict, Status: http.StatusConflict, Message: message}
}

// Denied is a registration the user turned down.
func Denied(message string) *Rejection {
	return &Rejection{Kind: KindConsent, Status: http.StatusUnauthorized, Message: message}
}

// RateLimited is a client sending too many attempts.
func RateLimited(message string) *Rejection {
	return &Rejection{Kind: KindRateLimited, Status: http.StatusTooManyRequests, Message: message}
}

// Internal wraps an unexpected failure.
func Internal(err error) *Rejection {
	return &Rejection{Kind: KindInternal, Status: http.StatusInternalServerError, Message: internalMessage, Err: err}
}

// From returns err as a Rejection, treating anything else as internal.
func From(err error) *Rejection {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej
	}
	return Internal(err)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Message string `json:"message"`
}

// Write sends err as a JSON error response.
func Write(w http.ResponseWriter, err error) {
	rej := From(err)
	WriteMessage(w, rej.Status, rej.Message)
}

// WriteMessage sends {"message": message} with the given status.
func WriteMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Message: message})
}
