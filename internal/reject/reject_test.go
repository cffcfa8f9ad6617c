// ABOUTME: Tests for the rejection taxonomy and its JSON error responses
// ABOUTME: Covers status mapping, errors.As recovery and hiding internal causes

package reject

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors_Status(t *testing.T) {
	tests := []struct {
		rej    *Rejection
		kind   Kind
		status int
	}{
		{Validation("bad"), KindValidation, http.StatusBadRequest},
		{BadCredentials("unknown app"), KindAuthorization, http.StatusBadRequest},
		{Unauthorized("not authenticated"), KindAuthorization, http.StatusUnauthorized},
		{Conflict("app already exists"), KindConflict, http.StatusConflict},
		{Denied("registration denied by user"), KindConsent, http.StatusUnauthorized},
		{RateLimited("slow down"), KindRateLimited, http.StatusTooManyRequests},
		{Internal(errors.New("disk")), KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.rej.Kind)
			assert.Equal(t, tt.status, tt.rej.Status)
		})
	}
}

func TestFrom(t *testing.T) {
	conflict := Conflict("app already exists")
	wrapped := fmt.Errorf("registering: %w", conflict)
	assert.Same(t, conflict, From(wrapped))

	cause := errors.New("disk on fire")
	rej := From(cause)
	assert.Equal(t, KindInternal, rej.Kind)
	assert.ErrorIs(t, rej, cause)
}

func TestWrite_HidesInternalCause(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, errors.New("open /secret/path: permission denied"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotContains(t, rec.Body.String(), "/secret/path")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal error", body["message"])
}

func TestWrite_Rejection(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, Validation("invalid app id"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"message":"invalid app id"}`, rec.Body.String())
}
