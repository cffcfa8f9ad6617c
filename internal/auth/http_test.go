// ABOUTME: Tests for the signed-request HTTP middleware
// ABOUTME: Covers admission, context propagation, JSON rejections and the audit trail

package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/recorder-gateway/internal/store"
)

func TestMiddleware_Admits(t *testing.T) {
	reg, priv := registerTestApp(t)

	var got *AuthContext
	var gotBody string
	handler := Middleware(reg, Options{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/recording/start", strings.NewReader("clip-%hh"))
	req.Header.Set(HeaderAppID, testID)
	req.Header.Set(HeaderSignature, Sign(priv, []byte("clip-%hh")))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, uuid.MustParse(testID), got.AppID)
	assert.Equal(t, "Test", got.AppName)
	assert.Equal(t, []byte("clip-%hh"), got.Body)
	assert.Equal(t, "clip-%hh", gotBody)
}

func TestMiddleware_RejectsWithJSON(t *testing.T) {
	reg, _ := registerTestApp(t)

	called := false
	handler := Middleware(reg, Options{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/recording/stop", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"missing X-App-Id or X-Signature"}`, rec.Body.String())
}

func TestMiddleware_AuditsRejections(t *testing.T) {
	reg, _ := registerTestApp(t)
	audit, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer audit.Close()

	handler := Middleware(reg, Options{Audit: audit})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	_, otherKey := registerTestApp(t)
	req := httptest.NewRequest(http.MethodPost, "/recording/start", nil)
	req.Header.Set(HeaderAppID, testID)
	req.Header.Set(HeaderSignature, Sign(otherKey, nil))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	entries, err := audit.ListAuditLog(context.Background(), store.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, store.AuditAuthRejected, entries[0].Action)
	assert.Equal(t, testID, entries[0].AppID)
	assert.Equal(t, http.StatusUnauthorized, entries[0].Status)
	assert.Equal(t, "/recording/start", entries[0].Detail["path"])
}

func TestFromContext(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))

	authCtx := &AuthContext{AppName: "Test"}
	ctx := WithAuth(context.Background(), authCtx)
	assert.Same(t, authCtx, FromContext(ctx))
	assert.Same(t, authCtx, MustFromContext(ctx))

	assert.Panics(t, func() { MustFromContext(context.Background()) })
}
