// ABOUTME: HTTP middleware admitting only requests signed by a registered app
// ABOUTME: Puts the app and its admitted body into the request context

package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/2389/recorder-gateway/internal/metrics"
	"github.com/2389/recorder-gateway/internal/registry"
	"github.com/2389/recorder-gateway/internal/reject"
	"github.com/2389/recorder-gateway/internal/store"
)

// Options configures Middleware. Every field is optional.
type Options struct {
	Audit   store.AuditLog
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Middleware creates an HTTP middleware that verifies X-App-Id and X-Signature.
// Rejected requests get a JSON {"message"} response and never reach next.
// Admitted requests carry an AuthContext, and their body is replaced by the
// verified bytes.
func Middleware(lookup Lookup, opts Options) func(http.Handler) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, identity, rej := Authenticate(lookup, r.Header, r.Body)
			if rej != nil {
				appID := r.Header.Get(HeaderAppID)
				if rej.Kind == reject.KindInternal {
					logger.Error("authentication failed", "app_id", appID, "path", r.URL.Path, "error", rej.Err)
					opts.Metrics.Auth("error")
				} else {
					logger.Warn("request rejected", "app_id", appID, "path", r.URL.Path, "remote", r.RemoteAddr, "reason", rej.Message)
					opts.Metrics.Auth("rejected")
				}
				recordRejection(r.Context(), opts.Audit, logger, r, rej)
				reject.Write(w, rej)
				return
			}

			opts.Metrics.Auth("ok")
			authCtx := &AuthContext{
				AppID:   identity.ID,
				AppName: identity.Name,
				Body:    body,
			}
			r.Body = bodyReader(body)
			r.ContentLength = int64(len(body))
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// recordRejection appends an auth_rejected audit entry. Failures are logged only.
func recordRejection(ctx context.Context, audit store.AuditLog, logger *slog.Logger, r *http.Request, rej *reject.Rejection) {
	if audit == nil {
		return
	}
	appID := r.Header.Get(HeaderAppID)
	if id, err := registry.ParseID(appID); err == nil {
		appID = id.String()
	}
	entry := &store.AuditEntry{
		AppID:  appID,
		Action: store.AuditAuthRejected,
		Status: rej.Status,
		Remote: r.RemoteAddr,
		Detail: map[string]any{"reason": rej.Message, "path": r.URL.Path},
	}
	if err := audit.AppendAuditLog(context.WithoutCancel(ctx), entry); err != nil {
		logger.Error("failed to write audit entry", "action", entry.Action, "error", err)
	}
}
