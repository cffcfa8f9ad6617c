// ABOUTME: HTTP routes for registration, signed recording commands and health
// ABOUTME: Every error is a JSON {"message"} body; unknown paths get a JSON 404

package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389/recorder-gateway/internal/auth"
	"github.com/2389/recorder-gateway/internal/control"
	"github.com/2389/recorder-gateway/internal/register"
	"github.com/2389/recorder-gateway/internal/reject"
)

// maxRegisterBody bounds the JSON body of POST /register.
const maxRegisterBody = 4 << 10

// routes builds the gateway's router.
func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(g.logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		reject.WriteMessage(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		reject.WriteMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)
	if g.config.Metrics.Enabled {
		r.Method(http.MethodGet, g.config.Metrics.Path, g.metrics.Handler())
	}

	r.Post("/register", g.handleRegister)

	// Group keeps the signature check off unknown paths, which fall through to 404.
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(g.registry, auth.Options{
			Audit:   g.store,
			Metrics: g.metrics,
			Logger:  g.logger,
		}))
		for _, action := range control.Actions() {
			r.Post("/recording/"+string(action), g.handleAction(action))
		}
	})

	return r
}

// handleRegister runs the registration handshake for an app.
func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req register.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRegisterBody)).Decode(&req); err != nil {
		g.logger.Warn("registration rejected", "remote", r.RemoteAddr, "reason", register.MsgInvalidBody, "error", err)
		g.metrics.Registration("invalid")
		reject.Write(w, reject.Validation(register.MsgInvalidBody))
		return
	}
	req.Remote = remoteHost(r)

	resp, err := g.register.Register(r.Context(), req)
	if err != nil {
		reject.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAction returns the handler for one recording action.
func (g *Gateway) handleAction(action control.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authCtx := auth.FromContext(r.Context())
		if authCtx == nil {
			reject.Write(w, reject.Unauthorized(auth.MsgNotAuthenticated))
			return
		}

		status, err := g.control.Execute(r.Context(), action, control.Command{
			AppID:   authCtx.AppID,
			AppName: authCtx.AppName,
			Body:    authCtx.Body,
		})
		if err != nil {
			reject.Write(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the audit database answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		g.logger.Error("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("audit database unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// remoteHost drops the port so every connection from one host shares a budget.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requestLogger logs one line per request at Debug, or Warn for 5xx.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				level := slog.LevelDebug
				if ww.Status() >= http.StatusInternalServerError {
					level = slog.LevelWarn
				}
				logger.Log(r.Context(), level, "http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"remote", r.RemoteAddr,
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// isClosed reports whether err is the normal result of stopping a server.
func isClosed(err error) bool {
	return err == nil || errors.Is(err, http.ErrServerClosed) || errors.Is(err, net.ErrClosed)
}
