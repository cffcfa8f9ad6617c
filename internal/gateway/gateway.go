// ABOUTME: Gateway orchestrator wiring registry, consent, registration and recording control
// ABOUTME: Owns the HTTP server lifecycle on loopback TCP or a Tailscale tsnet listener

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/recorder-gateway/internal/config"
	"github.com/2389/recorder-gateway/internal/consent"
	"github.com/2389/recorder-gateway/internal/control"
	"github.com/2389/recorder-gateway/internal/dedupe"
	"github.com/2389/recorder-gateway/internal/handshake"
	"github.com/2389/recorder-gateway/internal/metrics"
	"github.com/2389/recorder-gateway/internal/ratelimit"
	"github.com/2389/recorder-gateway/internal/register"
	"github.com/2389/recorder-gateway/internal/registry"
	"github.com/2389/recorder-gateway/internal/store"
)

// shutdownTimeout bounds graceful shutdown of the HTTP server.
const shutdownTimeout = 5 * time.Second

// Options overrides collaborators that are otherwise built from config.
type Options struct {
	// Prompter answers consent requests. When nil it is derived from
	// consent.mode; "prompt" asks on the process's terminal.
	Prompter consent.Prompter

	// Recorder drives the host. When nil it is derived from recorder.driver.
	Recorder control.Recorder
}

// Gateway orchestrates the recorder-gateway server components.
type Gateway struct {
	config      *config.Config
	registry    *registry.Registry
	store       *store.SQLiteStore
	consent     *consent.Gate
	pending     *dedupe.Cache
	register    *register.Service
	control     *control.Controller
	metrics     *metrics.Metrics
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// stopConsent ends the consent gate's UI goroutine.
	stopConsent context.CancelFunc

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a Gateway and starts its consent gate. Call Shutdown (or Run)
// to release it.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	prompter, err := buildPrompter(cfg, opts.Prompter)
	if err != nil {
		return nil, err
	}
	recorder, err := buildRecorder(cfg, opts.Recorder, logger)
	if err != nil {
		return nil, err
	}

	sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	m := metrics.New()
	reg := registry.New(cfg.Registry.Path)
	gate := consent.NewGate(prompter, cfg.Consent.Timeout, logger.With("component", "consent"))
	pending := dedupe.New(pendingTTL(cfg.Consent.Timeout), 1024)

	gw := &Gateway{
		config:   cfg,
		registry: reg,
		store:    sqlStore,
		consent:  gate,
		pending:  pending,
		metrics:  m,
		logger:   logger.With("component", "gateway"),
	}

	limiter := ratelimit.New(cfg.RateLimit.RegisterPerMinute, cfg.RateLimit.RegisterBurst, cfg.RateLimit.IdleTTL)
	m.ObserveGauge("pending_registrations", "Registrations waiting on consent.", pending.Len)
	m.ObserveGauge("ratelimit_tracked_remotes", "Remote hosts with a live registration budget.", limiter.Len)

	gw.register = register.NewService(register.Options{
		Registry: reg,
		Consent:  gate,
		Issuer:   handshake.NewIssuer(nil),
		Pending:  pending,
		Limiter:  limiter,
		Audit:    sqlStore,
		Metrics:  m,
		Logger:   logger,
	})
	gw.control = control.New(control.Options{
		Recorder:       recorder,
		Audit:          sqlStore,
		Metrics:        m,
		Logger:         logger,
		CommandTimeout: cfg.Recorder.CommandTimeout,
	})

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	gw.stopConsent = cancel
	go func() {
		if err := gate.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, consent.ErrClosed) {
			gw.logger.Error("consent gate stopped", "error", err)
		}
	}()

	return gw, nil
}

// buildPrompter returns override, or the prompter consent.mode asks for.
func buildPrompter(cfg *config.Config, override consent.Prompter) (consent.Prompter, error) {
	if override != nil {
		return override, nil
	}
	p, err := consent.ParsePolicy(cfg.Consent.Mode)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = consent.NewTerminalPrompter(os.Stdin, os.Stderr)
	}
	return p, nil
}

// buildRecorder returns override, or the recorder recorder.driver asks for.
func buildRecorder(cfg *config.Config, override control.Recorder, logger *slog.Logger) (control.Recorder, error) {
	if override != nil {
		return override, nil
	}
	switch cfg.Recorder.Driver {
	case config.RecorderCommand:
		return control.NewCommandRecorder(cfg.Recorder.StartCommand, cfg.Recorder.StopCommand, cfg.Recorder.DefaultFormat, logger)
	case config.RecorderNop, "":
		return control.NopRecorder{Logger: logger.With("component", "recorder")}, nil
	default:
		return nil, fmt.Errorf("unknown recorder driver %q", cfg.Recorder.Driver)
	}
}

// pendingTTL keeps a pending claim alive for as long as consent can take.
func pendingTTL(consentTimeout time.Duration) time.Duration {
	if consentTimeout <= 0 {
		return 24 * time.Hour
	}
	return consentTimeout + time.Minute
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupTCPListener creates the standard TCP listener.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok && !tcpAddr.IP.IsLoopback() {
		g.logger.Warn("gateway is listening beyond loopback; requests travel unencrypted", "addr", tcpAddr.String())
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		_ = g.gracefulShutdown()
		return err
	}
	return g.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln until ctx is canceled, then shuts down.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); !isClosed(err) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
// An empty key is allowed once the node's state directory holds a login.
func resolveTailscaleAuthKey(configured string) string {
	if configured != "" {
		return configured
	}
	return os.Getenv("TS_AUTHKEY")
}

// setupTailscaleListener creates a tsnet server and returns its HTTP listener.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	if err := os.MkdirAll(tsCfg.StateDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       tsCfg.StateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   resolveTailscaleAuthKey(tsCfg.AuthKey),
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", tsCfg.StateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	if tsCfg.HTTPS {
		return g.createTailscaleTLSListener()
	}
	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = strings.TrimSuffix(status.Self.DNSName, ".")
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the HTTP server and releases resources.
// Registrations still waiting on consent are denied. Only the first call
// does any work; later calls return its result.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() { g.shutdownErr = g.shutdown(ctx) })
	return g.shutdownErr
}

func (g *Gateway) shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	g.consent.Close()
	g.stopConsent()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	g.pending.Close()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
