// ABOUTME: Consent gate bridging registration handlers to a single UI-owning goroutine
// ABOUTME: Requests travel on one channel; each reply comes back on a single-use channel

package consent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Decision is the user's answer to a consent request.
type Decision int

const (
	// Deny is the zero value so every failure path defaults to it.
	Deny Decision = iota
	Accept
)

func (d Decision) String() string {
	if d == Accept {
		return "accept"
	}
	return "deny"
}

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("consent gate closed")

// Prompter presents a consent request to the user. Prompt is only ever
// called from the gate's Run goroutine, one request at a time.
type Prompter interface {
	Prompt(ctx context.Context, appName string) (Decision, error)
}

type request struct {
	ctx     context.Context
	appName string
	reply   chan Decision
}

// Gate serialises consent requests onto one UI owner.
type Gate struct {
	prompter Prompter
	timeout  time.Duration
	logger   *slog.Logger

	requests  chan request
	done      chan struct{}
	closeOnce sync.Once
}

// NewGate creates a gate. A zero timeout waits for the user indefinitely;
// otherwise an unanswered request is denied once timeout elapses.
func NewGate(prompter Prompter, timeout time.Duration, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		prompter: prompter,
		timeout:  timeout,
		logger:   logger,
		requests: make(chan request),
		done:     make(chan struct{}),
	}
}

// Run owns the prompter until ctx is done or Close is called.
func (g *Gate) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.done:
			return ErrClosed
		case req := <-g.requests:
			req.reply <- g.prompt(req)
		}
	}
}

func (g *Gate) prompt(req request) Decision {
	// The requester may have given up while queued.
	if req.ctx.Err() != nil {
		return Deny
	}
	decision, err := g.prompter.Prompt(req.ctx, req.appName)
	if err != nil {
		g.logger.Warn("consent prompt failed, denying", "app_name", req.appName, "error", err)
		return Deny
	}
	return decision
}

// RequestConsent asks the user whether appName may register and blocks until
// they answer. Cancellation, timeout and a closed gate all count as Deny.
func (g *Gate) RequestConsent(ctx context.Context, appName string) Decision {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	req := request{ctx: ctx, appName: appName, reply: make(chan Decision, 1)}
	select {
	case g.requests <- req:
	case <-ctx.Done():
		g.logger.Info("consent request abandoned before prompt", "app_name", appName, "reason", ctx.Err())
		return Deny
	case <-g.done:
		return Deny
	}

	select {
	case decision := <-req.reply:
		return decision
	case <-ctx.Done():
		g.logger.Info("consent request timed out", "app_name", appName, "reason", ctx.Err())
		return Deny
	case <-g.done:
		return Deny
	}
}

// Close stops Run and denies any waiting requests. Safe to call more than once.
func (g *Gate) Close() {
	g.closeOnce.Do(func() { close(g.done) })
}
