// ABOUTME: Registration service issuing signing identities to apps after user consent
// ABOUTME: Validates input, asks the consent gate, runs the handshake and persists the identity

package register

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/2389/recorder-gateway/internal/consent"
	"github.com/2389/recorder-gateway/internal/dedupe"
	"github.com/2389/recorder-gateway/internal/handshake"
	"github.com/2389/recorder-gateway/internal/metrics"
	"github.com/2389/recorder-gateway/internal/ratelimit"
	"github.com/2389/recorder-gateway/internal/registry"
	"github.com/2389/recorder-gateway/internal/reject"
	"github.com/2389/recorder-gateway/internal/store"
)

// Client-facing rejection messages.
const (
	MsgInvalidID       = "invalid app id"
	MsgInvalidName     = "name must be between 1 and 24 characters"
	MsgInvalidKey      = "invalid public key"
	MsgInvalidBody     = "invalid request body"
	MsgAlreadyExists   = "app already exists"
	MsgPending         = "registration already pending"
	MsgDenied          = "registration denied by user"
	MsgTooManyAttempts = "too many registration attempts"
)

// Outcomes recorded in metrics.
const (
	outcomeAccepted    = "accepted"
	outcomeDenied      = "denied"
	outcomeInvalid     = "invalid"
	outcomeConflict    = "conflict"
	outcomeRateLimited = "rate_limited"
	outcomeError       = "error"
)

// Request is the body of POST /register.
type Request struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	PublicKey string `json:"public_key"` // base64 X25519 public key

	// Remote is the caller's address, used for rate limiting and the audit trail.
	Remote string `json:"-"`
}

// Response carries the sealed signing seed and what the client needs to open it.
type Response struct {
	Key          string `json:"key"`           // base64, 48 bytes
	SharedPublic string `json:"shared_public"` // base64, 32 bytes
	Nonce        string `json:"nonce"`         // base64, 24 bytes
}

// Registry is the subset of the identity registry the service needs.
type Registry interface {
	Find(id uuid.UUID) (*registry.AppIdentity, error)
	Insert(identity *registry.AppIdentity) error
}

// Consenter asks the user whether an app may register.
type Consenter interface {
	RequestConsent(ctx context.Context, appName string) consent.Decision
}

// Issuer runs the key handshake.
type Issuer interface {
	Issue(clientPublic []byte) (*handshake.Issued, error)
}

// Options configures a Service. Registry, Consent and Issuer are required.
type Options struct {
	Registry Registry
	Consent  Consenter
	Issuer   Issuer
	Pending  *dedupe.Cache      // optional; guards ids waiting on consent
	Limiter  *ratelimit.Limiter // optional; keyed by Request.Remote
	Audit    store.AuditLog     // optional
	Metrics  *metrics.Metrics   // optional
	Logger   *slog.Logger
}

// Service registers apps.
type Service struct {
	registry Registry
	consent  Consenter
	issuer   Issuer
	pending  *dedupe.Cache
	limiter  *ratelimit.Limiter
	audit    store.AuditLog
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a registration service.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry: opts.Registry,
		consent:  opts.Consent,
		issuer:   opts.Issuer,
		pending:  opts.Pending,
		limiter:  opts.Limiter,
		audit:    opts.Audit,
		metrics:  opts.Metrics,
		logger:   logger.With("component", "register"),
		now:      time.Now,
	}
}

// validated is a Request after decoding.
type validated struct {
	id        uuid.UUID
	name      string
	publicKey []byte
}

// validate decodes and checks req without touching the registry.
func validate(req Request) (*validated, *reject.Rejection) {
	id, err := registry.ParseID(req.ID)
	if err != nil {
		return nil, reject.Validation(MsgInvalidID)
	}

	if n := utf8.RuneCountInString(req.Name); n < 1 || n > registry.MaxNameLength {
		return nil, reject.Validation(MsgInvalidName)
	}

	key, err := base64.StdEncoding.DecodeString(req.PublicKey)
	if err != nil || len(key) != handshake.PublicKeySize {
		return nil, reject.Validation(MsgInvalidKey)
	}

	return &validated{id: id, name: req.Name, publicKey: key}, nil
}

// Register runs one registration attempt. On success exactly one identity has
// been appended to the registry; on any error nothing has. Errors are always
// *reject.Rejection values.
func (s *Service) Register(ctx context.Context, req Request) (*Response, error) {
	if !s.limiter.Allow(req.Remote, s.now()) {
		return nil, s.refuse(ctx, req, outcomeRateLimited, reject.RateLimited(MsgTooManyAttempts))
	}

	v, rej := validate(req)
	if rej != nil {
		return nil, s.refuse(ctx, req, outcomeInvalid, rej)
	}

	// Low-order keys would only fail after the user had been asked.
	if err := handshake.CheckPublicKey(v.publicKey); err != nil {
		return nil, s.refuse(ctx, req, outcomeInvalid, reject.Validation(MsgInvalidKey))
	}

	if rej := s.checkNotRegistered(v.id); rej != nil {
		return nil, s.refuse(ctx, req, outcomeFor(rej), rej)
	}

	if s.pending != nil {
		key := v.id.String()
		token, ok := s.pending.Claim(key)
		if !ok {
			return nil, s.refuse(ctx, req, outcomeConflict, reject.Conflict(MsgPending))
		}
		defer s.pending.Release(key, token)
	}

	decision := s.consent.RequestConsent(ctx, v.name)
	if decision != consent.Accept {
		s.logger.Info("registration denied by user", "app_id", v.id, "app_name", v.name)
		s.metrics.Registration(outcomeDenied)
		s.record(ctx, req, store.AuditRegisterDenied, reject.Denied(MsgDenied))
		return nil, reject.Denied(MsgDenied)
	}

	issued, err := s.issuer.Issue(v.publicKey)
	if err != nil {
		if errors.Is(err, handshake.ErrInvalidPublicKey) {
			return nil, s.refuse(ctx, req, outcomeInvalid, reject.Validation(MsgInvalidKey))
		}
		return nil, s.refuse(ctx, req, outcomeError, reject.Internal(fmt.Errorf("issuing key: %w", err)))
	}

	identity := &registry.AppIdentity{ID: v.id, Name: v.name, VerifyKey: issued.VerifyKey}
	if err := s.registry.Insert(identity); err != nil {
		if errors.Is(err, registry.ErrAlreadyExists) {
			return nil, s.refuse(ctx, req, outcomeConflict, reject.Conflict(MsgAlreadyExists))
		}
		return nil, s.refuse(ctx, req, outcomeError, reject.Internal(fmt.Errorf("persisting identity: %w", err)))
	}

	s.logger.Info("app registered", "app_id", v.id, "app_name", v.name, "remote", req.Remote)
	s.metrics.Registration(outcomeAccepted)
	s.record(ctx, req, store.AuditRegisterAccepted, nil)

	return &Response{
		Key:          base64.StdEncoding.EncodeToString(issued.SealedKey),
		SharedPublic: base64.StdEncoding.EncodeToString(issued.ServerPublic),
		Nonce:        base64.StdEncoding.EncodeToString(issued.Nonce),
	}, nil
}

// checkNotRegistered is the early duplicate check that spares the user a
// prompt for an id that can never be inserted. Insert repeats it under lock.
func (s *Service) checkNotRegistered(id uuid.UUID) *reject.Rejection {
	_, err := s.registry.Find(id)
	switch {
	case err == nil:
		return reject.Conflict(MsgAlreadyExists)
	case errors.Is(err, registry.ErrNotFound):
		return nil
	default:
		return reject.Internal(fmt.Errorf("looking up app: %w", err))
	}
}

func outcomeFor(rej *reject.Rejection) string {
	switch rej.Kind {
	case reject.KindConflict:
		return outcomeConflict
	case reject.KindValidation:
		return outcomeInvalid
	case reject.KindRateLimited:
		return outcomeRateLimited
	default:
		return outcomeError
	}
}

// refuse logs, counts and audits a rejection, then returns it.
func (s *Service) refuse(ctx context.Context, req Request, outcome string, rej *reject.Rejection) error {
	if rej.Kind == reject.KindInternal {
		s.logger.Error("registration failed", "app_id", req.ID, "error", rej.Err)
	} else {
		s.logger.Warn("registration rejected", "app_id", req.ID, "remote", req.Remote, "reason", rej.Message)
	}
	s.metrics.Registration(outcome)
	s.record(ctx, req, store.AuditRegisterRejected, rej)
	return rej
}

// record appends an audit entry. Failures are logged only.
func (s *Service) record(ctx context.Context, req Request, action store.AuditAction, rej *reject.Rejection) {
	if s.audit == nil {
		return
	}
	appID := req.ID
	if id, err := registry.ParseID(req.ID); err == nil {
		appID = id.String()
	}
	entry := &store.AuditEntry{
		AppID:   appID,
		AppName: req.Name,
		Action:  action,
		Status:  http.StatusOK,
		Remote:  req.Remote,
	}
	if rej != nil {
		entry.Status = rej.Status
		entry.Detail = map[string]any{"reason": rej.Message, "kind": rej.Kind.String()}
	}
	if err := s.audit.AppendAuditLog(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Error("failed to write audit entry", "action", action, "error", err)
	}
}
