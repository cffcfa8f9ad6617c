// ABOUTME: Persistence types for the gateway's audit trail
// ABOUTME: Defines audit actions, entries, filters and the AuditLog interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// AuditAction is something the gateway decided about an app.
type AuditAction string

const (
	AuditRegisterAccepted AuditAction = "register_accepted"
	AuditRegisterDenied   AuditAction = "register_denied"
	AuditRegisterRejected AuditAction = "register_rejected"
	AuditAuthRejected     AuditAction = "auth_rejected"
	AuditCommandExecuted  AuditAction = "command_executed"
)

// ValidAuditActions lists all valid audit actions.
var ValidAuditActions = []AuditAction{
	AuditRegisterAccepted,
	AuditRegisterDenied,
	AuditRegisterRejected,
	AuditAuthRejected,
	AuditCommandExecuted,
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        string         // UUID v4
	AppID     string         // app the entry is about; may be unparsed client input
	AppName   string         // display name when known
	Action    AuditAction    // what happened
	Status    int            // HTTP status returned to the app
	Remote    string         // remote address of the request
	Timestamp time.Time      // when it happened
	Detail    map[string]any // additional context (max 64KB JSON)
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	Since  *time.Time   // entries at or after this time
	Until  *time.Time   // entries at or before this time
	AppID  *string      // filter by app
	Action *AuditAction // filter by action type
	Limit  int          // max results (default 100, max 1000)
}

// AuditLog records and lists audit entries.
type AuditLog interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}
