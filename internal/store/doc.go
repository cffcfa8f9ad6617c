// Package store provides the gateway's audit trail using SQLite.
//
// Every registration decision (accepted, denied, rejected), every rejected
// authentication and every executed recording command is appended to the
// audit_log table. The registry file remains the only source of truth for
// which apps exist; the audit log is a record of what the gateway decided.
//
// # SQLite Configuration
//
// The store uses modernc.org/sqlite (pure Go, no cgo) with WAL mode:
//
//	PRAGMA journal_mode=WAL;
//
// Database file locations:
//
//   - Default: $XDG_DATA_HOME/recorder-gateway/audit.db
//   - Testing: a file under t.TempDir() or :memory:
//
// Timestamps are stored as fixed-width UTC strings so they sort in time order.
//
// # Error Handling
//
// Callers log audit failures and carry on; a failed audit write never changes
// the response an app receives.
package store
