// ABOUTME: Tests for audit log store operations
// ABOUTME: Covers Append and List with filtering for the audit_log table

package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditStore_Append(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	entry := &AuditEntry{
		AppID:   "98704291-09e9-40f2-8476-064521fadaff",
		AppName: "Stream Deck",
		Action:  AuditRegisterAccepted,
		Status:  200,
		Remote:  "127.0.0.1:50000",
		Detail:  map[string]any{"consent": "accept"},
	}

	err := store.AppendAuditLog(ctx, entry)
	require.NoError(t, err)

	// Should have generated ID and timestamp
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.Timestamp.IsZero())

	entries, err := store.ListAuditLog(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	got := entries[0]
	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, "Stream Deck", got.AppName)
	assert.Equal(t, 200, got.Status)
	assert.Equal(t, "127.0.0.1:50000", got.Remote)
	assert.Equal(t, "accept", got.Detail["consent"])
	assert.WithinDuration(t, entry.Timestamp, got.Timestamp, time.Microsecond)
}

func TestAuditStore_Append_RejectsUnknownAction(t *testing.T) {
	store := setupTestStore(t)

	err := store.AppendAuditLog(context.Background(), &AuditEntry{AppID: "x", Action: "delete_everything"})
	assert.Error(t, err)
}

func TestAuditStore_Append_DetailTooLarge(t *testing.T) {
	store := setupTestStore(t)

	err := store.AppendAuditLog(context.Background(), &AuditEntry{
		AppID:  "x",
		Action: AuditAuthRejected,
		Detail: map[string]any{"blob": strings.Repeat("a", maxDetailSize)},
	})
	assert.Error(t, err)
}

func TestAuditStore_List_NoFilter(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	// Append multiple entries
	for i, action := range []AuditAction{AuditRegisterAccepted, AuditAuthRejected, AuditCommandExecuted} {
		entry := &AuditEntry{
			AppID:     generateTestID("app", i),
			Action:    action,
			Status:    200,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, store.AppendAuditLog(ctx, entry))
	}

	entries, err := store.ListAuditLog(ctx, AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	// Should be newest first
	assert.Equal(t, AuditCommandExecuted, entries[0].Action)
	assert.Equal(t, AuditRegisterAccepted, entries[2].Action)
}

func TestAuditStore_List_SameTimestampNewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	ts := time.Now().UTC()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.AppendAuditLog(ctx, &AuditEntry{
			AppID:     generateTestID("app", i),
			Action:    AuditAuthRejected,
			Timestamp: ts,
		}))
	}

	entries, err := store.ListAuditLog(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "app-2", entries[0].AppID)
	assert.Equal(t, "app-0", entries[2].AppID)
}

func TestAuditStore_List_BySinceUntil(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendAuditLog(ctx, &AuditEntry{
			AppID:     generateTestID("app", i),
			Action:    AuditCommandExecuted,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	since := base.Add(1 * time.Hour)
	until := base.Add(3 * time.Hour)
	entries, err := store.ListAuditLog(ctx, AuditFilter{Since: &since, Until: &until})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "app-3", entries[0].AppID)
	assert.Equal(t, "app-1", entries[2].AppID)
}

func TestAuditStore_List_ByAppAndAction(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendAuditLog(ctx, &AuditEntry{AppID: "a", Action: AuditRegisterAccepted}))
	require.NoError(t, store.AppendAuditLog(ctx, &AuditEntry{AppID: "a", Action: AuditCommandExecuted}))
	require.NoError(t, store.AppendAuditLog(ctx, &AuditEntry{AppID: "b", Action: AuditCommandExecuted}))

	appID := "a"
	entries, err := store.ListAuditLog(ctx, AuditFilter{AppID: &appID})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	action := AuditCommandExecuted
	entries, err = store.ListAuditLog(ctx, AuditFilter{AppID: &appID, Action: &action})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].AppID)
}

func TestAuditStore_List_Empty(t *testing.T) {
	store := setupTestStore(t)

	entries, err := store.ListAuditLog(context.Background(), AuditFilter{})
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestAuditStore_List_Limit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendAuditLog(ctx, &AuditEntry{AppID: generateTestID("app", i), Action: AuditAuthRejected}))
	}

	entries, err := store.ListAuditLog(ctx, AuditFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestNormalizeAuditLimit(t *testing.T) {
	assert.Equal(t, 100, normalizeAuditLimit(0))
	assert.Equal(t, 100, normalizeAuditLimit(-5))
	assert.Equal(t, 50, normalizeAuditLimit(50))
	assert.Equal(t, 1000, normalizeAuditLimit(5000))
}
