package settings

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) (*Store, string, string) {
	t.Helper()
	root := t.TempDir()
	path := filepath.Join(root, "bot_settings.json")
	lockRoot := filepath.Join(root, ".fslocks")
	store, err := NewStore(path, lockRoot)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store, path, lockRoot
}

func TestSnapshotColdStart(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore(t)
	snap, err := store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.Password != "" {
		t.Fatalf("Snapshot() password = %q, want empty", snap.Password)
	}
	if len(snap.AllowedUsers) != 0 {
		t.Fatalf("Snapshot() allowed users = %v, want none", snap.AllowedUsers)
	}
}

func TestAllowListGrantRevokeIdempotent(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.AddAllowedUser(ctx, 42); err != nil {
		t.Fatalf("AddAllowedUser() error = %v", err)
	}
	if err := store.AddAllowedUser(ctx, 42); err != nil {
		t.Fatalf("AddAllowedUser() repeat error = %v", err)
	}
	snap, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(snap.AllowedUsers) != 1 || !snap.IsAllowed(42) {
		t.Fatalf("allowed users = %v, want exactly [42]", snap.AllowedUsers)
	}

	if err := store.RemoveAllowedUser(ctx, 42); err != nil {
		t.Fatalf("RemoveAllowedUser() error = %v", err)
	}
	if err := store.RemoveAllowedUser(ctx, 42); err != nil {
		t.Fatalf("RemoveAllowedUser() repeat error = %v", err)
	}
	snap, err = store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.IsAllowed(42) {
		t.Fatalf("user 42 still allowed after revoke")
	}
}

func TestSubscriptionsIndependentOfAllowList(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.SetSubscription(ctx, 7, ChannelLoud, true); err != nil {
		t.Fatalf("SetSubscription(loud) error = %v", err)
	}
	if err := store.SetSubscription(ctx, 7, ChannelSilent, true); err != nil {
		t.Fatalf("SetSubscription(silent) error = %v", err)
	}
	snap, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.IsAllowed(7) {
		t.Fatalf("subscription must not imply allow-list membership")
	}
	if !snap.IsSubscribed(7, ChannelLoud) || !snap.IsSubscribed(7, ChannelSilent) {
		t.Fatalf("user 7 missing from subscriptions: %+v", snap)
	}

	if err := store.SetSubscription(ctx, 7, ChannelLoud, false); err != nil {
		t.Fatalf("SetSubscription(loud off) error = %v", err)
	}
	snap, err = store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.IsSubscribed(7, ChannelLoud) {
		t.Fatalf("loud subscription still present after disable")
	}
	if !snap.IsSubscribed(7, ChannelSilent) {
		t.Fatalf("silent subscription lost by loud toggle")
	}
}

func TestSecondStoreSeesLatestWrite(t *testing.T) {
	t.Parallel()

	store, path, lockRoot := newTestStore(t)
	ctx := context.Background()

	if err := store.SetPassword(ctx, "hunter2"); err != nil {
		t.Fatalf("SetPassword() error = %v", err)
	}

	// Stands in for a second process sharing the same file.
	other, err := NewStore(path, lockRoot)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	snap, err := other.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.Password != "hunter2" {
		t.Fatalf("Snapshot() password = %q, want %q", snap.Password, "hunter2")
	}
}

func TestParseChannel(t *testing.T) {
	t.Parallel()

	if _, err := ParseChannel("notifications_loud"); err != nil {
		t.Fatalf("ParseChannel(loud) error = %v", err)
	}
	if _, err := ParseChannel("notifications_silent"); err != nil {
		t.Fatalf("ParseChannel(silent) error = %v", err)
	}
	if _, err := ParseChannel("email"); err == nil {
		t.Fatalf("ParseChannel(email) expected error")
	}
}
