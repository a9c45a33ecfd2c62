package config

import (
	"context"
	"testing"

	"github.com/francoislaurent/syncacre/relay"
	"github.com/francoislaurent/syncacre/relay/disk"
)

func newTestAdapter(t *testing.T) relay.Adapter {
	t.Helper()
	a, err := disk.New(context.Background(), &relay.Opts{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("disk.New: %v", err)
	}
	return a
}

func TestClaimIdentityFirstClaimSucceeds(t *testing.T) {
	a := newTestAdapter(t)
	if err := ClaimIdentity(context.Background(), a, "alice", "session-1"); err != nil {
		t.Fatalf("ClaimIdentity: %v", err)
	}
}

func TestClaimIdentityRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	if err := ClaimIdentity(ctx, a, "alice", "session-1"); err != nil {
		t.Fatalf("first ClaimIdentity: %v", err)
	}
	if err := ClaimIdentity(ctx, a, "alice", "session-2"); err == nil {
		t.Fatal("expected ConfigError for duplicate pseudonym claim")
	}
}

func TestClaimIdentitySameSessionRefreshes(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	if err := ClaimIdentity(ctx, a, "alice", "session-1"); err != nil {
		t.Fatalf("first ClaimIdentity: %v", err)
	}
	if err := ClaimIdentity(ctx, a, "alice", "session-1"); err != nil {
		t.Fatalf("re-claim with same session: %v", err)
	}
}
