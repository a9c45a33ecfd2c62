package protocol

import (
	"context"
	"testing"
	"time"

	"github.com/francoislaurent/syncacre/errors"
	"github.com/francoislaurent/syncacre/naming"
	"github.com/francoislaurent/syncacre/relay"
	"github.com/francoislaurent/syncacre/relay/disk"
)

func newAdapter(t *testing.T) relay.Adapter {
	t.Helper()
	a, err := disk.New(context.Background(), &relay.Opts{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("disk.New: %v", err)
	}
	return a
}

func TestLockAcquireRelease(t *testing.T) {
	ctx := context.Background()
	esc := naming.NewEscaper("")
	l := &Lock{Adapter: newAdapter(t), Escaper: esc, Settle: time.Millisecond, TTL: time.Minute, Pseudonym: "alice"}
	p := naming.LogicalPath("docs/a.txt")

	h, err := l.Acquire(ctx, p)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Release(ctx, h); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestLockBusyWhenHeldByOther(t *testing.T) {
	ctx := context.Background()
	a := newAdapter(t)
	esc := naming.NewEscaper("")
	p := naming.LogicalPath("docs/a.txt")

	owner := &Lock{Adapter: a, Escaper: esc, Settle: time.Millisecond, TTL: time.Minute, Pseudonym: "alice"}
	h, err := owner.Acquire(ctx, p)
	if err != nil {
		t.Fatalf("owner Acquire: %v", err)
	}
	defer owner.Release(ctx, h)

	contender := &Lock{Adapter: a, Escaper: esc, Settle: time.Millisecond, TTL: time.Minute, Pseudonym: "bob"}
	_, err = contender.Acquire(ctx, p)
	if !errors.Is(errors.Busy, err) {
		t.Fatalf("contender Acquire = %v, want Busy", err)
	}
}

func TestLockStaleIsReclaimed(t *testing.T) {
	ctx := context.Background()
	a := newAdapter(t)
	esc := naming.NewEscaper("")
	p := naming.LogicalPath("docs/a.txt")

	owner := &Lock{Adapter: a, Escaper: esc, Settle: time.Millisecond, TTL: time.Millisecond, Pseudonym: "alice"}
	h, err := owner.Acquire(ctx, p)
	if err != nil {
		t.Fatalf("owner Acquire: %v", err)
	}
	_ = h // owner "crashes" without releasing.

	time.Sleep(5 * time.Millisecond)

	contender := &Lock{Adapter: a, Escaper: esc, Settle: time.Millisecond, TTL: time.Millisecond, Pseudonym: "bob"}
	h2, err := contender.Acquire(ctx, p)
	if err != nil {
		t.Fatalf("contender Acquire on stale lock: %v", err)
	}
	if err := contender.Release(ctx, h2); err != nil {
		t.Fatalf("Release: %v", err)
	}
}
