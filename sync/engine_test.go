package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/francoislaurent/syncacre/errors"
	"github.com/francoislaurent/syncacre/index"
	"github.com/francoislaurent/syncacre/naming"
	"github.com/francoislaurent/syncacre/protocol"
	"github.com/francoislaurent/syncacre/relay"
	"github.com/francoislaurent/syncacre/relay/disk"
)

func TestDecideTable(t *testing.T) {
	cases := []struct {
		local  LocalState
		remote RemoteState
		owner  bool
		want   Action
	}{
		{LocalAbsent, RemoteAbsent, false, Skip},
		{LocalAbsent, RemotePresentNew, false, Pull},
		{LocalAbsent, RemoteConsumed, false, RecordDeletion},
		{LocalNew, RemoteAbsent, false, Push},
		{LocalNew, RemotePresentNew, false, ConflictAction},
		{LocalModified, RemotePresentSame, false, Push},
		{LocalModified, RemotePresentNew, false, ConflictAction},
		{LocalUnchanged, RemotePresentNew, false, Pull},
		{LocalUnchanged, RemoteConsumed, true, Push},
		{LocalUnchanged, RemoteConsumed, false, RecordDeletion},
	}
	for _, c := range cases {
		if got := Decide(c.local, c.remote, c.owner); got != c.want {
			t.Errorf("Decide(%v, %v, %v) = %v, want %v", c.local, c.remote, c.owner, got, c.want)
		}
	}
}

func newEngine(t *testing.T, root string, pseudonym string) (*Engine, relay.Adapter) {
	t.Helper()
	a, err := disk.New(context.Background(), &relay.Opts{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("disk.New: %v", err)
	}
	esc := naming.NewEscaper("")
	idx, err := index.OpenMemory()
	if err != nil {
		t.Fatalf("index.OpenMemory: %v", err)
	}
	e := &Engine{
		Adapter:      a,
		Escaper:      esc,
		Placeholders: &protocol.Store{Adapter: a, Escaper: esc},
		Locks:        &protocol.Lock{Adapter: a, Escaper: esc, Settle: time.Millisecond, TTL: time.Minute, Pseudonym: pseudonym},
		Mailbox:      &protocol.Mailbox{Adapter: a, Escaper: esc, Pseudonym: pseudonym},
		Index:        idx,
		Root:         root,
		Pseudonym:    pseudonym,
		Strategy:     NewerWins,
		Retention:    RetainHistory,
	}
	return e, a
}

func TestPushThenPullRoundTrip(t *testing.T) {
	ctx := context.Background()
	aRoot, bRoot := t.TempDir(), t.TempDir()

	a, adapter := newEngine(t, aRoot, "alice")
	b, _ := newEngine(t, bRoot, "bob")
	b.Adapter = adapter // same relay, separate local tree and index.
	b.Placeholders = &protocol.Store{Adapter: adapter, Escaper: a.Escaper}
	b.Locks = &protocol.Lock{Adapter: adapter, Escaper: a.Escaper, Settle: time.Millisecond, TTL: time.Minute, Pseudonym: "bob"}

	p := naming.LogicalPath("docs/a.txt")
	if err := os.MkdirAll(filepath.Join(aRoot, "docs"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(aRoot, "docs/a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := a.Push(ctx, p, []byte("hello")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	ph, err := b.Placeholders.Get(ctx, p)
	if err != nil {
		t.Fatalf("Placeholders.Get: %v", err)
	}
	if ph.Version != 1 {
		t.Fatalf("version = %d, want 1", ph.Version)
	}

	if err := b.Pull(ctx, p, ph); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(bRoot, "docs/a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Errorf("pulled content = %q, want %q", got, "hello")
	}
}

func TestPushIsIdempotent(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	a, _ := newEngine(t, root, "alice")
	p := naming.LogicalPath("f.txt")
	if err := os.WriteFile(filepath.Join(root, "f.txt"), []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := a.Push(ctx, p, []byte("v1")); err != nil {
		t.Fatalf("first Push: %v", err)
	}
	if err := a.Push(ctx, p, []byte("v1")); err != nil {
		t.Fatalf("idempotent Push: %v", err)
	}
	ph, err := a.Placeholders.Get(ctx, p)
	if err != nil {
		t.Fatalf("Placeholders.Get: %v", err)
	}
	if ph.Version != 1 {
		t.Errorf("version after repeated push = %d, want 1 (no-op)", ph.Version)
	}
}

func TestDeletionPropagation(t *testing.T) {
	ctx := context.Background()
	aRoot, bRoot := t.TempDir(), t.TempDir()
	a, adapter := newEngine(t, aRoot, "alice")
	b, _ := newEngine(t, bRoot, "bob")
	b.Adapter = adapter
	b.Placeholders = &protocol.Store{Adapter: adapter, Escaper: a.Escaper}
	b.Locks = &protocol.Lock{Adapter: adapter, Escaper: a.Escaper, Settle: time.Millisecond, TTL: time.Minute, Pseudonym: "bob"}

	p := naming.LogicalPath("old.log")
	if err := os.WriteFile(filepath.Join(aRoot, "old.log"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := a.Push(ctx, p, []byte("x")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	ph, _ := a.Placeholders.Get(ctx, p)
	if err := b.Pull(ctx, p, ph); err != nil {
		t.Fatalf("Pull: %v", err)
	}

	if err := a.PushDeletion(ctx, p); err != nil {
		t.Fatalf("PushDeletion: %v", err)
	}
	tomb, err := b.Placeholders.Get(ctx, p)
	if err != nil {
		t.Fatalf("Placeholders.Get tombstone: %v", err)
	}
	if !tomb.IsTombstone() {
		t.Fatal("expected tombstone placeholder")
	}

	if err := b.ApplyDeletion(ctx, p, tomb); err != nil {
		t.Fatalf("ApplyDeletion: %v", err)
	}
	if _, err := os.Stat(filepath.Join(bRoot, "old.log")); !os.IsNotExist(err) {
		t.Errorf("local file still present after deletion propagation")
	}
}

func TestApplyDeletionConflictWhenLocalDiverged(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	b, _ := newEngine(t, root, "bob")
	p := naming.LogicalPath("old.log")
	if err := os.WriteFile(filepath.Join(root, "old.log"), []byte("edited locally"), 0o644); err != nil {
		t.Fatal(err)
	}
	// No index entry recorded: the local file's digest can't match,
	// so the deletion must not silently destroy the local edit.
	ph := protocol.Placeholder{Sender: "alice", Version: 2, Digest: "", Timestamp: time.Now()}
	if err := b.ApplyDeletion(ctx, p, ph); err != nil {
		t.Fatalf("ApplyDeletion: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "old.log")); err != nil {
		t.Errorf("locally diverged file should survive under newer-wins: %v", err)
	}
}

func TestIntegrityErrorOnTamperedPayload(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	a, adapter := newEngine(t, root, "alice")
	p := naming.LogicalPath("f.txt")
	if err := os.WriteFile(filepath.Join(root, "f.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := a.Push(ctx, p, []byte("hello")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	ph, _ := a.Placeholders.Get(ctx, p)

	name := naming.RelayName(a.Escaper, p, naming.Payload, "", "")
	framed, err := adapter.Get(ctx, name)
	if err != nil {
		t.Fatal(err)
	}
	tampered := append([]byte(nil), framed...)
	tampered[len(tampered)-1] ^= 0xFF
	if err := adapter.Put(ctx, name, tampered); err != nil {
		t.Fatal(err)
	}

	b2Copy := *a
	b2 := &b2Copy
	b2.Root = t.TempDir()
	idx2, ierr := index.OpenMemory()
	if ierr != nil {
		t.Fatal(ierr)
	}
	b2.Index = idx2
	err = b2.Pull(ctx, p, ph)
	if !errors.Is(errors.IntegrityError, err) {
		t.Fatalf("Pull of tampered payload = %v, want IntegrityError", err)
	}
}
