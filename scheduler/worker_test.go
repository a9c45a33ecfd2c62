package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/francoislaurent/syncacre/index"
	"github.com/francoislaurent/syncacre/naming"
	"github.com/francoislaurent/syncacre/protocol"
	"github.com/francoislaurent/syncacre/relay"
	"github.com/francoislaurent/syncacre/relay/disk"
	"github.com/francoislaurent/syncacre/sync"
)

func newWorker(t *testing.T, adapter relay.Adapter, root, pseudonym string) *Worker {
	t.Helper()
	esc := naming.NewEscaper("")
	idx, err := index.OpenMemory()
	if err != nil {
		t.Fatalf("index.OpenMemory: %v", err)
	}
	engine := &sync.Engine{
		Adapter:      adapter,
		Escaper:      esc,
		Placeholders: &protocol.Store{Adapter: adapter, Escaper: esc},
		Locks:        &protocol.Lock{Adapter: adapter, Escaper: esc, Settle: time.Millisecond, TTL: time.Minute, Pseudonym: pseudonym},
		Mailbox:      &protocol.Mailbox{Adapter: adapter, Escaper: esc, Pseudonym: pseudonym},
		Index:        idx,
		Root:         root,
		Pseudonym:    pseudonym,
		Strategy:     sync.NewerWins,
		Retention:    sync.RetainHistory,
	}
	return &Worker{
		Engine:  engine,
		Adapter: adapter,
		Escaper: esc,
		Mailbox: engine.Mailbox,
		Index:   idx,
		Root:    root,
		Name:    pseudonym,
		Backoff: NewBackoff(time.Millisecond, time.Second),
	}
}

func TestScanPushesNewLocalFile(t *testing.T) {
	ctx := context.Background()
	adapter, err := disk.New(ctx, &relay.Opts{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("disk.New: %v", err)
	}
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	w := newWorker(t, adapter, root, "alice")

	if err := w.Scan(ctx); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	ph, err := w.Engine.Placeholders.Get(ctx, naming.LogicalPath("a.txt"))
	if err != nil {
		t.Fatalf("expected placeholder after scan pushed the new file: %v", err)
	}
	if ph.Version != 1 {
		t.Errorf("version = %d, want 1", ph.Version)
	}
}

func TestScanPullsFromPeer(t *testing.T) {
	ctx := context.Background()
	adapter, err := disk.New(ctx, &relay.Opts{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("disk.New: %v", err)
	}
	aRoot, bRoot := t.TempDir(), t.TempDir()
	a := newWorker(t, adapter, aRoot, "alice")
	b := newWorker(t, adapter, bRoot, "bob")

	if err := os.WriteFile(filepath.Join(aRoot, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := a.Scan(ctx); err != nil {
		t.Fatalf("A Scan: %v", err)
	}
	if err := b.Scan(ctx); err != nil {
		t.Fatalf("B Scan: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(bRoot, "a.txt"))
	if err != nil {
		t.Fatalf("expected B to have pulled a.txt: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("content = %q, want hello", got)
	}
}

func TestScanIsCancellable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	adapter, err := disk.New(context.Background(), &relay.Opts{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("disk.New: %v", err)
	}
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	w := newWorker(t, adapter, root, "alice")
	if err := w.Scan(ctx); err == nil {
		t.Fatal("expected Cancelled error from Scan on an already-cancelled context")
	}
}
