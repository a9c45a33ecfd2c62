package maintain

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/francoislaurent/syncacre/naming"
	"github.com/francoislaurent/syncacre/relay"
	"github.com/francoislaurent/syncacre/relay/disk"
)

func newDiskAdapter(t *testing.T) relay.Adapter {
	t.Helper()
	a, err := disk.New(context.Background(), &relay.Opts{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("disk.New: %v", err)
	}
	return a
}

func TestMigrateFastCopiesAllBlobs(t *testing.T) {
	ctx := context.Background()
	src, dst := newDiskAdapter(t), newDiskAdapter(t)

	esc := naming.NewEscaper("")
	name := naming.RelayName(esc, naming.LogicalPath("a.txt"), naming.Payload, "", "")
	if err := src.Put(ctx, name, []byte("hello")); err != nil {
		t.Fatal(err)
	}

	if err := Migrate(ctx, src, dst, MigrateOpts{Mode: Fast}); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	got, err := dst.Get(ctx, name)
	if err != nil {
		t.Fatalf("dst.Get: %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Errorf("got %q, want hello", got)
	}
}

func TestMigrateSafeAcquiresLocksForPayloads(t *testing.T) {
	ctx := context.Background()
	src, dst := newDiskAdapter(t), newDiskAdapter(t)

	esc := naming.NewEscaper("")
	payloadName := naming.RelayName(esc, naming.LogicalPath("a.txt"), naming.Payload, "", "")
	placeholderName := naming.RelayName(esc, naming.LogicalPath("a.txt"), naming.Placeholder, "", "")
	if err := src.Put(ctx, payloadName, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := src.Put(ctx, placeholderName, []byte("sender=alice\nversion=1\ndigest=abc\ntimestamp=2024-01-01T00:00:00Z\nflags=\n")); err != nil {
		t.Fatal(err)
	}

	opts := MigrateOpts{
		Mode:       Safe,
		Escaper:    esc,
		LockTTL:    time.Minute,
		LockSettle: time.Millisecond,
		Pseudonym:  "migrator",
	}
	if err := Migrate(ctx, src, dst, opts); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	if got, err := dst.Get(ctx, payloadName); err != nil || !bytes.Equal(got, []byte("hello")) {
		t.Errorf("payload not migrated: %v %q", err, got)
	}
	if _, err := dst.Get(ctx, placeholderName); err != nil {
		t.Errorf("placeholder not migrated: %v", err)
	}

	// The lock must have been released after the copy, not left behind.
	lockName := naming.RelayName(esc, naming.LogicalPath("a.txt"), naming.Lock, "", "")
	if _, err := src.Get(ctx, lockName); err == nil {
		t.Errorf("expected lock to be released on src after migration")
	}
}
