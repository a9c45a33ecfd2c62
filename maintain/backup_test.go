package maintain

import (
	"bytes"
	"context"
	"testing"

	"github.com/francoislaurent/syncacre/naming"
)

func TestBackupRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newDiskAdapter(t)

	esc := naming.NewEscaper("")
	names := []string{
		naming.RelayName(esc, naming.LogicalPath("a.txt"), naming.Payload, "", ""),
		naming.RelayName(esc, naming.LogicalPath("dir/b.txt"), naming.Payload, "", ""),
	}
	for i, n := range names {
		if err := src.Put(ctx, n, []byte("content-"+string(rune('0'+i)))); err != nil {
			t.Fatal(err)
		}
	}

	var buf bytes.Buffer
	if err := Backup(ctx, src, &buf); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	dst := newDiskAdapter(t)
	if err := Restore(ctx, dst, &buf); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	for i, n := range names {
		got, err := dst.Get(ctx, n)
		if err != nil {
			t.Fatalf("dst.Get(%q): %v", n, err)
		}
		want := "content-" + string(rune('0'+i))
		if string(got) != want {
			t.Errorf("blob %q = %q, want %q", n, got, want)
		}
	}
}
