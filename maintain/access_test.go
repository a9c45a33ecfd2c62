package maintain

import (
	"context"
	"testing"

	"github.com/francoislaurent/syncacre/index"
	"github.com/francoislaurent/syncacre/naming"
	"github.com/francoislaurent/syncacre/protocol"
)

func TestSetAccessUpdatesIndexAndNotifiesPeers(t *testing.T) {
	ctx := context.Background()
	adapter := newDiskAdapter(t)
	esc := naming.NewEscaper("")
	mb := &protocol.Mailbox{Adapter: adapter, Escaper: esc, Pseudonym: "alice"}

	idx, err := index.OpenMemory()
	if err != nil {
		t.Fatalf("index.OpenMemory: %v", err)
	}
	defer idx.Close()

	p := naming.LogicalPath("secret.txt")
	mode := index.AccessMode{Read: index.Gated, Write: index.Denied}
	if err := SetAccess(ctx, idx, mb, p, mode, []string{"bob"}); err != nil {
		t.Fatalf("SetAccess: %v", err)
	}

	entry, ok, err := idx.Get(p)
	if err != nil || !ok {
		t.Fatalf("index entry missing after SetAccess: ok=%v err=%v", ok, err)
	}
	if entry.Access != mode {
		t.Errorf("entry.Access = %+v, want %+v", entry.Access, mode)
	}

	bobMailbox := &protocol.Mailbox{Adapter: adapter, Escaper: esc, Pseudonym: "bob"}
	m, ok, err := bobMailbox.Poll(ctx, p)
	if err != nil || !ok {
		t.Fatalf("expected bob to have received an access-change message: ok=%v err=%v", ok, err)
	}
	if m.Kind != protocol.KindAccessChange {
		t.Errorf("kind = %v, want KindAccessChange", m.Kind)
	}
}

func TestGrantSendsAccessGrantMessage(t *testing.T) {
	ctx := context.Background()
	adapter := newDiskAdapter(t)
	esc := naming.NewEscaper("")
	mb := &protocol.Mailbox{Adapter: adapter, Escaper: esc, Pseudonym: "alice"}
	p := naming.LogicalPath("gated.txt")

	if err := Grant(ctx, mb, p, "bob"); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	bobMailbox := &protocol.Mailbox{Adapter: adapter, Escaper: esc, Pseudonym: "bob"}
	m, ok, err := bobMailbox.Poll(ctx, p)
	if err != nil || !ok {
		t.Fatalf("expected bob to have received a grant: ok=%v err=%v", ok, err)
	}
	if m.Kind != protocol.KindAccessGrant {
		t.Errorf("kind = %v, want KindAccessGrant", m.Kind)
	}
}
