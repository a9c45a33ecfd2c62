package protocol

import (
	"context"
	"testing"
	"time"

	"github.com/francoislaurent/syncacre/naming"
)

func TestMailboxSendPollConsume(t *testing.T) {
	ctx := context.Background()
	a := newAdapter(t)
	esc := naming.NewEscaper("")
	p := naming.LogicalPath("secret.txt")

	sender := &Mailbox{Adapter: a, Escaper: esc, Pseudonym: "alice"}
	receiver := &Mailbox{Adapter: a, Escaper: esc, Pseudonym: "bob"}

	m := Message{Kind: KindAccessGrant, From: "alice", To: "bob", Body: "granted", Timestamp: time.Now()}
	if err := sender.Send(ctx, p, m); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, ok, err := receiver.Poll(ctx, p)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !ok {
		t.Fatal("Poll found no message")
	}
	if got.Kind != KindAccessGrant || got.From != "alice" || got.Body != "granted" {
		t.Errorf("Poll result = %+v", got)
	}

	if err := receiver.Consume(ctx, p); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	_, ok, err = receiver.Poll(ctx, p)
	if err != nil {
		t.Fatalf("Poll after Consume: %v", err)
	}
	if ok {
		t.Error("message still present after Consume")
	}
}

func TestGrantPresentRequiresYoungerThanPlaceholder(t *testing.T) {
	ctx := context.Background()
	a := newAdapter(t)
	esc := naming.NewEscaper("")
	p := naming.LogicalPath("secret.txt")

	ph := Placeholder{Sender: "alice", Version: 1, Digest: "ab", Timestamp: time.Now()}

	mb := &Mailbox{Adapter: a, Escaper: esc, Pseudonym: "bob"}
	present, err := GrantPresent(ctx, mb, p, ph)
	if err != nil {
		t.Fatalf("GrantPresent (no message): %v", err)
	}
	if present {
		t.Fatal("GrantPresent = true with no message sent")
	}

	old := Message{Kind: KindAccessGrant, From: "alice", To: "bob", Timestamp: ph.Timestamp.Add(-time.Hour)}
	if err := mb.Send(ctx, p, old); err != nil {
		t.Fatalf("Send old grant: %v", err)
	}
	present, err = GrantPresent(ctx, mb, p, ph)
	if err != nil {
		t.Fatalf("GrantPresent (stale grant): %v", err)
	}
	if present {
		t.Fatal("GrantPresent = true for a grant older than the placeholder")
	}

	fresh := Message{Kind: KindAccessGrant, From: "alice", To: "bob", Timestamp: ph.Timestamp.Add(time.Hour)}
	if err := mb.Send(ctx, p, fresh); err != nil {
		t.Fatalf("Send fresh grant: %v", err)
	}
	present, err = GrantPresent(ctx, mb, p, ph)
	if err != nil {
		t.Fatalf("GrantPresent (fresh grant): %v", err)
	}
	if !present {
		t.Fatal("GrantPresent = false for a grant younger than the placeholder")
	}
}
