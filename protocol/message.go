package protocol

import (
	"context"
	"strings"
	"time"

	"github.com/francoislaurent/syncacre/errors"
	"github.com/francoislaurent/syncacre/naming"
	"github.com/francoislaurent/syncacre/relay"
)

// MessageKind distinguishes the addressed-message purposes this protocol
// carries: C8 maintenance notices and access-gate grants (§4.3, §9).
type MessageKind string

const (
	KindAccessGrant   MessageKind = "access-grant"
	KindAccessChange  MessageKind = "access-change"
	KindAccessRequest MessageKind = "access-request"
)

// Message is a small addressed blob a recipient consumes on its next
// scan and deletes after applying. Messages are idempotent in payload;
// repeated delivery is harmless (§4.3).
type Message struct {
	Kind      MessageKind
	From      string
	To        string
	Path      naming.LogicalPath
	Body      string
	Timestamp time.Time
}

// Mailbox reads, writes, and consumes addressed message blobs for one
// recipient pseudonym on a relay.Adapter.
type Mailbox struct {
	Adapter   relay.Adapter
	Escaper   *naming.Escaper
	Pseudonym string
	MaxLen    int
	Buckets   naming.BucketIndex
}

// Send addresses a message to m.To for LogicalPath p.
func (mb *Mailbox) Send(ctx context.Context, p naming.LogicalPath, m Message) error {
	const op = "protocol.Mailbox.Send"
	name, err := naming.BoundName(mb.Buckets, mb.Escaper, mb.MaxLen, p, naming.Message, m.To, "")
	if err != nil {
		return errors.E(op, string(p), err)
	}
	if err := mb.Adapter.Put(ctx, name, formatMessage(m)); err != nil {
		return errors.E(op, string(p), errors.RelayTransient, err)
	}
	return nil
}

// Poll checks for a message addressed to this mailbox's pseudonym for p.
// It returns (Message{}, false, nil) if none is present.
func (mb *Mailbox) Poll(ctx context.Context, p naming.LogicalPath) (Message, bool, error) {
	const op = "protocol.Mailbox.Poll"
	name, err := naming.BoundName(mb.Buckets, mb.Escaper, mb.MaxLen, p, naming.Message, mb.Pseudonym, "")
	if err != nil {
		return Message{}, false, errors.E(op, string(p), err)
	}
	data, err := mb.Adapter.Get(ctx, name)
	if err != nil {
		if errors.Is(errors.NotExist, err) {
			return Message{}, false, nil
		}
		return Message{}, false, errors.E(op, string(p), errors.RelayTransient, err)
	}
	m, err := parseMessage(data)
	if err != nil {
		return Message{}, false, errors.E(op, string(p), errors.Syntax, err)
	}
	m.Path = p
	m.To = mb.Pseudonym
	return m, true, nil
}

// Consume deletes the message for p addressed to this mailbox's
// pseudonym, after it has been applied.
func (mb *Mailbox) Consume(ctx context.Context, p naming.LogicalPath) error {
	const op = "protocol.Mailbox.Consume"
	name, err := naming.BoundName(mb.Buckets, mb.Escaper, mb.MaxLen, p, naming.Message, mb.Pseudonym, "")
	if err != nil {
		return errors.E(op, string(p), err)
	}
	if err := mb.Adapter.Delete(ctx, name); err != nil {
		return errors.E(op, string(p), errors.RelayTransient, err)
	}
	return nil
}

// GrantPresent reports whether an access-grant message addressed to
// requester is present for p and younger than the placeholder's
// timestamp, the §9 Open Question resolution for r?/w? gating.
func GrantPresent(ctx context.Context, mb *Mailbox, p naming.LogicalPath, ph Placeholder) (bool, error) {
	m, ok, err := mb.Poll(ctx, p)
	if err != nil || !ok {
		return false, err
	}
	if m.Kind != KindAccessGrant {
		return false, nil
	}
	return m.Timestamp.After(ph.Timestamp), nil
}

func formatMessage(m Message) []byte {
	var b strings.Builder
	b.WriteString("kind=")
	b.WriteString(escapeValue(string(m.Kind)))
	b.WriteString("\nfrom=")
	b.WriteString(escapeValue(m.From))
	b.WriteString("\nbody=")
	b.WriteString(escapeValue(m.Body))
	b.WriteString("\ntimestamp=")
	b.WriteString(m.Timestamp.UTC().Format(time.RFC3339Nano))
	b.WriteString("\n")
	return []byte(b.String())
}

func parseMessage(data []byte) (Message, error) {
	fields := parseHeader(data)
	var m Message
	m.Kind = MessageKind(fields["kind"])
	m.From = fields["from"]
	m.Body = fields["body"]
	if ts, ok := fields["timestamp"]; ok {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return Message{}, errors.Errorf("invalid timestamp field: %v", err)
		}
		m.Timestamp = t
	}
	return m, nil
}
