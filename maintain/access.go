package maintain

import (
	"context"
	"time"

	"github.com/francoislaurent/syncacre/errors"
	"github.com/francoislaurent/syncacre/index"
	"github.com/francoislaurent/syncacre/naming"
	"github.com/francoislaurent/syncacre/protocol"
)

// SetAccess changes the local index's access mode for p and, if peers
// is non-empty, notifies each of them with a KindAccessChange message
// (§4.5, §9). Nothing in this module reads KindAccessChange messages
// back; a peer's worker gates a path on its own index entry.
func SetAccess(ctx context.Context, idx *index.Index, mb *protocol.Mailbox, p naming.LogicalPath, mode index.AccessMode, peers []string) error {
	const op = "maintain.SetAccess"

	entry, _, err := idx.Get(p)
	if err != nil {
		return errors.E(op, string(p), err)
	}
	entry.Access = mode
	if err := idx.Put(p, entry); err != nil {
		return errors.E(op, string(p), err)
	}

	for _, peer := range peers {
		m := protocol.Message{
			Kind:      protocol.KindAccessChange,
			From:      mb.Pseudonym,
			To:        peer,
			Body:      formatAccessMode(mode),
			Timestamp: time.Now(),
		}
		if err := mb.Send(ctx, p, m); err != nil {
			return errors.E(op, string(p), errors.RelayTransient, err)
		}
	}
	return nil
}

// Grant sends an access-grant message to requester for p, the handshake
// a Gated AccessFlag waits on before a scheduler worker will pull or
// push across the gate (§9).
func Grant(ctx context.Context, mb *protocol.Mailbox, p naming.LogicalPath, requester string) error {
	const op = "maintain.Grant"
	m := protocol.Message{
		Kind:      protocol.KindAccessGrant,
		From:      mb.Pseudonym,
		To:        requester,
		Timestamp: time.Now(),
	}
	if err := mb.Send(ctx, p, m); err != nil {
		return errors.E(op, string(p), errors.RelayTransient, err)
	}
	return nil
}

func formatAccessMode(mode index.AccessMode) string {
	return accessFlagSymbol(mode.Read) + accessFlagSymbol(mode.Write)
}

func accessFlagSymbol(f index.AccessFlag) string {
	switch f {
	case index.Denied:
		return "-"
	case index.Gated:
		return "?"
	default:
		return ""
	}
}
