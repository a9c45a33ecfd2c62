package sync

import (
	"context"
	"os"

	"github.com/francoislaurent/syncacre/errors"
	"github.com/francoislaurent/syncacre/naming"
	"github.com/francoislaurent/syncacre/protocol"
)

// ApplyDeletion carries out the RecordDeletion action of §4.6: a peer
// advertised a tombstone for p. If the local file's hash still matches the
// digest we last synced, it is a clean propagated deletion and the local
// copy is removed; otherwise the local copy was independently edited
// and the configured conflict strategy decides what survives (§4.6
// "deletion propagation").
func (e *Engine) ApplyDeletion(ctx context.Context, p naming.LogicalPath, ph protocol.Placeholder) error {
	const op = "sync.Engine.ApplyDeletion"

	entry, hadEntry, err := e.Index.Get(p)
	if err != nil {
		return errors.E(op, string(p), err)
	}

	localDigest, _, exists, err := localDigest(e.localPath(p))
	if err != nil {
		return errors.E(op, string(p), err)
	}

	clean := !exists || (hadEntry && localDigest == entry.LocalDigest)
	if clean {
		if exists {
			if err := os.Remove(e.localPath(p)); err != nil && !os.IsNotExist(err) {
				return errors.E(op, string(p), errors.LocalIOError, err)
			}
		}
		if err := e.Index.Delete(p); err != nil {
			return errors.E(op, string(p), err)
		}
		return nil
	}

	// The local copy diverged from what we last synced while the
	// upstream tombstone arrived: resolve per the configured strategy
	// instead of silently destroying local edits.
	return e.resolveDeletionConflict(ctx, p, ph)
}
