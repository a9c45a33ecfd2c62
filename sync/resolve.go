package sync

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/francoislaurent/syncacre/errors"
	"github.com/francoislaurent/syncacre/frame"
	"github.com/francoislaurent/syncacre/naming"
	"github.com/francoislaurent/syncacre/protocol"
)

// sidecarPath builds the conflict-preserving local file name of §6:
// "P.conflict-<timestamp>-<pseudonym>", next to the canonical path.
func sidecarPath(fullPath string, ts time.Time, pseudonym string) string {
	return fmt.Sprintf("%s.conflict-%d-%s", fullPath, ts.UTC().Unix(), pseudonym)
}

// ResolveConflict carries out the ConflictAction of §4.6 for p, where
// both the local file and the relay placeholder advertise a version
// newer than what either side last agreed on. localData is the local
// file's current contents; ph is the placeholder observed during the
// scan.
func (e *Engine) ResolveConflict(ctx context.Context, p naming.LogicalPath, localData []byte, ph protocol.Placeholder) error {
	switch e.Strategy {
	case Reject:
		return errors.E("sync.Engine.ResolveConflict", string(p), errors.ConflictError,
			errors.Str("concurrent edit; left for next scan"))
	case PullFirst:
		return e.pullIntoSidecar(ctx, p, ph)
	default: // NewerWins
		return e.resolveNewerWins(ctx, p, localData, ph)
	}
}

// resolveDeletionConflict handles a tombstone arriving for a path whose
// local copy has independently diverged from the last synced digest: the
// tombstone is treated like any other conflicting remote version, per
// the same configured strategy (§4.6 "deletion propagation").
func (e *Engine) resolveDeletionConflict(ctx context.Context, p naming.LogicalPath, ph protocol.Placeholder) error {
	switch e.Strategy {
	case Reject:
		return errors.E("sync.Engine.resolveDeletionConflict", string(p), errors.ConflictError,
			errors.Str("local edit raced a remote deletion; left for next scan"))
	case PullFirst:
		// Nothing to pull (the payload is gone); preserve the local
		// file untouched and let the user reconcile.
		return nil
	default: // NewerWins: local survives a race against a deletion.
		data, err := os.ReadFile(e.localPath(p))
		if err != nil {
			return errors.E("sync.Engine.resolveDeletionConflict", string(p), errors.LocalIOError, err)
		}
		return e.Push(ctx, p, data)
	}
}

// pullIntoSidecar fetches the current remote payload into a conflict
// sidecar without touching the canonical local file, per the
// "pull-first" strategy.
func (e *Engine) pullIntoSidecar(ctx context.Context, p naming.LogicalPath, ph protocol.Placeholder) error {
	const op = "sync.Engine.pullIntoSidecar"
	if ph.IsTombstone() {
		return nil
	}
	name, err := e.payloadName(p)
	if err != nil {
		return errors.E(op, string(p), err)
	}
	framed, err := e.Adapter.Get(ctx, name)
	if err != nil {
		return errors.E(op, string(p), errors.RelayTransient, err)
	}
	plaintext, err := frame.Unframe(framed, e.Frame.Key)
	if err != nil {
		e.quarantine(p, framed)
		return errors.E(op, string(p), errors.IntegrityError, err)
	}
	side := sidecarPath(e.localPath(p), ph.Timestamp, ph.Sender)
	return writeLocalAtomic(side, plaintext)
}

// resolveNewerWins implements the "newer-wins by mtime" strategy: the
// later local mtime is canonical; the loser's content is preserved as a
// sidecar (§4.6, §8 scenario 2).
func (e *Engine) resolveNewerWins(ctx context.Context, p naming.LogicalPath, localData []byte, ph protocol.Placeholder) error {
	const op = "sync.Engine.resolveNewerWins"
	localMtime, err := statLocal(e.localPath(p))
	if err != nil {
		return err
	}

	if localMtime.After(ph.Timestamp) {
		// Local wins: save the remote's current content as a sidecar
		// before overwriting it with a push.
		if name, nerr := e.payloadName(p); nerr == nil && !ph.IsTombstone() {
			framed, gerr := e.Adapter.Get(ctx, name)
			if gerr == nil {
				if plaintext, uerr := frame.Unframe(framed, e.Frame.Key); uerr == nil {
					side := sidecarPath(e.localPath(p), ph.Timestamp, ph.Sender)
					_ = writeLocalAtomic(side, plaintext)
				}
			}
		}
		return e.Push(ctx, p, localData)
	}

	// Remote wins: save the local content as a sidecar, then pull the
	// remote payload into the canonical path.
	side := sidecarPath(e.localPath(p), localMtime, e.Pseudonym)
	if err := writeLocalAtomic(side, localData); err != nil {
		return errors.E(op, string(p), err)
	}
	return e.Pull(ctx, p, ph)
}
