package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"time"

	"github.com/francoislaurent/syncacre/errors"
	"github.com/francoislaurent/syncacre/frame"
	"github.com/francoislaurent/syncacre/index"
	"github.com/francoislaurent/syncacre/naming"
)

// Push runs the §4.6 push sequence for p, holding its lock for the
// whole sequence. data is the local file's current contents.
func (e *Engine) Push(ctx context.Context, p naming.LogicalPath, data []byte) error {
	const op = "sync.Engine.Push"
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	return e.withLock(ctx, p, func() error {
		ph, err := e.Placeholders.Get(ctx, p)
		if err != nil && !errors.Is(errors.NotExist, err) {
			return errors.E(op, string(p), err)
		}
		if err == nil && ph.Digest == digest {
			// Idempotent: digest already matches the placeholder (P4).
			return e.recordPushed(p, data, digest, ph.Version)
		}

		framed, ferr := frame.Frame(data, e.Frame)
		if ferr != nil {
			return errors.E(op, string(p), ferr)
		}
		name, nerr := e.payloadName(p)
		if nerr != nil {
			return errors.E(op, string(p), nerr)
		}
		if err := e.Adapter.Put(ctx, name, framed); err != nil {
			return errors.E(op, string(p), errors.RelayTransient, err)
		}

		nextVersion := ph.Version + 1
		newPh := protocolPlaceholder(e.Pseudonym, nextVersion, digest)
		if err := e.Placeholders.Put(ctx, p, newPh); err != nil {
			return errors.E(op, string(p), err)
		}
		return e.recordPushed(p, data, digest, nextVersion)
	})
}

// PushDeletion advertises a local deletion of p by pushing a tombstone
// placeholder with no payload (§4.6).
func (e *Engine) PushDeletion(ctx context.Context, p naming.LogicalPath) error {
	const op = "sync.Engine.PushDeletion"
	return e.withLock(ctx, p, func() error {
		ph, err := e.Placeholders.Get(ctx, p)
		if err != nil && !errors.Is(errors.NotExist, err) {
			return errors.E(op, string(p), err)
		}
		tombstone := protocolPlaceholder(e.Pseudonym, ph.Version+1, "")
		if err := e.Placeholders.Put(ctx, p, tombstone); err != nil {
			return errors.E(op, string(p), err)
		}
		return e.Index.Delete(p)
	})
}

func (e *Engine) recordPushed(p naming.LogicalPath, data []byte, digest string, version uint64) error {
	info, err := statLocal(e.localPath(p))
	if err != nil {
		return err
	}
	entry := index.IndexEntry{
		LocalMtime:    info,
		LocalSize:     int64(len(data)),
		LocalDigest:   digest,
		PushedVersion: version,
		Access:        e.AccessDefault,
	}
	if existing, found, gerr := e.Index.Get(p); gerr == nil && found {
		entry.PulledVersion = existing.PulledVersion
		entry.Access = existing.Access
	}
	return e.Index.Put(p, entry)
}

func statLocal(fullPath string) (time.Time, error) {
	fi, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, nil
		}
		return time.Time{}, errors.E("sync.statLocal", errors.LocalIOError, err)
	}
	return fi.ModTime(), nil
}
