package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/francoislaurent/syncacre/errors"
	"github.com/francoislaurent/syncacre/frame"
	"github.com/francoislaurent/syncacre/index"
	"github.com/francoislaurent/syncacre/naming"
	"github.com/francoislaurent/syncacre/protocol"
)

// quarantineSuffix marks where a payload that failed integrity
// verification during Pull is saved aside, so the operator can inspect
// it without the bad blob blocking a re-pull (§7 IntegrityError).
const quarantineSuffix = ".quarantine"

// Pull runs the §4.6 pull sequence for p, holding its lock for the whole
// sequence. ph is the placeholder observed during the scan that drove
// this decision.
func (e *Engine) Pull(ctx context.Context, p naming.LogicalPath, ph protocol.Placeholder) error {
	const op = "sync.Engine.Pull"
	return e.withLock(ctx, p, func() error {
		name, nerr := e.payloadName(p)
		if nerr != nil {
			return errors.E(op, string(p), nerr)
		}
		framed, err := e.Adapter.Get(ctx, name)
		if err != nil {
			return errors.E(op, string(p), errors.RelayTransient, err)
		}

		plaintext, uerr := frame.Unframe(framed, e.Frame.Key)
		if uerr != nil {
			e.quarantine(p, framed)
			return errors.E(op, string(p), errors.IntegrityError, uerr)
		}
		sum := sha256.Sum256(plaintext)
		digest := hex.EncodeToString(sum[:])
		if digest != ph.Digest {
			e.quarantine(p, framed)
			return errors.E(op, string(p), errors.IntegrityError, errors.Str("digest mismatch against placeholder"))
		}

		if err := writeLocalAtomic(e.localPath(p), plaintext); err != nil {
			return errors.E(op, string(p), err)
		}

		switch e.Retention {
		case OneShot:
			if err := e.Adapter.Delete(ctx, name); err != nil {
				return errors.E(op, string(p), errors.RelayTransient, err)
			}
			if err := e.Placeholders.Delete(ctx, p); err != nil {
				return errors.E(op, string(p), err)
			}
		case RetainHistory:
			if err := e.Placeholders.Put(ctx, p, ph.Consumed()); err != nil {
				return errors.E(op, string(p), err)
			}
		}

		return e.recordPulled(p, plaintext, digest, ph.Version)
	})
}

// quarantine saves a framed payload that failed integrity verification
// next to the local file, under the local path plus a
// ".quarantine" suffix, and leaves the relay placeholder untouched so a
// later re-pull (once the relay blob is fixed or replaced) can proceed
// (§7 IntegrityError, §8 scenario 3).
func (e *Engine) quarantine(p naming.LogicalPath, framed []byte) {
	path := e.localPath(p) + quarantineSuffix
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	_ = os.WriteFile(path, framed, 0o600)
}

// writeLocalAtomic writes data to a temporary file alongside path,
// fsyncs it, then renames it into place, so a crash mid-write never
// leaves a partially written file where a reader expects one (§4.6 step
// 2, §5 resource scoping).
func writeLocalAtomic(path string, data []byte) error {
	const op = "sync.writeLocalAtomic"
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.E(op, errors.LocalIOError, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.E(op, errors.LocalIOError, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds.

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.E(op, errors.LocalIOError, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.E(op, errors.LocalIOError, err)
	}
	if err := tmp.Close(); err != nil {
		return errors.E(op, errors.LocalIOError, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.E(op, errors.LocalIOError, err)
	}
	return nil
}

func (e *Engine) recordPulled(p naming.LogicalPath, data []byte, digest string, version uint64) error {
	info, err := statLocal(e.localPath(p))
	if err != nil {
		return err
	}
	entry := index.IndexEntry{
		LocalMtime:    info,
		LocalSize:     int64(len(data)),
		LocalDigest:   digest,
		PulledVersion: version,
		Access:        e.AccessDefault,
	}
	if existing, found, gerr := e.Index.Get(p); gerr == nil && found {
		entry.PushedVersion = existing.PushedVersion
		entry.Access = existing.Access
	}
	return e.Index.Put(p, entry)
}
