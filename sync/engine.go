package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/francoislaurent/syncacre/errors"
	"github.com/francoislaurent/syncacre/frame"
	"github.com/francoislaurent/syncacre/index"
	"github.com/francoislaurent/syncacre/naming"
	"github.com/francoislaurent/syncacre/protocol"
	"github.com/francoislaurent/syncacre/relay"
)

// protocolPlaceholder builds the placeholder record a push installs: an
// empty digest marks a tombstone (§4.6).
func protocolPlaceholder(sender string, version uint64, digest string) protocol.Placeholder {
	return protocol.Placeholder{
		Sender:    sender,
		Version:   version,
		Digest:    digest,
		Timestamp: time.Now(),
	}
}

// RetentionMode controls what a reader does to the placeholder after a
// successful pull (§4.3).
type RetentionMode int

const (
	// OneShot deletes the placeholder after a successful pull; the
	// next push creates a fresh one.
	OneShot RetentionMode = iota
	// RetainHistory rewrites the placeholder to a consumed state,
	// preserving version continuity.
	RetainHistory
)

// Engine drives the decision table and the push/pull sequences of §4.6
// for one repository.
type Engine struct {
	Adapter      relay.Adapter
	Escaper      *naming.Escaper
	Placeholders *protocol.Store
	Locks        *protocol.Lock
	Mailbox      *protocol.Mailbox
	Index        *index.Index
	Root         string
	Pseudonym    string
	Strategy     Strategy
	Retention    RetentionMode
	Frame        frame.Options

	// AccessDefault seeds IndexEntry.Access the first time a path is
	// recorded, so a repository-level gate (§6 "access defaults") takes
	// effect from the very first push or pull instead of only after an
	// operator runs maintain.SetAccess on that exact path.
	AccessDefault index.AccessMode

	// MaxNameLength is the backend's declared maximum relay blob name
	// length; a payload name exceeding it after escaping is rewritten
	// into a hashed bucket name via naming.BoundName, recorded in Index
	// (§4.2).
	MaxNameLength int
}

func (e *Engine) localPath(p naming.LogicalPath) string {
	return filepath.Join(e.Root, filepath.FromSlash(string(p)))
}

func (e *Engine) payloadName(p naming.LogicalPath) (string, error) {
	return naming.BoundName(e.Index, e.Escaper, e.MaxNameLength, p, naming.Payload, "", "")
}

// localDigest computes the sha256 content hash of a local file's
// contents, or ("", false, nil) if the file does not exist.
func localDigest(fullPath string) (string, []byte, bool, error) {
	data, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, false, nil
		}
		return "", nil, false, errors.E("sync.localDigest", errors.LocalIOError, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), data, true, nil
}

// LocalState computes the LocalState of p by comparing the local file's
// digest to the last one recorded in the index.
func (e *Engine) LocalState(p naming.LogicalPath, entry index.IndexEntry, hadEntry bool) (LocalState, []byte, error) {
	digest, data, exists, err := localDigest(e.localPath(p))
	if err != nil {
		return LocalAbsent, nil, err
	}
	switch {
	case !exists && !hadEntry:
		return LocalAbsent, nil, nil
	case !exists && hadEntry:
		return LocalAbsent, nil, nil
	case exists && !hadEntry:
		return LocalNew, data, nil
	case digest == entry.LocalDigest:
		return LocalUnchanged, data, nil
	default:
		return LocalModified, data, nil
	}
}

// RemoteState computes the RemoteState of p by examining the
// placeholder, given the last pulled version recorded in the index.
func (e *Engine) RemoteState(ctx context.Context, p naming.LogicalPath, entry index.IndexEntry, hadEntry bool) (RemoteState, protocol.Placeholder, error) {
	ph, err := e.Placeholders.Get(ctx, p)
	if err != nil {
		if errors.Is(errors.NotExist, err) {
			return RemoteAbsent, protocol.Placeholder{}, nil
		}
		return RemoteAbsent, protocol.Placeholder{}, err
	}
	if ph.IsTombstone() {
		return RemoteConsumed, ph, nil
	}
	if !hadEntry || ph.Version > entry.PulledVersion {
		return RemotePresentNew, ph, nil
	}
	return RemotePresentSame, ph, nil
}

// withLock acquires p's lock, runs fn, and releases the lock on every
// exit path, including when fn panics or returns an error.
func (e *Engine) withLock(ctx context.Context, p naming.LogicalPath, fn func() error) error {
	h, err := e.Locks.Acquire(ctx, p)
	if err != nil {
		return err
	}
	defer e.Locks.Release(ctx, h)
	return fn()
}
