// Package relay defines the uniform contract every relay backend (FTP,
// WebDAV, SFTP, S3-like object store, or local disk for tests) must
// satisfy, plus the registry that dials a backend from a repository's
// configured URI scheme (spec §4.1).
package relay

import (
	"context"
	"time"

	"github.com/francoislaurent/syncacre/errors"
)

// Info describes a blob as returned by List.
type Info struct {
	Name  string
	Size  int64
	Mtime time.Time // zero value if the backend does not report one.
}

// Adapter is the uniform, blocking, fallible operation set every relay
// backend exposes (§4.1). Every operation takes a context so deadlines
// and cancellation (§5) propagate into backend I/O.
//
// Put MUST be observable atomically from List/Get: partial blobs must
// never appear. Backends that lack an atomic put emulate it with
// put-then-rename of a temporary name.
//
// Delete is idempotent: deleting a missing name is not an error.
type Adapter interface {
	// List returns every blob whose name has the given prefix.
	List(ctx context.Context, prefix string) ([]Info, error)

	// Get returns the full contents of name.
	Get(ctx context.Context, name string) ([]byte, error)

	// GetTo streams the contents of name into a local file.
	GetTo(ctx context.Context, name, localFile string) error

	// Put atomically stores data under name.
	Put(ctx context.Context, name string, data []byte) error

	// PutFrom atomically stores the contents of a local file under name.
	PutFrom(ctx context.Context, name, localFile string) error

	// Delete removes name. Deleting a name that does not exist is not
	// an error.
	Delete(ctx context.Context, name string) error

	// Exists reports whether name is present.
	Exists(ctx context.Context, name string) (bool, error)

	// Size returns the size in bytes of name.
	Size(ctx context.Context, name string) (int64, error)

	// Mtime returns the last-modified time of name, or the zero Time
	// if the backend does not track it.
	Mtime(ctx context.Context, name string) (time.Time, error)

	// Touch updates name's mtime without rewriting its content, if the
	// backend supports it; otherwise it re-puts the existing content.
	Touch(ctx context.Context, name string) error

	// Forbidden returns the set of bytes this backend's names may not
	// contain, for naming.NewEscaper.
	Forbidden() string

	// Close releases any resources (connections, handles) held by the
	// adapter.
	Close() error
}

// Opts carries backend-specific dial options, parsed from a repository's
// relay backend URI and credentials.
type Opts struct {
	Addr     string
	User     string
	Password string
	Root     string            // base path/prefix/bucket on the backend.
	Params   map[string]string // backend-specific extras.
	Timeout  time.Duration
}

// Constructor dials a new Adapter from Opts.
type Constructor func(ctx context.Context, opts *Opts) (Adapter, error)

var registry = make(map[string]Constructor)

// Register associates a backend URI scheme ("ftp", "webdav", "sftp", "s3",
// "file") with a Constructor. It is typically called from the backend
// package's init function, mirroring storage.Register.
func Register(scheme string, ctor Constructor) {
	registry[scheme] = ctor
}

// Dial looks up the Constructor registered for scheme and invokes it.
func Dial(ctx context.Context, scheme string, opts *Opts) (Adapter, error) {
	const op = "relay.Dial"
	ctor, ok := registry[scheme]
	if !ok {
		return nil, errors.E(op, errors.ConfigError, errors.Errorf("no relay backend registered for scheme %q", scheme))
	}
	return ctor(ctx, opts)
}
