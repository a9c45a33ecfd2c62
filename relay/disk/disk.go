// Package disk implements relay.Adapter over the local filesystem. It is
// used for single-box repositories and as the reference backend in tests,
// grounded on storage/disk.Storage's implementation (path-safe refs,
// directory auto-creation, os.Rename-based atomicity).
package disk

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/francoislaurent/syncacre/errors"
	"github.com/francoislaurent/syncacre/relay"
)

func init() {
	relay.Register("file", New)
}

type adapter struct {
	base string
}

// New returns a disk-backed relay.Adapter rooted at opts.Root.
func New(_ context.Context, opts *relay.Opts) (relay.Adapter, error) {
	const op = "relay/disk.New"
	if opts == nil || opts.Root == "" {
		return nil, errors.E(op, errors.ConfigError, errors.Str("root directory must be specified"))
	}
	if err := os.MkdirAll(opts.Root, 0700); err != nil {
		return nil, errors.E(op, errors.LocalIOError, err)
	}
	return &adapter{base: opts.Root}, nil
}

var _ relay.Adapter = (*adapter)(nil)

func (a *adapter) path(name string) string {
	return filepath.Join(a.base, filepath.FromSlash(name))
}

func (a *adapter) List(_ context.Context, prefix string) ([]relay.Info, error) {
	const op = "relay/disk.List"
	var out []relay.Info
	root := a.base
	err := filepath.Walk(root, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			out = append(out, relay.Info{Name: rel, Size: fi.Size(), Mtime: fi.ModTime()})
		}
		return nil
	})
	if err != nil {
		return nil, errors.E(op, errors.LocalIOError, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (a *adapter) Get(_ context.Context, name string) ([]byte, error) {
	const op = "relay/disk.Get"
	b, err := os.ReadFile(a.path(name))
	if os.IsNotExist(err) {
		return nil, errors.E(op, errors.NotExist, name)
	} else if err != nil {
		return nil, errors.E(op, errors.LocalIOError, name, err)
	}
	return b, nil
}

func (a *adapter) GetTo(ctx context.Context, name, localFile string) error {
	const op = "relay/disk.GetTo"
	b, err := a.Get(ctx, name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(localFile, b, 0600); err != nil {
		return errors.E(op, errors.LocalIOError, err)
	}
	return nil
}

func (a *adapter) Put(_ context.Context, name string, data []byte) error {
	const op = "relay/disk.Put"
	dst := a.path(name)
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return errors.E(op, errors.LocalIOError, err)
	}
	tmp := dst + ".uploading"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		os.Remove(tmp)
		return errors.E(op, errors.LocalIOError, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return errors.E(op, errors.LocalIOError, err)
	}
	return nil
}

func (a *adapter) PutFrom(ctx context.Context, name, localFile string) error {
	const op = "relay/disk.PutFrom"
	src, err := os.Open(localFile)
	if err != nil {
		return errors.E(op, errors.LocalIOError, err)
	}
	defer src.Close()
	dst := a.path(name)
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return errors.E(op, errors.LocalIOError, err)
	}
	tmp := dst + ".uploading"
	out, err := os.Create(tmp)
	if err != nil {
		return errors.E(op, errors.LocalIOError, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(tmp)
		return errors.E(op, errors.LocalIOError, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return errors.E(op, errors.LocalIOError, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return errors.E(op, errors.LocalIOError, err)
	}
	return nil
}

func (a *adapter) Delete(_ context.Context, name string) error {
	const op = "relay/disk.Delete"
	if err := os.Remove(a.path(name)); err != nil && !os.IsNotExist(err) {
		return errors.E(op, errors.LocalIOError, err)
	}
	return nil
}

func (a *adapter) Exists(_ context.Context, name string) (bool, error) {
	_, err := os.Stat(a.path(name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.E("relay/disk.Exists", errors.LocalIOError, err)
}

func (a *adapter) Size(_ context.Context, name string) (int64, error) {
	const op = "relay/disk.Size"
	fi, err := os.Stat(a.path(name))
	if os.IsNotExist(err) {
		return 0, errors.E(op, errors.NotExist, name)
	} else if err != nil {
		return 0, errors.E(op, errors.LocalIOError, err)
	}
	return fi.Size(), nil
}

func (a *adapter) Mtime(_ context.Context, name string) (time.Time, error) {
	const op = "relay/disk.Mtime"
	fi, err := os.Stat(a.path(name))
	if os.IsNotExist(err) {
		return time.Time{}, errors.E(op, errors.NotExist, name)
	} else if err != nil {
		return time.Time{}, errors.E(op, errors.LocalIOError, err)
	}
	return fi.ModTime(), nil
}

func (a *adapter) Touch(_ context.Context, name string) error {
	const op = "relay/disk.Touch"
	now := time.Now()
	if err := os.Chtimes(a.path(name), now, now); err != nil {
		return errors.E(op, errors.LocalIOError, err)
	}
	return nil
}

func (a *adapter) Forbidden() string {
	// Local filesystems (at least on POSIX) only forbid NUL and the
	// path separator; the separator is already structural in our names.
	return "\x00"
}

func (a *adapter) Close() error { return nil }
