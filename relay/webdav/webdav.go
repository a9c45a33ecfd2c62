// Package webdav implements relay.Adapter over a WebDAV server using
// github.com/studio-b12/gowebdav. WebDAV's MOVE with overwrite gives us a
// rename primitive, so Put/PutFrom upload to a temporary name and MOVE it
// into place, emulating an atomic put (spec §4.1).
package webdav

import (
	"context"
	"os"
	"path"
	"strconv"
	"time"

	gowebdav "github.com/studio-b12/gowebdav"

	"github.com/francoislaurent/syncacre/errors"
	"github.com/francoislaurent/syncacre/relay"
)

func init() {
	relay.Register("webdav", New)
}

type adapter struct {
	client *gowebdav.Client
	root   string
}

// New dials a WebDAV server rooted at opts.Root.
func New(_ context.Context, opts *relay.Opts) (relay.Adapter, error) {
	const op = "relay/webdav.New"
	if opts == nil || opts.Addr == "" {
		return nil, errors.E(op, errors.ConfigError, errors.Str("addr must be specified"))
	}
	c := gowebdav.NewClient(opts.Addr, opts.User, opts.Password)
	if opts.Timeout > 0 {
		c.SetTimeout(opts.Timeout)
	}
	if err := c.Connect(); err != nil {
		return nil, errors.E(op, errors.RelayPermanent, err)
	}
	return &adapter{client: c, root: opts.Root}, nil
}

var _ relay.Adapter = (*adapter)(nil)

func (a *adapter) full(name string) string {
	if a.root == "" {
		return name
	}
	return path.Join(a.root, name)
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		return errors.E(op, errors.NotExist, err)
	}
	return errors.E(op, errors.RelayTransient, err)
}

func (a *adapter) List(_ context.Context, prefix string) ([]relay.Info, error) {
	const op = "relay/webdav.List"
	dir := path.Dir(prefix)
	files, err := a.client.ReadDir(a.full(dir))
	if err != nil {
		return nil, classify(op, err)
	}
	var out []relay.Info
	for _, fi := range files {
		if fi.IsDir() {
			continue
		}
		name := fi.Name()
		if dir != "." && dir != "/" {
			name = path.Join(dir, fi.Name())
		}
		if len(name) < len(prefix) || name[:len(prefix)] != prefix {
			continue
		}
		out = append(out, relay.Info{Name: name, Size: fi.Size(), Mtime: fi.ModTime()})
	}
	return out, nil
}

func (a *adapter) Get(_ context.Context, name string) ([]byte, error) {
	const op = "relay/webdav.Get"
	b, err := a.client.Read(a.full(name))
	if err != nil {
		return nil, classify(op, err)
	}
	return b, nil
}

func (a *adapter) GetTo(ctx context.Context, name, localFile string) error {
	const op = "relay/webdav.GetTo"
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
	const op = "relay/webdav.Put"
	tmp := name + ".tmp." + strconv.FormatInt(time.Now().UnixNano(), 36)
	if err := a.client.Write(a.full(tmp), data, 0644); err != nil {
		return classify(op, err)
	}
	if err := a.client.Rename(a.full(tmp), a.full(name), true); err != nil {
		a.client.Remove(a.full(tmp))
		return classify(op, err)
	}
	return nil
}

func (a *adapter) PutFrom(ctx context.Context, name, localFile string) error {
	b, err := os.ReadFile(localFile)
	if err != nil {
		return errors.E("relay/webdav.PutFrom", errors.LocalIOError, err)
	}
	return a.Put(ctx, name, b)
}

func (a *adapter) Delete(_ context.Context, name string) error {
	if err := a.client.Remove(a.full(name)); err != nil && !os.IsNotExist(err) {
		return errors.E("relay/webdav.Delete", errors.RelayTransient, err)
	}
	return nil
}

func (a *adapter) Exists(_ context.Context, name string) (bool, error) {
	fi, err := a.client.Stat(a.full(name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.E("relay/webdav.Exists", errors.RelayTransient, err)
	}
	return fi != nil, nil
}

func (a *adapter) Size(_ context.Context, name string) (int64, error) {
	const op = "relay/webdav.Size"
	fi, err := a.client.Stat(a.full(name))
	if err != nil {
		return 0, classify(op, err)
	}
	return fi.Size(), nil
}

func (a *adapter) Mtime(_ context.Context, name string) (time.Time, error) {
	const op = "relay/webdav.Mtime"
	fi, err := a.client.Stat(a.full(name))
	if err != nil {
		return time.Time{}, classify(op, err)
	}
	return fi.ModTime(), nil
}

func (a *adapter) Touch(ctx context.Context, name string) error {
	b, err := a.Get(ctx, name)
	if err != nil {
		return err
	}
	return a.Put(ctx, name, b)
}

func (a *adapter) Forbidden() string {
	return ""
}

func (a *adapter) Close() error { return nil }
