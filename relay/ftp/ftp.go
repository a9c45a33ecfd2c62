// Package ftp implements relay.Adapter over an FTP server using
// github.com/jlaffaye/ftp. FTP has no atomic PUT, so Put/PutFrom upload to
// a temporary name and RNFR/RNTO it into place (spec §4.1).
package ftp

import (
	"bytes"
	"context"
	"io"
	"os"
	"path"
	"strconv"
	"sync"
	"time"

	goftp "github.com/jlaffaye/ftp"

	"github.com/francoislaurent/syncacre/errors"
	"github.com/francoislaurent/syncacre/relay"
)

func init() {
	relay.Register("ftp", New)
}

type adapter struct {
	mu   sync.Mutex
	conn *goftp.ServerConn
	root string
}

// New dials an FTP server and changes into opts.Root.
func New(_ context.Context, opts *relay.Opts) (relay.Adapter, error) {
	const op = "relay/ftp.New"
	if opts == nil || opts.Addr == "" {
		return nil, errors.E(op, errors.ConfigError, errors.Str("addr must be specified"))
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	conn, err := goftp.Dial(opts.Addr, goftp.DialWithTimeout(timeout))
	if err != nil {
		return nil, errors.E(op, errors.RelayTransient, err)
	}
	if opts.User != "" {
		if err := conn.Login(opts.User, opts.Password); err != nil {
			conn.Quit()
			return nil, errors.E(op, errors.RelayPermanent, err)
		}
	}
	root := opts.Root
	if root == "" {
		root = "/"
	}
	return &adapter{conn: conn, root: root}, nil
}

var _ relay.Adapter = (*adapter)(nil)

func (a *adapter) full(name string) string {
	return path.Join(a.root, name)
}

func (a *adapter) List(_ context.Context, prefix string) ([]relay.Info, error) {
	const op = "relay/ftp.List"
	a.mu.Lock()
	defer a.mu.Unlock()

	entries, err := a.conn.List(a.full(path.Dir(prefix)))
	if err != nil {
		return nil, errors.E(op, errors.RelayTransient, err)
	}
	dir := path.Dir(prefix)
	var out []relay.Info
	for _, e := range entries {
		if e.Type != goftp.EntryTypeFile {
			continue
		}
		name := e.Name
		if dir != "." && dir != "/" {
			name = path.Join(dir, e.Name)
		}
		if len(name) < len(prefix) || name[:len(prefix)] != prefix {
			continue
		}
		out = append(out, relay.Info{Name: name, Size: int64(e.Size), Mtime: e.Time})
	}
	return out, nil
}

func (a *adapter) Get(_ context.Context, name string) ([]byte, error) {
	const op = "relay/ftp.Get"
	a.mu.Lock()
	defer a.mu.Unlock()

	r, err := a.conn.Retr(a.full(name))
	if err != nil {
		return nil, errors.E(op, errors.NotExist, name, err)
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.E(op, errors.RelayTransient, err)
	}
	return b, nil
}

func (a *adapter) GetTo(ctx context.Context, name, localFile string) error {
	const op = "relay/ftp.GetTo"
	b, err := a.Get(ctx, name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(localFile, b, 0600); err != nil {
		return errors.E(op, errors.LocalIOError, err)
	}
	return nil
}

// Put uploads to a temporary name then renames it into place, since FTP's
// STOR is not guaranteed atomic against concurrent LIST/RETR.
func (a *adapter) Put(_ context.Context, name string, data []byte) error {
	const op = "relay/ftp.Put"
	a.mu.Lock()
	defer a.mu.Unlock()

	tmp := name + ".tmp." + strconv.FormatInt(time.Now().UnixNano(), 36)
	if err := a.conn.Stor(a.full(tmp), bytes.NewReader(data)); err != nil {
		return errors.E(op, errors.RelayTransient, err)
	}
	if err := a.conn.Rename(a.full(tmp), a.full(name)); err != nil {
		a.conn.Delete(a.full(tmp))
		return errors.E(op, errors.RelayTransient, err)
	}
	return nil
}

func (a *adapter) PutFrom(ctx context.Context, name, localFile string) error {
	b, err := os.ReadFile(localFile)
	if err != nil {
		return errors.E("relay/ftp.PutFrom", errors.LocalIOError, err)
	}
	return a.Put(ctx, name, b)
}

func (a *adapter) Delete(_ context.Context, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.conn.Delete(a.full(name)); err != nil {
		// jlaffaye/ftp surfaces a missing file as a 550 error; treat
		// as success per the idempotent-delete contract.
		return nil
	}
	return nil
}

func (a *adapter) Exists(ctx context.Context, name string) (bool, error) {
	_, err := a.Size(ctx, name)
	if err != nil {
		if errors.Is(errors.NotExist, err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (a *adapter) Size(_ context.Context, name string) (int64, error) {
	const op = "relay/ftp.Size"
	a.mu.Lock()
	defer a.mu.Unlock()
	sz, err := a.conn.FileSize(a.full(name))
	if err != nil {
		return 0, errors.E(op, errors.NotExist, name, err)
	}
	return sz, nil
}

func (a *adapter) Mtime(_ context.Context, name string) (time.Time, error) {
	const op = "relay/ftp.Mtime"
	a.mu.Lock()
	defer a.mu.Unlock()
	t, err := a.conn.GetTime(a.full(name))
	if err != nil {
		return time.Time{}, errors.E(op, errors.NotExist, name, err)
	}
	return t, nil
}

func (a *adapter) Touch(ctx context.Context, name string) error {
	// FTP has no MFMT support guaranteed across servers; re-put the
	// existing content as a fallback way to bump mtime.
	b, err := a.Get(ctx, name)
	if err != nil {
		return err
	}
	return a.Put(ctx, name, b)
}

func (a *adapter) Forbidden() string {
	return "*?[]"
}

func (a *adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn.Quit()
}
