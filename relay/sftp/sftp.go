// Package sftp implements relay.Adapter over SFTP using
// github.com/pkg/sftp atop golang.org/x/crypto/ssh. Put uploads to a
// temporary name and installs the payload with PosixRename, which
// replaces an existing target atomically (spec §4.1). There is no
// remove-then-rename fallback: on a server without the posix-rename
// extension, Put returns the rename error.
package sftp

import (
	"bytes"
	"context"
	"io"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/francoislaurent/syncacre/errors"
	"github.com/francoislaurent/syncacre/relay"
)

func init() {
	relay.Register("sftp", New)
}

type adapter struct {
	sshConn *ssh.Client
	client  *sftp.Client
	root    string
}

// New dials an SFTP server over SSH, rooted at opts.Root.
func New(_ context.Context, opts *relay.Opts) (relay.Adapter, error) {
	const op = "relay/sftp.New"
	if opts == nil || opts.Addr == "" {
		return nil, errors.E(op, errors.ConfigError, errors.Str("addr must be specified"))
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	cfg := &ssh.ClientConfig{
		User:            opts.User,
		Auth:            []ssh.AuthMethod{ssh.Password(opts.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // host key pinning is a config concern, not core.
		Timeout:         timeout,
	}
	sshConn, err := ssh.Dial("tcp", opts.Addr, cfg)
	if err != nil {
		return nil, errors.E(op, errors.RelayTransient, err)
	}
	client, err := sftp.NewClient(sshConn)
	if err != nil {
		sshConn.Close()
		return nil, errors.E(op, errors.RelayPermanent, err)
	}
	return &adapter{sshConn: sshConn, client: client, root: opts.Root}, nil
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
	const op = "relay/sftp.List"
	dir := path.Dir(prefix)
	entries, err := a.client.ReadDir(a.full(dir))
	if err != nil {
		return nil, classify(op, err)
	}
	var out []relay.Info
	for _, fi := range entries {
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
	const op = "relay/sftp.Get"
	f, err := a.client.Open(a.full(name))
	if err != nil {
		return nil, classify(op, err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.E(op, errors.RelayTransient, err)
	}
	return b, nil
}

func (a *adapter) GetTo(ctx context.Context, name, localFile string) error {
	const op = "relay/sftp.GetTo"
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
	const op = "relay/sftp.Put"
	tmp := name + ".tmp." + strconv.FormatInt(time.Now().UnixNano(), 36)
	if err := a.client.MkdirAll(path.Dir(a.full(name))); err != nil {
		return errors.E(op, errors.RelayTransient, err)
	}
	f, err := a.client.Create(a.full(tmp))
	if err != nil {
		return errors.E(op, errors.RelayTransient, err)
	}
	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		f.Close()
		a.client.Remove(a.full(tmp))
		return errors.E(op, errors.RelayTransient, err)
	}
	if err := f.Close(); err != nil {
		a.client.Remove(a.full(tmp))
		return errors.E(op, errors.RelayTransient, err)
	}
	if err := a.client.PosixRename(a.full(tmp), a.full(name)); err != nil {
		a.client.Remove(a.full(tmp))
		return errors.E(op, errors.RelayTransient, err)
	}
	return nil
}

func (a *adapter) PutFrom(ctx context.Context, name, localFile string) error {
	b, err := os.ReadFile(localFile)
	if err != nil {
		return errors.E("relay/sftp.PutFrom", errors.LocalIOError, err)
	}
	return a.Put(ctx, name, b)
}

func (a *adapter) Delete(_ context.Context, name string) error {
	if err := a.client.Remove(a.full(name)); err != nil && !os.IsNotExist(err) {
		return errors.E("relay/sftp.Delete", errors.RelayTransient, err)
	}
	return nil
}

func (a *adapter) Exists(_ context.Context, name string) (bool, error) {
	_, err := a.client.Stat(a.full(name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.E("relay/sftp.Exists", errors.RelayTransient, err)
	}
	return true, nil
}

func (a *adapter) Size(_ context.Context, name string) (int64, error) {
	const op = "relay/sftp.Size"
	fi, err := a.client.Stat(a.full(name))
	if err != nil {
		return 0, classify(op, err)
	}
	return fi.Size(), nil
}

func (a *adapter) Mtime(_ context.Context, name string) (time.Time, error) {
	const op = "relay/sftp.Mtime"
	fi, err := a.client.Stat(a.full(name))
	if err != nil {
		return time.Time{}, classify(op, err)
	}
	return fi.ModTime(), nil
}

func (a *adapter) Touch(_ context.Context, name string) error {
	now := time.Now()
	return a.client.Chtimes(a.full(name), now, now)
}

func (a *adapter) Forbidden() string {
	return ""
}

func (a *adapter) Close() error {
	a.client.Close()
	return a.sshConn.Close()
}
