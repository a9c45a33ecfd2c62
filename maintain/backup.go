package maintain

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"

	"github.com/francoislaurent/syncacre/errors"
	"github.com/francoislaurent/syncacre/relay"
)

// Backup archives every blob on adapter into a gzipped tar stream
// written to w, preserving names (§4.8). No ecosystem archiver in the
// retrieval pack does this job better than the standard library's own
// archive/tar and compress/gzip, so this one component is built on the
// standard library rather than a third-party package; see DESIGN.md.
func Backup(ctx context.Context, adapter relay.Adapter, w io.Writer) error {
	const op = "maintain.Backup"
	infos, err := adapter.List(ctx, "")
	if err != nil {
		return errors.E(op, errors.RelayTransient, err)
	}

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	for _, info := range infos {
		data, gerr := adapter.Get(ctx, info.Name)
		if gerr != nil {
			return errors.E(op, info.Name, errors.RelayTransient, gerr)
		}
		hdr := &tar.Header{
			Name:    info.Name,
			Size:    int64(len(data)),
			Mode:    0o600,
			ModTime: info.Mtime,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return errors.E(op, info.Name, errors.IO, err)
		}
		if _, err := tw.Write(data); err != nil {
			return errors.E(op, info.Name, errors.IO, err)
		}
	}

	if err := tw.Close(); err != nil {
		return errors.E(op, errors.IO, err)
	}
	if err := gz.Close(); err != nil {
		return errors.E(op, errors.IO, err)
	}
	return nil
}

// Restore extracts a gzipped tar stream produced by Backup back onto
// adapter, preserving blob names (§4.8). Existing blobs with the same
// name are overwritten.
func Restore(ctx context.Context, adapter relay.Adapter, r io.Reader) error {
	const op = "maintain.Restore"
	gz, err := gzip.NewReader(r)
	if err != nil {
		return errors.E(op, errors.IO, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.E(op, errors.IO, err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return errors.E(op, hdr.Name, errors.IO, err)
		}
		if err := adapter.Put(ctx, hdr.Name, data); err != nil {
			return errors.E(op, hdr.Name, errors.RelayTransient, err)
		}
	}
}
