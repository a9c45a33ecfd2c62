package scheduler

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/francoislaurent/syncacre/errors"
	"github.com/francoislaurent/syncacre/naming"
	"github.com/francoislaurent/syncacre/relay"
)

// candidates builds the work set of LogicalPaths for one scan: every
// regular file under root plus every path with a placeholder on the
// relay, deduplicated and shuffled to avoid deterministic starvation
// across clients contending for the same paths (§4.7). buckets reverses
// a hash-bucketed placeholder name (§4.2) back into its LogicalPath; it
// may be nil if the repository's backend never bucket-rewrites.
func candidates(ctx context.Context, root string, adapter relay.Adapter, esc *naming.Escaper, buckets naming.BucketIndex) ([]naming.LogicalPath, error) {
	const op = "scheduler.candidates"
	set := map[naming.LogicalPath]bool{}

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return rerr
		}
		p, cerr := naming.Clean(filepath.ToSlash(rel))
		if cerr != nil {
			return nil // unrepresentable name; skip rather than fail the whole walk.
		}
		if naming.IsReserved(p) {
			return nil
		}
		set[p] = true
		return nil
	})
	if err != nil {
		return nil, errors.E(op, errors.LocalIOError, err)
	}

	infos, err := adapter.List(ctx, "")
	if err != nil {
		return nil, errors.E(op, errors.RelayTransient, err)
	}
	for _, i := range infos {
		escaped, cat, _ := naming.ParseRelayName(i.Name)
		if cat != naming.Placeholder {
			continue
		}
		p, rerr := naming.ResolvePath(buckets, esc, escaped)
		if rerr != nil {
			continue // unparseable or unrecorded bucket name; a later rescan may recover it.
		}
		set[p] = true
	}

	out := make([]naming.LogicalPath, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out, nil
}
