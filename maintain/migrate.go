// Package maintain implements the §4.8 maintenance operations: relay
// migration, backup/restore, and access-modifier edits. These are
// exposed as a Go API (§1: CLI entry points for them are out of scope)
// grounded structurally on storeserver/main.go's
// flag-parse/select-backend/run shape for the minimal daemon that wires
// them (cmd/syncacred), and on the storage package's uniform backend
// handling for the migration copy loop itself.
package maintain

import (
	"context"
	"time"

	"github.com/francoislaurent/syncacre/errors"
	"github.com/francoislaurent/syncacre/naming"
	"github.com/francoislaurent/syncacre/protocol"
	"github.com/francoislaurent/syncacre/relay"
)

// Mode selects the safety level of a Migrate run (§4.8). Backup and
// Restore take no Mode and copy blobs without taking any lock.
type Mode int

const (
	// Fast assumes no client is currently active against the source
	// relay: no per-path lock dance, maximum throughput.
	Fast Mode = iota
	// Safe acquires a path's lock while copying its payload blob, so a
	// concurrently running client never observes a half-copied payload;
	// placeholder, lock and message blobs are copied without a lock.
	Safe
)

// MigrateOpts configures a Migrate run.
type MigrateOpts struct {
	Mode Mode
	// Escaper is required in Safe mode to derive each path's lock name
	// from the payload names observed during the copy.
	Escaper *naming.Escaper
	// LockTTL and LockSettle parameterize the protocol.Lock used in
	// Safe mode (§4.3).
	LockTTL    time.Duration
	LockSettle time.Duration
	Pseudonym  string
	// Buckets reverses a hash-bucketed payload name (§4.2) back into its
	// LogicalPath so Safe mode can still lock it. If nil, a bucketed
	// payload is copied without a per-path lock: best-effort, since there
	// is no way to recover the path to lock without the side table.
	Buckets naming.BucketIndex
}

// Migrate copies every blob from src to dst, preserving names (§4.8).
// In Fast mode it assumes exclusive access to src and copies without
// coordination. In Safe mode it derives each payload's LogicalPath from
// its relay name and acquires that path's lock for the duration of its
// copy, so a concurrently running client's in-flight push or pull is
// never observed half-migrated.
func Migrate(ctx context.Context, src, dst relay.Adapter, opts MigrateOpts) error {
	const op = "maintain.Migrate"
	infos, err := src.List(ctx, "")
	if err != nil {
		return errors.E(op, errors.RelayTransient, err)
	}

	var lock *protocol.Lock
	if opts.Mode == Safe {
		lock = &protocol.Lock{
			Adapter:   src,
			Escaper:   opts.Escaper,
			TTL:       opts.LockTTL,
			Settle:    opts.LockSettle,
			Pseudonym: opts.Pseudonym,
		}
	}

	for _, info := range infos {
		if err := copyBlob(ctx, src, dst, info.Name, lock, opts.Buckets); err != nil {
			return errors.E(op, info.Name, err)
		}
	}
	return nil
}

func copyBlob(ctx context.Context, src, dst relay.Adapter, name string, lock *protocol.Lock, buckets naming.BucketIndex) error {
	const op = "maintain.copyBlob"

	var held *protocol.Held
	if lock != nil {
		escaped, cat, _ := naming.ParseRelayName(name)
		if cat == naming.Payload {
			p, perr := naming.ResolvePath(buckets, lock.Escaper, escaped)
			if perr == nil {
				h, err := lock.Acquire(ctx, p)
				if err != nil {
					return errors.E(op, errors.RelayTransient, err)
				}
				held = h
				defer lock.Release(ctx, held)
			}
			// Unresolvable bucket name with no side table: copy without a
			// lock rather than fail the whole migration (best-effort).
		}
	}

	data, err := src.Get(ctx, name)
	if err != nil {
		return errors.E(op, errors.RelayTransient, err)
	}
	if err := dst.Put(ctx, name, data); err != nil {
		return errors.E(op, errors.RelayTransient, err)
	}
	return nil
}
