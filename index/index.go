// Package index implements the durable local mapping from LogicalPath to
// IndexEntry plus a small set of global counters (spec §4.5). It is a
// cache, not authoritative: after corruption or loss, a full rescan
// rebuilds it from the local tree and the relay snapshot. The
// durability discipline (single file, fsync-on-commit) is grounded on
// disk.go's atomic-write style, here delegated to
// github.com/tidwall/buntdb, which already fsyncs on commit, so no
// hand-rolled write-temp-then-rename is needed for the index file
// itself.
package index

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/tidwall/buntdb"

	"github.com/francoislaurent/syncacre/errors"
	"github.com/francoislaurent/syncacre/naming"
)

const schemaVersion = 1

// AccessMode is the per-path read/write gating of §4.5, §6.
type AccessMode struct {
	Read  AccessFlag
	Write AccessFlag
}

// AccessFlag is one of Allowed, Denied, Gated (§6 syntax: none, "-", "?").
type AccessFlag int

const (
	Allowed AccessFlag = iota
	Denied
	Gated
)

// IndexEntry records what the engine last knew about one LogicalPath.
type IndexEntry struct {
	LocalMtime    time.Time
	LocalSize     int64
	LocalDigest   string // hex sha256 of last-synced local content.
	PushedVersion uint64
	PulledVersion uint64
	Access        AccessMode
	Pending       bool
	BucketName    string // non-empty if this path's relay name was hash-bucketed (§4.2).
}

// Index is a durable LogicalPath → IndexEntry store backed by an
// embedded buntdb database file.
type Index struct {
	db *buntdb.DB
}

const (
	entryPrefix    = "entry:"
	bucketPrefix   = "bucket:"
	bucketRevPrefix = "bucketrev:"
	counterScan    = "counter:last-full-scan"
	counterSweep   = "counter:last-sweep"
	counterSchema  = "counter:schema-version"
)

// Open opens (creating if absent) the index file at path.
func Open(path string) (*Index, error) {
	const op = "index.Open"
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, errors.E(op, errors.LocalIOError, err)
	}
	idx := &Index{db: db}
	if err := idx.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

// OpenMemory opens a transient in-memory index, used by tests.
func OpenMemory() (*Index, error) {
	const op = "index.OpenMemory"
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, errors.E(op, errors.LocalIOError, err)
	}
	idx := &Index{db: db}
	if err := idx.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) ensureSchema() error {
	const op = "index.ensureSchema"
	err := idx.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Get(counterSchema); err == buntdb.ErrNotFound {
			_, _, err := tx.Set(counterSchema, strconv.Itoa(schemaVersion), nil)
			return err
		}
		return nil
	})
	if err != nil {
		return errors.E(op, errors.LocalIOError, err)
	}
	return nil
}

func (idx *Index) Close() error {
	if err := idx.db.Close(); err != nil {
		return errors.E("index.Close", errors.LocalIOError, err)
	}
	return nil
}

// Get returns the entry for p, and whether one was present.
func (idx *Index) Get(p naming.LogicalPath) (IndexEntry, bool, error) {
	const op = "index.Get"
	var entry IndexEntry
	found := false
	err := idx.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(entryPrefix + string(p))
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if jerr := json.Unmarshal([]byte(val), &entry); jerr != nil {
			return jerr
		}
		found = true
		return nil
	})
	if err != nil {
		return IndexEntry{}, false, errors.E(op, string(p), errors.LocalIOError, err)
	}
	return entry, found, nil
}

// Put stores entry for p.
func (idx *Index) Put(p naming.LogicalPath, entry IndexEntry) error {
	const op = "index.Put"
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.E(op, string(p), err)
	}
	err = idx.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(entryPrefix+string(p), string(data), nil)
		return err
	})
	if err != nil {
		return errors.E(op, string(p), errors.LocalIOError, err)
	}
	return nil
}

// Delete removes the entry for p, e.g. after a one-shot pull consumes a
// tombstone.
func (idx *Index) Delete(p naming.LogicalPath) error {
	const op = "index.Delete"
	err := idx.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(entryPrefix + string(p))
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return errors.E(op, string(p), errors.LocalIOError, err)
	}
	return nil
}

// Each calls fn for every LogicalPath/IndexEntry pair currently stored.
// fn returning false stops iteration early.
func (idx *Index) Each(fn func(naming.LogicalPath, IndexEntry) bool) error {
	const op = "index.Each"
	err := idx.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(entryPrefix+"*", func(key, val string) bool {
			var entry IndexEntry
			if err := json.Unmarshal([]byte(val), &entry); err != nil {
				return true // skip corrupt entries; a full rescan repairs them.
			}
			p := naming.LogicalPath(key[len(entryPrefix):])
			return fn(p, entry)
		})
	})
	if err != nil {
		return errors.E(op, errors.LocalIOError, err)
	}
	return nil
}

// LastFullScan returns the timestamp of the last completed full scan, or
// the zero time if none has run yet.
func (idx *Index) LastFullScan() (time.Time, error) {
	const op = "index.LastFullScan"
	var t time.Time
	err := idx.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(counterScan)
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		parsed, perr := time.Parse(time.RFC3339Nano, val)
		if perr != nil {
			return perr
		}
		t = parsed
		return nil
	})
	if err != nil {
		return time.Time{}, errors.E(op, errors.LocalIOError, err)
	}
	return t, nil
}

// SetLastFullScan records the timestamp of a just-completed full scan.
func (idx *Index) SetLastFullScan(t time.Time) error {
	const op = "index.SetLastFullScan"
	err := idx.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(counterScan, t.UTC().Format(time.RFC3339Nano), nil)
		return err
	})
	if err != nil {
		return errors.E(op, errors.LocalIOError, err)
	}
	return nil
}

// LastSweep returns the timestamp of the last completed placeholder
// retention sweep (maintain.Sweep), or the zero time if none has run yet.
func (idx *Index) LastSweep() (time.Time, error) {
	const op = "index.LastSweep"
	var t time.Time
	err := idx.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(counterSweep)
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		parsed, perr := time.Parse(time.RFC3339Nano, val)
		if perr != nil {
			return perr
		}
		t = parsed
		return nil
	})
	if err != nil {
		return time.Time{}, errors.E(op, errors.LocalIOError, err)
	}
	return t, nil
}

// SetLastSweep records the timestamp of a just-completed sweep.
func (idx *Index) SetLastSweep(t time.Time) error {
	const op = "index.SetLastSweep"
	err := idx.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(counterSweep, t.UTC().Format(time.RFC3339Nano), nil)
		return err
	})
	if err != nil {
		return errors.E(op, errors.LocalIOError, err)
	}
	return nil
}

// SchemaVersion returns the schema version recorded in the index file.
func (idx *Index) SchemaVersion() (int, error) {
	const op = "index.SchemaVersion"
	v := 0
	err := idx.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(counterSchema)
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		n, perr := strconv.Atoi(val)
		if perr != nil {
			return perr
		}
		v = n
		return nil
	})
	if err != nil {
		return 0, errors.E(op, errors.LocalIOError, err)
	}
	return v, nil
}

// PutBucketName records that p's over-length relay name was rewritten
// into a hashed bucket name (§4.2), so the reverse mapping survives a
// rescan. It also records the bucket -> LogicalPath direction (see
// PathForBucket), so naming.ResolvePath can turn a bucketed placeholder
// name observed on the relay back into the path scheduler.candidates
// needs, without re-deriving the bucket from every local path on every
// scan.
func (idx *Index) PutBucketName(p naming.LogicalPath, bucket string) error {
	const op = "index.PutBucketName"
	err := idx.db.Update(func(tx *buntdb.Tx) error {
		if _, _, err := tx.Set(bucketPrefix+string(p), bucket, nil); err != nil {
			return err
		}
		_, _, err := tx.Set(bucketRevPrefix+bucket, string(p), nil)
		return err
	})
	if err != nil {
		return errors.E(op, string(p), errors.LocalIOError, err)
	}
	return nil
}

// PathForBucket returns the LogicalPath recorded for bucket, if any, the
// reverse of PutBucketName's forward mapping.
func (idx *Index) PathForBucket(bucket string) (naming.LogicalPath, bool, error) {
	const op = "index.PathForBucket"
	var p naming.LogicalPath
	found := false
	err := idx.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(bucketRevPrefix + bucket)
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		p = naming.LogicalPath(val)
		found = true
		return nil
	})
	if err != nil {
		return "", false, errors.E(op, bucket, errors.LocalIOError, err)
	}
	return p, found, nil
}

// BucketName returns the recorded bucket name for p, if any.
func (idx *Index) BucketName(p naming.LogicalPath) (string, bool, error) {
	const op = "index.BucketName"
	var bucket string
	found := false
	err := idx.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(bucketPrefix + string(p))
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		bucket = val
		found = true
		return nil
	})
	if err != nil {
		return "", false, errors.E(op, string(p), errors.LocalIOError, err)
	}
	return bucket, found, nil
}
