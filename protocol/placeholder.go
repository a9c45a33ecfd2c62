package protocol

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/francoislaurent/syncacre/errors"
	"github.com/francoislaurent/syncacre/naming"
	"github.com/francoislaurent/syncacre/relay"
)

// Placeholder is the textual metadata blob recording the latest version
// and digest known for a logical path (§4.3, §6). An empty Digest marks a
// tombstone (deletion advertisement).
type Placeholder struct {
	Sender    string
	Version   uint64
	Digest    string // hex-encoded plaintext hash; empty for a tombstone.
	Timestamp time.Time
	Flags     []string
}

// IsTombstone reports whether this placeholder advertises a deletion.
func (ph Placeholder) IsTombstone() bool {
	return ph.Digest == ""
}

// Consumed builds the placeholder a reader writes back after a pull in
// retain-history mode: sender cleared, version and digest preserved
// (§4.3).
func (ph Placeholder) Consumed() Placeholder {
	ph.Sender = ""
	ph.Timestamp = time.Now()
	return ph
}

// Store reads and writes the placeholder blob for a LogicalPath on a
// relay.Adapter. MaxLen and Buckets enforce the §4.2 long-name bucketing
// when set; a zero Store (as built by every pre-existing caller and
// test) behaves exactly as before, unbounded.
type Store struct {
	Adapter relay.Adapter
	Escaper *naming.Escaper
	MaxLen  int
	Buckets naming.BucketIndex
}

func (s *Store) name(p naming.LogicalPath) (string, error) {
	return naming.BoundName(s.Buckets, s.Escaper, s.MaxLen, p, naming.Placeholder, "", "")
}

// Get reads and parses the placeholder for p. It returns a NotExist
// class error (via the adapter) if no placeholder is present.
func (s *Store) Get(ctx context.Context, p naming.LogicalPath) (Placeholder, error) {
	const op = "protocol.Store.Get"
	name, err := s.name(p)
	if err != nil {
		return Placeholder{}, errors.E(op, string(p), err)
	}
	data, err := s.Adapter.Get(ctx, name)
	if err != nil {
		return Placeholder{}, err
	}
	ph, err := ParsePlaceholder(data)
	if err != nil {
		return Placeholder{}, errors.E(op, string(p), errors.Syntax, err)
	}
	return ph, nil
}

// Put writes ph as the placeholder for p.
func (s *Store) Put(ctx context.Context, p naming.LogicalPath, ph Placeholder) error {
	const op = "protocol.Store.Put"
	name, err := s.name(p)
	if err != nil {
		return errors.E(op, string(p), err)
	}
	if err := s.Adapter.Put(ctx, name, FormatPlaceholder(ph)); err != nil {
		return errors.E(op, string(p), errors.RelayTransient, err)
	}
	return nil
}

// Delete removes the placeholder for p (one-shot consumption mode).
func (s *Store) Delete(ctx context.Context, p naming.LogicalPath) error {
	const op = "protocol.Store.Delete"
	name, err := s.name(p)
	if err != nil {
		return errors.E(op, string(p), err)
	}
	if err := s.Adapter.Delete(ctx, name); err != nil {
		return errors.E(op, string(p), errors.RelayTransient, err)
	}
	return nil
}

// FormatPlaceholder renders ph as the textual header format of §6:
// sender, version, digest, timestamp, flags, one key per line, values
// URL-escaped.
func FormatPlaceholder(ph Placeholder) []byte {
	var b strings.Builder
	b.WriteString("sender=")
	b.WriteString(escapeValue(ph.Sender))
	b.WriteString("\nversion=")
	b.WriteString(strconv.FormatUint(ph.Version, 10))
	b.WriteString("\ndigest=")
	b.WriteString(escapeValue(ph.Digest))
	b.WriteString("\ntimestamp=")
	b.WriteString(ph.Timestamp.UTC().Format(time.RFC3339Nano))
	b.WriteString("\nflags=")
	b.WriteString(escapeValue(strings.Join(ph.Flags, ",")))
	b.WriteString("\n")
	return []byte(b.String())
}

// ParsePlaceholder parses the textual header format, ignoring unknown
// keys per §6.
func ParsePlaceholder(data []byte) (Placeholder, error) {
	fields := parseHeader(data)
	var ph Placeholder
	ph.Sender = fields["sender"]
	ph.Digest = fields["digest"]
	if v, ok := fields["version"]; ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Placeholder{}, errors.E("protocol.ParsePlaceholder", errors.Str("invalid version field"))
		}
		ph.Version = n
	}
	if ts, ok := fields["timestamp"]; ok {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return Placeholder{}, errors.E("protocol.ParsePlaceholder", errors.Str("invalid timestamp field"))
		}
		ph.Timestamp = t
	}
	if flags, ok := fields["flags"]; ok && flags != "" {
		ph.Flags = strings.Split(flags, ",")
	}
	return ph, nil
}
