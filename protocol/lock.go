// Package protocol implements the on-relay lock, placeholder, and message
// blobs that coordinate clients over a dumb relay (spec §4.3, §6). It is
// grounded structurally on access.go's pattern of walking relay state
// and translating it into a typed result, and on the errors package's
// idiom for Busy/stale detection.
package protocol

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/francoislaurent/syncacre/errors"
	"github.com/francoislaurent/syncacre/naming"
	"github.com/francoislaurent/syncacre/relay"
)

// Lock drives the four-step best-effort mutex dance of §4.3 over a
// relay.Adapter for one repository.
type Lock struct {
	Adapter   relay.Adapter
	Escaper   *naming.Escaper
	Settle    time.Duration
	TTL       time.Duration
	Pseudonym string
	MaxLen    int
	Buckets   naming.BucketIndex
}

// Held represents an acquired lock; callers must call Release exactly
// once, on every exit path, including error paths (§4.3).
type Held struct {
	name  string
	nonce string
}

// Acquire runs the list-check / put / settle / get-back-and-compare
// sequence of §4.3. It returns a Busy error if another client currently
// holds a non-stale lock, or won the race at the settling step.
func (l *Lock) Acquire(ctx context.Context, p naming.LogicalPath) (*Held, error) {
	const op = "protocol.Lock.Acquire"
	name, err := naming.BoundName(l.Buckets, l.Escaper, l.MaxLen, p, naming.Lock, "", "")
	if err != nil {
		return nil, errors.E(op, string(p), err)
	}

	if existing, err := l.Adapter.Get(ctx, name); err == nil {
		rec, perr := parseLockBody(existing)
		if perr == nil {
			age := time.Since(rec.Timestamp)
			if age < l.TTL && rec.Pseudonym != l.Pseudonym {
				return nil, errors.E(op, string(p), errors.Busy, errors.Str("lock held by "+rec.Pseudonym))
			}
		}
		// Stale (age >= TTL) or unparseable: fall through and contend.
	} else if !errors.Is(errors.NotExist, err) {
		return nil, errors.E(op, string(p), errors.RelayTransient, err)
	}

	nonce := uuid.NewString()
	body := formatLockBody(lockRecord{Pseudonym: l.Pseudonym, Nonce: nonce, Timestamp: time.Now()})
	if err := l.Adapter.Put(ctx, name, body); err != nil {
		return nil, errors.E(op, string(p), errors.RelayTransient, err)
	}

	select {
	case <-time.After(l.Settle):
	case <-ctx.Done():
		return nil, errors.E(op, string(p), errors.Cancelled, ctx.Err())
	}

	got, err := l.Adapter.Get(ctx, name)
	if err != nil {
		return nil, errors.E(op, string(p), errors.RelayTransient, err)
	}
	rec, err := parseLockBody(got)
	if err != nil {
		return nil, errors.E(op, string(p), errors.RelayTransient, err)
	}
	if rec.Nonce != nonce {
		return nil, errors.E(op, string(p), errors.Busy, errors.Str("lost the settling race"))
	}
	return &Held{name: name, nonce: nonce}, nil
}

// Release deletes the lock blob. It is safe to call on every exit path;
// a missing or already-replaced lock is not an error.
func (l *Lock) Release(ctx context.Context, h *Held) error {
	if h == nil {
		return nil
	}
	if err := l.Adapter.Delete(ctx, h.name); err != nil {
		return errors.E("protocol.Lock.Release", errors.RelayTransient, err)
	}
	return nil
}

type lockRecord struct {
	Pseudonym string
	Nonce     string
	Timestamp time.Time
}

func formatLockBody(r lockRecord) []byte {
	var b strings.Builder
	b.WriteString("pseudonym=")
	b.WriteString(escapeValue(r.Pseudonym))
	b.WriteString("\nnonce=")
	b.WriteString(escapeValue(r.Nonce))
	b.WriteString("\ntimestamp=")
	b.WriteString(r.Timestamp.UTC().Format(time.RFC3339Nano))
	b.WriteString("\n")
	return []byte(b.String())
}

func parseLockBody(data []byte) (lockRecord, error) {
	fields := parseHeader(data)
	var r lockRecord
	var ok bool
	if r.Pseudonym, ok = fields["pseudonym"]; !ok {
		return r, errors.E("protocol.parseLockBody", errors.Syntax, errors.Str("missing pseudonym"))
	}
	if r.Nonce, ok = fields["nonce"]; !ok {
		return r, errors.E("protocol.parseLockBody", errors.Syntax, errors.Str("missing nonce"))
	}
	ts, ok := fields["timestamp"]
	if !ok {
		return r, errors.E("protocol.parseLockBody", errors.Syntax, errors.Str("missing timestamp"))
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return r, errors.E("protocol.parseLockBody", errors.Syntax, err)
	}
	r.Timestamp = t
	return r, nil
}

// escapeValue keeps header values on one line, URL-escaping the handful
// of bytes (newline, '=', '%') that would otherwise break the textual
// key=value framing (§6). The hex pair is always two digits, zero
// padded, so unescapeValue can read a fixed width back.
func escapeValue(s string) string {
	const hexDigits = "0123456789abcdef"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\n', '\r', '=', '%':
			b.WriteByte('%')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0xf])
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
