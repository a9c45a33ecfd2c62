// Package naming implements the mapping between a LogicalPath (the
// repository-relative identity of a synchronized file) and the RelayName
// under which its payload, placeholder, lock, and message blobs live on
// the relay (spec §3, §4.2, §6).
package naming

import (
	gopath "path"
	"strings"

	"github.com/francoislaurent/syncacre/errors"
)

// LogicalPath is a UTF-8 relative path from the repository root,
// canonicalized: no "..", no leading "/", forward slashes only.
type LogicalPath string

// Category distinguishes the five RelayName kinds that correspond to one
// LogicalPath.
type Category int

const (
	Payload Category = iota
	Placeholder
	Lock
	Message
	Tmp
)

const (
	suffixPlaceholder = ".placeholder"
	suffixLock        = ".lock"
	suffixMessage     = ".message."
	suffixTmp         = ".tmp."
)

// reservedSuffixes lists every suffix that makes a source-tree path
// ambiguous with a relay auxiliary blob; such paths are rejected at scan
// time (§4.2).
var reservedSuffixes = []string{suffixPlaceholder, suffixLock, suffixMessage, suffixTmp}

// Clean canonicalizes a candidate relative path into a LogicalPath,
// rejecting ".." traversal and stripping leading slashes, mirroring path.Clean's
// contract but without the user@domain address prefix a global path
// namespace would carry: a LogicalPath is relay-repository-relative,
// not global.
func Clean(p string) (LogicalPath, error) {
	const op = "naming.Clean"
	if p == "" {
		return "", errors.E(op, errors.Syntax, errors.Str("empty path"))
	}
	norm := strings.TrimLeft(strings.ReplaceAll(p, "\\", "/"), "/")
	cleaned := gopath.Clean(norm)
	if cleaned == "." || cleaned == "" {
		return "", errors.E(op, errors.Syntax, errors.Str("path has no elements"))
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.E(op, errors.Syntax, errors.Str("path escapes repository root"))
	}
	return LogicalPath(cleaned), nil
}

// IsReserved reports whether a source-tree path collides with one of the
// relay's reserved category suffixes and must be rejected at scan time.
func IsReserved(p LogicalPath) bool {
	s := string(p)
	for _, suf := range reservedSuffixes {
		if strings.HasSuffix(s, suf) || strings.Contains(s, suf) {
			return true
		}
	}
	return false
}

// Escaper reversibly maps characters a relay backend forbids in blob names
// to an escape sequence, and back. Each backend declares its own forbidden
// set at registration time (§4.2): FTP, WebDAV, SFTP and S3 each forbid a
// different, overlapping set of bytes.
type Escaper struct {
	forbidden map[byte]bool
}

// NewEscaper builds an Escaper for the given forbidden byte set.
func NewEscaper(forbidden string) *Escaper {
	m := make(map[byte]bool, len(forbidden))
	for i := 0; i < len(forbidden); i++ {
		m[forbidden[i]] = true
	}
	return &Escaper{forbidden: m}
}

const escapeChar = '%'

// Escape replaces forbidden characters (and the escape character itself)
// with a reversible %XX sequence.
func (e *Escaper) Escape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == escapeChar || e.forbidden[c] {
			b.WriteByte(escapeChar)
			b.WriteString(hexByte(c))
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Unescape reverses Escape.
func (e *Escaper) Unescape(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != escapeChar {
			b.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", errors.E("naming.Unescape", errors.Syntax, errors.Str("truncated escape sequence"))
		}
		c, err := unhexByte(s[i+1], s[i+2])
		if err != nil {
			return "", errors.E("naming.Unescape", errors.Syntax, err)
		}
		b.WriteByte(c)
		i += 2
	}
	return b.String(), nil
}

func hexByte(c byte) string {
	const hex = "0123456789ABCDEF"
	return string([]byte{hex[c>>4], hex[c&0xf]})
}

func unhexByte(hi, lo byte) (byte, error) {
	h, err := hexNibble(hi)
	if err != nil {
		return 0, err
	}
	l, err := hexNibble(lo)
	if err != nil {
		return 0, err
	}
	return h<<4 | l, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	}
	return 0, errors.Str("invalid hex digit")
}

// RelayName constructs the blob name for p in the given category, as
// escaped by e. recipient is only consulted for Message and nonce only
// for Tmp. It never bucket-rewrites; callers that must respect a
// backend's maximum name length use BoundName instead.
func RelayName(e *Escaper, p LogicalPath, cat Category, recipient, nonce string) string {
	return relayName(e.Escape(string(p)), cat, recipient, nonce)
}

func relayName(escaped string, cat Category, recipient, nonce string) string {
	switch cat {
	case Placeholder:
		return escaped + suffixPlaceholder
	case Lock:
		return escaped + suffixLock
	case Message:
		return escaped + suffixMessage + recipient
	case Tmp:
		return escaped + suffixTmp + nonce
	default:
		return escaped
	}
}

// MaxNameLength is the default maximum relay blob name length before a
// path is rewritten into a hashed bucket name (§4.2). Individual
// repositories may override it per backend.
const MaxNameLength = 200

// BucketIndex is the side table BoundName records an over-length name's
// original LogicalPath into, and ResolvePath reverses a bucket name
// through. It is declared here, rather than imported from package index,
// to avoid naming -> index -> naming; *index.Index satisfies it.
type BucketIndex interface {
	PutBucketName(p LogicalPath, bucket string) error
	PathForBucket(bucket string) (LogicalPath, bool, error)
}

// BoundName is RelayName with the §4.2 length bound enforced: if the
// plain name would exceed maxLen, it is rewritten into a hashed bucket
// name and the original LogicalPath is recorded in idx so ResolvePath
// can reverse it later. maxLen <= 0 or a nil idx disables bucketing.
func BoundName(idx BucketIndex, e *Escaper, maxLen int, p LogicalPath, cat Category, recipient, nonce string) (string, error) {
	name := RelayName(e, p, cat, recipient, nonce)
	if idx == nil || !NeedsBucket(name, maxLen) {
		return name, nil
	}
	bucket := BucketName(e.Escape(string(p)))
	if err := idx.PutBucketName(p, bucket); err != nil {
		return "", errors.E("naming.BoundName", string(p), err)
	}
	return relayName(bucket, cat, recipient, nonce), nil
}

// ResolvePath reverses the escaped portion of a relay name (as returned
// by ParseRelayName) back into a LogicalPath, following the bucket side
// table when escaped is a bucket name rather than a literal Escape
// output. It returns NotExist if escaped is a bucket name idx has no
// record for (e.g. one pruned by a rescan it never saw).
func ResolvePath(idx BucketIndex, e *Escaper, escaped string) (LogicalPath, error) {
	const op = "naming.ResolvePath"
	if IsBucketName(escaped) {
		if idx == nil {
			return "", errors.E(op, errors.NotExist, errors.Str("bucket name with no index to resolve it"))
		}
		p, found, err := idx.PathForBucket(escaped)
		if err != nil {
			return "", errors.E(op, err)
		}
		if !found {
			return "", errors.E(op, errors.NotExist, errors.Str("unrecorded bucket name"))
		}
		return p, nil
	}
	raw, err := e.Unescape(escaped)
	if err != nil {
		return "", errors.E(op, errors.Syntax, err)
	}
	return Clean(raw)
}

// ParseRelayName reverses RelayName: given a raw blob name observed on
// the relay, it reports the escaped logical path, its Category, and (for
// Message/Tmp) the recipient or nonce suffix. It does not unescape the
// path; callers pass the result through an Escaper themselves so the
// same forbidden-byte set used to build the name is used to parse it.
func ParseRelayName(name string) (escaped string, cat Category, extra string) {
	if rest, ok := strings.CutSuffix(name, suffixLock); ok {
		return rest, Lock, ""
	}
	if rest, ok := strings.CutSuffix(name, suffixPlaceholder); ok {
		return rest, Placeholder, ""
	}
	if i := strings.Index(name, suffixMessage); i >= 0 {
		return name[:i], Message, name[i+len(suffixMessage):]
	}
	if i := strings.Index(name, suffixTmp); i >= 0 {
		return name[:i], Tmp, name[i+len(suffixTmp):]
	}
	return name, Payload, ""
}
