// Package frame implements the payload framing of spec §4.4, §6: every
// blob put on the relay is magic ∥ version ∥ flags ∥ nonce ∥
// body-length ∥ ciphertext ∥ mac, where body-length is the length of the
// stored body: the compressed length when compression is on, not the
// plaintext length. It is grounded in shape on
// plain.go's Packer (Pack/Unpack/PackLen/UnpackLen), simplified to a
// single block since relay payloads are whole files, not a packer's
// sharded blocks. AEAD is golang.org/x/crypto/chacha20poly1305; key
// derivation from a passphrase is golang.org/x/crypto/scrypt; optional
// compression is github.com/pierrec/lz4/v3, applied before encryption.
package frame

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"github.com/pierrec/lz4/v3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"github.com/francoislaurent/syncacre/errors"
)

// magic identifies the frame format; version gates the parser (§6).
var magic = [4]byte{'S', 'Y', 'N', 'C'}

const version = 1

const (
	flagCompressed byte = 1 << 0
	flagEncrypted  byte = 1 << 1
)

// KDFParams are the scrypt cost parameters and per-repository salt used
// to derive a frame key from a passphrase (§4.4). Rotating the
// passphrase requires re-encrypting all payloads, a maintenance op
// (§4.8); KDFParams itself never changes for a repository's lifetime.
type KDFParams struct {
	Salt []byte
	N, R, P int
}

// DefaultKDFParams are reasonable interactive-use scrypt costs.
func DefaultKDFParams(salt []byte) KDFParams {
	return KDFParams{Salt: salt, N: 1 << 15, R: 8, P: 1}
}

// DeriveKey turns a passphrase into a chacha20poly1305 key.
func DeriveKey(passphrase string, p KDFParams) ([]byte, error) {
	key, err := scrypt.Key([]byte(passphrase), p.Salt, p.N, p.R, p.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, errors.E("frame.DeriveKey", errors.ConfigError, err)
	}
	return key, nil
}

// Options controls how Frame encodes a payload.
type Options struct {
	// Key, if non-nil, is a chacha20poly1305 key: authenticated
	// encryption is applied. If nil, the payload is framed unencrypted
	// (still with a length-checked envelope, but no confidentiality).
	Key []byte
	// Compress enables lz4 compression of the plaintext before
	// encryption.
	Compress bool
	// Nonce, if len > 0, is used verbatim instead of a fresh random
	// nonce; intended for deterministic tests only.
	Nonce []byte
}

// Digest returns the hex-independent raw plaintext content hash stored
// unpacked in the placeholder (I5): two clients with independent
// compression settings must compare equal, so the digest is always over
// the plaintext, never the framed bytes.
func Digest(plaintext []byte) [32]byte {
	return sha256.Sum256(plaintext)
}

// Frame encodes plaintext into the on-relay payload format of §6.
func Frame(plaintext []byte, opts Options) ([]byte, error) {
	const op = "frame.Frame"
	body := plaintext
	var flags byte
	if opts.Compress {
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, errors.E(op, errors.Other, err)
		}
		if err := w.Close(); err != nil {
			return nil, errors.E(op, errors.Other, err)
		}
		body = buf.Bytes()
		flags |= flagCompressed
	}

	var out bytes.Buffer
	out.Write(magic[:])
	out.WriteByte(version)

	if opts.Key != nil {
		flags |= flagEncrypted
		aead, err := chacha20poly1305.New(opts.Key)
		if err != nil {
			return nil, errors.E(op, errors.ConfigError, err)
		}
		nonce := opts.Nonce
		if len(nonce) == 0 {
			nonce = make([]byte, aead.NonceSize())
			if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
				return nil, errors.E(op, errors.Other, err)
			}
		}
		out.WriteByte(flags)
		out.Write(nonce)
		var lenBuf [8]byte
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(body)))
		out.Write(lenBuf[:])
		sealed := aead.Seal(nil, nonce, body, nil)
		out.Write(sealed)
		return out.Bytes(), nil
	}

	out.WriteByte(flags)
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(body)))
	out.Write(lenBuf[:])
	out.Write(body)
	return out.Bytes(), nil
}

// Unframe decodes a relay payload back to plaintext, verifying the MAC
// when the frame carries encryption.
func Unframe(framed []byte, key []byte) ([]byte, error) {
	const op = "frame.Unframe"
	if len(framed) < 6 || !bytes.Equal(framed[:4], magic[:]) {
		return nil, errors.E(op, errors.IntegrityError, errors.Str("bad magic"))
	}
	if framed[4] != version {
		return nil, errors.E(op, errors.IntegrityError, errors.Str("unsupported frame version"))
	}
	flags := framed[5]
	rest := framed[6:]

	var body []byte
	if flags&flagEncrypted != 0 {
		if key == nil {
			return nil, errors.E(op, errors.ConfigError, errors.Str("frame is encrypted but no key configured"))
		}
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, errors.E(op, errors.ConfigError, err)
		}
		if len(rest) < aead.NonceSize()+8 {
			return nil, errors.E(op, errors.IntegrityError, errors.Str("truncated frame"))
		}
		nonce := rest[:aead.NonceSize()]
		rest = rest[aead.NonceSize():]
		plainLen := binary.BigEndian.Uint64(rest[:8])
		ciphertext := rest[8:]
		opened, err := aead.Open(nil, nonce, ciphertext, nil)
		if err != nil {
			return nil, errors.E(op, errors.IntegrityError, err)
		}
		if uint64(len(opened)) != plainLen {
			return nil, errors.E(op, errors.IntegrityError, errors.Str("plaintext length mismatch"))
		}
		body = opened
	} else {
		if len(rest) < 8 {
			return nil, errors.E(op, errors.IntegrityError, errors.Str("truncated frame"))
		}
		plainLen := binary.BigEndian.Uint64(rest[:8])
		body = rest[8:]
		if uint64(len(body)) != plainLen {
			return nil, errors.E(op, errors.IntegrityError, errors.Str("plaintext length mismatch"))
		}
	}

	if flags&flagCompressed != 0 {
		r := lz4.NewReader(bytes.NewReader(body))
		decompressed, err := io.ReadAll(r)
		if err != nil {
			return nil, errors.E(op, errors.IntegrityError, err)
		}
		return decompressed, nil
	}
	return body, nil
}
