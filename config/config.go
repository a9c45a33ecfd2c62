// Package config builds a repository's configuration from an RC-style
// file overridable by environment variables, grounded on
// initcontext.go's key=value parsing. Unlike that style, nothing here is
// process-global: every repository is an independently loaded
// Repository value, since a single daemon may drive several repositories
// at once (§6 Configuration, §4.7).
package config

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/francoislaurent/syncacre/errors"
	"github.com/francoislaurent/syncacre/index"
	"github.com/francoislaurent/syncacre/naming"
	"github.com/francoislaurent/syncacre/relay"
	"github.com/francoislaurent/syncacre/sync"
)

// ConflictStrategy names the §4.6 conflict resolution policy. It is
// declared here rather than reusing sync.Strategy directly so that RC
// parsing (parseStrategy, below) stays independent of package sync; its
// int values are defined to line up one-for-one with sync.Strategy, and
// SyncStrategy() converts between the two.
type ConflictStrategy int

const (
	NewerWins ConflictStrategy = iota
	PullFirst
	Reject
)

// SyncStrategy converts a parsed ConflictStrategy into the sync.Strategy
// a sync.Engine is built with.
func (s ConflictStrategy) SyncStrategy() sync.Strategy {
	return sync.Strategy(s)
}

// RetentionMode names the §4.3 placeholder retention policy. Its int
// values line up one-for-one with sync.RetentionMode; SyncRetention()
// converts between the two.
type RetentionMode int

const (
	OneShot RetentionMode = iota
	RetainHistory
)

// SyncRetention converts a parsed RetentionMode into the
// sync.RetentionMode a sync.Engine is built with.
func (m RetentionMode) SyncRetention() sync.RetentionMode {
	return sync.RetentionMode(m)
}

// AccessDefault is the startup default access modifier for paths that
// have no explicit entry, expressed with the §6 syntax.
type AccessDefault struct {
	Read  index.AccessFlag
	Write index.AccessFlag
}

// AccessMode converts a parsed AccessDefault into the index.AccessMode a
// freshly recorded IndexEntry is seeded with.
func (a AccessDefault) AccessMode() index.AccessMode {
	return index.AccessMode{Read: a.Read, Write: a.Write}
}

// Repository is everything one repository's worker loop needs: relay
// connection, local tree, identity, policy knobs, and timing (§6
// Configuration).
type Repository struct {
	Name string

	// Relay connection.
	RelayScheme   string // "ftp", "webdav", "sftp", "s3", "file".
	RelayAddr     string
	RelayUser     string
	RelayPassword string
	RelayRoot     string

	// Local state.
	LocalRoot string
	IndexPath string

	// Identity and policy.
	Pseudonym  string
	Strategy   ConflictStrategy
	Retention  RetentionMode
	Passphrase string
	Compress   bool
	Access     AccessDefault

	// Timing (§4.3, §4.7, §5).
	ScanInterval         time.Duration
	ScanJitter           time.Duration
	LockTTL              time.Duration
	LockSettle           time.Duration
	PlaceholderRetention time.Duration
	AdapterTimeout       time.Duration

	MaxNameLength int

	LogLevel string
}

// defaults mirror reasonable interactive-use values; every field except
// AdapterTimeout can be overridden by the RC file or environment.
func defaults() Repository {
	return Repository{
		RelayScheme:          "file",
		Strategy:             NewerWins,
		Retention:            RetainHistory,
		ScanInterval:         30 * time.Second,
		ScanJitter:           5 * time.Second,
		LockTTL:              2 * time.Minute,
		LockSettle:           500 * time.Millisecond,
		PlaceholderRetention: 30 * 24 * time.Hour,
		AdapterTimeout:       30 * time.Second,
		MaxNameLength:        naming.MaxNameLength,
		LogLevel:             "info",
	}
}

// envPrefix returns the prefix of the environment variables that override
// RC-file keys, generalizing a project-prefix+key scheme to a per-repository
// "SYNCACRE_<REPO>_<KEY>" form so multiple repositories in one process
// don't collide (§6: "multiple repositories are multiple RC files;
// nothing is process global").
func envPrefix(repoName string) string {
	return "SYNCACRE_" + strings.ToUpper(repoName) + "_"
}

// Load parses an RC-style configuration (lines of "key = value", "#"
// comments) from r, applies environment variable overrides, and
// validates the result (§6 Configuration; §7 ConfigError).
//
// name identifies the repository for the purpose of environment
// variable namespacing and logging; it need not appear in r.
func Load(name string, r io.Reader, getenv func(string) string) (*Repository, error) {
	const op = "config.Load"
	if getenv == nil {
		getenv = func(string) string { return "" }
	}

	raw := map[string]string{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if sharp := strings.IndexByte(line, '#'); sharp >= 0 {
			line = line[:sharp]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		raw[strings.TrimSpace(key)] = strings.TrimSpace(val)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E(op, errors.ConfigError, err)
	}

	prefix := envPrefix(name)
	get := func(key string) (string, bool) {
		if v := getenv(prefix + strings.ToUpper(key)); v != "" {
			return v, true
		}
		v, ok := raw[key]
		return v, ok
	}

	repo := defaults()
	repo.Name = name

	if v, ok := get("relay"); ok {
		repo.RelayScheme = v
	}
	if v, ok := get("relay_addr"); ok {
		repo.RelayAddr = v
	}
	if v, ok := get("relay_user"); ok {
		repo.RelayUser = v
	}
	if v, ok := get("relay_password"); ok {
		repo.RelayPassword = v
	}
	if v, ok := get("relay_root"); ok {
		repo.RelayRoot = v
	}
	if v, ok := get("local_root"); ok {
		repo.LocalRoot = v
	}
	if v, ok := get("index_path"); ok {
		repo.IndexPath = v
	}
	if v, ok := get("pseudonym"); ok {
		repo.Pseudonym = v
	}
	if v, ok := get("passphrase"); ok {
		repo.Passphrase = v
	}
	if v, ok := get("log_level"); ok {
		repo.LogLevel = v
	}
	if v, ok := get("conflict_strategy"); ok {
		s, err := parseStrategy(v)
		if err != nil {
			return nil, errors.E(op, errors.ConfigError, err)
		}
		repo.Strategy = s
	}
	if v, ok := get("retention"); ok {
		m, err := parseRetention(v)
		if err != nil {
			return nil, errors.E(op, errors.ConfigError, err)
		}
		repo.Retention = m
	}
	if v, ok := get("compress"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.E(op, errors.ConfigError, err)
		}
		repo.Compress = b
	}
	if v, ok := get("scan_interval"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.E(op, errors.ConfigError, err)
		}
		repo.ScanInterval = d
	}
	if v, ok := get("scan_jitter"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.E(op, errors.ConfigError, err)
		}
		repo.ScanJitter = d
	}
	if v, ok := get("lock_ttl"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.E(op, errors.ConfigError, err)
		}
		repo.LockTTL = d
	}
	if v, ok := get("lock_settle"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.E(op, errors.ConfigError, err)
		}
		repo.LockSettle = d
	}
	if v, ok := get("placeholder_retention"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.E(op, errors.ConfigError, err)
		}
		repo.PlaceholderRetention = d
	}
	if v, ok := get("max_name_length"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.E(op, errors.ConfigError, err)
		}
		repo.MaxNameLength = n
	}
	if v, ok := get("access"); ok {
		a, err := parseAccessDefault(v)
		if err != nil {
			return nil, errors.E(op, errors.ConfigError, err)
		}
		repo.Access = a
	}

	if err := validate(&repo); err != nil {
		return nil, errors.E(op, errors.ConfigError, err)
	}
	return &repo, nil
}

func validate(r *Repository) error {
	if r.LocalRoot == "" {
		return errors.Str("local_root is required")
	}
	if r.Pseudonym == "" {
		return errors.Str("pseudonym is required")
	}
	if r.IndexPath == "" {
		return errors.Str("index_path is required")
	}
	return nil
}

func parseStrategy(s string) (ConflictStrategy, error) {
	switch s {
	case "newer-wins":
		return NewerWins, nil
	case "pull-first":
		return PullFirst, nil
	case "reject":
		return Reject, nil
	}
	return 0, errors.Errorf("unknown conflict_strategy %q", s)
}

// parseAccessDefault parses the §6 access syntax: a run of "r" and "w"
// tokens, each optionally followed by "-" (Denied) or "?" (Gated); a bare
// "r" or "w" with no suffix means Allowed. E.g. "r-w?" denies reads and
// gates writes; "r?" gates reads and leaves writes at their Allowed
// zero value.
func parseAccessDefault(s string) (AccessDefault, error) {
	var a AccessDefault
	for i := 0; i < len(s); {
		var flag *index.AccessFlag
		switch s[i] {
		case 'r':
			flag = &a.Read
		case 'w':
			flag = &a.Write
		default:
			return AccessDefault{}, errors.Errorf("invalid access token %q", s[i:])
		}
		i++
		val := index.Allowed
		if i < len(s) {
			switch s[i] {
			case '-':
				val = index.Denied
				i++
			case '?':
				val = index.Gated
				i++
			}
		}
		*flag = val
	}
	return a, nil
}

func parseRetention(s string) (RetentionMode, error) {
	switch s {
	case "one-shot":
		return OneShot, nil
	case "retain-history":
		return RetainHistory, nil
	}
	return 0, errors.Errorf("unknown retention %q", s)
}

// RelayOpts builds the relay.Opts this repository's configured backend
// is dialed with (§4.1).
func (r *Repository) RelayOpts() *relay.Opts {
	return &relay.Opts{
		Addr:     r.RelayAddr,
		User:     r.RelayUser,
		Password: r.RelayPassword,
		Root:     r.RelayRoot,
		Timeout:  r.AdapterTimeout,
	}
}
