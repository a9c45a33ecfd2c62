// Syncacred is the daemon that drives one or more repositories' sync
// loops against their configured relay backends.
package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/francoislaurent/syncacre/config"
	"github.com/francoislaurent/syncacre/errors"
	"github.com/francoislaurent/syncacre/frame"
	"github.com/francoislaurent/syncacre/index"
	"github.com/francoislaurent/syncacre/log"
	"github.com/francoislaurent/syncacre/naming"
	"github.com/francoislaurent/syncacre/protocol"
	"github.com/francoislaurent/syncacre/relay"
	_ "github.com/francoislaurent/syncacre/relay/disk"
	_ "github.com/francoislaurent/syncacre/relay/ftp"
	_ "github.com/francoislaurent/syncacre/relay/s3"
	_ "github.com/francoislaurent/syncacre/relay/sftp"
	_ "github.com/francoislaurent/syncacre/relay/webdav"
	"github.com/francoislaurent/syncacre/scheduler"
	"github.com/francoislaurent/syncacre/sync"
)

var (
	rcFiles      = flag.String("rc", "", "comma-separated list of repository RC files")
	manifestFile = flag.String("manifest", "", "YAML manifest listing repositories to drive (alternative to -rc)")
	logLevel     = flag.String("log", "info", "level of logging: debug, info, error, disabled")
	sessionToken = flag.String("session", "", "session token presented when claiming this process's identity on each relay")
)

func main() {
	flag.Parse()
	if err := log.SetLevel(*logLevel); err != nil {
		die(errors.E("syncacred.main", errors.ConfigError, err))
	}
	if *rcFiles == "" && *manifestFile == "" {
		die(errors.E("syncacred.main", errors.ConfigError, errors.Str("one of -rc or -manifest is required")))
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info.Println("syncacred: received shutdown signal")
		cancel()
	}()

	entries, err := repositoryEntries()
	if err != nil {
		die(err)
	}

	var workers []*scheduler.Worker
	for _, e := range entries {
		w, err := buildWorker(ctx, e.name, e.rcFile)
		if err != nil {
			die(err)
		}
		workers = append(workers, w)
	}

	if err := scheduler.RunAll(ctx, workers); err != nil && !errors.Is(errors.Cancelled, err) {
		die(err)
	}
}

// die logs err and terminates the process with the §6 exit code its
// errors.Class maps to (errors.Class.ExitCode), falling back to 1 for an
// error that carries no Class.
func die(err error) {
	if err == nil {
		return
	}
	code := 1
	if c, ok := errors.ClassOf(err); ok {
		code = c.ExitCode()
	}
	log.Error.Printf("syncacred: %v", err)
	os.Exit(code)
}

type repoEntry struct {
	name   string
	rcFile string
}

// repositoryEntries resolves -rc or -manifest into the list of
// repositories this process should drive.
func repositoryEntries() ([]repoEntry, error) {
	const op = "syncacred.repositoryEntries"
	if *manifestFile != "" {
		f, err := os.Open(*manifestFile)
		if err != nil {
			return nil, errors.E(op, *manifestFile, errors.ConfigError, err)
		}
		defer f.Close()
		m, err := config.LoadManifest(f)
		if err != nil {
			return nil, errors.E(op, *manifestFile, err)
		}
		entries := make([]repoEntry, len(m.Repositories))
		for i, r := range m.Repositories {
			entries[i] = repoEntry{name: r.Name, rcFile: r.RCFile}
		}
		return entries, nil
	}

	var entries []repoEntry
	for _, path := range strings.Split(*rcFiles, ",") {
		path = strings.TrimSpace(path)
		entries = append(entries, repoEntry{
			name:   strings.TrimSuffix(filepath.Base(path), ".rc"),
			rcFile: path,
		})
	}
	return entries, nil
}

// buildWorker loads one repository's RC file, dials its relay backend,
// claims its identity, and assembles the sync.Engine and
// scheduler.Worker that drive it.
func buildWorker(ctx context.Context, name, rcFile string) (*scheduler.Worker, error) {
	const op = "syncacred.buildWorker"

	f, err := os.Open(rcFile)
	if err != nil {
		return nil, errors.E(op, rcFile, errors.ConfigError, err)
	}
	defer f.Close()

	repo, err := config.Load(name, f, os.Getenv)
	if err != nil {
		return nil, errors.E(op, rcFile, err)
	}

	adapter, err := relay.Dial(ctx, repo.RelayScheme, repo.RelayOpts())
	if err != nil {
		return nil, errors.E(op, repo.Name, err)
	}

	esc := naming.NewEscaper(adapter.Forbidden())

	if err := config.ClaimIdentity(ctx, adapter, repo.Pseudonym, *sessionToken); err != nil {
		return nil, errors.E(op, repo.Name, err)
	}

	idx, err := index.Open(repo.IndexPath)
	if err != nil {
		return nil, errors.E(op, repo.Name, err)
	}

	var opts frame.Options
	if repo.Passphrase != "" {
		// The KDF salt only needs to be stable across a repository's
		// restarts, not secret, so it is derived from the repository
		// name rather than stored separately.
		salt := sha256.Sum256([]byte("syncacre-salt:" + repo.Name))
		key, err := frame.DeriveKey(repo.Passphrase, frame.DefaultKDFParams(salt[:]))
		if err != nil {
			return nil, errors.E(op, repo.Name, err)
		}
		opts = frame.Options{Key: key, Compress: repo.Compress}
	} else {
		opts = frame.Options{Compress: repo.Compress}
	}

	placeholders := &protocol.Store{Adapter: adapter, Escaper: esc, MaxLen: repo.MaxNameLength, Buckets: idx}
	locks := &protocol.Lock{
		Adapter:   adapter,
		Escaper:   esc,
		Settle:    repo.LockSettle,
		TTL:       repo.LockTTL,
		Pseudonym: repo.Pseudonym,
		MaxLen:    repo.MaxNameLength,
		Buckets:   idx,
	}
	mailbox := &protocol.Mailbox{Adapter: adapter, Escaper: esc, Pseudonym: repo.Pseudonym, MaxLen: repo.MaxNameLength, Buckets: idx}

	engine := &sync.Engine{
		Adapter:       adapter,
		Escaper:       esc,
		Placeholders:  placeholders,
		Locks:         locks,
		Mailbox:       mailbox,
		Index:         idx,
		Root:          repo.LocalRoot,
		Pseudonym:     repo.Pseudonym,
		Strategy:      repo.Strategy.SyncStrategy(),
		Retention:     repo.Retention.SyncRetention(),
		Frame:         opts,
		AccessDefault: repo.Access.AccessMode(),
		MaxNameLength: repo.MaxNameLength,
	}

	return &scheduler.Worker{
		Engine:               engine,
		Adapter:              adapter,
		Escaper:              esc,
		Mailbox:              mailbox,
		Index:                idx,
		Root:                 repo.LocalRoot,
		ScanInterval:         repo.ScanInterval,
		ScanJitter:           repo.ScanJitter,
		Backoff:              scheduler.NewBackoff(repo.ScanInterval, repo.ScanInterval*20),
		PlaceholderRetention: repo.PlaceholderRetention,
		Name:                 repo.Name,
	}, nil
}

