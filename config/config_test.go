package config

import (
	"strings"
	"testing"
	"time"

	"github.com/francoislaurent/syncacre/index"
)

const sample = `
# comment line
relay = ftp
relay_addr = ftp.example.com:21
local_root = /srv/repo
index_path = /srv/repo.index
pseudonym = alice
conflict_strategy = pull-first
retention = one-shot
scan_interval = 1m
compress = true
`

func TestLoadParsesRCFile(t *testing.T) {
	repo, err := Load("main", strings.NewReader(sample), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if repo.RelayScheme != "ftp" || repo.RelayAddr != "ftp.example.com:21" {
		t.Errorf("relay fields = %q/%q", repo.RelayScheme, repo.RelayAddr)
	}
	if repo.Pseudonym != "alice" {
		t.Errorf("pseudonym = %q, want alice", repo.Pseudonym)
	}
	if repo.Strategy != PullFirst {
		t.Errorf("strategy = %v, want PullFirst", repo.Strategy)
	}
	if repo.Retention != OneShot {
		t.Errorf("retention = %v, want OneShot", repo.Retention)
	}
	if repo.ScanInterval != time.Minute {
		t.Errorf("scan_interval = %v, want 1m", repo.ScanInterval)
	}
	if !repo.Compress {
		t.Error("compress = false, want true")
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	env := map[string]string{"SYNCACRE_MAIN_PSEUDONYM": "bob"}
	repo, err := Load("main", strings.NewReader(sample), func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if repo.Pseudonym != "bob" {
		t.Errorf("pseudonym = %q, want bob (env override)", repo.Pseudonym)
	}
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	if _, err := Load("main", strings.NewReader("relay = ftp\n"), nil); err == nil {
		t.Fatal("expected ConfigError for missing local_root/pseudonym/index_path")
	}
}

func TestLoadRejectsUnknownStrategy(t *testing.T) {
	bad := sample + "\nconflict_strategy = whatever\n"
	if _, err := Load("main", strings.NewReader(bad), nil); err == nil {
		t.Fatal("expected ConfigError for unknown conflict_strategy")
	}
}

func TestDefaultsApplyWhenUnset(t *testing.T) {
	repo, err := Load("main", strings.NewReader("local_root=/r\nindex_path=/r.idx\npseudonym=a\n"), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if repo.RelayScheme != "file" {
		t.Errorf("default relay scheme = %q, want file", repo.RelayScheme)
	}
	if repo.LockTTL == 0 {
		t.Error("default LockTTL should be non-zero")
	}
	if repo.Access.AccessMode() != (index.AccessMode{Read: index.Allowed, Write: index.Allowed}) {
		t.Errorf("default access = %+v, want fully allowed", repo.Access)
	}
}

func TestLoadParsesAccessDefault(t *testing.T) {
	rc := "local_root=/r\nindex_path=/r.idx\npseudonym=a\naccess = r-w?\n"
	repo, err := Load("main", strings.NewReader(rc), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := index.AccessMode{Read: index.Denied, Write: index.Gated}
	if got := repo.Access.AccessMode(); got != want {
		t.Errorf("access = %+v, want %+v", got, want)
	}
}

func TestLoadRejectsInvalidAccessSyntax(t *testing.T) {
	rc := "local_root=/r\nindex_path=/r.idx\npseudonym=a\naccess = xyz\n"
	if _, err := Load("main", strings.NewReader(rc), nil); err == nil {
		t.Fatal("expected ConfigError for invalid access syntax")
	}
}
