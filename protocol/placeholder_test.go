package protocol

import (
	"testing"
	"time"
)

func TestPlaceholderRoundTrip(t *testing.T) {
	ph := Placeholder{
		Sender:    "alice",
		Version:   3,
		Digest:    "deadbeef",
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Flags:     []string{"compressed", "encrypted"},
	}
	data := FormatPlaceholder(ph)
	got, err := ParsePlaceholder(data)
	if err != nil {
		t.Fatalf("ParsePlaceholder: %v", err)
	}
	if got.Sender != ph.Sender || got.Version != ph.Version || got.Digest != ph.Digest {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, ph)
	}
	if !got.Timestamp.Equal(ph.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, ph.Timestamp)
	}
	if len(got.Flags) != 2 || got.Flags[0] != "compressed" || got.Flags[1] != "encrypted" {
		t.Errorf("Flags = %v, want [compressed encrypted]", got.Flags)
	}
}

func TestPlaceholderTombstone(t *testing.T) {
	ph := Placeholder{Sender: "alice", Version: 4, Digest: ""}
	if !ph.IsTombstone() {
		t.Error("IsTombstone = false, want true for empty digest")
	}
	ph2 := Placeholder{Sender: "alice", Version: 4, Digest: "abc"}
	if ph2.IsTombstone() {
		t.Error("IsTombstone = true, want false for non-empty digest")
	}
}

func TestPlaceholderIgnoresUnknownKeys(t *testing.T) {
	data := []byte("sender=alice\nversion=1\ndigest=ab\nfuture-field=whatever\ntimestamp=" +
		time.Now().UTC().Format(time.RFC3339Nano) + "\n")
	ph, err := ParsePlaceholder(data)
	if err != nil {
		t.Fatalf("ParsePlaceholder: %v", err)
	}
	if ph.Sender != "alice" || ph.Version != 1 || ph.Digest != "ab" {
		t.Errorf("unexpected parse result: %+v", ph)
	}
}

func TestPlaceholderConsumedClearsSender(t *testing.T) {
	ph := Placeholder{Sender: "alice", Version: 2, Digest: "ab"}
	c := ph.Consumed()
	if c.Sender != "" {
		t.Errorf("Consumed().Sender = %q, want empty", c.Sender)
	}
	if c.Version != ph.Version || c.Digest != ph.Digest {
		t.Errorf("Consumed() changed version/digest: %+v", c)
	}
}
