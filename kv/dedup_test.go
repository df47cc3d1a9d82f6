package kv

import (
	"testing"
	"time"

	"github.com/rustyhorde/barto/wire"
)

func TestDedupCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if _, found, err := c.Lookup("abc"); err != nil || found {
		t.Fatalf("expected miss before MarkDone, found=%v err=%v", found, err)
	}

	status := wire.Status{ExitCode: 0, Success: true}
	if err := c.MarkDone("abc", status, time.Hour); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}

	got, found, err := c.Lookup("abc")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !found {
		t.Fatal("expected hit after MarkDone")
	}
	if got.ExitCode != 0 || !got.Success {
		t.Errorf("got %+v, want ExitCode=0 Success=true", got)
	}
}

func TestDedupCacheMissForUnknownKey(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if _, found, err := c.Lookup("never-seen"); err != nil || found {
		t.Fatalf("expected miss, found=%v err=%v", found, err)
	}
}
