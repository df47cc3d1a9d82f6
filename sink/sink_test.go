package sink

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rustyhorde/barto/config"
)

func newTestSink(t *testing.T) *Sink {
	t.Helper()
	dir := t.TempDir()
	cfg := config.StorageConfig{Database: filepath.Join(dir, "barto_test.db")}
	s, err := New(cfg, t.Logf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndListOutput(t *testing.T) {
	// S6
	s := newTestSink(t)
	ctx := context.Background()
	for _, line := range []string{"A", "B", "C"} {
		s.AppendOutput(ctx, OutputRecord{
			Timestamp:  time.Now().UTC(),
			WorkerUUID: "w1", WorkerName: "alpha", CmdUUID: "cmd-1",
			Kind: "stdout", Data: line,
		})
	}
	if err := s.AppendStatus(ctx, StatusRecord{CmdUUID: "cmd-1", ExitCode: 0, Success: true}); err != nil {
		t.Fatalf("AppendStatus: %v", err)
	}

	rows, err := s.ListOutput(ctx, "alpha", "")
	if err != nil {
		t.Fatalf("ListOutput: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	for i, want := range []string{"A", "B", "C"} {
		if rows[i].Data != want {
			t.Errorf("row %d: got %q, want %q", i, rows[i].Data, want)
		}
	}
}

func TestAppendStatusUpsertsNotDuplicates(t *testing.T) {
	// invariant 4: at most one Status row per cmd_uuid
	s := newTestSink(t)
	ctx := context.Background()
	if err := s.AppendStatus(ctx, StatusRecord{CmdUUID: "cmd-2", ExitCode: 1, Success: false}); err != nil {
		t.Fatalf("AppendStatus: %v", err)
	}
	if err := s.AppendStatus(ctx, StatusRecord{CmdUUID: "cmd-2", ExitCode: 0, Success: true}); err != nil {
		t.Fatalf("AppendStatus (2nd): %v", err)
	}
	failed, err := s.ListFailed(ctx)
	if err != nil {
		t.Fatalf("ListFailed: %v", err)
	}
	for _, f := range failed {
		if f.CmdUUID == "cmd-2" {
			t.Fatalf("cmd-2 should have been overwritten to success, found in failed list")
		}
	}

	var count int
	row := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.statusTable+" WHERE cmd_uuid = ?", "cmd-2")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 1 {
		t.Fatalf("got %d rows for cmd-2, want exactly 1", count)
	}
}

func TestListFailed(t *testing.T) {
	s := newTestSink(t)
	ctx := context.Background()
	s.AppendStatus(ctx, StatusRecord{CmdUUID: "ok-1", ExitCode: 0, Success: true})
	s.AppendStatus(ctx, StatusRecord{CmdUUID: "bad-1", ExitCode: 1, Success: false})

	failed, err := s.ListFailed(ctx)
	if err != nil {
		t.Fatalf("ListFailed: %v", err)
	}
	if len(failed) != 1 || failed[0].CmdUUID != "bad-1" {
		t.Fatalf("got %+v, want one entry for bad-1", failed)
	}
}

func TestRawQueryRejectsNonSelect(t *testing.T) {
	s := newTestSink(t)
	_, err := s.RawQuery(context.Background(), "DELETE FROM "+s.statusTable)
	if err == nil {
		t.Fatal("expected error for non-SELECT raw_query")
	}
}

func TestRawQuerySelect(t *testing.T) {
	s := newTestSink(t)
	ctx := context.Background()
	s.AppendStatus(ctx, StatusRecord{CmdUUID: "q-1", ExitCode: 0, Success: true})
	rows, err := s.RawQuery(ctx, "SELECT cmd_uuid FROM "+s.statusTable+" WHERE cmd_uuid = 'q-1'")
	if err != nil {
		t.Fatalf("RawQuery: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
}

func TestMissedDispatchSynthesizesStatusAfterGrace(t *testing.T) {
	// S4, shortened grace period via direct call rather than waiting 10s.
	s := newTestSink(t)
	ctx := context.Background()
	s.synthesizeMissed("cmd-missed")

	var exitCode int
	var success bool
	row := s.db.QueryRowContext(ctx, "SELECT exit_code, success FROM "+s.statusTable+" WHERE cmd_uuid = ?", "cmd-missed")
	if err := row.Scan(&exitCode, &success); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if exitCode != 255 || success {
		t.Errorf("got exit_code=%d success=%v, want 255/false", exitCode, success)
	}

	rows, err := s.ListOutput(ctx, "", "")
	if err != nil {
		t.Fatalf("ListOutput: %v", err)
	}
	for _, r := range rows {
		if r.CmdUUID == "cmd-missed" {
			t.Fatal("missed dispatch should have no output rows")
		}
	}
}

func TestMissedDispatchDoesNotClobberRealStatus(t *testing.T) {
	s := newTestSink(t)
	ctx := context.Background()
	if err := s.AppendStatus(ctx, StatusRecord{CmdUUID: "cmd-real", ExitCode: 0, Success: true}); err != nil {
		t.Fatalf("AppendStatus: %v", err)
	}
	s.synthesizeMissed("cmd-real")

	var exitCode int
	var success bool
	row := s.db.QueryRowContext(ctx, "SELECT exit_code, success FROM "+s.statusTable+" WHERE cmd_uuid = ?", "cmd-real")
	if err := row.Scan(&exitCode, &success); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if exitCode != 0 || !success {
		t.Errorf("got exit_code=%d success=%v, want real status 0/true preserved", exitCode, success)
	}
}
