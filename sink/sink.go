// Package sink implements the durable append-only store for command output
// and terminal status: two tables, backed by SQLite via
// github.com/mattn/go-sqlite3, with retry policies differentiated by how
// replaceable each kind of row is.
package sink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyhorde/barto/barrors"
	"github.com/rustyhorde/barto/config"
	"github.com/rustyhorde/barto/wire"
)

// OutputRecord is one row of the output table.
type OutputRecord struct {
	Timestamp  time.Time
	WorkerUUID string
	WorkerName string
	CmdUUID    string
	Kind       wire.OutputKind
	Data       string
}

// StatusRecord is one row of the exit_status table.
type StatusRecord struct {
	CmdUUID  string
	ExitCode uint8
	Success  bool
}

// Sink owns the two persisted tables and answers the CLI's query operations.
type Sink struct {
	db          *sql.DB
	outputTable string
	statusTable string
	log         *log_
	graceTimers chan graceRequest
	done        chan struct{}
}

// log_ is a minimal logging seam so the sink doesn't require importing the
// full *log.Logger type in every constructor signature used by tests.
type log_ struct {
	printf func(format string, args ...any)
}

func (l *log_) Printf(format string, args ...any) {
	if l == nil || l.printf == nil {
		return
	}
	l.printf(format, args...)
}

// New opens (creating if absent) a SQLite database at cfg.Database and
// ensures the output/exit_status tables exist, using the live or test table
// names resolved from cfg.
func New(cfg config.StorageConfig, logf func(string, ...any)) (*Sink, error) {
	db, err := sql.Open("sqlite3", cfg.Database+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("%w: opening sink database: %v", barrors.StorageError, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: pinging sink database: %v", barrors.StorageError, err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	s := &Sink{
		db:          db,
		outputTable: cfg.OutputTableName(),
		statusTable: cfg.StatusTableName(),
		log:         &log_{printf: logf},
		graceTimers: make(chan graceRequest, 256),
		done:        make(chan struct{}),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	go s.runGraceLoop()
	return s, nil
}

func (s *Sink) initSchema() error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TIMESTAMP NOT NULL,
			bartoc_uuid TEXT NOT NULL,
			bartoc_name TEXT NOT NULL,
			cmd_uuid TEXT NOT NULL,
			kind TEXT NOT NULL,
			data TEXT NOT NULL
		)`, s.outputTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_cmd_uuid ON %s(cmd_uuid)`, s.outputTable, s.outputTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cmd_uuid TEXT NOT NULL UNIQUE,
			exit_code INTEGER NOT NULL,
			success INTEGER NOT NULL
		)`, s.statusTable),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("%w: schema init: %v", barrors.StorageError, err)
		}
	}
	return nil
}

func (s *Sink) Close() error {
	close(s.done)
	return s.db.Close()
}

func retryPolicy(maxElapsed time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = maxElapsed
	return b
}

// AppendOutput inserts one output row, retrying transient errors up to a 30s
// envelope; on exhaustion the record is logged and dropped, since output is
// best-effort.
func (s *Sink) AppendOutput(ctx context.Context, r OutputRecord) {
	op := func() error {
		_, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (timestamp, bartoc_uuid, bartoc_name, cmd_uuid, kind, data) VALUES (?, ?, ?, ?, ?, ?)`, s.outputTable),
			r.Timestamp, r.WorkerUUID, r.WorkerName, r.CmdUUID, string(r.Kind), r.Data)
		return err
	}
	if err := backoff.Retry(op, retryPolicy(30*time.Second)); err != nil {
		s.log.Printf("[sink] append_output dropped for cmd %s after retry exhaustion: %v", r.CmdUUID, err)
	}
}

// AppendStatus upserts the terminal status for a cmd_uuid, retrying on a
// slower cadence than AppendOutput because status is more valuable.
func (s *Sink) AppendStatus(ctx context.Context, r StatusRecord) error {
	op := func() error {
		_, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (cmd_uuid, exit_code, success) VALUES (?, ?, ?)
				ON CONFLICT(cmd_uuid) DO UPDATE SET exit_code=excluded.exit_code, success=excluded.success`, s.statusTable),
			r.CmdUUID, r.ExitCode, r.Success)
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(op, b); err != nil {
		s.log.Printf("[sink] append_status retry exhausted for cmd %s: %v", r.CmdUUID, err)
		return fmt.Errorf("%w: append_status: %v", barrors.StorageError, err)
	}
	s.cancelGrace(r.CmdUUID)
	return nil
}

// ListOutput answers the CLI's `list --name N --cmd-name C` query. It returns
// every output row for workerName in insertion order; cmdName is not applied
// as a filter.
func (s *Sink) ListOutput(ctx context.Context, workerName, cmdName string) ([]OutputRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT timestamp, bartoc_uuid, bartoc_name, cmd_uuid, kind, data FROM %s WHERE bartoc_name = ? ORDER BY id`, s.outputTable),
		workerName)
	if err != nil {
		return nil, fmt.Errorf("%w: list_output: %v", barrors.StorageError, err)
	}
	defer rows.Close()
	var out []OutputRecord
	for rows.Next() {
		var r OutputRecord
		var kind string
		if err := rows.Scan(&r.Timestamp, &r.WorkerUUID, &r.WorkerName, &r.CmdUUID, &kind, &r.Data); err != nil {
			return nil, fmt.Errorf("%w: scanning output row: %v", barrors.StorageError, err)
		}
		r.Kind = wire.OutputKind(kind)
		out = append(out, r)
	}
	_ = cmdName // unused: output rows store cmd_uuid, not a command or job name, and no caller filters by it.
	return out, rows.Err()
}

// ListFailed answers the CLI's `failed` query: every exit_status row with
// success = false.
func (s *Sink) ListFailed(ctx context.Context) ([]StatusRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT cmd_uuid, exit_code, success FROM %s WHERE success = 0 ORDER BY id`, s.statusTable))
	if err != nil {
		return nil, fmt.Errorf("%w: list_failed: %v", barrors.StorageError, err)
	}
	defer rows.Close()
	var out []StatusRecord
	for rows.Next() {
		var r StatusRecord
		if err := rows.Scan(&r.CmdUUID, &r.ExitCode, &r.Success); err != nil {
			return nil, fmt.Errorf("%w: scanning status row: %v", barrors.StorageError, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RawQuery answers the CLI's `query --query SQL` operation. Only SELECT
// statements are permitted; anything else is rejected before it reaches the
// driver.
func (s *Sink) RawQuery(ctx context.Context, query string) ([]map[string]any, error) {
	if !isSelect(query) {
		return nil, fmt.Errorf("%w: raw_query only permits SELECT statements", barrors.ProtocolError)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: raw_query: %v", barrors.StorageError, err)
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: raw_query columns: %v", barrors.StorageError, err)
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%w: raw_query scan: %v", barrors.StorageError, err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Cleanup deletes output rows older than retention whose cmd_uuid has a
// terminal status. exit_status rows are not deleted.
func (s *Sink) Cleanup(ctx context.Context, retention time.Duration) error {
	cutoff := time.Now().Add(-retention)
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE timestamp < ? AND cmd_uuid IN (SELECT cmd_uuid FROM %s)`,
		s.outputTable, s.statusTable), cutoff)
	if err != nil {
		return fmt.Errorf("%w: cleanup: %v", barrors.StorageError, err)
	}
	return nil
}

func isSelect(query string) bool {
	trimmed := query
	for len(trimmed) > 0 && (trimmed[0] == ' ' || trimmed[0] == '\t' || trimmed[0] == '\n') {
		trimmed = trimmed[1:]
	}
	return len(trimmed) >= 6 && (trimmed[:6] == "SELECT" || trimmed[:6] == "select")
}
