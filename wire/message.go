// Package wire defines the closed set of frames the coordinator, workers, and
// CLI exchange over a websocket binary channel, and the codec that encodes
// and decodes them.
package wire

import "github.com/google/uuid"

// OutputKind distinguishes stdout from stderr in an Output frame.
type OutputKind string

const (
	Stdout OutputKind = "stdout"
	Stderr OutputKind = "stderr"
)

// ShutdownReason explains why a Shutdown frame was sent.
type ShutdownReason string

const (
	ReasonSuperseded      ShutdownReason = "superseded"
	ReasonServerStopping  ShutdownReason = "server_stopping"
	ReasonProtocolError   ShutdownReason = "protocol_error"
)

// Hello is the first frame a worker sends after connecting.
type Hello struct {
	WorkerUUID   uuid.UUID
	WorkerName   string
	Capabilities []string
}

// HelloAck answers Hello, confirming the session is ready.
type HelloAck struct {
	CoordinatorVersion string
}

// Run dispatches one command string to a worker.
type Run struct {
	CmdUUID uuid.UUID
	Command string
}

// Output carries one line of a running command's stdout or stderr.
type Output struct {
	CmdUUID   uuid.UUID
	Kind      OutputKind
	Timestamp string // RFC3339
	Line      string
}

// Status is the single terminal report for a command invocation.
type Status struct {
	CmdUUID  uuid.UUID
	ExitCode uint8
	Success  bool
}

// Ping and Pong are liveness frames; both carry no payload.
type Ping struct{}
type Pong struct{}

// Shutdown tells the receiving end why the session is closing.
type Shutdown struct {
	Reason ShutdownReason
}

// CliHello is the first frame a CLI client sends in place of Hello.
type CliHello struct {
	CliName string
}

// CliRequest carries one query operation from the CLI.
type CliRequest struct {
	ReqID uuid.UUID
	Body  CliOp
}

// CliResponse answers a CliRequest with the same ReqID.
type CliResponse struct {
	ReqID uuid.UUID
	Body  CliResult
}

// CliOpKind is the closed set of CLI query operations.
type CliOpKind string

const (
	OpInfo       CliOpKind = "info"
	OpUpdates    CliOpKind = "updates"
	OpCleanup    CliOpKind = "cleanup"
	OpClients    CliOpKind = "clients"
	OpQuery      CliOpKind = "query"
	OpListOutput CliOpKind = "list_output"
	OpFailed     CliOpKind = "failed"
)

// CliOp is a tagged union over CliOpKind; only the fields relevant to Kind are set.
type CliOp struct {
	Kind CliOpKind

	// Updates
	Name       string
	UpdateKind string

	// Query
	SQL string

	// ListOutput
	CmdName string
}

// CliResult is Ok{payload} or Err{kind, message}; exactly one is meaningful,
// selected by IsOk.
type CliResult struct {
	IsOk    bool
	Payload any
	ErrKind string
	ErrMsg  string
}
