// Package barrors defines the error kinds shared across the coordinator,
// worker, and CLI. Kinds are sentinel values, not types: callers wrap them
// with fmt.Errorf("...: %w", barrors.ProtocolError) and distinguish them
// downstream with errors.Is.
package barrors

import "errors"

var (
	ParseError     = errors.New("parse error")
	ConfigError    = errors.New("config error")
	ConnectError   = errors.New("connect error")
	ProtocolError  = errors.New("protocol error")
	ExecutionError = errors.New("execution error")
	StorageError   = errors.New("storage error")
	ErrTimeout     = errors.New("timeout")
	ErrCancelled   = errors.New("cancelled")
)

// Kind returns the short name of the sentinel err wraps, or "" if err does
// not wrap one of the kinds in this package. Used to fill CliResult.Err.Kind.
func Kind(err error) string {
	switch {
	case errors.Is(err, ParseError):
		return "ParseError"
	case errors.Is(err, ConfigError):
		return "ConfigError"
	case errors.Is(err, ConnectError):
		return "ConnectError"
	case errors.Is(err, ProtocolError):
		return "ProtocolError"
	case errors.Is(err, ExecutionError):
		return "ExecutionError"
	case errors.Is(err, StorageError):
		return "StorageError"
	case errors.Is(err, ErrTimeout):
		return "Timeout"
	case errors.Is(err, ErrCancelled):
		return "Cancelled"
	default:
		return ""
	}
}
