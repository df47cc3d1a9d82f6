package hub

import (
	"context"
	"fmt"

	"github.com/rustyhorde/barto/barrors"
	"github.com/rustyhorde/barto/wire"
)

// UpdateHandler is called for the `updates --name N --update-kind K` CLI
// operation. The coordinator's main wiring sets this to a function that
// logs the request and returns nil; schedules are reloaded from the config
// file by the file watcher, not per named schedule.
type UpdateHandler func(name, updateKind string) error

// SetUpdateHandler installs the handler for CliOp Updates. Unset, Updates
// returns success without doing anything, matching a coordinator started
// without hot-reload wired up.
func (h *Hub) SetUpdateHandler(fn UpdateHandler) { h.onUpdate = fn }

// handleCliOp dispatches one CliOp to the hub's own state or the sink,
// returning the payload for a successful CliResult::Ok.
func (h *Hub) handleCliOp(ctx context.Context, op wire.CliOp) (any, error) {
	switch op.Kind {
	case wire.OpInfo:
		return map[string]any{
			"workers_connected": h.WorkerCount(),
		}, nil

	case wire.OpUpdates:
		if h.onUpdate == nil {
			return map[string]any{"acknowledged": true}, nil
		}
		if err := h.onUpdate(op.Name, op.UpdateKind); err != nil {
			return nil, fmt.Errorf("%w: updates %s/%s: %v", barrors.ExecutionError, op.Name, op.UpdateKind, err)
		}
		return map[string]any{"acknowledged": true}, nil

	case wire.OpCleanup:
		if err := h.sink.Cleanup(ctx, defaultRetention); err != nil {
			return nil, err
		}
		return map[string]any{"cleaned": true}, nil

	case wire.OpClients:
		regs := h.Clients()
		out := make([]map[string]any, 0, len(regs))
		for _, r := range regs {
			out = append(out, map[string]any{
				"worker_uuid":     r.WorkerUUID.String(),
				"worker_name":     r.WorkerName,
				"connected_since": r.ConnectedSince,
				"last_heartbeat":  r.LastHeartbeat,
			})
		}
		return out, nil

	case wire.OpQuery:
		rows, err := h.sink.RawQuery(ctx, op.SQL)
		if err != nil {
			return nil, err
		}
		return rows, nil

	case wire.OpListOutput:
		rows, err := h.sink.ListOutput(ctx, op.Name, op.CmdName)
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0, len(rows))
		for _, r := range rows {
			out = append(out, map[string]any{
				"timestamp":   r.Timestamp,
				"worker_uuid": r.WorkerUUID,
				"worker_name": r.WorkerName,
				"cmd_uuid":    r.CmdUUID,
				"kind":        string(r.Kind),
				"data":        r.Data,
			})
		}
		return out, nil

	case wire.OpFailed:
		rows, err := h.sink.ListFailed(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0, len(rows))
		for _, r := range rows {
			out = append(out, map[string]any{
				"cmd_uuid":  r.CmdUUID,
				"exit_code": r.ExitCode,
				"success":   r.Success,
			})
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: unknown CliOp kind %q", barrors.ProtocolError, op.Kind)
	}
}
