package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyhorde/barto/cliclient"
	"github.com/rustyhorde/barto/config"
	"github.com/rustyhorde/barto/wire"
)

// query dials the coordinator, issues op, and returns its result or a
// classified error ready for exitCodeFor.
func query(ctx context.Context, op wire.CliOp) (wire.CliResult, error) {
	cfg, err := config.LoadCLIConfig(cfgPath)
	if err != nil {
		return wire.CliResult{}, userErr{err}
	}
	client, err := cliclient.Dial(ctx, *cfg)
	if err != nil {
		return wire.CliResult{}, connectErr{err}
	}
	defer client.Close()

	result, err := client.Query(ctx, op)
	if err != nil {
		return wire.CliResult{}, connectErr{err}
	}
	if !result.IsOk {
		return result, serverErr{fmt.Errorf("%s: %s", result.ErrKind, result.ErrMsg)}
	}
	return result, nil
}

// emit renders result.Payload as JSON if jsonOut is set, otherwise as a
// lipgloss table via toRows.
func emit(result wire.CliResult, headers []string, toRows func(any) [][]string) error {
	if jsonOut {
		enc, err := json.MarshalIndent(result.Payload, "", "  ")
		if err != nil {
			return serverErr{err}
		}
		fmt.Println(string(enc))
		return nil
	}
	rows := toRows(result.Payload)
	fmt.Println(cliclient.RenderTable(headers, rows))
	return nil
}

func rowsFromMapSlice(payload any, cols []string) [][]string {
	list, _ := payload.([]map[string]any)
	rows := make([][]string, 0, len(list))
	for _, m := range list {
		row := make([]string, len(cols))
		for i, c := range cols {
			row[i] = cliclient.Stringify(m[c])
		}
		rows = append(rows, row)
	}
	return rows
}

func newInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show coordinator status",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := query(cmd.Context(), wire.CliOp{Kind: wire.OpInfo})
			if err != nil {
				return err
			}
			return emit(result, []string{"workers_connected"}, func(p any) [][]string {
				m, _ := p.(map[string]any)
				return [][]string{{cliclient.Stringify(m["workers_connected"])}}
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit raw JSON instead of a table")
	return cmd
}

func newUpdatesCmd() *cobra.Command {
	var name, updateKind string
	cmd := &cobra.Command{
		Use:   "updates",
		Short: "Tell the coordinator to reload a schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" || updateKind == "" {
				return userErr{fmt.Errorf("--name and --update-kind are required")}
			}
			_, err := query(cmd.Context(), wire.CliOp{Kind: wire.OpUpdates, Name: name, UpdateKind: updateKind})
			if err != nil {
				return err
			}
			fmt.Println("acknowledged")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "worker name")
	cmd.Flags().StringVar(&updateKind, "update-kind", "", "update kind")
	return cmd
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete retired output rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := query(cmd.Context(), wire.CliOp{Kind: wire.OpCleanup})
			if err != nil {
				return err
			}
			fmt.Println("cleaned")
			return nil
		},
	}
}

func newClientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clients",
		Short: "List connected workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := query(cmd.Context(), wire.CliOp{Kind: wire.OpClients})
			if err != nil {
				return err
			}
			cols := []string{"worker_uuid", "worker_name", "connected_since", "last_heartbeat"}
			return emit(result, cols, func(p any) [][]string { return rowsFromMapSlice(p, cols) })
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit raw JSON instead of a table")
	return cmd
}

func newQueryCmd() *cobra.Command {
	var sql string
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a read-only SQL query against the sink",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sql == "" {
				return userErr{fmt.Errorf("--query is required")}
			}
			result, err := query(cmd.Context(), wire.CliOp{Kind: wire.OpQuery, SQL: sql})
			if err != nil {
				return err
			}
			enc, err := json.MarshalIndent(result.Payload, "", "  ")
			if err != nil {
				return serverErr{err}
			}
			fmt.Println(string(enc))
			return nil
		},
	}
	cmd.Flags().StringVar(&sql, "query", "", "SELECT statement")
	return cmd
}

func newListCmd() *cobra.Command {
	var name, cmdName string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded output for a worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return userErr{fmt.Errorf("--name is required")}
			}
			result, err := query(cmd.Context(), wire.CliOp{Kind: wire.OpListOutput, Name: name, CmdName: cmdName})
			if err != nil {
				return err
			}
			cols := []string{"timestamp", "cmd_uuid", "kind", "data"}
			return emit(result, cols, func(p any) [][]string { return rowsFromMapSlice(p, cols) })
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "worker name")
	cmd.Flags().StringVar(&cmdName, "cmd-name", "", "command name (sent with the request; output is not filtered by it)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit raw JSON instead of a table")
	return cmd
}

func newFailedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failed",
		Short: "List invocations that exited non-zero",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := query(cmd.Context(), wire.CliOp{Kind: wire.OpFailed})
			if err != nil {
				return err
			}
			cols := []string{"cmd_uuid", "exit_code", "success"}
			return emit(result, cols, func(p any) [][]string { return rowsFromMapSlice(p, cols) })
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit raw JSON instead of a table")
	return cmd
}
