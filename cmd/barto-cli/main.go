// Command barto-cli queries a running coordinator: worker status, output
// history, failed invocations, and ad-hoc SQL against the sink.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Exit codes: 0 success, 1 user error, 2 server error, 3 connect error.
const (
	exitOK         = 0
	exitUserError  = 1
	exitServerErr  = 2
	exitConnectErr = 3
)

var (
	verbose  int
	quiet    int
	jsonOut  bool
	stdOut   bool
	cfgPath  string
	tracePath string
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "barto-cli",
		Short:         "Query a running barto coordinator",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().CountVarP(&verbose, "verbose", "v", "increase verbosity")
	root.PersistentFlags().CountVarP(&quiet, "quiet", "q", "decrease verbosity")
	root.PersistentFlags().BoolVar(&stdOut, "enable-std-output", false, "also echo output to stdout as it streams")
	root.PersistentFlags().StringVar(&cfgPath, "config-absolute-path", "", "absolute path to barto-cli's TOML config")
	root.PersistentFlags().StringVar(&tracePath, "tracing-absolute-path", "", "absolute path for trace output")
	_ = viper.BindPFlag("config-absolute-path", root.PersistentFlags().Lookup("config-absolute-path"))
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return userErr{err} })

	root.AddCommand(
		newInfoCmd(),
		newUpdatesCmd(),
		newCleanupCmd(),
		newClientsCmd(),
		newQueryCmd(),
		newListCmd(),
		newFailedCmd(),
	)
	return root
}

// exitCodeFor maps a command's returned error to an exit code. userErr,
// serverErr and connectErr wrap plain errors (flag-parse errors are wrapped
// as userErr by the root command's flag error func) so Execute's caller can
// pick the right code without re-parsing messages.
func exitCodeFor(err error) int {
	switch {
	case asUserError(err):
		return exitUserError
	case asServerError(err):
		return exitServerErr
	case asConnectError(err):
		return exitConnectErr
	default:
		return exitServerErr
	}
}

func printErr(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
