// Command winebotctl is the operator CLI for a running winebotd: it talks
// to the daemon's HTTP control surface, and doubles as the self-re-exec
// target winebotd spawns for input-trace capture children (see
// internal_xi2bridge.go).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "winebotctl",
		Short: "WineBot control-plane CLI",
	}

	internal := &cobra.Command{
		Use:    "internal",
		Short:  "Internal subcommands used by winebotd; not part of the public CLI",
		Hidden: true,
	}
	internal.AddCommand(newXI2BridgeCmd())

	root.AddCommand(internal)
	root.AddCommand(newSessionsCmd())
	root.AddCommand(newInputCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newShutdownCmd())
	return root
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the daemon's lifecycle status as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClientFromEnv()
			var status map[string]any
			if err := client.get("/lifecycle/status", &status); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", status)
			return nil
		},
	}
}

func newShutdownCmd() *cobra.Command {
	var delay int
	var powerOff bool
	cmd := &cobra.Command{
		Use:   "shutdown",
		Short: "Request a graceful container shutdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClientFromEnv()
			path := fmt.Sprintf("/lifecycle/shutdown?delay=%d&power_off=%t", delay, powerOff)
			var result map[string]any
			if err := client.post(path, nil, &result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", result)
			return nil
		},
	}
	cmd.Flags().IntVar(&delay, "delay", 5, "seconds to wait before the daemon terminates")
	cmd.Flags().BoolVar(&powerOff, "power-off", false, "signal SIGKILL instead of SIGTERM on self-terminate")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
