package main

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect the active session",
	}
	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsWatchCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show the current session and its lifecycle status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClientFromEnv()
			var status map[string]any
			if err := client.get("/lifecycle/status", &status); err != nil {
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Field", "Value"})
			table.SetAutoWrapText(false)
			table.SetBorder(false)
			for _, key := range []string{"session_dir", "session_state", "recording", "control"} {
				if v, ok := status[key]; ok {
					table.Append([]string{key, fmt.Sprintf("%v", v)})
				}
			}
			table.Render()
			return nil
		},
	}
}

func newSessionsWatchCmd() *cobra.Command {
	var sessionRoot string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream session directory changes as they happen",
		RunE: func(cmd *cobra.Command, args []string) error {
			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return err
			}
			defer watcher.Close()

			if err := watcher.Add(sessionRoot); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "watching %s\n", sessionRoot)
			for {
				select {
				case ev, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", time.Now().Format(time.RFC3339), ev.Op, ev.Name)
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "watch error: %v\n", err)
				}
			}
		},
	}
	cmd.Flags().StringVar(&sessionRoot, "root", "/var/lib/winebot/sessions", "session root directory to watch")
	return cmd
}
