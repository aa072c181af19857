package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

func newInputCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "input",
		Short: "Inspect recorded input events",
	}
	cmd.AddCommand(newInputTailCmd())
	cmd.AddCommand(newInputLatencyCmd())
	return cmd
}

func newInputTailCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "tail [path]",
		Short: "Print (optionally follow) an input_events*.jsonl log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			reader := bufio.NewReader(f)
			for {
				line, err := reader.ReadString('\n')
				if len(line) > 0 {
					fmt.Fprint(cmd.OutOrStdout(), line)
				}
				if err != nil {
					if !follow {
						return nil
					}
					time.Sleep(500 * time.Millisecond)
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep reading as the file grows")
	return cmd
}

type traceLine struct {
	TimestampEpochMs int64  `json:"timestamp_epoch_ms"`
	Event            string `json:"event"`
}

func loadTraceLines(path string) []traceLine {
	var out []traceLine
	f, err := os.Open(path)
	if err != nil {
		return out
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var line traceLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err == nil {
			out = append(out, line)
		}
	}
	return out
}

func newInputLatencyCmd() *cobra.Command {
	var sessionDir string
	cmd := &cobra.Command{
		Use:   "latency",
		Short: "Cross-layer click latency: network -> x11 -> windows",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionDir == "" {
				if data, err := os.ReadFile("/tmp/winebot/current_session"); err == nil {
					sessionDir = string(data)
				}
			}
			if sessionDir == "" {
				return fmt.Errorf("no session directory; pass --session-dir or start a session first")
			}

			netEvents := loadTraceLines(sessionDir + "/logs/input_events_network.jsonl")
			x11Events := loadTraceLines(sessionDir + "/logs/input_events.jsonl")
			winEvents := loadTraceLines(sessionDir + "/logs/input_events_windows.jsonl")

			netToX11, x11ToWin := matchClickLatencies(netEvents, x11Events, winEvents)

			fmt.Fprintf(cmd.OutOrStdout(), "network -> x11:   %s\n", percentileSummary(netToX11))
			fmt.Fprintf(cmd.OutOrStdout(), "x11 -> windows:    %s\n", percentileSummary(x11ToWin))
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionDir, "session-dir", "", "session directory to analyze (defaults to the current session)")
	return cmd
}

// matchClickLatencies pairs button_press events across layers by cursor-
// advancing timestamp proximity (within 1s), grounded on
// scripts/analyze-trace-latency.py's analyze_latency.
func matchClickLatencies(netEvents, x11Events, winEvents []traceLine) (netToX11, x11ToWin []int64) {
	netClicks := filterEvents(netEvents, "vnc_pointer")
	x11Clicks := filterEvents(x11Events, "button_press")
	winClicks := filterEvents(winEvents, "mouse_down")

	x11Cursor, winCursor := 0, 0
	for _, net := range netClicks {
		var matchedX11 *traceLine
		for i := x11Cursor; i < len(x11Clicks); i++ {
			cand := x11Clicks[i]
			if cand.TimestampEpochMs < net.TimestampEpochMs {
				continue
			}
			if cand.TimestampEpochMs-net.TimestampEpochMs > 1000 {
				break
			}
			matchedX11 = &x11Clicks[i]
			x11Cursor = i + 1
			break
		}
		if matchedX11 == nil {
			continue
		}
		netToX11 = append(netToX11, matchedX11.TimestampEpochMs-net.TimestampEpochMs)

		for j := winCursor; j < len(winClicks); j++ {
			cand := winClicks[j]
			if cand.TimestampEpochMs < matchedX11.TimestampEpochMs {
				continue
			}
			if cand.TimestampEpochMs-matchedX11.TimestampEpochMs > 1000 {
				break
			}
			x11ToWin = append(x11ToWin, cand.TimestampEpochMs-matchedX11.TimestampEpochMs)
			winCursor = j + 1
			break
		}
	}
	return netToX11, x11ToWin
}

func filterEvents(events []traceLine, kind string) []traceLine {
	var out []traceLine
	for _, e := range events {
		if e.Event == kind {
			out = append(out, e)
		}
	}
	return out
}

func percentileSummary(samples []int64) string {
	if len(samples) == 0 {
		return "N/A"
	}
	sorted := append([]int64(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return fmt.Sprintf("p50=%dms p95=%dms max=%dms count=%d",
		percentile(sorted, 0.50), percentile(sorted, 0.95), sorted[len(sorted)-1], len(sorted))
}

func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
