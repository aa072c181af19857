package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/winebot/controlplane/api/pkg/types"
)

// newXI2BridgeCmd builds the hidden child process winebotd re-execs for
// the canonical and x11_core input-trace sources: it runs xinput test-xi2,
// parses its text stream and appends one JSON line per event to --log.
// Kept as a subcommand of this binary (rather than a parser goroutine
// inside winebotd) so the process registry tracks and signals it like any
// other spawned capture child.
func newXI2BridgeCmd() *cobra.Command {
	var logPath, deviceID, deviceName string
	var motionSampleMs int

	cmd := &cobra.Command{
		Use:    "xi2-bridge",
		Short:  "Internal: bridge xinput test-xi2 into an input_events*.jsonl log",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runXI2Bridge(logPath, deviceID, motionSampleMs)
		},
	}
	cmd.Flags().StringVar(&logPath, "log", "", "path to append JSONL events to")
	cmd.Flags().StringVar(&deviceID, "device-id", "", "restrict capture to one XI2 device id")
	cmd.Flags().StringVar(&deviceName, "device-name", "", "device name; accepted and ignored")
	cmd.Flags().IntVar(&motionSampleMs, "motion-sample-ms", 0, "drop motion events sampled faster than this")
	_ = cmd.MarkFlagRequired("log")
	return cmd
}

func runXI2Bridge(logPath, deviceID string, motionSampleMs int) error {
	if logPath == "" {
		return fmt.Errorf("--log is required")
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return err
	}

	xinputArgs := []string{"test-xi2"}
	if deviceID != "" {
		xinputArgs = append(xinputArgs, deviceID)
	} else {
		xinputArgs = append(xinputArgs, "--root")
	}

	child := exec.Command("xinput", xinputArgs...)
	stdout, err := child.StdoutPipe()
	if err != nil {
		return err
	}
	child.Stderr = os.Stderr
	if err := child.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		_ = child.Process.Signal(syscall.SIGTERM)
	}()

	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer logFile.Close()
	writer := bufio.NewWriter(logFile)
	defer writer.Flush()

	sessionID := filepath.Base(filepath.Dir(filepath.Dir(logPath)))

	parseXI2Stream(stdout, sessionID, int64(motionSampleMs), func(ev types.TraceEvent) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		writer.Write(data)
		writer.WriteByte('\n')
		writer.Flush()
	})
	return child.Wait()
}
