package httpapi

import (
	"context"
	"os"
	"os/exec"
	"syscall"
	"testing"

	"github.com/winebot/controlplane/api/pkg/broker"
	"github.com/winebot/controlplane/api/pkg/eventbus"
	"github.com/winebot/controlplane/api/pkg/inputtrace"
	"github.com/winebot/controlplane/api/pkg/lifecycle"
	"github.com/winebot/controlplane/api/pkg/pathfs"
	"github.com/winebot/controlplane/api/pkg/process"
	"github.com/winebot/controlplane/api/pkg/recorder"
	"github.com/winebot/controlplane/api/pkg/session"
)

// newTestServer assembles a full Server against a temp-dir session root,
// with every dangerous subprocess-spawning collaborator stubbed out so
// tests never shell out or touch pid 1.
func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	root := t.TempDir()

	validator, err := pathfs.NewValidator(root)
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}

	sessions := session.New(session.Config{
		Validator:   validator,
		SessionRoot: root,
		PointerPath: root + "/current_session",
		Display:     ":99",
		Resolution:  "1280x720",
		FPS:         30,
		GitSHA:      "testsha",
	})

	bus, err := eventbus.New()
	if err != nil {
		t.Fatalf("new eventbus: %v", err)
	}
	t.Cleanup(bus.Close)

	br := broker.New("", false, bus)

	rec := recorder.New(recorder.Config{
		Sessions: sessions,
		Bus:      bus,
		Spawn: func(outputPath string) (*os.Process, error) {
			return spawnTestChild()
		},
		Concat: func(partsListPath, outputPath string) error {
			return os.WriteFile(outputPath, []byte{}, 0o644)
		},
		Mux: func(videoPath, assPath, vttPath string, metadata map[string]string) error {
			return nil
		},
	})

	registry := process.NewRegistry()

	input := inputtrace.New(inputtrace.Config{
		Sessions: sessions,
		Registry: registry,
		Broker:   br,
		CanonicalSpawn: func(logPath string, args map[string]string) (*os.Process, error) {
			return spawnTestChild()
		},
		X11CoreSpawn: func(logPath string, args map[string]string) (*os.Process, error) {
			return spawnTestChild()
		},
		NetworkSpawn: func(logPath string, args map[string]string) (*os.Process, error) {
			return spawnTestChild()
		},
		WindowsHookSpawn: func(logPath string, args map[string]string) (*os.Process, error) {
			return spawnTestChild()
		},
		WindowsAHKSpawn: func(logPath string, args map[string]string) (*os.Process, error) {
			return spawnTestChild()
		},
		DefaultWindowsBackend: "auto",
	})

	lc, err := lifecycle.New(lifecycle.Config{
		Sessions: sessions,
		Recorder: rec,
		Broker:   br,
		Bus:      bus,
		Signaller: func(component string) error {
			return nil
		},
		CompatShutdown: func(ctx context.Context) error { return nil },
		CompatRestart:  func(ctx context.Context) error { return nil },
		Terminator:     func(delaySeconds int, sig syscall.Signal) {},
	})
	if err != nil {
		t.Fatalf("new lifecycle: %v", err)
	}
	t.Cleanup(func() { _ = lc.Close() })

	runner := func(ctx context.Context, args []string, timeoutSeconds int) (string, string, error) {
		return "", "", nil
	}

	srv := New(Config{
		Sessions:      sessions,
		Broker:        br,
		Recorder:      rec,
		InputTrace:    input,
		Lifecycle:     lc,
		Registry:      registry,
		Bus:           bus,
		Validator:     validator,
		APIToken:      "",
		RecordEnabled: true,
		Runner:        runner,
	})
	return srv, root
}

// spawnTestChild starts a harmless, short-lived real child process so
// collaborators that signal or wait on a *os.Process never touch the test
// binary's own pid.
func spawnTestChild() (*os.Process, error) {
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd.Process, nil
}
