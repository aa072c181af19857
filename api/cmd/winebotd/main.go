// Command winebotd is the control-plane daemon: it assembles the path
// validator, session manager, recorder, input-trace fabric, process
// registry, and process/lifecycle supervisor, then serves the HTTP control
// surface until a shutdown signal arrives.
package main

import (
	"context"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/winebot/controlplane/api/pkg/broker"
	"github.com/winebot/controlplane/api/pkg/config"
	"github.com/winebot/controlplane/api/pkg/eventbus"
	"github.com/winebot/controlplane/api/pkg/httpapi"
	"github.com/winebot/controlplane/api/pkg/inputtrace"
	"github.com/winebot/controlplane/api/pkg/lifecycle"
	"github.com/winebot/controlplane/api/pkg/pathfs"
	"github.com/winebot/controlplane/api/pkg/process"
	"github.com/winebot/controlplane/api/pkg/recorder"
	"github.com/winebot/controlplane/api/pkg/session"
)

var logLevel string

// reapInterval is how often the process registry sweeps tracked children
// for exit, independent of any one source's own liveness checks.
const reapInterval = 5 * time.Second

// diskWatchdogInterval is how often free disk space under the active
// session directory is checked.
const diskWatchdogInterval = 30 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:   "winebotd",
		Short: "WineBot control-plane daemon",
		RunE:  run,
	}
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("winebotd exited with error")
	}
}

// buildRevision reports the VCS commit this binary was built from, the
// same way the teacher's CLI reports its own version.
func buildRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, kv := range info.Settings {
		if kv.Key == "vcs.revision" && kv.Value != "" {
			return kv.Value
		}
	}
	return "unknown"
}

func run(cmd *cobra.Command, _ []string) error {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	validator, err := pathfs.NewValidator(cfg.AllowedPrefixes()...)
	if err != nil {
		return err
	}

	gitSHA := buildRevision()

	sessions := session.New(session.Config{
		Validator:   validator,
		SessionRoot: cfg.SessionRoot,
		PointerPath: filepath.Join(cfg.TempRoot, "current_session"),
		Display:     cfg.Display,
		Resolution:  cfg.Resolution,
		FPS:         cfg.FPS,
		GitSHA:      gitSHA,
	})

	bus, err := eventbus.New()
	if err != nil {
		return err
	}
	defer bus.Close()

	br := broker.New("", false, bus)

	rec := recorder.New(recorder.Config{
		Sessions: sessions,
		Bus:      bus,
		Spawn:    recorder.FFmpegSpawner(cfg.Display, cfg.Resolution, cfg.FPS),
	})

	registry := process.NewRegistry()

	selfPath, err := os.Executable()
	if err != nil {
		selfPath = os.Args[0]
	}
	winebotctlPath := filepath.Join(cfg.BinDir, "winebotctl")
	if _, statErr := os.Stat(winebotctlPath); statErr != nil {
		winebotctlPath = selfPath
	}

	input := inputtrace.New(inputtrace.Config{
		Sessions:              sessions,
		Registry:              registry,
		Broker:                br,
		CanonicalSpawn:        inputtrace.XI2BridgeSpawner(winebotctlPath),
		X11CoreSpawn:          inputtrace.XI2BridgeSpawner(winebotctlPath),
		NetworkSpawn:          inputtrace.NetworkProxySpawner(filepath.Join(cfg.InstallDir, "vnc_input_proxy.py")),
		WindowsHookSpawn:      inputtrace.WindowsHookSpawner(filepath.Join(cfg.InstallDir, "diagnose-wine-hook.py")),
		WindowsAHKSpawn:       inputtrace.WindowsAHKSpawner(filepath.Join(cfg.WinePrefix, "drive_c/Program Files/AutoHotkey/AutoHotkeyU64.exe"), filepath.Join(cfg.InstallDir, "input_trace.ahk")),
		DefaultWindowsBackend: string(cfg.InputTraceWindowsBackend),
		NetworkEnabled:        cfg.InputTraceNetwork,
	})

	lc, err := lifecycle.New(lifecycle.Config{
		Sessions: sessions,
		Recorder: rec,
		Broker:   br,
		Bus:      bus,
		Signaller: func(component string) error {
			pids, err := process.FindProcesses(component, false)
			if err != nil {
				return err
			}
			for _, pid := range pids {
				if proc, findErr := os.FindProcess(pid); findErr == nil {
					_ = proc.Signal(syscall.SIGTERM)
				}
			}
			return nil
		},
		CompatShutdown: func(ctx context.Context) error {
			return exec.CommandContext(ctx, "wineboot", "--shutdown").Run()
		},
		CompatRestart: func(ctx context.Context) error {
			return exec.CommandContext(ctx, "wineboot", "--restart").Run()
		},
	})
	if err != nil {
		return err
	}
	defer lc.Close()

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	if _, err := scheduler.NewJob(
		gocron.DurationJob(reapInterval),
		gocron.NewTask(registry.ReapTick),
	); err != nil {
		return err
	}

	watchdog := recorder.NewDiskWatchdog(rec, uint64(cfg.DiskFreeFloorMiB))
	if _, err := scheduler.NewJob(
		gocron.DurationJob(diskWatchdogInterval),
		gocron.NewTask(watchdog.Tick),
	); err != nil {
		return err
	}

	scheduler.Start()
	defer scheduler.Shutdown()

	srv := httpapi.New(httpapi.Config{
		Sessions:      sessions,
		Broker:        br,
		Recorder:      rec,
		InputTrace:    input,
		Lifecycle:     lc,
		Registry:      registry,
		Bus:           bus,
		Validator:     validator,
		APIToken:      cfg.APIToken,
		RecordEnabled: cfg.Record,
	})

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: srv.Handler(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("winebotd listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}
