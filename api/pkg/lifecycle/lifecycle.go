// Package lifecycle implements the Process & Lifecycle Supervisor:
// suspend/resume of sessions, and graceful ordered shutdown of the
// container's component stack followed by a scheduled self-termination.
//
// Scheduling follows the teacher's cron idiom (gocron/v2, grounded on
// api/pkg/controller/knowledge/cron.go's Scheduler field + NewJob call
// shape) repurposed from a recurring knowledge-refresh schedule to a
// one-shot delayed self-termination.
package lifecycle

import (
	"context"
	"encoding/json"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"

	"github.com/winebot/controlplane/api/pkg/apierr"
	"github.com/winebot/controlplane/api/pkg/broker"
	"github.com/winebot/controlplane/api/pkg/eventbus"
	"github.com/winebot/controlplane/api/pkg/pathfs"
	"github.com/winebot/controlplane/api/pkg/recorder"
	"github.com/winebot/controlplane/api/pkg/session"
	"github.com/winebot/controlplane/api/pkg/types"
)

// componentStopTimeout bounds how long a single component's terminate
// signal is given before the supervisor moves on to the next one.
const componentStopTimeout = 3 * time.Second

// shutdownOrder is the fixed, ordered list of components torn down on
// shutdown(). Earlier entries depend on later ones, so signalling proceeds
// leaves-first.
var shutdownOrder = []string{
	"novnc_proxy",
	"websockify",
	"x11vnc",
	"debuggers",
	"window_manager",
	"explorer",
	"x_server",
}

// ComponentSignaller delivers a best-effort terminate signal to a named
// component. Production resolves each name to a supervised process (via
// process.FindProcesses or a tracked Handle); tests inject a recorder.
type ComponentSignaller func(component string) error

// CompatShutdown issues the compatibility layer's own shutdown command
// (e.g. the Wine prefix's `wineboot --shutdown`) and waits up to a timeout
// for its daemon to exit.
type CompatShutdown func(ctx context.Context) error

// CompatRestart restarts the compatibility-layer shell after a resume.
type CompatRestart func(ctx context.Context) error

// Terminator delivers the final self-termination signal. The production
// default signals PID 1 directly and dispatches the belt-and-braces shell
// kill described in the specification; tests inject a recording stub so
// they never touch the real init process or spawn a real sleeping shell.
type Terminator func(delaySeconds int, sig syscall.Signal)

// Supervisor owns session suspend/resume and container shutdown.
type Supervisor struct {
	mu         sync.Mutex
	sessions   *session.Manager
	recorder   *recorder.Supervisor
	broker     *broker.Broker
	bus        *eventbus.Bus
	signaller  ComponentSignaller
	compatOff  CompatShutdown
	compatOn   CompatRestart
	scheduler  gocron.Scheduler
	terminator Terminator
}

// Config bundles what the Supervisor needs to construct.
type Config struct {
	Sessions       *session.Manager
	Recorder       *recorder.Supervisor
	Broker         *broker.Broker
	Bus            *eventbus.Bus
	Signaller      ComponentSignaller
	CompatShutdown CompatShutdown
	CompatRestart  CompatRestart
	Terminator     Terminator
}

// New constructs a Supervisor. Starts its own gocron scheduler for
// one-shot self-termination jobs.
func New(cfg Config) (*Supervisor, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, apierr.Wrap(apierr.KindIO, err, "create lifecycle scheduler")
	}
	scheduler.Start()

	terminator := cfg.Terminator
	if terminator == nil {
		terminator = defaultTerminator(scheduler)
	}

	return &Supervisor{
		sessions:   cfg.Sessions,
		recorder:   cfg.Recorder,
		terminator: terminator,
		broker:     cfg.Broker,
		bus:        cfg.Bus,
		signaller:  cfg.Signaller,
		compatOff:  cfg.CompatShutdown,
		compatOn:   cfg.CompatRestart,
		scheduler:  scheduler,
	}, nil
}

// Close stops the underlying scheduler, cancelling any pending one-shot
// jobs. Intended for the daemon's graceful-exit path in tests; production
// shutdown goes through Shutdown() instead, which schedules PID 1 signals
// independent of this scheduler's lifetime.
func (s *Supervisor) Close() error {
	return s.scheduler.Shutdown()
}

// SuspendOpts are suspend_session's options.
type SuspendOpts struct {
	ShutdownCompat bool
	StopRecording  bool
}

// SuspendSession validates target, optionally stops recording and the
// compatibility layer, then marks the session suspended.
func (s *Supervisor) SuspendSession(ctx context.Context, target string, opts SuspendOpts) error {
	dir, err := s.sessions.ResolveSession(target, "", "")
	if err != nil {
		return err
	}

	if opts.StopRecording && s.recorder != nil {
		if state, _, _ := s.recorder.Status(); state != recorder.StateIdle {
			if _, err := s.recorder.Stop(); err != nil {
				return err
			}
		}
	}
	if opts.ShutdownCompat && s.compatOff != nil {
		cctx, cancel := context.WithTimeout(ctx, componentStopTimeout)
		defer cancel()
		if err := s.compatOff(cctx); err != nil {
			log.Warn().Err(err).Msg("compatibility layer shutdown during suspend failed")
		}
	}

	if err := s.sessions.WriteState(dir, types.SessionSuspended); err != nil {
		return err
	}
	s.logLifecycle("session_suspended", "session suspended: "+target)
	return nil
}

// ResumeOpts are resume_session's options.
type ResumeOpts struct {
	RestartCompat bool
	StopRecording bool
	Interactive   bool
}

// ResumeSession validates target, ensures its filesystem contract, relinks
// the user directory, makes it current, reactivates it, and syncs the
// broker.
func (s *Supervisor) ResumeSession(ctx context.Context, target, winePrefix string, opts ResumeOpts) error {
	dir, err := s.sessions.ResolveSession(target, "", "")
	if err != nil {
		return err
	}

	userDir := filepath.Join(dir, "user")
	if err := s.sessions.EnsureUserProfile(userDir); err != nil {
		return err
	}
	if winePrefix != "" {
		if err := s.sessions.LinkUserDir(winePrefix, userDir); err != nil {
			return err
		}
	}
	if err := s.sessions.WritePointer(dir); err != nil {
		return err
	}
	if err := s.sessions.WriteState(dir, types.SessionActive); err != nil {
		return err
	}

	if opts.RestartCompat && s.compatOn != nil {
		cctx, cancel := context.WithTimeout(ctx, componentStopTimeout)
		defer cancel()
		if err := s.compatOn(cctx); err != nil {
			log.Warn().Err(err).Msg("compatibility layer restart during resume failed")
		}
	}
	if opts.StopRecording && s.recorder != nil {
		if _, err := s.recorder.Stop(); err != nil {
			log.Warn().Err(err).Msg("stop recording during resume failed")
		}
	}

	if s.broker != nil {
		s.broker.UpdateSession(target, opts.Interactive)
	}

	s.logLifecycle("session_resumed", "session resumed: "+target)
	return nil
}

// ShutdownOpts are shutdown's options.
type ShutdownOpts struct {
	DelaySeconds int
	WineShutdown bool
	PowerOff     bool
}

// Shutdown logs the request, optionally tears down the compatibility layer
// and the recorder, signals every component in shutdownOrder, then
// schedules a terminate (or kill, if PowerOff) signal to PID 1 after
// DelaySeconds, backed by both an in-process scheduled job and a
// belt-and-braces shell-scheduled kill so the signal still lands if this
// process itself dies before the delay elapses.
func (s *Supervisor) Shutdown(ctx context.Context, opts ShutdownOpts) error {
	s.logLifecycle("shutdown_requested", "shutdown requested")

	if opts.WineShutdown && s.compatOff != nil {
		cctx, cancel := context.WithTimeout(ctx, componentStopTimeout)
		defer cancel()
		if err := s.compatOff(cctx); err != nil {
			log.Warn().Err(err).Msg("compatibility layer shutdown failed")
		}
	}
	if s.recorder != nil {
		if state, _, _ := s.recorder.Status(); state != recorder.StateIdle {
			if _, err := s.recorder.Stop(); err != nil {
				log.Warn().Err(err).Msg("stop recording during shutdown failed")
			}
		}
	}

	if s.signaller != nil {
		for _, component := range shutdownOrder {
			if err := s.signaller(component); err != nil {
				log.Warn().Err(err).Str("component", component).Msg("component signal failed, continuing")
			}
		}
	}

	sig := syscall.SIGTERM
	if opts.PowerOff {
		sig = syscall.SIGKILL
	}
	s.terminator(opts.DelaySeconds, sig)

	return nil
}

// defaultTerminator schedules a self-terminate job on scheduler plus a
// belt-and-braces shell-scheduled kill, exactly as the specification
// requires for real deployments.
func defaultTerminator(scheduler gocron.Scheduler) Terminator {
	return func(delaySeconds int, sig syscall.Signal) {
		delay := time.Duration(delaySeconds) * time.Second
		_, err := scheduler.NewJob(
			gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(time.Now().Add(delay))),
			gocron.NewTask(func() {
				log.Info().Str("signal", sig.String()).Msg("lifecycle supervisor signalling pid 1")
				if err := syscall.Kill(1, sig); err != nil {
					log.Error().Err(err).Msg("failed to signal pid 1")
				}
			}),
		)
		if err != nil {
			log.Error().Err(err).Msg("failed to schedule self-terminate job")
		}

		script := "sleep " + strconv.Itoa(delaySeconds) + "; kill -" + strconv.Itoa(int(sig)) + " 1"
		cmd := exec.Command("sh", "-c", script)
		if err := cmd.Start(); err != nil {
			log.Error().Err(err).Msg("failed to dispatch belt-and-braces shell kill")
			return
		}
		go func() { _ = cmd.Wait() }()
	}
}

func (s *Supervisor) logLifecycle(kind, message string) {
	log.Info().Str("kind", kind).Msg(message)
	ev := types.LifecycleEvent{
		SchemaVersion: types.SchemaVersion,
		TimestampUTC:  types.NowUTC(time.Now()),
		Kind:          kind,
		Message:       message,
		Source:        "lifecycle",
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if s.sessions != nil {
		if dir, err := s.sessions.EnsureSession(); err == nil {
			if err := pathfs.AppendLine(filepath.Join(dir, "logs", "lifecycle.jsonl"), payload); err != nil {
				log.Warn().Err(err).Msg("failed to append lifecycle event")
			}
		}
	}
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(eventbus.SubjectLifecycleEvent, payload); err != nil {
		log.Warn().Err(err).Msg("failed to publish lifecycle event")
	}
}
