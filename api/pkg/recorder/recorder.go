// Package recorder implements the Recorder Supervisor: segment-based screen
// capture with pause/resume implemented as part concatenation, event-log to
// subtitle projection, and a disk-space watchdog.
//
// Process supervision (spawn, signal, reap) follows the teacher's
// subprocess-management idiom (a long-lived handle struct with a mutex
// guarding observed state, grounded on api/pkg/desktop/session_registry.go's
// ConnectedClient/SessionClients shape) adapted from a WebSocket-client
// registry to a recorder-child registry.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/winebot/controlplane/api/pkg/apierr"
	"github.com/winebot/controlplane/api/pkg/eventbus"
	"github.com/winebot/controlplane/api/pkg/pathfs"
	"github.com/winebot/controlplane/api/pkg/session"
	"github.com/winebot/controlplane/api/pkg/types"
)

// State is the contents of recorder.state.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StatePaused    State = "paused"
	StateStopping  State = "stopping"
)

// EncoderSpawner starts the per-part video encoder child process. In
// production this execs ffmpeg against the X11/VNC framebuffer; tests inject
// a stub.
type EncoderSpawner func(outputPath string) (*os.Process, error)

// Supervisor is the Recorder Supervisor. One instance per running daemon;
// it currently supervises at most one active segment, matching the
// specification's single-writer session model.
type Supervisor struct {
	mu       sync.Mutex
	sessions *session.Manager
	spawn    EncoderSpawner
	bus      *eventbus.Bus
	concat   ConcatRunner
	mux      SubtitleMuxer

	sessionDir string
	segment    int
	state      State
	proc       *os.Process
	manifest   types.SegmentManifest
	pauses     []pauseInterval
	pauseStart *int64
}

type pauseInterval struct {
	startMs int64
	endMs   int64
}

// Config bundles what the supervisor needs to construct.
type Config struct {
	Sessions *session.Manager
	Spawn    EncoderSpawner
	Bus      *eventbus.Bus
	Concat   ConcatRunner
	Mux      SubtitleMuxer
}

// New constructs a Supervisor.
func New(cfg Config) *Supervisor {
	concat := cfg.Concat
	if concat == nil {
		concat = DefaultConcatRunner
	}
	mux := cfg.Mux
	if mux == nil {
		mux = DefaultSubtitleMuxer
	}
	return &Supervisor{sessions: cfg.Sessions, spawn: cfg.Spawn, bus: cfg.Bus, concat: concat, mux: mux, state: StateIdle}
}

// StartResult is returned by Start.
type StartResult struct {
	Status  string `json:"status"` // started | resumed | already_recording
	Segment int    `json:"segment"`
}

// Start begins (or resumes, or no-ops) recording. If segment is nil the next
// segment index is allocated.
func (s *Supervisor) Start(segment *int) (StartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateRecording:
		return StartResult{Status: "already_recording", Segment: s.segment}, nil
	case StatePaused:
		if err := s.resumeLocked(); err != nil {
			return StartResult{}, err
		}
		return StartResult{Status: "resumed", Segment: s.segment}, nil
	}

	dir, err := s.sessions.EnsureSession()
	if err != nil {
		return StartResult{}, err
	}

	seg := 0
	if segment != nil {
		seg = *segment
	} else {
		seg, err = s.sessions.NextSegmentIndex(dir)
		if err != nil {
			return StartResult{}, err
		}
	}

	now := time.Now()
	manifest, err := s.sessions.ReadManifest(dir)
	if err != nil {
		return StartResult{}, err
	}
	segManifest := types.SegmentManifest{
		SchemaVersion:  types.SchemaVersion,
		SessionID:      manifest.SessionID,
		Segment:        seg,
		StartTimeEpoch: now.Unix(),
		StartTimeISO:   types.NowUTC(now),
		Hostname:       manifest.Hostname,
		Display:        manifest.Display,
		Resolution:     manifest.Resolution,
		FPS:            manifest.FPS,
		GitSHA:         manifest.GitSHA,
	}
	data, err := json.MarshalIndent(segManifest, "", "  ")
	if err != nil {
		return StartResult{}, apierr.Wrap(apierr.KindIO, err, "marshal segment manifest")
	}
	if err := pathfs.AtomicWriteSmall(segmentManifestPath(dir, seg), data); err != nil {
		return StartResult{}, err
	}

	s.sessionDir = dir
	s.segment = seg
	s.manifest = segManifest
	s.pauses = nil
	s.pauseStart = nil

	if err := s.startPartLocked(); err != nil {
		s.appendEvent("recorder_start_failed", err.Error())
		return StartResult{}, apierr.IO(err, "start encoder for segment %d", seg)
	}

	s.state = StateRecording
	if err := pathfs.AtomicWriteSmall(recorderStatePath(dir), []byte(StateRecording)); err != nil {
		log.Warn().Err(err).Msg("failed to persist recorder.state")
	}
	s.appendEvent("recorder_start", fmt.Sprintf("segment %d started", seg))

	return StartResult{Status: "started", Segment: seg}, nil
}

func (s *Supervisor) startPartLocked() error {
	partIdx, err := nextPartIndex(s.sessionDir, s.segment)
	if err != nil {
		return err
	}
	partPath := partPath(s.sessionDir, s.segment, partIdx)

	proc, err := s.spawn(partPath)
	if err != nil {
		return err
	}
	s.proc = proc

	if err := pathfs.AtomicWriteSmall(ffmpegPIDPath(s.sessionDir), []byte(fmt.Sprintf("%d", proc.Pid))); err != nil {
		log.Warn().Err(err).Msg("failed to persist ffmpeg.pid")
	}
	if err := pathfs.AtomicWriteSmall(recorderPIDPath(s.sessionDir), []byte(fmt.Sprintf("%d", os.Getpid()))); err != nil {
		log.Warn().Err(err).Msg("failed to persist recorder.pid")
	}
	return pathfs.AppendLine(partsListPath(s.sessionDir, s.segment), []byte(fmt.Sprintf("file '%s'", partPath)))
}

// PauseResult is returned by Pause.
type PauseResult struct {
	Status string `json:"status"` // paused | already_paused | already_stopped
}

// Pause idempotently stops the current part's encoder.
func (s *Supervisor) Pause() (PauseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateIdle:
		return PauseResult{Status: "already_stopped"}, nil
	case StatePaused:
		return PauseResult{Status: "already_paused"}, nil
	}

	s.stopPartLocked()
	s.state = StatePaused
	now := time.Now().UnixMilli()
	s.pauseStart = &now

	if err := pathfs.AtomicWriteSmall(recorderStatePath(s.sessionDir), []byte(StatePaused)); err != nil {
		log.Warn().Err(err).Msg("failed to persist recorder.state")
	}
	_ = os.Remove(ffmpegPIDPath(s.sessionDir))
	s.appendEvent("recorder_pause", "recording paused")
	return PauseResult{Status: "paused"}, nil
}

func (s *Supervisor) stopPartLocked() {
	if s.proc == nil {
		return
	}
	terminateWithTimeout(s.proc, 3*time.Second)
	s.proc = nil
}

// ResumeResult is returned by Resume.
type ResumeResult struct {
	Status string `json:"status"` // resumed | already_recording | already_stopped
}

// Resume idempotently starts a new part following a pause.
func (s *Supervisor) Resume() (ResumeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateIdle:
		return ResumeResult{Status: "already_stopped"}, nil
	case StateRecording:
		return ResumeResult{Status: "already_recording"}, nil
	}

	if err := s.resumeLocked(); err != nil {
		return ResumeResult{}, err
	}
	return ResumeResult{Status: "resumed"}, nil
}

func (s *Supervisor) resumeLocked() error {
	if s.pauseStart != nil {
		s.pauses = append(s.pauses, pauseInterval{startMs: *s.pauseStart, endMs: time.Now().UnixMilli()})
		s.pauseStart = nil
	}
	if err := s.startPartLocked(); err != nil {
		return apierr.IO(err, "resume encoder for segment %d", s.segment)
	}
	s.state = StateRecording
	if err := pathfs.AtomicWriteSmall(recorderStatePath(s.sessionDir), []byte(StateRecording)); err != nil {
		log.Warn().Err(err).Msg("failed to persist recorder.state")
	}
	s.appendEvent("recorder_resume", "recording resumed")
	return nil
}

// StopResult is returned by Stop.
type StopResult struct {
	Status string `json:"status"` // stopping | already_stopped
}

// Stop signals the active recording to finalise. Stop transitions state,
// signals, and starts the in-process finaliser (finalise) in a goroutine,
// which performs concatenation and subtitle projection asynchronously.
func (s *Supervisor) Stop() (StopResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateIdle {
		return StopResult{Status: "already_stopped"}, nil
	}

	s.appendEvent("recorder_stop", "recording stopped")
	s.stopPartLocked()
	s.state = StateStopping
	if err := pathfs.AtomicWriteSmall(recorderStatePath(s.sessionDir), []byte(StateStopping)); err != nil {
		log.Warn().Err(err).Msg("failed to persist recorder.state")
	}

	dir, seg, manifest, pauses, pauseStart := s.sessionDir, s.segment, s.manifest, s.pauses, s.pauseStart
	go s.finalise(dir, seg, manifest, pauses, pauseStart)

	s.sessionDir = ""
	s.segment = 0
	s.state = StateIdle
	s.pauses = nil
	s.pauseStart = nil
	return StopResult{Status: "stopping"}, nil
}

// Annotate writes a single annotation event with t_rel_ms computed against
// the active segment manifest's start time.
func (s *Supervisor) Annotate(text string, x, y *int, kind, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionDir == "" {
		return apierr.BadRequest("no active segment to annotate")
	}
	return appendRawEvent(s.sessionDir, s.segment, rawEvent{
		Kind:    kind,
		Message: text,
		Source:  source,
		X:       x,
		Y:       y,
		TRelMs:  time.Now().UnixMilli() - s.manifest.StartTimeEpoch*1000,
	})
}

func (s *Supervisor) appendEvent(kind, message string) {
	if s.sessionDir == "" {
		return
	}
	if err := appendRawEvent(s.sessionDir, s.segment, rawEvent{
		Kind:    kind,
		Message: message,
		Source:  "recorder",
		TRelMs:  time.Now().UnixMilli() - s.manifest.StartTimeEpoch*1000,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to append recorder event")
	}
}

// Status reports the current observed state for health/status endpoints.
func (s *Supervisor) Status() (State, string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.sessionDir, s.segment
}

func terminateWithTimeout(proc *os.Process, timeout time.Duration) {
	_ = proc.Signal(syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		_, _ = proc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		_ = proc.Kill()
	}
}

func segmentManifestPath(dir string, seg int) string {
	return filepath.Join(dir, fmt.Sprintf("segment_%03d.json", seg))
}
func recorderStatePath(dir string) string { return filepath.Join(dir, "recorder.state") }
func recorderPIDPath(dir string) string   { return filepath.Join(dir, "recorder.pid") }
func ffmpegPIDPath(dir string) string     { return filepath.Join(dir, "ffmpeg.pid") }
func partsListPath(dir string, seg int) string {
	return filepath.Join(dir, fmt.Sprintf("parts_%03d.txt", seg))
}
func partIndexPath(dir string, seg int) string {
	return filepath.Join(dir, fmt.Sprintf("part_index_%03d.txt", seg))
}
func partPath(dir string, seg, part int) string {
	return filepath.Join(dir, fmt.Sprintf("video_%03d_part%03d.mkv", seg, part))
}

func nextPartIndex(dir string, seg int) (int, error) {
	path := partIndexPath(dir, seg)
	data, err := os.ReadFile(path)
	current := 0
	if err == nil {
		fmt.Sscanf(string(data), "%d", &current)
	}
	next := current + 1
	if err := pathfs.AtomicWriteSmall(path, []byte(fmt.Sprintf("%d", next))); err != nil {
		return 0, err
	}
	return next, nil
}

