package recorder

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winebot/controlplane/api/pkg/pathfs"
	"github.com/winebot/controlplane/api/pkg/session"
)

func newTestSupervisor(t *testing.T) (*Supervisor, *session.Manager) {
	t.Helper()
	root := t.TempDir()
	sessionRoot := filepath.Join(root, "sessions")
	require.NoError(t, os.MkdirAll(sessionRoot, 0o755))

	v, err := pathfs.NewValidator(sessionRoot, root)
	require.NoError(t, err)

	mgr := session.New(session.Config{
		Validator:   v,
		SessionRoot: sessionRoot,
		PointerPath: filepath.Join(root, "current_session"),
		Display:     ":0",
		Resolution:  "1920x1080",
		FPS:         30,
	})

	var concatCalls int
	sup := New(Config{
		Sessions: mgr,
		Spawn: func(outputPath string) (*os.Process, error) {
			if err := os.WriteFile(outputPath, nil, 0o644); err != nil {
				return nil, err
			}
			cmd := exec.Command("sleep", "30")
			if err := cmd.Start(); err != nil {
				return nil, err
			}
			return cmd.Process, nil
		},
		Concat: func(partsListPath, outputPath string) error {
			concatCalls++
			return os.WriteFile(outputPath, []byte("fake video"), 0o644)
		},
		Mux: func(videoPath, assPath, vttPath string, metadata map[string]string) error {
			return nil
		},
	})
	return sup, mgr
}

func TestStartCreatesSegmentManifestAndPart(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	res, err := sup.Start(nil)
	require.NoError(t, err)
	assert.Equal(t, "started", res.Status)

	state, dir, seg := sup.Status()
	assert.Equal(t, StateRecording, state)
	assert.Equal(t, res.Segment, seg)
	assert.FileExists(t, segmentManifestPath(dir, seg))
	assert.FileExists(t, partsListPath(dir, seg))
}

func TestStartIsIdempotentWhileRecording(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	_, err := sup.Start(nil)
	require.NoError(t, err)

	res, err := sup.Start(nil)
	require.NoError(t, err)
	assert.Equal(t, "already_recording", res.Status)
}

func TestPauseResumeCreatesNewPart(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	startRes, err := sup.Start(nil)
	require.NoError(t, err)

	pauseRes, err := sup.Pause()
	require.NoError(t, err)
	assert.Equal(t, "paused", pauseRes.Status)

	state, _, _ := sup.Status()
	assert.Equal(t, StatePaused, state)

	resumeRes, err := sup.Resume()
	require.NoError(t, err)
	assert.Equal(t, "resumed", resumeRes.Status)

	state, dir, seg := sup.Status()
	assert.Equal(t, StateRecording, state)
	assert.Equal(t, startRes.Segment, seg)

	data, err := os.ReadFile(partsListPath(dir, seg))
	require.NoError(t, err)
	assert.Contains(t, string(data), "part001")
	assert.Contains(t, string(data), "part002")
}

func TestPauseIsIdempotent(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	_, err := sup.Start(nil)
	require.NoError(t, err)

	_, err = sup.Pause()
	require.NoError(t, err)

	res, err := sup.Pause()
	require.NoError(t, err)
	assert.Equal(t, "already_paused", res.Status)
}

func TestStopResetsStateAndFinalisesAsync(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	res, err := sup.Start(nil)
	require.NoError(t, err)
	seg := res.Segment

	_, dir, _ := sup.Status()

	stopRes, err := sup.Stop()
	require.NoError(t, err)
	assert.Equal(t, "stopping", stopRes.Status)

	state, _, _ := sup.Status()
	assert.Equal(t, StateIdle, state)

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "video_"+pad3(seg)+".mkv"))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopMuxesSubtitlesWithContainerMetadata(t *testing.T) {
	root := t.TempDir()
	sessionRoot := filepath.Join(root, "sessions")
	require.NoError(t, os.MkdirAll(sessionRoot, 0o755))

	v, err := pathfs.NewValidator(sessionRoot, root)
	require.NoError(t, err)

	mgr := session.New(session.Config{
		Validator:   v,
		SessionRoot: sessionRoot,
		PointerPath: filepath.Join(root, "current_session"),
		Display:     ":0",
		Resolution:  "1920x1080",
		FPS:         30,
		GitSHA:      "deadbeef",
	})

	var muxedVideo, muxedASS, muxedVTT string
	var muxedMeta map[string]string
	muxed := make(chan struct{})
	sup := New(Config{
		Sessions: mgr,
		Spawn: func(outputPath string) (*os.Process, error) {
			if err := os.WriteFile(outputPath, nil, 0o644); err != nil {
				return nil, err
			}
			cmd := exec.Command("sleep", "30")
			if err := cmd.Start(); err != nil {
				return nil, err
			}
			return cmd.Process, nil
		},
		Concat: func(partsListPath, outputPath string) error {
			return os.WriteFile(outputPath, []byte("fake video"), 0o644)
		},
		Mux: func(videoPath, assPath, vttPath string, metadata map[string]string) error {
			muxedVideo, muxedASS, muxedVTT, muxedMeta = videoPath, assPath, vttPath, metadata
			close(muxed)
			return nil
		},
	})

	_, err = sup.Start(nil)
	require.NoError(t, err)
	_, dir, seg := sup.Status()

	_, err = sup.Stop()
	require.NoError(t, err)

	select {
	case <-muxed:
	case <-time.After(2 * time.Second):
		t.Fatal("mux was never called")
	}

	assert.Equal(t, filepath.Join(dir, "video_"+pad3(seg)+".mkv"), muxedVideo)
	assert.Equal(t, filepath.Join(dir, "events_"+pad3(seg)+".ass"), muxedASS)
	assert.Equal(t, filepath.Join(dir, "events_"+pad3(seg)+".vtt"), muxedVTT)
	assert.Equal(t, "WineBot Recorder", muxedMeta["encoder"])
	assert.Equal(t, "deadbeef", muxedMeta["WINEBOT_GIT_SHA"])
	assert.Equal(t, ":0", muxedMeta["WINEBOT_DISPLAY"])
}

func TestDiskWatchdogTickNoopsWithoutActiveSegment(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	w := NewDiskWatchdog(sup, 1)
	w.Tick()
	state, _, _ := sup.Status()
	assert.Equal(t, StateIdle, state)
}

func TestDiskWatchdogTickForceStopsBelowFloor(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	_, err := sup.Start(nil)
	require.NoError(t, err)

	// A floor far above any real filesystem's free space guarantees the
	// watchdog observes itself below the floor on the first tick.
	w := NewDiskWatchdog(sup, 1<<40)
	w.Tick()

	state, _, _ := sup.Status()
	assert.Equal(t, StateIdle, state)
}

func TestRebasePausesShiftsEventsByPausedDuration(t *testing.T) {
	events := []rawEvent{
		{Kind: "note", Message: "before", TRelMs: 1000},
		{Kind: "note", Message: "during", TRelMs: 2500},
		{Kind: "note", Message: "after", TRelMs: 5000},
	}
	pauses := []pauseInterval{{startMs: 2000, endMs: 4000}}

	rebased := rebasePauses(events, pauses)
	require.Len(t, rebased, 3)
	assert.Equal(t, int64(1000), rebased[0].TRelMs)
	assert.Equal(t, int64(2000), rebased[1].TRelMs)
	assert.Equal(t, int64(3000), rebased[2].TRelMs)
	for _, ev := range rebased {
		assert.GreaterOrEqual(t, ev.TRelMs, int64(0))
	}
}

func pad3(n int) string {
	s := ""
	for _, d := range []int{n / 100 % 10, n / 10 % 10, n % 10} {
		s += string(rune('0' + d))
	}
	return s
}
