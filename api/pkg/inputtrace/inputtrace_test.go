package inputtrace

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winebot/controlplane/api/pkg/pathfs"
	"github.com/winebot/controlplane/api/pkg/process"
	"github.com/winebot/controlplane/api/pkg/types"
)

type fakeSessions struct{ dir string }

func (f fakeSessions) EnsureSession() (string, error) { return f.dir, nil }

func newTestManager(t *testing.T, cfg Config) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "logs"), 0o755))
	cfg.Sessions = fakeSessions{dir: root}
	if cfg.Registry == nil {
		cfg.Registry = process.NewRegistry()
	}
	return New(cfg), root
}

func spawnStub() Spawner {
	return func(logPath string, args map[string]string) (*os.Process, error) {
		cmd := exec.Command("sleep", "30")
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		return cmd.Process, nil
	}
}

func TestCanonicalStartStopLifecycle(t *testing.T) {
	m, dir := newTestManager(t, Config{CanonicalSpawn: spawnStub()})

	res, err := m.StartCanonical(StartOpts{})
	require.NoError(t, err)
	assert.Equal(t, "started", res.Status)
	assert.FileExists(t, filepath.Join(dir, "input_trace.pid"))

	again, err := m.StartCanonical(StartOpts{})
	require.NoError(t, err)
	assert.Equal(t, "already_running", again.Status)

	stopRes, err := m.StopCanonical()
	require.NoError(t, err)
	assert.Equal(t, "stopped", stopRes.Status)

	stopAgain, err := m.StopCanonical()
	require.NoError(t, err)
	assert.Equal(t, "already_stopped", stopAgain.Status)
}

func TestX11CoreFailsWithNoDevices(t *testing.T) {
	m, _ := newTestManager(t, Config{X11CoreSpawn: spawnStub()})

	_, err := m.StartX11Core(StartOpts{}, func() (*DeviceRef, *DeviceRef, error) {
		return nil, nil, nil
	})
	require.Error(t, err)
}

func TestX11CoreStartsWithResolvedDevices(t *testing.T) {
	m, _ := newTestManager(t, Config{X11CoreSpawn: spawnStub()})

	res, err := m.StartX11Core(StartOpts{}, func() (*DeviceRef, *DeviceRef, error) {
		return &DeviceRef{ID: 2, Name: "Virtual core pointer"}, &DeviceRef{ID: 3, Name: "Virtual core keyboard"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "started", res.Status)
}

func TestClientEventIgnoredWhenDisabled(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	res, err := m.ReceiveClientEvent(types.TraceEvent{})
	require.NoError(t, err)
	assert.Equal(t, "ignored", res.Status)
	assert.Equal(t, "client_trace_disabled", res.Reason)
}

func TestClientEventAcceptedAfterStart(t *testing.T) {
	m, dir := newTestManager(t, Config{})

	_, err := m.StartClient()
	require.NoError(t, err)

	res, err := m.ReceiveClientEvent(types.TraceEvent{Event: "click"})
	require.NoError(t, err)
	assert.Equal(t, "accepted", res.Status)

	data, err := os.ReadFile(filepath.Join(dir, "logs", "input_events_client.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "novnc_client")
}

func TestNetworkStartFailsWhenProxyAbsent(t *testing.T) {
	m, _ := newTestManager(t, Config{NetworkEnabled: true})

	_, err := m.StartNetwork(StartOpts{}, func() bool { return false })
	require.Error(t, err)
}

func TestNetworkStartFailsWhenDisabledByConfig(t *testing.T) {
	m, _ := newTestManager(t, Config{NetworkEnabled: false})

	_, err := m.StartNetwork(StartOpts{}, func() bool { return true })
	require.Error(t, err)
}

func TestNetworkStartSpawnsProxyWhenNotAlreadyRunning(t *testing.T) {
	m, dir := newTestManager(t, Config{NetworkEnabled: true, NetworkSpawn: spawnStub()})

	res, err := m.StartNetwork(StartOpts{}, func() bool { return false })
	require.NoError(t, err)
	assert.Equal(t, "started", res.Status)
	assert.FileExists(t, filepath.Join(dir, "input_trace_network.pid"))

	stopRes, err := m.StopNetwork()
	require.NoError(t, err)
	assert.Equal(t, "stopped", stopRes.Status)
}

func TestNetworkStartArmsWithoutSpawningWhenProxyAlreadyRunning(t *testing.T) {
	m, dir := newTestManager(t, Config{NetworkEnabled: true, NetworkSpawn: spawnStub()})

	res, err := m.StartNetwork(StartOpts{}, func() bool { return true })
	require.NoError(t, err)
	assert.Equal(t, "started", res.Status)
	assert.NoFileExists(t, filepath.Join(dir, "input_trace_network.pid"))
}

func TestWindowsAutoFallsBackToAHKWhenHookDies(t *testing.T) {
	m, _ := newTestManager(t, Config{
		WindowsHookSpawn: func(logPath string, args map[string]string) (*os.Process, error) {
			cmd := exec.Command("true")
			if err := cmd.Start(); err != nil {
				return nil, err
			}
			_ = cmd.Wait()
			return cmd.Process, nil
		},
		WindowsAHKSpawn: spawnStub(),
	})

	res, err := m.StartWindows(StartOpts{WindowsBackend: "auto"})
	require.NoError(t, err)
	assert.Equal(t, "started", res.Status)
	assert.Equal(t, "ahk", res.Backend)
}

func TestEventsFiltersBySinceAndOrigin(t *testing.T) {
	m, dir := newTestManager(t, Config{})
	logPath := m.LogPath(dir, Canonical)

	base := time.Now().UnixMilli()
	events := []types.TraceEvent{
		{TimestampEpochMs: base, Origin: types.OriginUser, Event: "motion"},
		{TimestampEpochMs: base + 100, Origin: types.OriginAgent, Event: "motion"},
		{TimestampEpochMs: base + 200, Origin: types.OriginUser, Event: "button_press"},
	}
	for _, ev := range events {
		data, err := marshalEvent(ev)
		require.NoError(t, err)
		require.NoError(t, pathfs.AppendLine(logPath, data))
	}

	result, err := m.Events(Canonical, EventsQuery{Limit: 10, SinceEpochMs: base + 50, Origin: "user"})
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "button_press", result[0].Event)
}

func TestEventsRejectsBadLimit(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	_, err := m.Events(Canonical, EventsQuery{Limit: 0})
	require.Error(t, err)
}
