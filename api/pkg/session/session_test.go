package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winebot/controlplane/api/pkg/pathfs"
	"github.com/winebot/controlplane/api/pkg/types"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	sessionRoot := filepath.Join(root, "sessions")
	require.NoError(t, os.MkdirAll(sessionRoot, 0o755))

	v, err := pathfs.NewValidator(sessionRoot, root)
	require.NoError(t, err)

	m := New(Config{
		Validator:   v,
		SessionRoot: sessionRoot,
		PointerPath: filepath.Join(root, "current_session"),
		Display:     ":0",
		Resolution:  "1920x1080",
		FPS:         30,
	})
	return m, sessionRoot
}

func TestEnsureSessionBootstrapsFreshSession(t *testing.T) {
	m, _ := newTestManager(t)

	dir, err := m.EnsureSession()
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "session.json"))
	assert.FileExists(t, filepath.Join(dir, "session.state"))
	for _, sub := range []string{"logs", "screenshots", "scripts", "user"} {
		info, err := os.Stat(filepath.Join(dir, sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	manifest, err := m.ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, types.SchemaVersion, manifest.SchemaVersion)
	assert.True(t, ValidID(manifest.SessionID))
}

func TestEnsureSessionIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t)

	dir1, err := m.EnsureSession()
	require.NoError(t, err)
	dir2, err := m.EnsureSession()
	require.NoError(t, err)
	assert.Equal(t, dir1, dir2)
}

func TestResolveSessionRejectsTraversalAndMissing(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.ResolveSession("../etc", "", "")
	require.Error(t, err)

	_, err = m.ResolveSession("session-missing", "", "")
	require.Error(t, err)
}

func TestEnsureUserProfileReplacesSymlink(t *testing.T) {
	m, sessionRoot := newTestManager(t)
	userDir := filepath.Join(sessionRoot, "user")
	require.NoError(t, os.MkdirAll(userDir, 0o755))

	desktop := filepath.Join(userDir, "Desktop")
	elsewhere := filepath.Join(sessionRoot, "elsewhere")
	require.NoError(t, os.MkdirAll(elsewhere, 0o755))
	require.NoError(t, os.Symlink(elsewhere, desktop))

	require.NoError(t, m.EnsureUserProfile(userDir))

	info, err := os.Lstat(desktop)
	require.NoError(t, err)
	assert.Zero(t, info.Mode()&os.ModeSymlink)
}

func TestSessionIDPattern(t *testing.T) {
	id := GenerateID(time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC))
	assert.True(t, ValidID(id))
	assert.False(t, ValidID("not-a-session"))
	assert.False(t, ValidID("session-2026-07-30-123-abcdef/../etc"))
}
