// Package session implements the Session & Artifact Manager: the on-disk
// contract for a "session" directory -- manifest, state, subtree skeleton,
// current-session pointer, and the user-profile skeleton.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/winebot/controlplane/api/pkg/apierr"
	"github.com/winebot/controlplane/api/pkg/pathfs"
	"github.com/winebot/controlplane/api/pkg/types"
)

// idPattern matches session-YYYY-MM-DD-<epoch>-<6hex>[-<label>].
var idPattern = regexp.MustCompile(`^session-\d{4}-\d{2}-\d{2}-\d+-[0-9a-f]{6}(-[A-Za-z0-9_]+)?$`)

// Manager owns all filesystem writes for sessions: directory allocation,
// manifests, the current-session pointer, and segment index allocation
// (delegated to pathfs.NextSegmentIndex).
type Manager struct {
	validator      *pathfs.Validator
	sessionRoot    string
	pointerPath    string
	hostname       string
	display        string
	resolution     string
	fps            int
	gitSHA         string
}

// Config bundles what the Manager needs to synthesise sessions.
type Config struct {
	Validator   *pathfs.Validator
	SessionRoot string
	PointerPath string // current_session pointer, e.g. <tmp>/current_session
	Display     string
	Resolution  string
	FPS         int
	GitSHA      string
}

// New constructs a session Manager.
func New(cfg Config) *Manager {
	hostname, _ := os.Hostname()
	return &Manager{
		validator:   cfg.Validator,
		sessionRoot: cfg.SessionRoot,
		pointerPath: cfg.PointerPath,
		hostname:    hostname,
		display:     cfg.Display,
		resolution:  cfg.Resolution,
		fps:         cfg.FPS,
		gitSHA:      cfg.GitSHA,
	}
}

// GenerateID builds a new session id: session-YYYY-MM-DD-<epoch>-<6hex>.
func GenerateID(now time.Time) string {
	return fmt.Sprintf("session-%s-%d-%s",
		now.UTC().Format("2006-01-02"),
		now.Unix(),
		strings.ReplaceAll(uuid.NewString(), "-", "")[:6],
	)
}

// subdirs is the fixed subtree skeleton every session directory gets.
var subdirs = []string{"logs", "screenshots", "scripts", "user"}

// userProfileDirs mirrors a Windows-style user profile tree under user/.
var userProfileDirs = []string{
	filepath.Join("AppData", "Local"),
	filepath.Join("AppData", "LocalLow"),
	filepath.Join("AppData", "Roaming"),
	"Desktop",
	"Documents",
	"Downloads",
}

// EnsureSession returns the current session directory, synthesising one if
// none exists. Idempotent: if a session is already current and present on
// disk, only the subtree skeleton is (re-)ensured.
func (m *Manager) EnsureSession() (string, error) {
	if dir, err := m.readPointer(); err == nil && dir != "" {
		if info, statErr := os.Stat(dir); statErr == nil && info.IsDir() {
			if err := m.ensureSubtree(dir); err != nil {
				return "", err
			}
			return dir, nil
		}
	}
	return m.createSession(time.Now())
}

func (m *Manager) createSession(now time.Time) (string, error) {
	id := GenerateID(now)
	dir := filepath.Join(m.sessionRoot, id)

	if _, err := m.validator.Validate(dir); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apierr.IO(err, "create session directory %s", dir)
	}
	if err := m.ensureSubtree(dir); err != nil {
		return "", err
	}

	var gitSHA *string
	if m.gitSHA != "" {
		gitSHA = &m.gitSHA
	}
	manifest := types.SessionManifest{
		SchemaVersion:  types.SchemaVersion,
		SessionID:      id,
		StartTimeEpoch: now.Unix(),
		StartTimeISO:   types.NowUTC(now),
		Hostname:       m.hostname,
		Display:        m.display,
		Resolution:     m.resolution,
		FPS:            m.fps,
		GitSHA:         gitSHA,
	}
	if err := m.WriteManifest(dir, manifest); err != nil {
		return "", err
	}
	if err := m.WriteState(dir, types.SessionActive); err != nil {
		return "", err
	}
	if err := m.writePointer(dir); err != nil {
		return "", err
	}
	log.Info().Str("session_id", id).Str("dir", dir).Msg("session created")
	return dir, nil
}

func (m *Manager) ensureSubtree(dir string) error {
	for _, sub := range subdirs {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return apierr.IO(err, "create %s subdir in %s", sub, dir)
		}
	}
	return m.EnsureUserProfile(filepath.Join(dir, "user"))
}

// EnsureUserProfile creates a fixed set of subpaths mirroring a Windows user
// profile. Any pre-existing symlink at those locations is unlinked and
// replaced with a real directory.
func (m *Manager) EnsureUserProfile(userDir string) error {
	for _, rel := range userProfileDirs {
		p := filepath.Join(userDir, rel)
		if info, err := os.Lstat(p); err == nil {
			if info.Mode()&os.ModeSymlink != 0 {
				if err := os.Remove(p); err != nil {
					return apierr.IO(err, "unlink stale symlink %s", p)
				}
			}
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			return apierr.IO(err, "create user profile dir %s", p)
		}
	}
	return nil
}

// LinkUserDir replaces <wineprefix>/drive_c/users/winebot with a symlink to
// userDir, backing up any existing non-link target by appending
// .bak.<epoch>.
func (m *Manager) LinkUserDir(winePrefix, userDir string) error {
	target := filepath.Join(winePrefix, "drive_c", "users", "winebot")

	info, err := os.Lstat(target)
	if err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			if err := os.Remove(target); err != nil {
				return apierr.IO(err, "remove existing symlink %s", target)
			}
		} else {
			backup := fmt.Sprintf("%s.bak.%d", target, time.Now().Unix())
			if err := os.Rename(target, backup); err != nil {
				return apierr.IO(err, "back up existing user dir %s", target)
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return apierr.IO(err, "create parent of %s", target)
	}
	if err := os.Symlink(userDir, target); err != nil {
		return apierr.IO(err, "symlink %s -> %s", target, userDir)
	}
	return nil
}

// ResolveSession resolves a session id or directory to a validated absolute
// path. Rejects ids containing "/" or "..".
func (m *Manager) ResolveSession(sessionID, sessionDir, sessionRoot string) (string, error) {
	if sessionDir != "" {
		return m.validator.Validate(sessionDir)
	}
	if sessionID == "" {
		return "", apierr.BadRequest("session_id or session_dir is required")
	}
	if strings.ContainsAny(sessionID, "/\\") || strings.Contains(sessionID, "..") {
		return "", apierr.BadRequest("invalid session_id %q", sessionID)
	}
	root := sessionRoot
	if root == "" {
		root = m.sessionRoot
	}
	dir := filepath.Join(root, sessionID)
	resolved, err := m.validator.Validate(dir)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(resolved); err != nil || !info.IsDir() {
		return "", apierr.NotFound("session %q not found", sessionID)
	}
	return resolved, nil
}

// WriteManifest writes session.json atomically.
func (m *Manager) WriteManifest(dir string, manifest types.SessionManifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return apierr.Wrap(apierr.KindIO, err, "marshal session manifest")
	}
	return pathfs.AtomicWriteSmall(filepath.Join(dir, "session.json"), data)
}

// WriteState writes session.state atomically.
func (m *Manager) WriteState(dir string, state types.SessionState) error {
	return pathfs.AtomicWriteSmall(filepath.Join(dir, "session.state"), []byte(state))
}

// ReadState reads session.state, defaulting to "active" if absent (a fresh
// session that hasn't had its state written yet is active by construction).
func (m *Manager) ReadState(dir string) (types.SessionState, error) {
	data, err := os.ReadFile(filepath.Join(dir, "session.state"))
	if err != nil {
		if os.IsNotExist(err) {
			return types.SessionActive, nil
		}
		return "", apierr.IO(err, "read session.state in %s", dir)
	}
	return types.SessionState(strings.TrimSpace(string(data))), nil
}

// ReadManifest reads session.json.
func (m *Manager) ReadManifest(dir string) (types.SessionManifest, error) {
	var manifest types.SessionManifest
	data, err := os.ReadFile(filepath.Join(dir, "session.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return manifest, apierr.NotFound("session.json missing in %s", dir)
		}
		return manifest, apierr.IO(err, "read session.json in %s", dir)
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return manifest, apierr.IO(err, "parse session.json in %s", dir)
	}
	return manifest, nil
}

// NextSegmentIndex allocates the next segment index under the session's
// advisory lock.
func (m *Manager) NextSegmentIndex(dir string) (int, error) {
	return pathfs.NextSegmentIndex(dir)
}

func (m *Manager) readPointer() (string, error) {
	data, err := os.ReadFile(m.pointerPath)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (m *Manager) writePointer(dir string) error {
	return pathfs.AtomicWriteSmall(m.pointerPath, []byte(dir))
}

// WritePointer atomically updates the current-session pointer to dir. Used
// by resume in the lifecycle supervisor.
func (m *Manager) WritePointer(dir string) error {
	return m.writePointer(dir)
}

// ValidID reports whether s matches the session id pattern.
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}

// List returns the session directories under root (or the configured
// default), most-recently-created first, bounded by limit (0 = unbounded).
func (m *Manager) List(root string, limit int) ([]string, error) {
	dir := root
	if dir == "" {
		dir = m.sessionRoot
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apierr.IO(err, "list sessions under %s", dir)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "session-") {
			names = append(names, filepath.Join(dir, e.Name()))
		}
	}
	// Lexical descending order: the id embeds date+epoch, so this is also
	// newest-first.
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}
	return names, nil
}
