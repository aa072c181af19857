package httpapi

import (
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/docker/go-units"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/winebot/controlplane/api/pkg/process"
	"github.com/winebot/controlplane/api/pkg/recorder"
)

var startTime = time.Now()

func binaryPresent(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// handleHealth is the high-level roll-up: x11/compat-prefix/tools/storage OK.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	x11OK := binaryPresent("xdpyinfo")
	requiredTools := []string{"winedbg", "gdb", "ffmpeg", "xdotool", "wmctrl", "xdpyinfo", "Xvfb"}
	var missing []string
	for _, t := range requiredTools {
		if !binaryPresent(t) {
			missing = append(missing, t)
		}
	}
	storageOK := storagePathsWritable()
	winePrefix := os.Getenv("WINEPREFIX")
	if winePrefix == "" {
		winePrefix = "/root/.wine"
	}
	info, statErr := os.Stat(winePrefix)
	prefixOK := statErr == nil && info.IsDir()

	status := "ok"
	if !x11OK || !prefixOK || len(missing) > 0 || !storageOK {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"x11":            x11State(x11OK),
		"wineprefix_ok":  prefixOK,
		"tools_ok":       len(missing) == 0,
		"missing_tools":  missing,
		"storage_ok":     storageOK,
		"uptime_seconds": int(time.Since(startTime).Seconds()),
	})
}

func x11State(ok bool) string {
	if ok {
		return "connected"
	}
	return "unavailable"
}

var storagePaths = []string{"/tmp"}

func storagePathsWritable() bool {
	for _, p := range storagePaths {
		if _, err := disk.Usage(p); err != nil {
			return false
		}
	}
	return true
}

// handleHealthEnvironment is the deep check: x11 reachable, window manager
// and shell processes present.
func (s *Server) handleHealthEnvironment(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	x11OK := binaryPresent("xdpyinfo")
	wmPIDs, _ := process.FindProcesses("openbox", true)
	xvfbPIDs, _ := process.FindProcesses("Xvfb", true)
	explorerPIDs, _ := process.FindProcesses("explorer.exe", false)

	status := "ok"
	switch {
	case !x11OK || len(xvfbPIDs) == 0:
		status = "error"
	case len(wmPIDs) == 0 || len(explorerPIDs) == 0:
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": status,
		"x11": map[string]any{
			"ok":           x11OK,
			"display":      os.Getenv("DISPLAY"),
			"xvfb_running": len(xvfbPIDs) > 0,
			"wm_running":   len(wmPIDs) > 0,
		},
		"wine": map[string]any{
			"explorer_running": len(explorerPIDs) > 0,
		},
	})
}

func (s *Server) handleHealthSystem(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	hostname, _ := os.Hostname()
	writeJSON(w, http.StatusOK, map[string]any{
		"hostname":       hostname,
		"pid":            os.Getpid(),
		"uptime_seconds": int(time.Since(startTime).Seconds()),
		"cpu_count":      runtime.NumCPU(),
	})
}

func (s *Server) handleHealthX11(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	x11OK := binaryPresent("xdpyinfo")
	wmPIDs, _ := process.FindProcesses("openbox", true)
	writeJSON(w, http.StatusOK, map[string]any{
		"display":        os.Getenv("DISPLAY"),
		"connected":      x11OK,
		"window_manager": map[string]any{"name": "openbox", "running": len(wmPIDs) > 0},
	})
}

func (s *Server) handleHealthWindows(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": 0, "windows": []any{}})
}

func (s *Server) handleHealthWine(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	winePrefix := os.Getenv("WINEPREFIX")
	if winePrefix == "" {
		winePrefix = "/root/.wine"
	}
	info, statErr := os.Stat(winePrefix)
	prefixExists := statErr == nil && info.IsDir()
	_, regErr := os.Stat(winePrefix + "/system.reg")

	writeJSON(w, http.StatusOK, map[string]any{
		"wineprefix":        winePrefix,
		"prefix_exists":     prefixExists,
		"system_reg_exists": regErr == nil,
		"wine_present":      binaryPresent("wine"),
		"winearch":          os.Getenv("WINEARCH"),
	})
}

func (s *Server) handleHealthTools(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	tools := []string{"winedbg", "gdb", "ffmpeg", "xdotool", "wmctrl", "xdpyinfo", "Xvfb", "x11vnc", "websockify", "xinput"}
	details := make(map[string]bool, len(tools))
	var missing []string
	for _, t := range tools {
		present := binaryPresent(t)
		details[t] = present
		if !present {
			missing = append(missing, t)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      len(missing) == 0,
		"missing": missing,
		"tools":   details,
	})
}

// handleHealthStorage reports disk space and writeability for the key
// paths the container depends on, grounded on original_source's
// statvfs_info per-path check, with human-readable sizes via go-units.
func (s *Server) handleHealthStorage(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	var details []map[string]any
	ok := true
	for _, p := range storagePaths {
		usage, err := disk.Usage(p)
		if err != nil {
			ok = false
			details = append(details, map[string]any{"path": p, "ok": false, "error": err.Error()})
			continue
		}
		writable := false
		if f, err := os.CreateTemp(p, ".winebot-health-*"); err == nil {
			writable = true
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
		details = append(details, map[string]any{
			"path":        p,
			"ok":          true,
			"writable":    writable,
			"free_bytes":  usage.Free,
			"free_human":  units.BytesSize(float64(usage.Free)),
			"total_bytes": usage.Total,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": ok, "paths": details})
}

// handleHealthRecording reports the recorder's current state alongside the
// record-enabled configuration flag.
func (s *Server) handleHealthRecording(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	state := recorder.StateIdle
	var segment int
	if s.recorder != nil {
		state, _, segment = s.recorder.Status()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled": s.recordEnabled,
		"state":   state,
		"segment": segment,
	})
}
