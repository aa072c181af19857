package inputtrace

import (
	"os"
	"os/exec"

	"github.com/rs/zerolog/log"
)

// XI2BridgeSpawner builds the production CanonicalSpawn/X11CoreSpawn: it
// runs selfPath with "internal xi2-bridge" (winebotd passes BinDir's
// winebotctl, or its own executable when that file is missing), the
// hidden subcommand that shells out to xinput test-xi2, parses the raw
// event stream and writes one JSON line per event to logPath. Re-exec
// keeps the XI2 text parser out of winebotd's process and lets the
// registry track it like any other spawned capture child, grounded on
// the daemon's self-re-exec wrapper pattern.
func XI2BridgeSpawner(selfPath string) func(logPath string, args map[string]string) (*os.Process, error) {
	return func(logPath string, args map[string]string) (*os.Process, error) {
		cmdArgs := []string{"internal", "xi2-bridge", "--log", logPath}
		if v, ok := args["device_id"]; ok {
			cmdArgs = append(cmdArgs, "--device-id", v)
		}
		if v, ok := args["device_name"]; ok {
			cmdArgs = append(cmdArgs, "--device-name", v)
		}
		if v, ok := args["motion_sample_ms"]; ok {
			cmdArgs = append(cmdArgs, "--motion-sample-ms", v)
		}
		cmd := exec.Command(selfPath, cmdArgs...)
		log.Info().Strs("cmd", cmd.Args).Msg("starting xi2 bridge")
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		return cmd.Process, nil
	}
}

// NetworkProxySpawner builds the production NetworkSpawn: the RFB input
// proxy is a standalone script, run host-side under python3 and left to
// write its own pid/state/log files inside the session directory's parent,
// grounded on automation/vnc_input_proxy.py.
func NetworkProxySpawner(scriptPath string) func(logPath string, args map[string]string) (*os.Process, error) {
	return func(logPath string, args map[string]string) (*os.Process, error) {
		cmd := exec.Command("python3", scriptPath, "--log", logPath)
		log.Info().Strs("cmd", cmd.Args).Msg("starting vnc input proxy")
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		return cmd.Process, nil
	}
}

// WindowsHookSpawner builds the production hook backend: a ctypes
// SetWindowsHookExW low-level keyboard/mouse hook run under the guest's
// Wine python, grounded on scripts/diagnostics/diagnose-wine-hook.py.
func WindowsHookSpawner(scriptPath string) func(logPath string, args map[string]string) (*os.Process, error) {
	return func(logPath string, args map[string]string) (*os.Process, error) {
		cmd := exec.Command("wine", "python.exe", scriptPath, "--log", logPath)
		log.Info().Strs("cmd", cmd.Args).Msg("starting windows hook backend")
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		return cmd.Process, nil
	}
}

// WindowsAHKSpawner builds the fallback ahk backend: an AutoHotkey script
// run under Wine's AHK interpreter, armed with whatever debug_key_N args
// the caller passed.
func WindowsAHKSpawner(ahkExe, scriptPath string) func(logPath string, args map[string]string) (*os.Process, error) {
	return func(logPath string, args map[string]string) (*os.Process, error) {
		cmdArgs := []string{scriptPath, "--log", logPath}
		for k, v := range args {
			cmdArgs = append(cmdArgs, "--"+k, v)
		}
		cmd := exec.Command("wine", append([]string{ahkExe}, cmdArgs...)...)
		log.Info().Strs("cmd", cmd.Args).Msg("starting windows ahk backend")
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		return cmd.Process, nil
	}
}
