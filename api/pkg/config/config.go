// Package config loads the control plane's environment configuration via
// envconfig, the teacher's convention for every runtime config struct
// (api/pkg/config/config.go, cli_config.go).
package config

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// WindowsBackend selects how the in-guest low-level input hook is driven.
type WindowsBackend string

const (
	WindowsBackendAuto WindowsBackend = "auto"
	WindowsBackendAHK  WindowsBackend = "ahk"
	WindowsBackendHook WindowsBackend = "hook"
)

// Config is the full set of recognised environment options from spec.md §6.5.
type Config struct {
	APIToken string `envconfig:"API_TOKEN"`

	SessionRoot string `envconfig:"WINEBOT_SESSION_ROOT" default:"/var/lib/winebot/sessions"`
	TempRoot    string `envconfig:"WINEBOT_TEMP_ROOT" default:"/tmp/winebot"`
	AppsDir     string `envconfig:"WINEBOT_APPS_DIR" default:"/opt/winebot/apps"`
	WinePrefix  string `envconfig:"WINEBOT_WINE_PREFIX" default:"/root/.wine"`
	InstallDir  string `envconfig:"WINEBOT_INSTALL_DIR" default:"/opt/winebot"`
	BinDir      string `envconfig:"WINEBOT_BIN_DIR" default:"/usr/local/bin"`

	Record bool `envconfig:"WINEBOT_RECORD" default:"true"`

	InputTraceWindowsBackend WindowsBackend `envconfig:"WINEBOT_INPUT_TRACE_WINDOWS_BACKEND" default:"auto"`
	InputTraceNetwork        bool           `envconfig:"WINEBOT_INPUT_TRACE_NETWORK" default:"false"`
	InputTraceRecord         bool           `envconfig:"WINEBOT_INPUT_TRACE_RECORD" default:"true"`
	RecordInputMaxEvents     int            `envconfig:"WINEBOT_RECORD_INPUT_MAX_EVENTS" default:"500"`

	Display    string `envconfig:"DISPLAY" default:":0"`
	Resolution string `envconfig:"WINEBOT_RESOLUTION" default:"1920x1080"`
	FPS        int    `envconfig:"WINEBOT_FPS" default:"30"`

	HTTPAddr string `envconfig:"WINEBOT_HTTP_ADDR" default:":8080"`

	DiskFreeFloorMiB int `envconfig:"WINEBOT_DISK_FREE_FLOOR_MIB" default:"300"`

	MDNSSingleton bool `envconfig:"WINEBOT_MDNS_SINGLETON" default:"false"`
}

// Load reads .env (if present) then processes environment variables into a
// Config, applying the defaults above.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// AllowedPrefixes returns the closed list of path prefixes validate_path is
// anchored to: apps, wineprefix, tmp, artifacts (session root), installation
// and bin -- the superset chosen by the specification over the earlier,
// narrower source copies.
func (c Config) AllowedPrefixes() []string {
	return []string{c.AppsDir, c.WinePrefix, c.TempRoot, c.SessionRoot, c.InstallDir, c.BinDir}
}
