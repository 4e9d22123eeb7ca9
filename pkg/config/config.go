// Package config loads the agent's JSON configuration document and resolves
// the per-OS data directory conventions described in the on-disk layout
// contract (client_tasks.db, logs/client_service.log under a LabSyncClient
// directory, or next to the executable in portable mode).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Defaults mirror the Python client's client_settings module.
const (
	DefaultServerIP       = "127.0.0.1"
	DefaultPort           = 5000
	DefaultAuthToken      = "lab-secret-key-universal-2025"
	DefaultWatchDirSuffix = "data"
	appDirName            = "LabSyncClient"
)

// Config is the immutable, fully-resolved configuration threaded through
// every component's constructor. There are no package-level config globals.
type Config struct {
	PortableMode     bool   `json:"PORTABLE_MODE"`
	WatchDir         string `json:"WATCH_DIR"`
	ServerIP         string `json:"SERVER_IP"`
	Port             int    `json:"PORT"`
	AuthToken        string `json:"AUTH_TOKEN"`
	InstrumentAlias  string `json:"INSTRUMENT_ALIAS"`

	// Resolved, not part of the JSON document.
	DataDir string `json:"-"`
	DBPath  string `json:"-"`
	LogPath string `json:"-"`
}

// ServerBaseURL returns the ingestion server's base URL for API calls.
func (c Config) ServerBaseURL() string {
	return fmt.Sprintf("http://%s:%d/api", c.ServerIP, c.Port)
}

// Load reads the JSON config document at path, applies defaults for any
// missing or invalid key, and resolves on-disk paths. A missing or
// unreadable file is not an error: per spec.md §7, configuration errors
// are logged once by the caller and defaults take over silently here.
func Load(path string, exeDir string) (Config, error) {
	cfg := defaults(exeDir)

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return resolve(cfg)
		}
		return resolve(cfg)
	}

	var doc Config
	if jsonErr := json.Unmarshal(raw, &doc); jsonErr != nil {
		return resolve(cfg), fmt.Errorf("parse config %s: %w", path, jsonErr)
	}

	merge(&cfg, doc)
	return resolve(cfg)
}

func defaults(exeDir string) Config {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown-instrument"
	}
	return Config{
		PortableMode:    false,
		WatchDir:        filepath.Join(exeDir, DefaultWatchDirSuffix),
		ServerIP:        DefaultServerIP,
		Port:            DefaultPort,
		AuthToken:       DefaultAuthToken,
		InstrumentAlias: hostname,
	}
}

// merge overlays any field the document explicitly set onto the defaults.
// WATCH_DIR is re-defaulted relative to exeDir only when absent, matching
// the Python settings module's `<exe_dir>/data` default.
func merge(base *Config, doc Config) {
	if doc.PortableMode {
		base.PortableMode = true
	}
	if doc.WatchDir != "" {
		base.WatchDir = doc.WatchDir
	}
	if doc.ServerIP != "" {
		base.ServerIP = doc.ServerIP
	}
	if doc.Port != 0 {
		base.Port = doc.Port
	}
	if doc.AuthToken != "" {
		base.AuthToken = doc.AuthToken
	}
	if doc.InstrumentAlias != "" {
		base.InstrumentAlias = doc.InstrumentAlias
	}
}

func resolve(cfg Config) (Config, error) {
	dataDir, err := DataDirectory(cfg.PortableMode)
	if err != nil {
		return cfg, err
	}
	cfg.DataDir = dataDir
	cfg.DBPath = filepath.Join(dataDir, "client_tasks.db")
	cfg.LogPath = filepath.Join(dataDir, "logs", "client_service.log")
	return cfg, nil
}

// DataDirectory resolves the on-disk layout root. In portable mode it sits
// next to the running executable; otherwise it follows the per-OS
// convention in spec.md §6.
func DataDirectory(portable bool) (string, error) {
	if portable {
		exe, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("resolve executable path: %w", err)
		}
		return filepath.Dir(exe), nil
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("LOCALAPPDATA")
		if base == "" {
			return "", errors.New("LOCALAPPDATA is not set")
		}
		return filepath.Join(base, appDirName), nil
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", appDirName), nil
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".local", "share", appDirName), nil
	}
}

// ExecutableDir returns the directory containing the running executable,
// used to resolve the non-portable WATCH_DIR default.
func ExecutableDir() string {
	exe, err := os.Executable()
	if err != nil {
		wd, wdErr := os.Getwd()
		if wdErr != nil {
			return "."
		}
		return wd
	}
	return filepath.Dir(exe)
}
