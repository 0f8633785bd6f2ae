package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultDataDir picks a per-OS data directory for the chat store. The
// CHATLOG_DATA_DIR override is applied by FromEnv; this is only the fallback
// when neither a flag nor the environment names one.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "chatlog")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "chatlog")
	case "windows":
		if local := os.Getenv("LocalAppData"); local != "" {
			return filepath.Join(local, "chatlog")
		}
		return filepath.Join(home, "AppData", "Local", "chatlog")
	default:
		// Use the system dir only when an operator has provisioned it;
		// it is rarely writable otherwise.
		if isDir("/var/lib/chatlog") {
			return "/var/lib/chatlog"
		}
		return filepath.Join(home, ".local", "share", "chatlog")
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
