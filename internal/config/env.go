package config

import (
	"os"
	"strconv"
)

// FromEnv overlays CHATLOG_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("CHATLOG_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CHATLOG_FSYNC"); v != "" {
		cfg.Fsync = v
	}
	if v := os.Getenv("CHATLOG_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("CHATLOG_HISTORY_VISIBLE_DEFAULT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.HistoryVisibleDefault = b
		}
	}
	if v := os.Getenv("CHATLOG_ITER_MIN_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Log.IterMinBuffer = n
		}
	}
	if v := os.Getenv("CHATLOG_ITER_MAX_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Log.IterMaxBuffer = n
		}
	}
	if v := os.Getenv("CHATLOG_TEXT_MAX_CHARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.TextMaxChars = n
		}
	}
	if v := os.Getenv("CHATLOG_POLL_MAX_OPTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.PollMaxOptions = n
		}
	}
}
