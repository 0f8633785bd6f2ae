package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DataDir  string `json:"dataDir" yaml:"dataDir"`
	Fsync    string `json:"fsync" yaml:"fsync"` // always | interval | never
	HTTPAddr string `json:"httpAddr" yaml:"httpAddr"`

	// HistoryVisibleDefault applies to chats created without an explicit
	// history-visibility setting.
	HistoryVisibleDefault bool `json:"historyVisibleDefault" yaml:"historyVisibleDefault"`

	Log    LogConfig    `json:"log" yaml:"log"`
	Limits LimitsConfig `json:"limits" yaml:"limits"`
}

// LogConfig tunes per-scope event log behavior.
type LogConfig struct {
	IterMinBuffer int `json:"iterMinBuffer" yaml:"iterMinBuffer"`
	IterMaxBuffer int `json:"iterMaxBuffer" yaml:"iterMaxBuffer"`
}

// LimitsConfig bounds message content validation.
type LimitsConfig struct {
	TextMaxChars   int `json:"textMaxChars" yaml:"textMaxChars"`
	PollMaxOptions int `json:"pollMaxOptions" yaml:"pollMaxOptions"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Fsync:                 "always",
		HTTPAddr:              ":8090",
		HistoryVisibleDefault: true,
		Log: LogConfig{
			IterMinBuffer: 5,
			IterMaxBuffer: 500,
		},
		Limits: LimitsConfig{
			TextMaxChars:   10_000,
			PollMaxOptions: 10,
		},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path
// is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	return cfg, nil
}
