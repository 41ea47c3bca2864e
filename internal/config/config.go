// Package config parses ocontinue.toml project configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"

	"github.com/LISSConsulting/LISSTech.OContinue/internal/directive"
	"github.com/LISSConsulting/LISSTech.OContinue/internal/state"
)

// FileName is the config file searched for by Load.
const FileName = "ocontinue.toml"

// Config is the top-level ocontinue.toml configuration.
type Config struct {
	Project       ProjectConfig       `toml:"project"`
	Loop          LoopConfig          `toml:"loop"`
	State         StateConfig         `toml:"state"`
	OpenCode      OpenCodeConfig      `toml:"opencode"`
	Server        ServerConfig        `toml:"server"`
	Journal       JournalConfig       `toml:"journal"`
	Notifications NotificationsConfig `toml:"notifications"`
	Log           LogConfig           `toml:"log"`
	TUI           TUIConfig           `toml:"tui"`

	// dir is the directory holding the config file; relative paths resolve
	// against it.
	dir string
}

// ProjectConfig identifies the project.
type ProjectConfig struct {
	Name string `toml:"name"`
}

// LoopConfig sets the defaults a start directive falls back to.
type LoopConfig struct {
	DefaultMaxIterations int    `toml:"default_max_iterations"`
	DefaultPromise       string `toml:"default_promise"`
}

// StateConfig selects the loop state backend.
type StateConfig struct {
	Backend string `toml:"backend"` // "file", "sqlite" or "memory"
	Path    string `toml:"path"`
}

// OpenCodeConfig points at the opencode server.
type OpenCodeConfig struct {
	URL             string `toml:"url"`
	Directory       string `toml:"directory"`
	SubscribeEvents bool   `toml:"subscribe_events"`
	Toast           bool   `toml:"toast"`

	// Event stream reconnects.
	ReconnectRetries        int `toml:"reconnect_retries"`
	ReconnectBackoffSeconds int `toml:"reconnect_backoff_seconds"`
	QuietTimeoutSeconds     int `toml:"quiet_timeout_seconds"` // 0 = never reconnect a quiet stream
}

// ServerConfig controls the hook server the host plugin calls.
type ServerConfig struct {
	Addr   string `toml:"addr"`
	APIKey string `toml:"api_key"`
}

// JournalConfig controls the durable event log.
type JournalConfig struct {
	Dir       string `toml:"dir"`
	Retention int    `toml:"retention"` // number of journal files to keep; 0 = unlimited
}

// NotificationsConfig controls webhook/ntfy.sh notifications.
type NotificationsConfig struct {
	URL         string `toml:"url"`
	OnStart     bool   `toml:"on_start"`
	OnComplete  bool   `toml:"on_complete"`
	OnExhausted bool   `toml:"on_exhausted"`
	OnStop      bool   `toml:"on_stop"`
	OnError     bool   `toml:"on_error"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level string `toml:"level"`
}

// TUIConfig controls the watch dashboard.
type TUIConfig struct {
	AccentColor    string `toml:"accent_color"`
	RefreshSeconds int    `toml:"refresh_seconds"`
	JournalEntries int    `toml:"journal_entries"`
}

// Validate checks the configuration for issues that would cause confusing
// runtime failures. It returns all found issues joined together.
func (c *Config) Validate() error {
	var errs []error

	if c.Loop.DefaultMaxIterations < 1 {
		errs = append(errs, fmt.Errorf("loop.default_max_iterations must be >= 1"))
	}
	if strings.TrimSpace(c.Loop.DefaultPromise) == "" {
		errs = append(errs, fmt.Errorf("loop.default_promise must not be empty"))
	}

	switch c.State.Backend {
	case state.BackendFile, state.BackendSQLite:
		if c.State.Path == "" {
			errs = append(errs, fmt.Errorf("state.path must be set for the %s backend", c.State.Backend))
		}
	case state.BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("state.backend must be one of file, sqlite, memory"))
	}

	if c.OpenCode.URL != "" && !isHTTPURL(c.OpenCode.URL) {
		errs = append(errs, fmt.Errorf("opencode.url must be a valid http or https URL"))
	}
	if c.OpenCode.SubscribeEvents && c.OpenCode.URL == "" {
		errs = append(errs, fmt.Errorf("opencode.url must be set when opencode.subscribe_events is true"))
	}

	if c.OpenCode.ReconnectRetries < 0 {
		errs = append(errs, fmt.Errorf("opencode.reconnect_retries must be >= 0"))
	}
	if c.OpenCode.ReconnectBackoffSeconds < 0 {
		errs = append(errs, fmt.Errorf("opencode.reconnect_backoff_seconds must be >= 0"))
	}
	if c.OpenCode.QuietTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("opencode.quiet_timeout_seconds must be >= 0 (0 = disabled)"))
	}

	if c.Server.Addr == "" {
		errs = append(errs, fmt.Errorf("server.addr must not be empty"))
	}

	if c.Journal.Retention < 0 {
		errs = append(errs, fmt.Errorf("journal.retention must be >= 0 (0 = unlimited)"))
	}

	if c.Notifications.URL != "" && !isHTTPURL(c.Notifications.URL) {
		errs = append(errs, fmt.Errorf("notifications.url must be a valid http or https URL"))
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level must be one of debug, info, warn, error"))
	}

	if c.TUI.RefreshSeconds < 1 {
		errs = append(errs, fmt.Errorf("tui.refresh_seconds must be >= 1"))
	}
	if c.TUI.JournalEntries < 0 {
		errs = append(errs, fmt.Errorf("tui.journal_entries must be >= 0"))
	}

	return errors.Join(errs...)
}

func isHTTPURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}

// Defaults returns a Config with sensible defaults.
func Defaults() Config {
	return Config{
		Loop: LoopConfig{
			DefaultMaxIterations: directive.DefaultMaxIterations,
			DefaultPromise:       directive.DefaultPromise,
		},
		State: StateConfig{
			Backend: state.BackendFile,
			Path:    filepath.Join(".ocontinue", "state.json"),
		},
		OpenCode: OpenCodeConfig{
			URL:             "http://127.0.0.1:4096",
			SubscribeEvents:         true,
			Toast:                   true,
			ReconnectRetries:        5,
			ReconnectBackoffSeconds: 2,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:4097",
		},
		Journal: JournalConfig{
			Dir:       filepath.Join(".ocontinue", "logs"),
			Retention: 20,
		},
		Notifications: NotificationsConfig{
			OnComplete:  true,
			OnExhausted: true,
			OnStop:      true,
			OnError:     true,
		},
		Log: LogConfig{Level: "info"},
		TUI: TUIConfig{
			AccentColor:    "#7D56F4",
			RefreshSeconds: 1,
			JournalEntries: 200,
		},
	}
}

// Parser returns the directive parser configured with the loop defaults.
func (c *Config) Parser() directive.Parser {
	return directive.Parser{
		DefaultMaxIterations: c.Loop.DefaultMaxIterations,
		DefaultPromise:       c.Loop.DefaultPromise,
	}
}

// Resolve makes a config-relative path absolute. Absolute paths and configs
// not loaded from a file are returned unchanged.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.dir == "" {
		return path
	}
	return filepath.Join(c.dir, path)
}

// Load reads ocontinue.toml from the given path. If path is empty, it walks up
// from the current working directory looking for ocontinue.toml. Returns an
// error if the file contains unknown keys (likely typos) or fails validation.
func Load(path string) (*Config, error) {
	if path == "" {
		found, err := findConfig()
		if err != nil {
			return nil, err
		}
		path = found
	}

	cfg := Defaults()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("config: unknown keys in %s: %s (possible typos?)", path, strings.Join(keys, ", "))
	}

	cfg.dir = filepath.Dir(path)
	if cfg.Project.Name == "" {
		cfg.Project.Name = DetectProjectName(cfg.dir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadOrDefaults is Load, except that a missing config file yields the
// defaults rooted at the working directory instead of an error.
func LoadOrDefaults(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	if _, err := findConfig(); err != nil {
		if !errors.Is(err, errNotFound) {
			return nil, err
		}
		dir, wdErr := os.Getwd()
		if wdErr != nil {
			return nil, fmt.Errorf("config: get working directory: %w", wdErr)
		}
		cfg := Defaults()
		cfg.dir = dir
		cfg.Project.Name = DetectProjectName(dir)
		return &cfg, nil
	}
	return Load("")
}

var errNotFound = errors.New("config: " + FileName + " not found")

// findConfig walks up from the current directory looking for ocontinue.toml.
func findConfig() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("config: get working directory: %w", err)
	}

	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w (searched up from %s)", errNotFound, dir)
		}
		dir = parent
	}
}

// InitFile writes a default ocontinue.toml template to the given directory.
func InitFile(dir string) (string, error) {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("config: %s already exists at %s", FileName, path)
	}

	content := `# ocontinue.toml: continuation loop controller configuration
# Place this file in the root of your project.

[project]
name = ""

[loop]
default_max_iterations = 20  # used when <ocontinue-start> has no max
default_promise = "DONE"     # used when <ocontinue-start> has no promise

[state]
backend = "file"             # file, sqlite or memory
path = ".ocontinue/state.json"

[opencode]
url = "http://127.0.0.1:4096"
directory = ""               # project directory when the server hosts several
subscribe_events = true      # follow /event for idle and abort signals
toast = true                 # show loop outcomes as TUI toasts
reconnect_retries = 5        # consecutive failed reconnects before serve exits
reconnect_backoff_seconds = 2
quiet_timeout_seconds = 0    # reconnect when the stream is silent this long; 0 = disabled

[server]
addr = "127.0.0.1:4097"      # hook server for the opencode plugin
api_key = ""                 # require "Authorization: Bearer <key>" when set

[journal]
dir = ".ocontinue/logs"
retention = 20               # number of journal files to keep; 0 = unlimited

[notifications]
url = ""                     # ntfy.sh topic URL or any HTTP webhook (empty = disabled)
on_start = false
on_complete = true
on_exhausted = true
on_stop = true               # manual stop and user abort
on_error = true

[log]
level = "info"               # debug, info, warn, error

[tui]
accent_color = "#7D56F4"
refresh_seconds = 1
journal_entries = 200
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("config: write %s: %w", path, err)
	}
	return path, nil
}
