// Package config handles Sagaforge configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/sagaforge/config.yaml, /etc/sagaforge/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "sagaforge", "config.yaml"))
	}

	paths = append(paths, "/etc/sagaforge/config.yaml")
	return paths
}

// ErrNoConfig is returned by FindConfig when no explicit path was given
// and none of the default search paths exist.
var ErrNoConfig = errors.New("no config file found")

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfig, DefaultSearchPaths())
}

// Config holds all Sagaforge configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Models    ModelsConfig    `yaml:"models"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Terminal  TerminalConfig  `yaml:"terminal"`
	Search    SearchConfig    `yaml:"search"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"` // text (default) or json
	// LogFile, when set, receives a copy of every log line.
	LogFile string `yaml:"log_file"`
	// LogRetentionDays prunes *.log* files older than this from the
	// log file's directory at startup. Zero means the default of 3.
	LogRetentionDays int `yaml:"log_retention_days"`
	// LogMaxSizeMB rolls the log file over once it would grow past this
	// size. Zero means the default of 5; a negative value never rotates.
	LogMaxSizeMB int `yaml:"log_max_size_mb"`
	// LogBackups is how many rolled-over files to keep. Zero means the
	// default of 3.
	LogBackups int `yaml:"log_backups"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig defines the Ollama runtime and chat model settings.
type ModelsConfig struct {
	OllamaURL string `yaml:"ollama_url"`
	Default   string `yaml:"default"`
	// NumHistoryRuns is how many previous user/assistant exchanges are
	// replayed into the agent context.
	NumHistoryRuns int `yaml:"num_history_runs"`
	// Instructions is the system prompt given to the chat agent.
	Instructions string `yaml:"instructions"`
	// MaxSteps bounds the agent's tool-calling iterations per request.
	MaxSteps int `yaml:"max_steps"`
}

// WorkspaceConfig defines the allowed root for file operations.
type WorkspaceConfig struct {
	// Path is the initial allowed root. Empty means the process working
	// directory at startup. It can be changed at runtime through the
	// utils API.
	Path string `yaml:"path"`
}

// TerminalConfig defines the interactive shell session manager.
type TerminalConfig struct {
	// Shell is the interactive program spawned per session.
	Shell string `yaml:"shell"`
	// Args are passed to Shell.
	Args []string `yaml:"args"`
	// StopGraceSec is how long Stop waits after a graceful terminate
	// before force-killing the process.
	StopGraceSec int `yaml:"stop_grace_sec"`
	// IdleTimeoutSec stops sessions with no activity for this long.
	// Zero disables the reaper.
	IdleTimeoutSec int `yaml:"idle_timeout_sec"`
	// QuietPeriodMs ends a synchronous wait early once output has
	// arrived and then stayed quiet this long. Zero selects the default
	// of one second; a negative value always waits the full timeout.
	QuietPeriodMs int `yaml:"quiet_period_ms"`
	// DefaultTimeoutSec is the synchronous dispatch wait when the caller
	// does not specify one.
	DefaultTimeoutSec int `yaml:"default_timeout_sec"`
	// AgentTools exposes the terminal to the chat agent as tools.
	// Disabled by default for safety.
	AgentTools bool `yaml:"agent_tools"`
	// DeniedCommands blocks agent-issued commands containing any of
	// these substrings (case-insensitive). Unset uses a built-in list;
	// an explicit empty list allows everything.
	DeniedCommands []string `yaml:"denied_commands"`
}

// DefaultDeniedCommands are refused from the agent's terminal tools.
var DefaultDeniedCommands = []string{
	"rm -rf /",
	"rm -rf /*",
	"mkfs",
	"dd if=",
	"> /dev/sd",
	"chmod -R 777 /",
	":(){ :|:& };:",
}

// SearchConfig defines the web search tool.
type SearchConfig struct {
	Provider string       `yaml:"provider"` // tavily (default)
	Tavily   TavilyConfig `yaml:"tavily"`
	// RequireConfirmation gates search_internet behind an explicit user
	// confirmation per chat session.
	RequireConfirmation *bool `yaml:"require_confirmation"`
}

// TavilyConfig holds the Tavily API credentials.
type TavilyConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether a Tavily API key is set.
func (c TavilyConfig) Configured() bool {
	return c.APIKey != ""
}

// SearchNeedsConfirmation reports whether search_internet requires a
// user confirmation. Defaults to true when unset.
func (c *Config) SearchNeedsConfirmation() bool {
	if c.Search.RequireConfirmation == nil {
		return true
	}
	return *c.Search.RequireConfirmation
}

// StopGrace returns the terminal stop grace period.
func (c TerminalConfig) StopGrace() time.Duration {
	return time.Duration(c.StopGraceSec) * time.Second
}

// IdleTimeout returns the terminal idle timeout (zero when disabled).
func (c TerminalConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSec) * time.Second
}

// QuietPeriod returns the early-return quiet period, zero when early
// return is disabled.
func (c TerminalConfig) QuietPeriod() time.Duration {
	if c.QuietPeriodMs < 0 {
		return 0
	}
	return time.Duration(c.QuietPeriodMs) * time.Millisecond
}

// DefaultTimeout returns the synchronous dispatch wait.
func (c TerminalConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSec) * time.Second
}

// LoadDotEnv loads KEY=VALUE pairs from a .env file next to the config
// file (or in the working directory when configPath is empty). Variables
// already present in the environment win. A missing file is not an error.
func LoadDotEnv(configPath string) error {
	dir := "."
	if configPath != "" {
		dir = filepath.Dir(configPath)
	}
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); err != nil {
		return nil
	}
	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf("load %s: %w", envPath, err)
	}
	return nil
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{
		Listen: ListenConfig{Port: 8000},
		Models: ModelsConfig{
			OllamaURL:      "http://localhost:11434",
			Default:        "qwen2.5:14b",
			NumHistoryRuns: 5,
			Instructions:   "You are a helpful assistant.",
			MaxSteps:       12,
		},
		Search: SearchConfig{
			Provider: "tavily",
			Tavily:   TavilyConfig{APIKey: os.Getenv("TAVILY_API_KEY")},
		},
		DataDir:          "./db",
		LogRetentionDays: 3,
		LogMaxSizeMB:     5,
		LogBackups:       3,
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills zero values that YAML may have left empty.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8000
	}
	if c.Models.OllamaURL == "" {
		c.Models.OllamaURL = "http://localhost:11434"
	}
	if c.Models.NumHistoryRuns == 0 {
		c.Models.NumHistoryRuns = 5
	}
	if c.Models.MaxSteps == 0 {
		c.Models.MaxSteps = 12
	}
	if c.Terminal.Shell == "" {
		c.Terminal.Shell, c.Terminal.Args = defaultShell()
	}
	if c.Terminal.StopGraceSec == 0 {
		c.Terminal.StopGraceSec = 5
	}
	if c.Terminal.DefaultTimeoutSec == 0 {
		c.Terminal.DefaultTimeoutSec = 30
	}
	if c.Terminal.QuietPeriodMs == 0 {
		c.Terminal.QuietPeriodMs = 1000
	}
	if c.Terminal.DeniedCommands == nil {
		c.Terminal.DeniedCommands = DefaultDeniedCommands
	}
	if c.Search.Provider == "" {
		c.Search.Provider = "tavily"
	}
	if c.LogRetentionDays == 0 {
		c.LogRetentionDays = 3
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 5
	}
	if c.LogBackups == 0 {
		c.LogBackups = 3
	}
}

// LogMaxBytes returns the log rotation threshold, zero when rotation is
// disabled.
func (c *Config) LogMaxBytes() int64 {
	if c.LogMaxSizeMB < 0 {
		return 0
	}
	return int64(c.LogMaxSizeMB) << 20
}

// defaultShell returns the interactive shell for the host platform.
func defaultShell() (string, []string) {
	if runtime.GOOS == "windows" {
		return "powershell.exe", []string{"-NoExit", "-Command", "-"}
	}
	return "sh", nil
}

// Validate checks the configuration for values that would fail later
// in less obvious ways.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat)
	}
	if c.Models.Default == "" {
		return fmt.Errorf("models.default is required")
	}
	if c.Terminal.StopGraceSec < 0 || c.Terminal.IdleTimeoutSec < 0 ||
		c.Terminal.DefaultTimeoutSec < 0 {
		return fmt.Errorf("terminal durations must not be negative")
	}
	if c.LogBackups < 0 {
		return fmt.Errorf("log_backups must not be negative")
	}
	if c.Search.Provider != "tavily" {
		return fmt.Errorf("unknown search.provider %q (valid: tavily)", c.Search.Provider)
	}
	return nil
}
