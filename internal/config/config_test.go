package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_NothingFound(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)

	_, err := FindConfig("")
	if _, statErr := os.Stat("/etc/sagaforge/config.yaml"); statErr == nil {
		t.Skip("system config present")
	}
	if !errors.Is(err, ErrNoConfig) {
		t.Fatalf("FindConfig(\"\") = %v, want ErrNoConfig", err)
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 8080\n"), 0600)
	t.Chdir(dir)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("search:\n  tavily:\n    api_key: ${SAGAFORGE_TEST_KEY}\n"), 0600)
	t.Setenv("SAGAFORGE_TEST_KEY", "tvly-secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Search.Tavily.APIKey != "tvly-secret" {
		t.Errorf("api_key = %q, want %q", cfg.Search.Tavily.APIKey, "tvly-secret")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, ".env"), []byte("SAGAFORGE_DOTENV_KEY=from-dotenv\n"), 0600)
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("search:\n  tavily:\n    api_key: ${SAGAFORGE_DOTENV_KEY}\n"), 0600)

	t.Setenv("SAGAFORGE_DOTENV_KEY", "")
	os.Unsetenv("SAGAFORGE_DOTENV_KEY")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Search.Tavily.APIKey != "from-dotenv" {
		t.Errorf("api_key = %q, want %q", cfg.Search.Tavily.APIKey, "from-dotenv")
	}
}

func TestLoadDotEnv_Missing(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "config.yaml")); err != nil {
		t.Errorf("LoadDotEnv without .env = %v, want nil", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("models:\n  default: llama3.2:3b\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Models.Default != "llama3.2:3b" {
		t.Errorf("models.default = %q", cfg.Models.Default)
	}
	if cfg.Listen.Port != 8000 {
		t.Errorf("listen.port = %d, want 8000", cfg.Listen.Port)
	}
	if cfg.Models.NumHistoryRuns != 5 {
		t.Errorf("num_history_runs = %d, want 5", cfg.Models.NumHistoryRuns)
	}
	if cfg.Terminal.StopGrace() != 5*time.Second {
		t.Errorf("stop grace = %v, want 5s", cfg.Terminal.StopGrace())
	}
	if cfg.Terminal.Shell == "" {
		t.Error("terminal.shell should default to the platform shell")
	}
	if cfg.Terminal.QuietPeriod() != time.Second {
		t.Errorf("quiet period = %v, want 1s", cfg.Terminal.QuietPeriod())
	}
	if cfg.LogMaxBytes() != 5<<20 || cfg.LogBackups != 3 {
		t.Errorf("log rotation = %d bytes x %d, want 5MiB x 3", cfg.LogMaxBytes(), cfg.LogBackups)
	}
	if !cfg.SearchNeedsConfirmation() {
		t.Error("search confirmation should default to on")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestTerminalConfig_QuietPeriod(t *testing.T) {
	tests := []struct {
		ms   int
		want time.Duration
	}{
		{ms: 250, want: 250 * time.Millisecond},
		{ms: -1, want: 0},
	}
	for _, tt := range tests {
		c := TerminalConfig{QuietPeriodMs: tt.ms}
		if got := c.QuietPeriod(); got != tt.want {
			t.Errorf("QuietPeriod(%d) = %v, want %v", tt.ms, got, tt.want)
		}
	}
}

func TestLoad_NegativeQuietPeriodDisablesEarlyReturn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("terminal:\n  quiet_period_ms: -1\nlog_max_size_mb: -1\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got := cfg.Terminal.QuietPeriod(); got != 0 {
		t.Errorf("quiet period = %v, want 0", got)
	}
	if got := cfg.LogMaxBytes(); got != 0 {
		t.Errorf("log max bytes = %d, want 0 (rotation off)", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad port", func(c *Config) { c.Listen.Port = 70000 }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, true},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, true},
		{"no model", func(c *Config) { c.Models.Default = "" }, true},
		{"negative grace", func(c *Config) { c.Terminal.StopGraceSec = -1 }, true},
		{"unknown search provider", func(c *Config) { c.Search.Provider = "bing" }, true},
		{"negative log backups", func(c *Config) { c.LogBackups = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"TRACE", LevelTrace},
		{" debug ", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLogLevel(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPruneLogs(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "app.log.1")
	fresh := filepath.Join(dir, "app.log")
	other := filepath.Join(dir, "notes.txt")
	for _, p := range []string{old, fresh, other} {
		os.WriteFile(p, []byte("x"), 0600)
	}
	past := time.Now().Add(-96 * time.Hour)
	os.Chtimes(old, past, past)
	os.Chtimes(other, past, past)

	removed := PruneLogs(dir, time.Now().Add(-72*time.Hour))
	if removed != 1 {
		t.Errorf("PruneLogs removed %d files, want 1", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("old log should be removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh log should be kept")
	}
	if _, err := os.Stat(other); err != nil {
		t.Error("non-log file should be kept")
	}
}

func TestOpenLogFile_RotatesBySize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "app.log")

	f, err := OpenLogFile(path, 0, 10, 2)
	if err != nil {
		t.Fatalf("OpenLogFile error: %v", err)
	}
	defer f.Close()

	for _, line := range []string{"aaaaaa\n", "bbbbbb\n", "cccccc\n", "dddddd\n"} {
		if _, err := f.Write([]byte(line)); err != nil {
			t.Fatalf("Write(%q) error: %v", line, err)
		}
	}

	want := map[string]string{
		path:        "dddddd\n",
		path + ".1": "cccccc\n",
		path + ".2": "bbbbbb\n",
	}
	for p, content := range want {
		got, err := os.ReadFile(p)
		if err != nil {
			t.Errorf("read %s: %v", p, err)
			continue
		}
		if string(got) != content {
			t.Errorf("%s = %q, want %q", filepath.Base(p), got, content)
		}
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Error("only two backups should be kept")
	}
}

func TestOpenLogFile_AppendsAndCountsExistingSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	os.WriteFile(path, []byte("12345678\n"), 0600)

	f, err := OpenLogFile(path, 0, 10, 1)
	if err != nil {
		t.Fatalf("OpenLogFile error: %v", err)
	}
	if _, err := f.Write([]byte("next\n")); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	f.Close()

	if got, _ := os.ReadFile(path + ".1"); string(got) != "12345678\n" {
		t.Errorf("backup = %q, want the pre-existing content", got)
	}
	if got, _ := os.ReadFile(path); string(got) != "next\n" {
		t.Errorf("current = %q, want %q", got, "next\n")
	}
	if _, err := f.Write([]byte("late")); err == nil {
		t.Error("Write after Close should fail")
	}
}

func TestOpenLogFile_NoRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	f, err := OpenLogFile(path, 0, 0, 3)
	if err != nil {
		t.Fatalf("OpenLogFile error: %v", err)
	}
	defer f.Close()
	for i := 0; i < 100; i++ {
		f.Write([]byte("0123456789"))
	}
	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("maxBytes 0 should never rotate")
	}
}
