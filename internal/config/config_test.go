package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Default()

	if cfg.Schedule.MaxParallel != 2 {
		t.Errorf("MaxParallel = %d, want 2", cfg.Schedule.MaxParallel)
	}
	if cfg.Schedule.ActiveStart != "09:00" || cfg.Schedule.ActiveEnd != "17:00" {
		t.Errorf("active window = %s-%s, want 09:00-17:00", cfg.Schedule.ActiveStart, cfg.Schedule.ActiveEnd)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("Web.Port = %d, want 8080", cfg.Web.Port)
	}
	if cfg.Web.Host != "127.0.0.1" {
		t.Errorf("Web.Host = %q, want 127.0.0.1", cfg.Web.Host)
	}
	if cfg.General.DatabaseDriver != "sqlite" {
		t.Errorf("DatabaseDriver = %q, want sqlite", cfg.General.DatabaseDriver)
	}
	if got := cfg.ExecutionTimeout(); got != 2*time.Minute {
		t.Errorf("ExecutionTimeout() = %s, want 2m", got)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Schedule.Tick != "@every 15s" {
		t.Errorf("Tick = %q, want default", cfg.Schedule.Tick)
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := writeTempConfig(t, `
[general]
database_path = "/data/commits.db"
log_level = "debug"

[schedule]
active_start = "22:00"
active_end = "02:00"
files = ["docs/log.md", "NOTES.md"]
max_parallel = 5

[web]
port = 9000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.General.DatabasePath != "/data/commits.db" {
		t.Errorf("DatabasePath = %q, want /data/commits.db", cfg.General.DatabasePath)
	}
	if cfg.General.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.General.LogLevel)
	}
	if cfg.Schedule.ActiveStart != "22:00" || cfg.Schedule.ActiveEnd != "02:00" {
		t.Errorf("window = %s-%s", cfg.Schedule.ActiveStart, cfg.Schedule.ActiveEnd)
	}
	if len(cfg.Schedule.Files) != 2 || cfg.Schedule.Files[0] != "docs/log.md" {
		t.Errorf("Files = %v", cfg.Schedule.Files)
	}
	if cfg.Schedule.MaxParallel != 5 {
		t.Errorf("MaxParallel = %d, want 5", cfg.Schedule.MaxParallel)
	}
	if cfg.Web.Port != 9000 {
		t.Errorf("Web.Port = %d, want 9000", cfg.Web.Port)
	}
	// Untouched sections keep their defaults
	if cfg.Git.TokenEnv != "GITHUB_TOKEN" {
		t.Errorf("TokenEnv = %q, want GITHUB_TOKEN", cfg.Git.TokenEnv)
	}
}

func TestLoad_Invalid(t *testing.T) {
	path := writeTempConfig(t, "[general\nbroken")
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoad_PostgresDSNNotExpanded(t *testing.T) {
	path := writeTempConfig(t, `
[general]
database_driver = "postgres"
database_path = "~/not-a-path"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.General.DatabasePath != "~/not-a-path" {
		t.Errorf("DatabasePath = %q, DSN should be left as is", cfg.General.DatabasePath)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Schedule.ActiveStart = "07:30"
	cfg.Schedule.MessageTemplates = []string{"chore: {date}", "docs: {random}"}
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Schedule.ActiveStart != "07:30" {
		t.Errorf("ActiveStart = %q, want 07:30", loaded.Schedule.ActiveStart)
	}
	if len(loaded.Schedule.MessageTemplates) != 2 {
		t.Errorf("MessageTemplates = %v", loaded.Schedule.MessageTemplates)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		got := ExpandPath(tt.input)
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFindLocalConfig(t *testing.T) {
	root := t.TempDir()
	subdir := filepath.Join(root, "sub", "dir")
	if err := os.MkdirAll(subdir, 0755); err != nil {
		t.Fatal(err)
	}

	localConfig := filepath.Join(root, LocalConfigName)
	if err := os.WriteFile(localConfig, []byte("[web]\nport = 9100"), 0644); err != nil {
		t.Fatal(err)
	}

	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)
	if err := os.Chdir(subdir); err != nil {
		t.Fatal(err)
	}

	if found := FindLocalConfig(); found != localConfig {
		t.Errorf("FindLocalConfig() = %q, want %q", found, localConfig)
	}

	cfg, err := LoadWithLocalFallback("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Web.Port != 9100 {
		t.Errorf("Web.Port = %d, want 9100 from local config", cfg.Web.Port)
	}
}

func TestResolvePath_ExplicitWins(t *testing.T) {
	if got := ResolvePath("/etc/streak.toml"); got != "/etc/streak.toml" {
		t.Errorf("ResolvePath = %q", got)
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := writeTempConfig(t, "[schedule]\nactive_start = \"09:00\"\n")

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	w.SetDebounce(50 * time.Millisecond)

	changed := make(chan *Config, 16)
	w.OnChange(func(cfg *Config) { changed <- cfg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if got := w.ScheduleSettings().ActiveStart; got != "09:00" {
		t.Fatalf("initial ActiveStart = %q", got)
	}

	if err := os.WriteFile(path, []byte("[schedule]\nactive_start = \"06:15\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	// A reload may observe the truncated file first; wait for the final content
	deadline := time.After(5 * time.Second)
	for reloaded := false; !reloaded; {
		select {
		case cfg := <-changed:
			reloaded = cfg.Schedule.ActiveStart == "06:15"
		case <-deadline:
			t.Fatal("no reload after write")
		}
	}
	if got := w.Current().Schedule.ActiveStart; got != "06:15" {
		t.Errorf("Current().ActiveStart = %q, want 06:15", got)
	}
}

func TestWatcher_KeepsLastGoodConfig(t *testing.T) {
	path := writeTempConfig(t, "[web]\nport = 8123\n")
	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.watcher.Close()

	if err := os.WriteFile(path, []byte("[web\n"), 0644); err != nil {
		t.Fatal(err)
	}
	w.reload()
	if w.Current().Web.Port != 8123 {
		t.Errorf("Port = %d, invalid file should not replace config", w.Current().Web.Port)
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}
