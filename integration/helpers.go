//go:build integration

package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// repoRoot returns the module root
func repoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	return filepath.Dir(filepath.Dir(filename))
}

// binaryPath builds the CLI once per test binary run
func binaryPath(t *testing.T) string {
	t.Helper()
	root := repoRoot(t)
	bin := filepath.Join(root, "streak-keeper")
	if _, err := os.Stat(bin); err == nil {
		return bin
	}

	t.Log("Binary not found, building...")
	cmd := exec.Command("go", "build", "-o", bin, "./cmd/streak-keeper")
	cmd.Dir = root
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\n%s", err, out)
	}
	return bin
}

// env holds an isolated config and database for one test
type env struct {
	t       *testing.T
	bin     string
	dir     string
	cfgPath string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	cfg := `[general]
database_path = "` + filepath.Join(dir, "commits.db") + `"
work_dir = "` + filepath.Join(dir, "work") + `"
log_level = "warn"

[schedule]
active_start = "09:00"
active_end = "10:00"
files = ["NOTES.md"]

[notifications]
desktop = false
`
	if err := os.WriteFile(cfgPath, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	return &env{t: t, bin: binaryPath(t), dir: dir, cfgPath: cfgPath}
}

// run executes the CLI without any access token in the environment
func (e *env) run(args ...string) (string, error) {
	e.t.Helper()
	cmd := exec.Command(e.bin, append([]string{"--config", e.cfgPath}, args...)...)
	cmd.Dir = e.dir
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "GITHUB_TOKEN") {
			cmd.Env = append(cmd.Env, kv)
		}
	}
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func (e *env) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run(args...)
	if err != nil {
		e.t.Fatalf("%v failed: %v\n%s", args, err, out)
	}
	return out
}
