package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/LISSConsulting/LISSTech.OContinue/internal/config"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// writeProjectConfig writes an ocontinue.toml with the given state backend and
// no opencode server.
func writeProjectConfig(t *testing.T, backend string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, config.FileName)
	content := `[project]
name = "demo"

[state]
backend = "` + backend + `"
path = "state.json"

[opencode]
url = ""
subscribe_events = false

[journal]
dir = "logs"

[log]
level = "error"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := rootCmd()
	want := []string{"serve", "status", "stop", "history", "init", "watch"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("missing --config flag")
	}
}

func TestCommands_StatusStopHistory(t *testing.T) {
	path := writeProjectConfig(t, "file")

	out, err := execute(t, "--config", path, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if out != "No active loops.\n" {
		t.Errorf("status = %q", out)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	a, err := newApp(cfg, zap.NewNop(), appOptions{record: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.ctrl.Start(context.Background(), "ses_1", startDirective(5)); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	out, err = execute(t, "--config", path, "status", "-o", "json")
	if err != nil {
		t.Fatalf("status json: %v", err)
	}
	var status struct {
		Loops []loopView `json:"loops"`
	}
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("status json: %v\n%s", err, out)
	}
	if len(status.Loops) != 1 || status.Loops[0].Session != "ses_1" || status.Loops[0].MaxIterations != 5 {
		t.Errorf("loops = %+v", status.Loops)
	}

	out, err = execute(t, "--config", path, "stop", "ses_1")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if strings.TrimSpace(out) != "Loop stopped at iteration 1 of 5." {
		t.Errorf("stop = %q", out)
	}

	out, err = execute(t, "--config", path, "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "ses_1") || !strings.Contains(out, "stopped") {
		t.Errorf("history missing stopped run:\n%s", out)
	}
}

func TestStopCmd_RequiresSession(t *testing.T) {
	path := writeProjectConfig(t, "file")
	if _, err := execute(t, "--config", path, "stop"); err == nil {
		t.Error("expected error without a session argument")
	}
}

func TestStatusCmd_BadFormat(t *testing.T) {
	path := writeProjectConfig(t, "file")
	if _, err := execute(t, "--config", path, "status", "-o", "xml"); err == nil {
		t.Error("expected error for unknown output format")
	}
}

func TestWatchCmd_RejectsMemoryBackend(t *testing.T) {
	path := writeProjectConfig(t, "memory")
	_, err := execute(t, "--config", path, "watch")
	if err == nil || !strings.Contains(err.Error(), "shared state backend") {
		t.Errorf("watch = %v", err)
	}
}

func TestInitCmd(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	out, err := execute(t, "init")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, config.FileName) {
		t.Errorf("init output = %q", out)
	}
	if _, err := config.Load(filepath.Join(dir, config.FileName)); err != nil {
		t.Errorf("generated config does not load: %v", err)
	}

	if _, err := execute(t, "init"); err == nil {
		t.Error("second init should refuse to overwrite")
	}
}
