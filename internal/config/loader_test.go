package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoaderDefaults(t *testing.T) {
	dir := t.TempDir()
	l := NewLoader(filepath.Join(dir, ".mnemosyne"))
	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.BranchIsolation.Enabled {
		t.Fatal("expected branch_isolation.enabled default true")
	}
	if cfg.CrossProcess.PollIntervalSeconds != 2 {
		t.Fatalf("expected default poll interval 2, got %d", cfg.CrossProcess.PollIntervalSeconds)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoaderReadsFile(t *testing.T) {
	dir := t.TempDir()
	mdir := filepath.Join(dir, ".mnemosyne")
	if err := os.MkdirAll(mdir, 0o700); err != nil {
		t.Fatal(err)
	}
	toml := `[branch_isolation]
enabled = true
default_mode = "coordinated"
auto_approve_readonly = false
orchestrator_bypass = false
`
	if err := os.WriteFile(filepath.Join(mdir, "config.toml"), []byte(toml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader(mdir).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BranchIsolation.DefaultMode != "coordinated" {
		t.Fatalf("expected coordinated, got %q", cfg.BranchIsolation.DefaultMode)
	}
	if cfg.BranchIsolation.AutoApproveReadOnly {
		t.Fatal("expected auto_approve_readonly to be overridden to false")
	}
}

func TestLoaderEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MNEMOSYNE_CROSS_PROCESS_POLL_INTERVAL_SECONDS", "5")

	cfg, err := NewLoader(filepath.Join(dir, ".mnemosyne")).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CrossProcess.PollIntervalSeconds != 5 {
		t.Fatalf("expected env override to set 5, got %d", cfg.CrossProcess.PollIntervalSeconds)
	}
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg := Default()
	cfg.BranchIsolation.DefaultMode = "bogus"
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error for invalid default_mode")
	}
}

func TestWriteDefaultCreatesFileOnce(t *testing.T) {
	dir := t.TempDir()
	mdir := filepath.Join(dir, ".mnemosyne")
	path, err := WriteDefault(mdir)
	if err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected config file: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("expected non-empty default config")
	}

	// Second call must not clobber an edited file.
	if err := os.WriteFile(path, []byte("# edited\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := WriteDefault(mdir); err != nil {
		t.Fatalf("WriteDefault (second call): %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "# edited\n" {
		t.Fatal("WriteDefault must not overwrite an existing config file")
	}
}
