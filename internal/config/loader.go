package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

const envPrefix = "MNEMOSYNE"

// Loader reads .mnemosyne/config.toml, layering environment variable
// overrides (MNEMOSYNE_*) and in-code defaults underneath, matching the
// precedence quorum-ai's loader uses for its own config (env > file >
// defaults) but re-keyed to this core's TOML schema.
type Loader struct {
	v          *viper.Viper
	configFile string
	mu         sync.Mutex
}

// NewLoader creates a loader that searches mnemosyneDir (default
// ".mnemosyne") for config.toml.
func NewLoader(mnemosyneDir string) *Loader {
	if mnemosyneDir == "" {
		mnemosyneDir = ".mnemosyne"
	}
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(mnemosyneDir)
	return &Loader{v: v}
}

// WithConfigFile overrides config discovery with an explicit path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Load resolves the final configuration: defaults, then config.toml (if
// present), then MNEMOSYNE_* environment overrides.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg := Default()
	setDefaults(l.v, cfg)

	l.v.SetEnvPrefix(envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var out Config
	if err := l.v.Unmarshal(&out); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &out, nil
}

// ConfigFile returns the config file viper actually read, if any.
func (l *Loader) ConfigFile() string {
	if l.configFile != "" {
		return l.configFile
	}
	return l.v.ConfigFileUsed()
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)

	v.SetDefault("branch_isolation.enabled", cfg.BranchIsolation.Enabled)
	v.SetDefault("branch_isolation.default_mode", cfg.BranchIsolation.DefaultMode)
	v.SetDefault("branch_isolation.auto_approve_readonly", cfg.BranchIsolation.AutoApproveReadOnly)
	v.SetDefault("branch_isolation.orchestrator_bypass", cfg.BranchIsolation.OrchestratorBypass)

	v.SetDefault("conflict_detection.enabled", cfg.ConflictDetect.Enabled)
	v.SetDefault("conflict_detection.critical_paths", cfg.ConflictDetect.CriticalPaths)

	v.SetDefault("cross_process.enabled", cfg.CrossProcess.Enabled)
	v.SetDefault("cross_process.mnemosyne_dir", cfg.CrossProcess.MnemosyneDir)
	v.SetDefault("cross_process.poll_interval_seconds", cfg.CrossProcess.PollIntervalSeconds)
	v.SetDefault("cross_process.heartbeat_timeout_seconds", cfg.CrossProcess.HeartbeatTimeoutSeconds)

	v.SetDefault("supervisor.max_restarts", cfg.Supervisor.MaxRestarts)
	v.SetDefault("supervisor.restart_window_secs", cfg.Supervisor.RestartWindowSecs)
	v.SetDefault("supervisor.shutdown_timeout_ms", cfg.Supervisor.ShutdownTimeoutMS)

	v.SetDefault("transport.listen", cfg.Transport.Listen)
	v.SetDefault("transport.max_frame_bytes", cfg.Transport.MaxFrameBytes)
	v.SetDefault("transport.handshake_timeout_ms", cfg.Transport.HandshakeTimeMS)
}

// WriteDefault writes the default config as TOML to <mnemosyneDir>/config.toml,
// creating the directory (mode 0700 on Unix, per spec §6) if necessary. It
// does not overwrite an existing file.
func WriteDefault(mnemosyneDir string) (string, error) {
	if err := os.MkdirAll(mnemosyneDir, 0o700); err != nil {
		return "", fmt.Errorf("creating %s: %w", mnemosyneDir, err)
	}
	path := filepath.Join(mnemosyneDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.WriteFile(path, []byte(defaultTOML), 0o600); err != nil {
		return "", fmt.Errorf("writing default config: %w", err)
	}
	return path, nil
}

const defaultTOML = `[branch_isolation]
enabled = true
default_mode = "isolated"
auto_approve_readonly = true
orchestrator_bypass = true

[conflict_detection]
enabled = true
critical_paths = ["migrations/**", "schema/**", "**/.env", "**/credentials.json"]

[cross_process]
enabled = true
mnemosyne_dir = ".mnemosyne"
poll_interval_seconds = 2
heartbeat_timeout_seconds = 30
`
