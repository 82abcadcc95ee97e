// Package config loads the orchestration core's TOML configuration
// (spec §6), adapted from quorum-ai/internal/config's viper-based loader but
// re-keyed to the branch_isolation / conflict_detection / cross_process
// sections this core actually exposes.
package config

// Config is the fully resolved configuration for one orchestrator process.
type Config struct {
	Log             LogConfig             `mapstructure:"log"`
	BranchIsolation BranchIsolationConfig `mapstructure:"branch_isolation"`
	ConflictDetect  ConflictDetectConfig  `mapstructure:"conflict_detection"`
	CrossProcess    CrossProcessConfig    `mapstructure:"cross_process"`
	Supervisor      SupervisorConfig      `mapstructure:"supervisor"`
	Transport       TransportConfig       `mapstructure:"transport"`
}

// LogConfig configures the slog-based logger (ambient stack).
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// BranchIsolationConfig governs the Branch Coordinator's default policy
// (spec §6 [branch_isolation]).
type BranchIsolationConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	DefaultMode         string `mapstructure:"default_mode"` // "isolated" | "coordinated"
	AutoApproveReadOnly bool   `mapstructure:"auto_approve_readonly"`
	OrchestratorBypass  bool   `mapstructure:"orchestrator_bypass"`
}

// ConflictDetectConfig governs the File/Conflict Tracker's severity policy
// (spec §6 [conflict_detection]).
type ConflictDetectConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	CriticalPaths []string `mapstructure:"critical_paths"`
}

// CrossProcessConfig governs the Cross-Process Coordinator (spec §6
// [cross_process]).
type CrossProcessConfig struct {
	Enabled                 bool   `mapstructure:"enabled"`
	MnemosyneDir            string `mapstructure:"mnemosyne_dir"`
	PollIntervalSeconds     int    `mapstructure:"poll_interval_seconds"`
	HeartbeatTimeoutSeconds int    `mapstructure:"heartbeat_timeout_seconds"`
}

// SupervisorConfig governs the Agent Supervisor's restart budget (spec
// §4.1; not in spec §6's example block but named there as "design-level
// configurable").
type SupervisorConfig struct {
	MaxRestarts       int `mapstructure:"max_restarts"`
	RestartWindowSecs int `mapstructure:"restart_window_secs"`
	ShutdownTimeoutMS int `mapstructure:"shutdown_timeout_ms"`
}

// TransportConfig governs the P2P QUIC endpoint (spec §4.12, §6).
type TransportConfig struct {
	Listen          string `mapstructure:"listen"`
	MaxFrameBytes   int    `mapstructure:"max_frame_bytes"`
	HandshakeTimeMS int    `mapstructure:"handshake_timeout_ms"`
}
