package config

import "fmt"

// Validate checks cross-field consistency the TOML unmarshal step can't
// express, matching quorum-ai's fail-fast config.Validate convention.
func Validate(cfg *Config) error {
	switch cfg.BranchIsolation.DefaultMode {
	case "isolated", "coordinated":
	default:
		return fmt.Errorf("branch_isolation.default_mode must be %q or %q, got %q",
			"isolated", "coordinated", cfg.BranchIsolation.DefaultMode)
	}
	if cfg.CrossProcess.PollIntervalSeconds <= 0 {
		return fmt.Errorf("cross_process.poll_interval_seconds must be positive")
	}
	if cfg.CrossProcess.HeartbeatTimeoutSeconds <= 0 {
		return fmt.Errorf("cross_process.heartbeat_timeout_seconds must be positive")
	}
	if cfg.Supervisor.MaxRestarts < 0 {
		return fmt.Errorf("supervisor.max_restarts must be >= 0")
	}
	if cfg.Supervisor.RestartWindowSecs <= 0 {
		return fmt.Errorf("supervisor.restart_window_secs must be positive")
	}
	if cfg.Transport.MaxFrameBytes <= 0 || cfg.Transport.MaxFrameBytes > 10*1024*1024 {
		return fmt.Errorf("transport.max_frame_bytes must be in (0, 10MiB]")
	}
	return nil
}
