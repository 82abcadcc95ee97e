package config

// Default returns the built-in configuration, matching spec §6's example
// TOML block verbatim.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		BranchIsolation: BranchIsolationConfig{
			Enabled:             true,
			DefaultMode:         "isolated",
			AutoApproveReadOnly: true,
			OrchestratorBypass:  true,
		},
		ConflictDetect: ConflictDetectConfig{
			Enabled:       true,
			CriticalPaths: []string{"migrations/**", "schema/**", "**/.env", "**/credentials.json"},
		},
		CrossProcess: CrossProcessConfig{
			Enabled:                 true,
			MnemosyneDir:            ".mnemosyne",
			PollIntervalSeconds:     2,
			HeartbeatTimeoutSeconds: 30,
		},
		Supervisor: SupervisorConfig{
			MaxRestarts:       3,
			RestartWindowSecs: 60,
			ShutdownTimeoutMS: 5000,
		},
		Transport: TransportConfig{
			Listen:          "",
			MaxFrameBytes:   10 * 1024 * 1024,
			HandshakeTimeMS: 10000,
		},
	}
}
