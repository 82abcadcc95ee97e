package cli

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/mnemosyne-run/orchestrator/internal/agentid"
)

const identityFileName = "cli_identity.json"

// loadOrCreateIdentity returns the AgentId this CLI invocation should use,
// persisting a freshly generated one under mnemosyneDir on first run so
// that `join` followed later by `status`/`release` in the same working
// directory addresses the same agent (spec §6 CLI surface; grounded on
// internal/crossprocess's renameio-based atomic persistence style).
func loadOrCreateIdentity(mnemosyneDir string) (agentid.ID, error) {
	path := filepath.Join(mnemosyneDir, identityFileName)

	data, err := os.ReadFile(path)
	if err == nil {
		var stored struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(data, &stored); err == nil {
			if id, err := agentid.Parse(stored.ID); err == nil {
				return id, nil
			}
		}
	}

	id := agentid.New()
	if err := os.MkdirAll(mnemosyneDir, 0o700); err != nil {
		return agentid.ID{}, err
	}
	encoded, err := json.Marshal(struct {
		ID string `json:"id"`
	}{ID: id.String()})
	if err != nil {
		return agentid.ID{}, err
	}
	if err := renameio.WriteFile(path, encoded, 0o600); err != nil {
		return agentid.ID{}, err
	}
	return id, nil
}
