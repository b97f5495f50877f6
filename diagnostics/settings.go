package diagnostics

import (
	"os"
	"path/filepath"

	"github.com/flanksource/commons/logger"
	"gopkg.in/yaml.v3"
)

// WorkspaceSettingsFile is looked up at the workspace root on
// initialization.
const WorkspaceSettingsFile = ".phpmd-lsp.yaml"

// Settings controls how analyses are run. Any settings change
// invalidates every cached result.
type Settings struct {
	// Rulesets is a comma-separated ruleset list or the path of a PHPMD
	// ruleset XML file. Empty means discover/default.
	Rulesets string `yaml:"rulesets" json:"rulesets"`
	// BinaryPath forces a specific phpmd binary instead of discovery.
	BinaryPath string `yaml:"phpmd_path" json:"phpmdPath"`
}

// LoadWorkspaceSettings reads the workspace settings file if one exists.
func LoadWorkspaceSettings(root string) (Settings, bool) {
	var settings Settings
	if root == "" {
		return settings, false
	}

	path := filepath.Join(root, WorkspaceSettingsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return settings, false
	}

	if err := yaml.Unmarshal(data, &settings); err != nil {
		logger.Warnf("ignoring malformed %s: %v", path, err)
		return Settings{}, false
	}

	logger.Infof("loaded workspace settings from %s", path)
	return settings, true
}
