package phpmd

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultRulesets is the ruleset argument used when no configuration is
// found anywhere else.
const DefaultRulesets = "cleancode,codesize,controversial,design,naming,unusedcode"

// RulesetsEnvVar overrides the rulesets when no config file or settings
// value is present.
const RulesetsEnvVar = "PHPMD_RULESETS"

// rulesetConfigFiles are checked in order at the workspace root.
var rulesetConfigFiles = []string{"phpmd.xml", "phpmd.xml.dist", ".phpmd.xml"}

// FindRulesetFile returns the path of a PHPMD ruleset file at the
// workspace root, or "" when none exists.
func FindRulesetFile(root string) string {
	if root == "" {
		return ""
	}
	for _, name := range rulesetConfigFiles {
		path := filepath.Join(root, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// ResolveRulesets picks the ruleset argument in priority order: a config
// file at the workspace root, the configured value, the PHPMD_RULESETS
// environment variable, then the defaults.
func ResolveRulesets(root, configured string) string {
	if path := FindRulesetFile(root); path != "" {
		return path
	}
	if configured = strings.TrimSpace(configured); configured != "" {
		return configured
	}
	if env := strings.TrimSpace(os.Getenv(RulesetsEnvVar)); env != "" {
		return env
	}
	return DefaultRulesets
}
