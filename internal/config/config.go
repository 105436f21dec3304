// Package config loads the daemon's on-disk configuration (SPEC_FULL §1):
// a JSONC file read global-then-project, with environment variables taking
// final precedence, the way the teacher's internal/config.Load layers its
// sources — but using github.com/tidwall/jsonc for comment-stripping
// instead of a hand-rolled regexp, and github.com/joho/godotenv for
// provider secrets kept out of the JSON file entirely.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"

	"github.com/substratai/substrat/pkg/types"
)

const configFileName = "substrat.jsonc"

// DefaultMaxSlots is used when no config file or override sets max_slots.
const DefaultMaxSlots = 8

// Load reads substrat.jsonc first from globalDir (typically
// ~/.config/substrat), then from projectDir (the daemon's own root
// directory) if non-empty, merging project over global, then applies
// SUBSTRAT_* environment overrides and loads a .env file from projectDir
// for provider secrets.
func Load(globalDir, projectDir string) (*types.Config, error) {
	cfg := &types.Config{
		Provider: make(map[string]types.ProviderConfig),
		Role:     make(map[string]types.RoleConfig),
		MCP:      make(map[string]types.MCPConfig),
	}

	if err := loadFile(filepath.Join(globalDir, configFileName), cfg); err != nil {
		return nil, err
	}
	if projectDir != "" {
		if err := loadFile(filepath.Join(projectDir, configFileName), cfg); err != nil {
			return nil, err
		}
		loadSecrets(filepath.Join(projectDir, ".env"), cfg)
	}

	applyEnvOverrides(cfg)

	if cfg.MaxSlots <= 0 {
		cfg.MaxSlots = DefaultMaxSlots
	}
	if cfg.Root == "" {
		cfg.Root = projectDir
	}

	return cfg, nil
}

// loadFile merges path into cfg if it exists; a missing file is not an
// error (both global and project config are optional).
func loadFile(path string, cfg *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var fileCfg types.Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &fileCfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	mergeConfig(cfg, &fileCfg)
	return nil
}

// loadSecrets populates provider API keys from a .env file, without
// touching any field a JSONC file already set explicitly.
func loadSecrets(path string, cfg *types.Config) {
	secrets, err := godotenv.Read(path)
	if err != nil {
		return // no .env file, nothing to do
	}
	for name, pc := range cfg.Provider {
		if pc.APIKey != "" {
			continue
		}
		envVar := providerSecretVar(name)
		if key, ok := secrets[envVar]; ok && key != "" {
			pc.APIKey = key
			cfg.Provider[name] = pc
		}
	}
}

// mergeConfig overlays source onto target: scalars overwrite when set,
// maps merge key-by-key with source winning conflicts.
func mergeConfig(target, source *types.Config) {
	if source.Root != "" {
		target.Root = source.Root
	}
	if source.Socket != "" {
		target.Socket = source.Socket
	}
	if source.MaxSlots != 0 {
		target.MaxSlots = source.MaxSlots
	}

	if source.Provider != nil {
		if target.Provider == nil {
			target.Provider = make(map[string]types.ProviderConfig)
		}
		for k, v := range source.Provider {
			target.Provider[k] = v
		}
	}
	if source.Role != nil {
		if target.Role == nil {
			target.Role = make(map[string]types.RoleConfig)
		}
		for k, v := range source.Role {
			target.Role[k] = v
		}
	}
	if source.MCP != nil {
		if target.MCP == nil {
			target.MCP = make(map[string]types.MCPConfig)
		}
		for k, v := range source.MCP {
			target.MCP[k] = v
		}
	}
}

// applyEnvOverrides applies SUBSTRAT_* environment overrides, the daemon's
// equivalent of the teacher's OPENCODE_MODEL/OPENCODE_SMALL_MODEL pattern.
func applyEnvOverrides(cfg *types.Config) {
	if root := os.Getenv("SUBSTRAT_ROOT"); root != "" {
		cfg.Root = root
	}
	if socket := os.Getenv("SUBSTRAT_SOCKET"); socket != "" {
		cfg.Socket = socket
	}
	if slots := os.Getenv("SUBSTRAT_MAX_SLOTS"); slots != "" {
		var n int
		if _, err := fmt.Sscanf(slots, "%d", &n); err == nil && n > 0 {
			cfg.MaxSlots = n
		}
	}
}

// providerSecretVar maps a provider name to its .env key, e.g. "anthropic"
// -> "ANTHROPIC_API_KEY".
func providerSecretVar(providerName string) string {
	upper := make([]byte, 0, len(providerName)+8)
	for i := 0; i < len(providerName); i++ {
		c := providerName[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper = append(upper, c)
	}
	return string(upper) + "_API_KEY"
}

// Save writes cfg as indented JSON to path (not JSONC — comments are a
// human-authoring convenience, never emitted by the daemon itself).
func Save(cfg *types.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
