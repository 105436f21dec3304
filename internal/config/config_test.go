package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/substratai/substrat/pkg/types"
)

func TestLoad_GlobalOnly(t *testing.T) {
	global := t.TempDir()
	writeJSONC(t, filepath.Join(global, configFileName), `{
		// max slots for this daemon
		"max_slots": 4,
		"provider": {
			"anthropic": { "kind": "anthropic", "model": "claude-sonnet-4" }
		}
	}`)

	cfg, err := Load(global, "")
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.MaxSlots)
	require.Contains(t, cfg.Provider, "anthropic")
	assert.Equal(t, "claude-sonnet-4", cfg.Provider["anthropic"].Model)
}

func TestLoad_ProjectOverridesGlobal(t *testing.T) {
	global := t.TempDir()
	project := t.TempDir()

	writeJSONC(t, filepath.Join(global, configFileName), `{
		"max_slots": 4,
		"provider": {
			"anthropic": { "kind": "anthropic", "model": "claude-sonnet-4" }
		}
	}`)
	writeJSONC(t, filepath.Join(project, configFileName), `{
		"max_slots": 16,
		"provider": {
			"mock": { "kind": "mock" }
		}
	}`)

	cfg, err := Load(global, project)
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.MaxSlots)
	assert.Contains(t, cfg.Provider, "anthropic", "global provider should be preserved")
	assert.Contains(t, cfg.Provider, "mock", "project provider should be merged in")
}

func TestLoad_MissingFilesAreNotAnError(t *testing.T) {
	cfg, err := Load(t.TempDir(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxSlots, cfg.MaxSlots)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	project := t.TempDir()
	writeJSONC(t, filepath.Join(project, configFileName), `{"max_slots": 4, "socket": "/tmp/file.sock"}`)

	t.Setenv("SUBSTRAT_MAX_SLOTS", "32")
	t.Setenv("SUBSTRAT_SOCKET", "/tmp/env.sock")

	cfg, err := Load(t.TempDir(), project)
	require.NoError(t, err)

	assert.Equal(t, 32, cfg.MaxSlots)
	assert.Equal(t, "/tmp/env.sock", cfg.Socket)
}

func TestLoad_SecretsFromDotEnv(t *testing.T) {
	project := t.TempDir()
	writeJSONC(t, filepath.Join(project, configFileName), `{
		"provider": {
			"anthropic": { "kind": "anthropic" }
		}
	}`)
	require.NoError(t, os.WriteFile(filepath.Join(project, ".env"), []byte("ANTHROPIC_API_KEY=sk-test-123\n"), 0o644))

	cfg, err := Load(t.TempDir(), project)
	require.NoError(t, err)

	assert.Equal(t, "sk-test-123", cfg.Provider["anthropic"].APIKey)
}

func TestLoad_DotEnvDoesNotOverrideExplicitKey(t *testing.T) {
	project := t.TempDir()
	writeJSONC(t, filepath.Join(project, configFileName), `{
		"provider": {
			"anthropic": { "kind": "anthropic", "apiKey": "from-file" }
		}
	}`)
	require.NoError(t, os.WriteFile(filepath.Join(project, ".env"), []byte("ANTHROPIC_API_KEY=from-env\n"), 0o644))

	cfg, err := Load(t.TempDir(), project)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Provider["anthropic"].APIKey)
}

func TestMergeConfig(t *testing.T) {
	target := &types.Config{
		Provider: map[string]types.ProviderConfig{
			"anthropic": {Kind: "anthropic"},
		},
	}
	source := &types.Config{
		Root: "/new/root",
		Provider: map[string]types.ProviderConfig{
			"mock": {Kind: "mock"},
		},
		Role: map[string]types.RoleConfig{
			"worker": {Tools: map[string]bool{"send_message": true}},
		},
	}

	mergeConfig(target, source)

	assert.Equal(t, "/new/root", target.Root)
	assert.Len(t, target.Provider, 2)
	assert.Equal(t, "anthropic", target.Provider["anthropic"].Kind)
	assert.Equal(t, "mock", target.Provider["mock"].Kind)
	assert.True(t, target.Role["worker"].Tools["send_message"])
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SUBSTRAT_ROOT", "/env/root")
	t.Setenv("SUBSTRAT_MAX_SLOTS", "12")

	cfg := &types.Config{Root: "/config/root", MaxSlots: 4}
	applyEnvOverrides(cfg)

	assert.Equal(t, "/env/root", cfg.Root)
	assert.Equal(t, 12, cfg.MaxSlots)
}

func TestApplyEnvOverrides_IgnoresInvalidMaxSlots(t *testing.T) {
	t.Setenv("SUBSTRAT_MAX_SLOTS", "not-a-number")

	cfg := &types.Config{MaxSlots: 4}
	applyEnvOverrides(cfg)

	assert.Equal(t, 4, cfg.MaxSlots)
}

func TestProviderSecretVar(t *testing.T) {
	assert.Equal(t, "ANTHROPIC_API_KEY", providerSecretVar("anthropic"))
	assert.Equal(t, "OPENAI_API_KEY", providerSecretVar("openai"))
}

func TestSave_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", configFileName)

	cfg := &types.Config{
		MaxSlots: 8,
		Provider: map[string]types.ProviderConfig{
			"mock": {Kind: "mock"},
		},
	}
	require.NoError(t, Save(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var loaded types.Config
	require.NoError(t, json.Unmarshal(data, &loaded))
	assert.Equal(t, cfg.MaxSlots, loaded.MaxSlots)
	assert.Equal(t, "mock", loaded.Provider["mock"].Kind)
}

func writeJSONC(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
