package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "robotd.yaml", "persona:\n  name: Aria\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Persona.Name != "Aria" {
		t.Fatalf("expected explicit persona name to survive, got %q", cfg.Persona.Name)
	}
	if cfg.Persona.Style == "" || cfg.Server.TCPAddr == "" || cfg.LLM.BaseURL == "" {
		t.Fatalf("expected defaults to be applied, got %+v", cfg)
	}
	if cfg.Bus.InputCapacity != 256 || cfg.Bus.OutputCapacity != 256 {
		t.Fatalf("expected default bus capacities, got %+v", cfg.Bus)
	}
}

func TestLoad_ResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "llm.yaml", "llm:\n  base_url: http://example.invalid\n  model: local-model\n")
	path := writeFile(t, dir, "robotd.yaml", "$include: llm.yaml\npersona:\n  name: Aria\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.BaseURL != "http://example.invalid" || cfg.LLM.Model != "local-model" {
		t.Fatalf("expected included llm config to be merged, got %+v", cfg.LLM)
	}
	if cfg.Persona.Name != "Aria" {
		t.Fatalf("expected the including file's fields to also survive, got %+v", cfg.Persona)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("ROBOTD_TEST_API_KEY", "secret-value")
	dir := t.TempDir()
	path := writeFile(t, dir, "robotd.yaml", "llm:\n  api_key: ${ROBOTD_TEST_API_KEY}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "secret-value" {
		t.Fatalf("expected env var expansion, got %q", cfg.LLM.APIKey)
	}
}

func TestLoad_LLMEnvOverrideFillsBlankFields(t *testing.T) {
	t.Setenv("LMSTUDIO_URL", "http://lmstudio.local:1234")
	t.Setenv("LMSTUDIO_API_KEY", "env-key")
	t.Setenv("LMSTUDIO_MODEL", "env-model")
	dir := t.TempDir()
	path := writeFile(t, dir, "robotd.yaml", "persona:\n  name: Aria\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.BaseURL != "http://lmstudio.local:1234" || cfg.LLM.APIKey != "env-key" || cfg.LLM.Model != "env-model" {
		t.Fatalf("expected env vars to fill blank llm fields, got %+v", cfg.LLM)
	}
}

func TestLoad_LLMEnvOverrideNeverWinsOverConfigFile(t *testing.T) {
	t.Setenv("LMSTUDIO_URL", "http://lmstudio.local:1234")
	dir := t.TempDir()
	path := writeFile(t, dir, "robotd.yaml", "llm:\n  base_url: http://configured.invalid\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.BaseURL != "http://configured.invalid" {
		t.Fatalf("expected config file value to win over env, got %q", cfg.LLM.BaseURL)
	}
}

func TestNewDefaultConfig_AppliesLLMEnvOverride(t *testing.T) {
	t.Setenv("LMSTUDIO_MODEL", "env-default-model")
	cfg := NewDefaultConfig()
	if cfg.LLM.Model != "env-default-model" {
		t.Fatalf("expected NewDefaultConfig to apply env override, got %q", cfg.LLM.Model)
	}
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "robotd.yaml", "not_a_real_field: true\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected unknown top-level field to be rejected")
	}
}

func TestValidate_RejectsDuplicateMCPServerNames(t *testing.T) {
	cfg := &Config{MCPServers: []MCPServerConfig{
		{Name: "tools", Address: "localhost:7000"},
		{Name: "tools", Address: "localhost:7001"},
	}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected duplicate MCP server name to be rejected")
	}
}

func TestValidate_RejectsMissingMCPServerAddress(t *testing.T) {
	cfg := &Config{MCPServers: []MCPServerConfig{{Name: "tools"}}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing address to be rejected")
	}
}

func TestValidate_RejectsEmptyRoute(t *testing.T) {
	cfg := &Config{Routes: map[string][]string{"tcp": {}}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an empty route handler list to be rejected")
	}
}

func TestApplyDefaults_FillsMCPServerTimeout(t *testing.T) {
	cfg := &Config{MCPServers: []MCPServerConfig{{Name: "tools", Address: "localhost:7000"}}}
	cfg.applyDefaults()
	if cfg.MCPServers[0].Timeout <= 0 {
		t.Fatal("expected a default MCP server timeout to be filled in")
	}
}
