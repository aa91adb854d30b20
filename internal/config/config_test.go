package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DB_PATH", "DATA_DIR", "OUTPUT_PREFIX", "REPORT_PREFIX", "LISTEN_ADDR",
		"SEGMENT_GAP_SECONDS", "COALESCE_GAP_SECONDS", "BLANK_LINES", "RENDER_PDF",
		"NAMING_MODEL", "NAMING_TIMEOUT", "REPORT_ENABLED", "REPORT_MODEL",
		"GDRIVE_FOLDER_ID", "GOOGLE_CREDENTIALS_FILE",
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY",
	} {
		t.Setenv(EnvPrefix+key, "")
	}
	for _, key := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY"} {
		t.Setenv(key, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBPath != "data/diarist.db" {
		t.Fatalf("expected default db_path, got %q", cfg.DBPath)
	}
	if cfg.OutputPrefix != "diarized-transcription/" {
		t.Fatalf("expected default output_prefix, got %q", cfg.OutputPrefix)
	}
	if cfg.SegmentGapSeconds != 1.2 {
		t.Fatalf("expected default segment gap 1.2, got %v", cfg.SegmentGapSeconds)
	}
	if cfg.CoalesceGapSeconds != nil {
		t.Fatalf("expected unconditional coalescing by default, got %v", *cfg.CoalesceGapSeconds)
	}
	if cfg.BlankLines != 2 {
		t.Fatalf("expected 2 blank lines, got %d", cfg.BlankLines)
	}
	if cfg.Naming.Model != "anthropic/claude-3-5-sonnet-20241022" {
		t.Fatalf("expected default naming model, got %q", cfg.Naming.Model)
	}
	if cfg.ParsedNamingTimeout() != 2*time.Minute {
		t.Fatalf("expected 2m naming timeout, got %v", cfg.ParsedNamingTimeout())
	}
	if cfg.Report.Enabled {
		t.Fatal("expected reports disabled by default")
	}
}

func TestYAMLLoading(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	yamlContent := `
db_path: /custom/db.sqlite
data_dir: /custom/blobs
output_prefix: out/
segment_gap_seconds: 2.5
coalesce_gap_seconds: 3
blank_lines: 1
render_pdf: true
naming:
  model: bedrock/anthropic.claude-3-5-sonnet-20240620-v1:0
  timeout: 30s
report:
  enabled: true
  model: openai/gpt-4o
gdrive_folder_id: my-folder
google_credentials_file: /path/to/creds.json
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBPath != "/custom/db.sqlite" || cfg.DataDir != "/custom/blobs" || cfg.OutputPrefix != "out/" {
		t.Fatalf("unexpected paths: %+v", cfg)
	}
	if cfg.SegmentGapSeconds != 2.5 {
		t.Fatalf("expected yaml segment gap, got %v", cfg.SegmentGapSeconds)
	}
	if cfg.CoalesceGapSeconds == nil || *cfg.CoalesceGapSeconds != 3 {
		t.Fatalf("expected yaml coalesce gap 3, got %v", cfg.CoalesceGapSeconds)
	}
	if cfg.BlankLines != 1 || !cfg.RenderPDF {
		t.Fatalf("unexpected render settings: blank=%d pdf=%v", cfg.BlankLines, cfg.RenderPDF)
	}
	if cfg.Naming.Model != "bedrock/anthropic.claude-3-5-sonnet-20240620-v1:0" {
		t.Fatalf("expected yaml naming model, got %q", cfg.Naming.Model)
	}
	if cfg.ParsedNamingTimeout() != 30*time.Second {
		t.Fatalf("expected 30s naming timeout, got %v", cfg.ParsedNamingTimeout())
	}
	if !cfg.Report.Enabled || cfg.Report.Model != "openai/gpt-4o" {
		t.Fatalf("unexpected report config: %+v", cfg.Report)
	}
	if cfg.GDriveFolderID != "my-folder" || cfg.GoogleCredentialsFile != "/path/to/creds.json" {
		t.Fatalf("unexpected drive config: %q %q", cfg.GDriveFolderID, cfg.GoogleCredentialsFile)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	yamlContent := `
db_path: /from/yaml
naming:
  model: openai/gpt-yaml
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	clearEnv(t)
	t.Setenv(EnvPrefix+"DB_PATH", "/from/env")
	t.Setenv(EnvPrefix+"NAMING_MODEL", "gemini/gemini-2.0-flash")
	t.Setenv(EnvPrefix+"COALESCE_GAP_SECONDS", "4.5")
	t.Setenv(EnvPrefix+"BLANK_LINES", "0")
	t.Setenv(EnvPrefix+"REPORT_ENABLED", "true")
	t.Setenv(EnvPrefix+"SEGMENT_GAP_SECONDS", "not-a-number")

	cfg, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBPath != "/from/env" {
		t.Fatalf("expected env override for db_path, got %q", cfg.DBPath)
	}
	if cfg.Naming.Model != "gemini/gemini-2.0-flash" {
		t.Fatalf("expected env override for naming model, got %q", cfg.Naming.Model)
	}
	if cfg.CoalesceGapSeconds == nil || *cfg.CoalesceGapSeconds != 4.5 {
		t.Fatalf("expected env coalesce gap, got %v", cfg.CoalesceGapSeconds)
	}
	if cfg.BlankLines != 0 {
		t.Fatalf("expected env blank_lines 0, got %d", cfg.BlankLines)
	}
	if !cfg.Report.Enabled {
		t.Fatal("expected env to enable reports")
	}
	if cfg.SegmentGapSeconds != 1.2 {
		t.Fatalf("expected unparseable env value to be ignored, got %v", cfg.SegmentGapSeconds)
	}
}

func TestSecretsFromEnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"ANTHROPIC_API_KEY", "ant-prefixed")
	t.Setenv("ANTHROPIC_API_KEY", "ant-plain")
	t.Setenv("OPENAI_API_KEY", "oai-plain")

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.APIKey("anthropic") != "ant-prefixed" {
		t.Fatalf("expected prefixed anthropic key to win, got %q", cfg.AnthropicAPIKey)
	}
	if cfg.APIKey("openai") != "oai-plain" {
		t.Fatalf("expected conventional openai key, got %q", cfg.OpenAIAPIKey)
	}
	if cfg.APIKey("bedrock") != "" {
		t.Fatalf("expected no key for bedrock, got %q", cfg.APIKey("bedrock"))
	}
}

func TestSecretsIgnoredInYAML(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	yamlContent := `
openai_api_key: should-be-ignored
anthropic_api_key: also-ignored
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.OpenAIAPIKey != "" || cfg.AnthropicAPIKey != "" {
		t.Fatalf("expected yaml secrets to be ignored, got %q %q", cfg.OpenAIAPIKey, cfg.AnthropicAPIKey)
	}
}

func TestValidationWarnings(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"REPORT_ENABLED", "true")
	t.Setenv(EnvPrefix+"REPORT_MODEL", "gpt-4o")

	_, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var namingWarning, reportWarning bool
	for _, w := range warnings {
		if strings.Contains(w, "anthropic API key") && strings.Contains(w, "speaker names") {
			namingWarning = true
		}
		if strings.Contains(w, "report.model") {
			reportWarning = true
		}
	}

	if !namingWarning {
		t.Fatalf("expected naming key warning, got warnings: %v", warnings)
	}
	if !reportWarning {
		t.Fatalf("expected report model warning, got warnings: %v", warnings)
	}
}

func TestValidationNoWarningsWhenConfigured(t *testing.T) {
	clearEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "key")

	_, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(warnings) != 0 {
		t.Fatalf("expected no warnings when fully configured, got: %v", warnings)
	}
}

func TestBedrockNeedsNoKey(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"NAMING_MODEL", "bedrock/anthropic.claude-3-5-sonnet-20240620-v1:0")

	_, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings for bedrock, got: %v", warnings)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "key")
	t.Setenv(EnvPrefix+"NAMING_TIMEOUT", "not-a-duration")
	t.Setenv(EnvPrefix+"SEGMENT_GAP_SECONDS", "-1")
	t.Setenv(EnvPrefix+"BLANK_LINES", "-2")

	cfg, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(warnings) != 3 {
		t.Fatalf("expected 3 warnings, got: %v", warnings)
	}
	if cfg.ParsedNamingTimeout() != 2*time.Minute {
		t.Fatalf("expected fallback to 2m, got %v", cfg.ParsedNamingTimeout())
	}
	if cfg.SegmentGapSeconds != 1.2 {
		t.Fatalf("expected fallback segment gap, got %v", cfg.SegmentGapSeconds)
	}
	if cfg.BlankLines != 0 {
		t.Fatalf("expected blank lines clamped to 0, got %d", cfg.BlankLines)
	}
}

func TestMissingConfigFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load should not fail for missing config file, got: %v", err)
	}

	if cfg.DBPath != "data/diarist.db" {
		t.Fatalf("expected defaults when config file missing, got db_path=%q", cfg.DBPath)
	}
}

func TestInvalidConfigFileReturnsError(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(configPath, []byte(":::invalid yaml"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	clearEnv(t)

	_, _, err := Load(configPath)
	if err == nil {
		t.Fatal("expected error for invalid yaml, got nil")
	}
}
