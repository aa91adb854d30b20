package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sjawhar/diarist/internal/llm"
)

// EnvPrefix is the namespace prefix for all diarist environment variables.
const EnvPrefix = "DIARIST_"

const (
	defaultSegmentGap    = 1.2
	defaultBlankLines    = 2
	defaultNamingTimeout = 2 * time.Minute
)

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	DBPath       string `yaml:"db_path"`
	DataDir      string `yaml:"data_dir"`
	OutputPrefix string `yaml:"output_prefix"`
	ReportPrefix string `yaml:"report_prefix"`
	ListenAddr   string `yaml:"listen_addr"`

	SegmentGapSeconds float64 `yaml:"segment_gap_seconds"`
	// Nil merges consecutive same-speaker utterances regardless of the pause.
	CoalesceGapSeconds *float64 `yaml:"coalesce_gap_seconds"`
	BlankLines         int      `yaml:"blank_lines"`
	RenderPDF          bool     `yaml:"render_pdf"`

	Naming Naming `yaml:"naming"`
	Report Report `yaml:"report"`

	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`

	// Secrets: env vars only, never serialized to YAML.
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
}

type Naming struct {
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

type Report struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`
}

func defaults() Config {
	return Config{
		DBPath:            "data/diarist.db",
		DataDir:           "data/blobs",
		OutputPrefix:      "diarized-transcription/",
		ReportPrefix:      "final-reports/",
		ListenAddr:        ":8080",
		SegmentGapSeconds: defaultSegmentGap,
		BlankLines:        defaultBlankLines,
		Naming: Naming{
			Model:   "anthropic/claude-3-5-sonnet-20241022",
			Timeout: "2m",
		},
		Report: Report{
			Model: "anthropic/claude-3-5-sonnet-20241022",
		},
		GoogleCredentialsFile: "./service-account.json",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedNamingTimeout returns Naming.Timeout as a time.Duration, falling back
// to two minutes if the value is invalid.
func (c *Config) ParsedNamingTimeout() time.Duration {
	d, err := time.ParseDuration(c.Naming.Timeout)
	if err != nil || d <= 0 {
		return defaultNamingTimeout
	}
	return d
}

// APIKey returns the configured key for an LLM provider.
func (c *Config) APIKey(provider string) string {
	switch provider {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "gemini":
		return c.GeminiAPIKey
	default:
		return ""
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(EnvPrefix + "OUTPUT_PREFIX"); v != "" {
		cfg.OutputPrefix = v
	}
	if v := os.Getenv(EnvPrefix + "REPORT_PREFIX"); v != "" {
		cfg.ReportPrefix = v
	}
	if v := os.Getenv(EnvPrefix + "LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "SEGMENT_GAP_SECONDS"); v != "" {
		if gap, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			cfg.SegmentGapSeconds = gap
		}
	}
	if v := os.Getenv(EnvPrefix + "COALESCE_GAP_SECONDS"); v != "" {
		if gap, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			cfg.CoalesceGapSeconds = &gap
		}
	}
	if v := os.Getenv(EnvPrefix + "BLANK_LINES"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.BlankLines = n
		}
	}
	if v := os.Getenv(EnvPrefix + "RENDER_PDF"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.RenderPDF = b
		}
	}
	if v := os.Getenv(EnvPrefix + "NAMING_MODEL"); v != "" {
		cfg.Naming.Model = v
	}
	if v := os.Getenv(EnvPrefix + "NAMING_TIMEOUT"); v != "" {
		cfg.Naming.Timeout = v
	}
	if v := os.Getenv(EnvPrefix + "REPORT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.Report.Enabled = b
		}
	}
	if v := os.Getenv(EnvPrefix + "REPORT_MODEL"); v != "" {
		cfg.Report.Model = v
	}
	if v := os.Getenv(EnvPrefix + "GDRIVE_FOLDER_ID"); v != "" {
		cfg.GDriveFolderID = v
	}
	if v := os.Getenv(EnvPrefix + "GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.GoogleCredentialsFile = v
	}
}

// loadSecrets prefers the prefixed variable and falls back to the provider's
// conventional name.
func loadSecrets(cfg *Config) {
	cfg.OpenAIAPIKey = secret("OPENAI_API_KEY")
	cfg.AnthropicAPIKey = secret("ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = secret("GEMINI_API_KEY")
}

func secret(name string) string {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		return v
	}
	return os.Getenv(name)
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.SegmentGapSeconds <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid segment_gap_seconds %v; using default %v.", cfg.SegmentGapSeconds, defaultSegmentGap))
		cfg.SegmentGapSeconds = defaultSegmentGap
	}
	if cfg.CoalesceGapSeconds != nil && *cfg.CoalesceGapSeconds < 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid coalesce_gap_seconds %v; merging without a gap limit.", *cfg.CoalesceGapSeconds))
		cfg.CoalesceGapSeconds = nil
	}
	if cfg.BlankLines < 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid blank_lines %d; using 0.", cfg.BlankLines))
		cfg.BlankLines = 0
	}
	if d, err := time.ParseDuration(cfg.Naming.Timeout); err != nil || d <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid naming.timeout %q; using default 2m.", cfg.Naming.Timeout))
	}

	warnings = append(warnings, checkModel(cfg, "naming.model", cfg.Naming.Model, "speaker names will render as unknown")...)
	if cfg.Report.Enabled {
		warnings = append(warnings, checkModel(cfg, "report.model", cfg.Report.Model, "hearing reports are disabled")...)
	}

	return warnings
}

func checkModel(cfg *Config, field, model, consequence string) []string {
	provider, _, err := llm.ParseModel(model)
	if err != nil {
		return []string{fmt.Sprintf("Invalid %s %q; %s.", field, model, consequence)}
	}
	if llm.NeedsAPIKey(provider) && cfg.APIKey(provider) == "" {
		return []string{fmt.Sprintf("%s API key not configured; %s. Set %s%s_API_KEY.", provider, consequence, EnvPrefix, strings.ToUpper(provider))}
	}
	return nil
}
