package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v6"
)

const (
	DefaultUserID             = "default_user"
	DefaultModel              = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens          = 2048
	DefaultMemoryBackend      = MemoryBackendLocal
	DefaultMemoryBaseURL      = "http://localhost:8765"
	DefaultAutoExtractTrigger = "message_count"
	DefaultAutoExtractLimit   = 10
	DefaultProfileRefresh     = "0 3 * * *"
	DefaultLogLevel           = "INFO"

	MemoryBackendLocal  = "local"
	MemoryBackendRemote = "remote"

	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

type Config struct {
	Agent    AgentConfig    `json:"agent"`
	Provider ProviderConfig `json:"provider"`
	Memory   MemoryConfig   `json:"memory"`
	Schedule ScheduleConfig `json:"schedule"`
	LogLevel string         `json:"logLevel" env:"ECHO_LOG_LEVEL"`
}

type AgentConfig struct {
	UserID     string `json:"userId" env:"ECHO_USER_ID"`
	UserName   string `json:"userName,omitempty" env:"ECHO_USER_NAME"`
	Model      string `json:"model" env:"ECHO_MODEL"`
	MaxTokens  int    `json:"maxTokens" env:"ECHO_MAX_TOKENS"`
	ProfileDir string `json:"profileDir" env:"ECHO_PROFILE_DIR"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty" env:"ECHO_PROVIDER"` // "anthropic" (default) or "openai"
	APIKey  string `json:"apiKey" env:"ECHO_API_KEY"`
	BaseURL string `json:"baseUrl,omitempty" env:"ECHO_BASE_URL"`
}

type MemoryConfig struct {
	Backend     string            `json:"backend" env:"ECHO_MEMORY_BACKEND"`
	DBPath      string            `json:"dbPath,omitempty" env:"ECHO_MEMORY_DB_PATH"`
	BaseURL     string            `json:"baseUrl,omitempty" env:"NEUROMEMORY_BASE_URL"`
	APIKey      string            `json:"apiKey,omitempty" env:"NEUROMEMORY_API_KEY"`
	AutoExtract AutoExtractConfig `json:"autoExtract"`
}

type AutoExtractConfig struct {
	Trigger   string `json:"trigger"`
	Threshold int    `json:"threshold"`
}

type ScheduleConfig struct {
	ProfileRefresh string `json:"profileRefresh" env:"ECHO_PROFILE_REFRESH"`
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			UserID:     DefaultUserID,
			Model:      DefaultModel,
			MaxTokens:  DefaultMaxTokens,
			ProfileDir: filepath.Join(ConfigDir(), "profiles"),
		},
		Provider: ProviderConfig{},
		Memory: MemoryConfig{
			Backend: DefaultMemoryBackend,
			DBPath:  filepath.Join(ConfigDir(), "memory.db"),
			BaseURL: DefaultMemoryBaseURL,
			AutoExtract: AutoExtractConfig{
				Trigger:   DefaultAutoExtractTrigger,
				Threshold: DefaultAutoExtractLimit,
			},
		},
		Schedule: ScheduleConfig{
			ProfileRefresh: DefaultProfileRefresh,
		},
		LogLevel: DefaultLogLevel,
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".echo")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// LoadConfig reads the config file (if any), applies environment overrides and
// fills in defaults for anything left empty. The result is meant to be built
// once in main and handed to the components that need it.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = ProviderOpenAI
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if strings.TrimSpace(c.Agent.UserID) == "" {
		c.Agent.UserID = defaults.Agent.UserID
	}
	if c.Agent.Model == "" {
		c.Agent.Model = defaults.Agent.Model
	}
	if c.Agent.MaxTokens <= 0 {
		c.Agent.MaxTokens = defaults.Agent.MaxTokens
	}
	if c.Agent.ProfileDir == "" {
		c.Agent.ProfileDir = defaults.Agent.ProfileDir
	}
	if c.Memory.Backend == "" {
		c.Memory.Backend = defaults.Memory.Backend
	}
	if c.Memory.DBPath == "" {
		c.Memory.DBPath = defaults.Memory.DBPath
	}
	if c.Memory.BaseURL == "" {
		c.Memory.BaseURL = defaults.Memory.BaseURL
	}
	if c.Memory.AutoExtract.Trigger == "" {
		c.Memory.AutoExtract.Trigger = defaults.Memory.AutoExtract.Trigger
	}
	if c.Memory.AutoExtract.Threshold <= 0 {
		c.Memory.AutoExtract.Threshold = defaults.Memory.AutoExtract.Threshold
	}
	if c.Schedule.ProfileRefresh == "" {
		c.Schedule.ProfileRefresh = defaults.Schedule.ProfileRefresh
	}
	if c.LogLevel == "" {
		c.LogLevel = defaults.LogLevel
	}
}

// Validate reports settings that make the model or memory backend unusable.
func (c *Config) Validate() error {
	switch c.Provider.Type {
	case "", ProviderAnthropic, ProviderOpenAI:
	default:
		return fmt.Errorf("config: provider type %q is invalid (must be anthropic or openai)", c.Provider.Type)
	}
	if strings.TrimSpace(c.Provider.APIKey) == "" {
		return fmt.Errorf("config: API key not set. Run 'echo onboard' or set ECHO_API_KEY / ANTHROPIC_API_KEY")
	}
	switch c.Memory.Backend {
	case MemoryBackendLocal:
		if strings.TrimSpace(c.Memory.DBPath) == "" {
			return fmt.Errorf("config: memory.dbPath is required for the local backend")
		}
	case MemoryBackendRemote:
		if strings.TrimSpace(c.Memory.BaseURL) == "" {
			return fmt.Errorf("config: memory.baseUrl is required for the remote backend")
		}
	default:
		return fmt.Errorf("config: memory backend %q is invalid (must be local or remote)", c.Memory.Backend)
	}
	return nil
}

// Quiet reports whether informational logging should be suppressed.
func (c *Config) Quiet() bool {
	switch strings.ToUpper(strings.TrimSpace(c.LogLevel)) {
	case "WARN", "WARNING", "ERROR", "CRITICAL", "OFF":
		return true
	}
	return false
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
