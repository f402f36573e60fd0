package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the workspace config file.
const FileName = "careerline.yml"

// Provider kinds.
const (
	ProviderNone   = "none"
	ProviderGemini = "gemini"
)

// Config models careerline.yml.
type Config struct {
	Promotion struct {
		MinContentLength int    `yaml:"min_content_length" json:"min_content_length"`
		MaxActivities    int    `yaml:"max_activities" json:"max_activities"`
		QuestionMode     string `yaml:"question_mode" json:"question_mode"`
		ProviderTimeout  string `yaml:"provider_timeout" json:"provider_timeout"`
	} `yaml:"promotion" json:"promotion"`
	Provider struct {
		Kind      string `yaml:"kind" json:"kind"`
		Model     string `yaml:"model" json:"model"`
		APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`
		CacheSize int    `yaml:"cache_size" json:"cache_size"`
	} `yaml:"provider" json:"provider"`
	Server struct {
		BasePath           string `yaml:"base_path" json:"base_path"`
		JWTSecretEnv       string `yaml:"jwt_secret_env" json:"jwt_secret_env"`
		AllowDevUserHeader bool   `yaml:"allow_dev_user_header" json:"allow_dev_user_header"`
	} `yaml:"server" json:"server"`
	// Identities maps a user id to the handles it appears under in tool
	// activity (logins, emails). Used to rank activities by role match.
	Identities map[string][]string `yaml:"identities" json:"identities,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with cl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Promotion.MinContentLength < 0 {
		return fmt.Errorf("config.promotion.min_content_length must be >= 0")
	}
	if c.Promotion.MaxActivities <= 0 {
		return fmt.Errorf("config.promotion.max_activities must be > 0")
	}
	switch c.Promotion.QuestionMode {
	case "full", "quick":
	default:
		return fmt.Errorf("config.promotion.question_mode must be 'full' or 'quick'")
	}
	if d, err := time.ParseDuration(c.Promotion.ProviderTimeout); err != nil || d <= 0 {
		return fmt.Errorf("config.promotion.provider_timeout must be a positive duration like 30s")
	}
	switch c.Provider.Kind {
	case ProviderNone:
	case ProviderGemini:
		if c.Provider.APIKeyEnv == "" {
			return fmt.Errorf("config.provider.api_key_env is required for provider %s", c.Provider.Kind)
		}
	default:
		return fmt.Errorf("config.provider.kind must be 'none' or 'gemini'")
	}
	if c.Provider.CacheSize < 0 {
		return fmt.Errorf("config.provider.cache_size must be >= 0")
	}
	if c.Server.BasePath == "" || c.Server.BasePath[0] != '/' {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	for userID, handles := range c.Identities {
		if userID == "" {
			return fmt.Errorf("config.identities contains empty user id")
		}
		for _, h := range handles {
			if h == "" {
				return fmt.Errorf("identity %s has empty handle", userID)
			}
		}
	}
	return nil
}

// ProviderTimeout returns the parsed provider timeout. Call Validate first.
func (c *Config) ProviderTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Promotion.ProviderTimeout)
	return d
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `promotion:
  # entries shorter than this (title + description + body) are rejected
  min_content_length: 50
  max_activities: 30
  # full: 3 dig, 2 impact, 1 growth; quick: 1 of each
  question_mode: full
  provider_timeout: 30s

provider:
  # none runs the deterministic local pipeline only
  kind: none
  model: gemini-2.5-flash
  api_key_env: GEMINI_API_KEY
  cache_size: 256

server:
  base_path: /v0
  jwt_secret_env: CAREERLINE_JWT_SECRET
  allow_dev_user_header: false

identities: {}
`
