package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/tweetextract/internal/llm"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	ReportsDir    string        `yaml:"reports_dir"`
	Summarization Summarization `yaml:"summarization"`
	Media         Media         `yaml:"media"`
	Bird          Bird          `yaml:"bird"`
	Logging       Logging       `yaml:"logging"`
}

type Summarization struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	BaseURLEnv  string `yaml:"base_url_env"`
	OllamaURL   string `yaml:"ollama_url"`
	OllamaModel string `yaml:"ollama_model"`
	MaxTokens   int    `yaml:"max_tokens"`
	TimeoutMS   int    `yaml:"timeout_ms"`
}

type Media struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	MaxImageBytes     int64   `yaml:"max_image_bytes"`
	UserAgent         string  `yaml:"user_agent"`
}

type Bird struct {
	Path string `yaml:"path"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for tweetextract.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "tweetextract")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/tweetextract/config.yaml > ./config.yaml
// An empty result means no file was found and defaults apply.
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", nil
}

// Load reads and parses a config YAML file. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return parse(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// LoadDotEnv loads KEY=VALUE pairs from a .env file into the process
// environment. Variables that are already set win; a missing file is fine.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		ReportsDir: "reports",
		Summarization: Summarization{
			Provider:    "deepseek",
			Model:       llm.DefaultDeepSeekModel,
			APIKeyEnv:   "DEEPSEEK_API_KEY",
			BaseURLEnv:  "DEEPSEEK_BASE_URL",
			OllamaURL:   llm.DefaultOllamaURL,
			OllamaModel: llm.DefaultOllamaModel,
			MaxTokens:   llm.DefaultMaxTokens,
		},
		Media: Media{
			RequestsPerSecond: 2,
			MaxImageBytes:     20 << 20,
		},
		Bird:    Bird{Path: "bird"},
		Logging: Logging{Level: "info"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// GetReportsDir returns the reports root, relative paths resolved against the
// working directory.
func (c *Config) GetReportsDir() string {
	dir := c.ReportsDir
	if dir == "" {
		dir = "reports"
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	wd, err := os.Getwd()
	if err != nil {
		return dir
	}
	return filepath.Join(wd, dir)
}

// SummarizerSettings resolves the summarizer configuration, reading the API
// key and base URL override from the environment. A zero timeout falls back
// to timeout_ms.
func (c *Config) SummarizerSettings(getenv func(string) string, timeout time.Duration) llm.Settings {
	if getenv == nil {
		getenv = os.Getenv
	}
	s := c.Summarization
	if timeout <= 0 && s.TimeoutMS > 0 {
		timeout = time.Duration(s.TimeoutMS) * time.Millisecond
	}

	settings := llm.Settings{
		Provider:  strings.ToLower(strings.TrimSpace(s.Provider)),
		MaxTokens: s.MaxTokens,
		Timeout:   timeout,
	}

	switch settings.Provider {
	case "ollama":
		settings.Model = s.OllamaModel
		settings.BaseURL = s.OllamaURL
	default:
		settings.Model = s.Model
		settings.BaseURL = s.BaseURL
		if s.BaseURLEnv != "" {
			if v := strings.TrimSpace(getenv(s.BaseURLEnv)); v != "" {
				settings.BaseURL = v
			}
		}
		if s.APIKeyEnv != "" {
			settings.APIKey = strings.TrimSpace(getenv(s.APIKeyEnv))
		}
	}
	return settings
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
