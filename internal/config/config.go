package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Browser     Browser     `yaml:"browser"`
	Traversal   Traversal   `yaml:"traversal"`
	Media       Media       `yaml:"media"`
	Completion  Completion  `yaml:"completion"`
	Translation Translation `yaml:"translation"`
	Output      Output      `yaml:"output"`
	Logging     Logging     `yaml:"logging"`
}

// Browser points at an already running, logged-in Chrome instance.
type Browser struct {
	Endpoint       string `yaml:"endpoint" env:"HFI_BROWSER_ENDPOINT"`
	CommandTimeout int    `yaml:"command_timeout_seconds"`
}

type Traversal struct {
	MaxInteractions int  `yaml:"max_interactions"`
	MaxIdleScrolls  int  `yaml:"max_idle_scrolls"`
	SettleMillis    int  `yaml:"settle_ms"`
	ScrollPixels    int  `yaml:"scroll_pixels"`
	NavRetries      int  `yaml:"nav_retries"`
	AuthorMatch     bool `yaml:"author_match"`
}

type Media struct {
	Dir           string `yaml:"dir"`
	Workers       int    `yaml:"workers"`
	MaxPhotoBytes int64  `yaml:"max_photo_bytes"`
	MaxVideoBytes int64  `yaml:"max_video_bytes"`
	PhotoTimeout  int    `yaml:"photo_timeout_seconds"`
	VideoTimeout  int    `yaml:"video_timeout_seconds"`
	YtDlpPath     string `yaml:"ytdlp_path" env:"HFI_YTDLP_PATH"`
	MaxToolOutput int    `yaml:"max_tool_output_bytes"`
}

type Completion struct {
	Provider     string `yaml:"provider" env:"HFI_LLM_PROVIDER"`
	Model        string `yaml:"model"`
	OllamaURL    string `yaml:"ollama_url"`
	OpenAIModel  string `yaml:"openai_model"`
	OpenAIURL    string `yaml:"openai_url"`
	APIKeyEnv    string `yaml:"api_key_env"`
	MaxTokens    int    `yaml:"max_tokens"`
	CallsPerHour int    `yaml:"calls_per_hour"`
	MaxRetries   int    `yaml:"max_retries"`
}

type Translation struct {
	Mode        string            `yaml:"mode"`
	Temperature float64           `yaml:"temperature"`
	MaxAttempts int               `yaml:"max_attempts"`
	MinExamples int               `yaml:"min_examples"`
	MaxExamples int               `yaml:"max_examples"`
	Glossary    map[string]string `yaml:"glossary"`
	KeepEnglish []string          `yaml:"keep_english"`
}

type Output struct {
	DataDir string `yaml:"data_dir" env:"HFI_DATA_DIR"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for hfi.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "hfi")
}

// DataDir returns the XDG data directory for hfi.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "hfi")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/hfi/config.yaml > ./config.yaml
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

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'hfi init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file, then applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}
	return cfg, nil
}

// Default returns the embedded default configuration.
func Default() (*Config, error) {
	return parse(DefaultConfigYAML)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Browser: Browser{
			Endpoint:       "http://127.0.0.1:9222",
			CommandTimeout: 30,
		},
		Traversal: Traversal{
			MaxInteractions: 50,
			MaxIdleScrolls:  3,
			SettleMillis:    1500,
			ScrollPixels:    1000,
			NavRetries:      3,
			AuthorMatch:     true,
		},
		Media: Media{
			Workers:       4,
			MaxPhotoBytes: 20 << 20,
			MaxVideoBytes: 500 << 20,
			PhotoTimeout:  30,
			VideoTimeout:  300,
			YtDlpPath:     "yt-dlp",
			MaxToolOutput: 64 << 10,
		},
		Completion: Completion{
			Provider:     "openai",
			Model:        "qwen2.5:7b",
			OllamaURL:    "http://localhost:11434",
			OpenAIModel:  "gpt-4o",
			OpenAIURL:    "https://api.openai.com/v1/chat/completions",
			APIKeyEnv:    "OPENAI_API_KEY",
			MaxTokens:    4000,
			CallsPerHour: 100,
			MaxRetries:   3,
		},
		Translation: Translation{
			Mode:        "consolidated",
			Temperature: 0.7,
			MaxAttempts: 3,
			MinExamples: 3,
			MaxExamples: 5,
		},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// GetMediaDir returns where downloaded media lands; defaults to <data>/media.
func (c *Config) GetMediaDir() string {
	if c.Media.Dir != "" {
		return c.Media.Dir
	}
	return filepath.Join(c.GetDataDir(), "media")
}

func (t Traversal) Settle() time.Duration {
	return time.Duration(t.SettleMillis) * time.Millisecond
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
