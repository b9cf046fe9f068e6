package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	DefaultProvider       = ProviderGemini
	DefaultGeminiModel    = "gemini-2.0-flash-001"
	DefaultAnthropicModel = "claude-sonnet-4-5-20250929"
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultMaxIterations  = 1
	DefaultSandboxRoot    = "./calculator"
	DefaultMaxReadChars   = 10000
	DefaultExecTimeout    = 30
	DefaultInterpreter    = "python3"
	DefaultDotEnvFile     = ".env"
)

const DefaultSystemPrompt = `You are a helpful AI coding agent.

When a user asks a question or makes a request, make a function call plan. You can perform the following operations:

- List files and directories
- Read file contents
- Execute Python files with optional arguments
- Write or overwrite files

All paths you provide should be relative to the working directory. You do not need to specify the working directory in your function calls as it is automatically injected.`

var (
	ErrMissingAPIKey   = errors.New("API key not set")
	ErrUnknownProvider = errors.New("unknown provider")
)

type Config struct {
	Agent    AgentConfig    `json:"agent" mapstructure:"agent"`
	Provider ProviderConfig `json:"provider" mapstructure:"provider"`
	Sandbox  SandboxConfig  `json:"sandbox" mapstructure:"sandbox"`
	History  HistoryConfig  `json:"history" mapstructure:"history"`
}

type AgentConfig struct {
	Model         string `json:"model,omitempty" mapstructure:"model"`
	MaxIterations int    `json:"maxIterations" mapstructure:"maxIterations"`
	SystemPrompt  string `json:"systemPrompt,omitempty" mapstructure:"systemPrompt"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty" mapstructure:"type"` // "gemini" (default), "anthropic" or "openai"
	APIKey  string `json:"apiKey" mapstructure:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty" mapstructure:"baseUrl"`
}

type SandboxConfig struct {
	Root         string `json:"root" mapstructure:"root"`
	MaxReadChars int    `json:"maxReadChars" mapstructure:"maxReadChars"`
	ExecTimeout  int    `json:"execTimeout" mapstructure:"execTimeout"` // seconds
	Interpreter  string `json:"interpreter" mapstructure:"interpreter"`
}

// HistoryConfig controls the local run log. An empty Path means
// history.db under ConfigDir.
type HistoryConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path,omitempty" mapstructure:"path"`
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			MaxIterations: DefaultMaxIterations,
			SystemPrompt:  DefaultSystemPrompt,
		},
		Provider: ProviderConfig{
			Type: DefaultProvider,
		},
		Sandbox: SandboxConfig{
			Root:         DefaultSandboxRoot,
			MaxReadChars: DefaultMaxReadChars,
			ExecTimeout:  DefaultExecTimeout,
			Interpreter:  DefaultInterpreter,
		},
		History: HistoryConfig{
			Enabled: true,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".sandclaw")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// HistoryPath resolves where the run log lives.
func (c *Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return filepath.Join(ConfigDir(), "history.db")
}

// DefaultModelFor returns the model used when none is configured.
func DefaultModelFor(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return DefaultAnthropicModel
	case ProviderOpenAI:
		return DefaultOpenAIModel
	default:
		return DefaultGeminiModel
	}
}

// LoadConfig reads the config from the default location.
func LoadConfig() (*Config, error) {
	return Load("")
}

// Load layers the config file at path (ConfigPath when empty), a .env file
// in the working directory and the process environment over the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = ConfigPath()
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	env := newEnv(DefaultDotEnvFile)
	applyEnv(cfg, env)

	if cfg.Provider.Type == "" {
		cfg.Provider.Type = DefaultProvider
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = DefaultModelFor(cfg.Provider.Type)
	}
	if cfg.Agent.MaxIterations <= 0 {
		cfg.Agent.MaxIterations = DefaultMaxIterations
	}
	if cfg.Sandbox.Root == "" {
		cfg.Sandbox.Root = DefaultSandboxRoot
	}
	if cfg.Sandbox.MaxReadChars <= 0 {
		cfg.Sandbox.MaxReadChars = DefaultMaxReadChars
	}
	if cfg.Sandbox.ExecTimeout <= 0 {
		cfg.Sandbox.ExecTimeout = DefaultExecTimeout
	}
	if cfg.Sandbox.Interpreter == "" {
		cfg.Sandbox.Interpreter = DefaultInterpreter
	}
	return cfg, nil
}

func applyEnv(cfg *Config, env *envSource) {
	if provider := env.get("SANDCLAW_PROVIDER"); provider != "" {
		cfg.Provider.Type = strings.ToLower(provider)
	}
	if model := env.get("SANDCLAW_MODEL"); model != "" {
		cfg.Agent.Model = model
	}
	if root := env.get("SANDCLAW_WORKDIR"); root != "" {
		cfg.Sandbox.Root = root
	}
	if url := env.get("SANDCLAW_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if raw := env.get("SANDCLAW_MAX_ITERATIONS"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			cfg.Agent.MaxIterations = parsed
		}
	}
	if raw := env.get("SANDCLAW_HISTORY"); raw != "" {
		switch strings.ToLower(raw) {
		case "0", "false", "off", "no":
			cfg.History.Enabled = false
		case "1", "true", "on", "yes":
			cfg.History.Enabled = true
		default:
			// anything else is taken as a database path
			cfg.History.Enabled = true
			cfg.History.Path = raw
		}
	}

	if key := env.get("SANDCLAW_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if cfg.Provider.APIKey != "" {
		return
	}
	var keys []string
	switch cfg.Provider.Type {
	case ProviderAnthropic:
		keys = []string{"ANTHROPIC_API_KEY", "ANTHROPIC_AUTH_TOKEN"}
	case ProviderOpenAI:
		keys = []string{"OPENAI_API_KEY"}
	default:
		keys = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}
	}
	for _, name := range keys {
		if key := env.get(name); key != "" {
			cfg.Provider.APIKey = key
			return
		}
	}
}

// Validate reports configuration the agent cannot start without.
func (c *Config) Validate() error {
	switch c.Provider.Type {
	case ProviderGemini, ProviderAnthropic, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, c.Provider.Type)
	}
	if strings.TrimSpace(c.Provider.APIKey) == "" {
		return fmt.Errorf("%w. Run 'sandclaw onboard' or set %s", ErrMissingAPIKey, APIKeyEnv(c.Provider.Type))
	}
	return nil
}

// APIKeyEnv names the environment variable that supplies the key for provider.
func APIKeyEnv(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	default:
		return "GEMINI_API_KEY"
	}
}

func SaveConfig(cfg *Config) error {
	return SaveConfigTo(ConfigPath(), cfg)
}

// SaveConfigTo writes cfg as indented JSON, readable only by the owner.
func SaveConfigTo(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}
