package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rusq/osenv/v2"
	"gopkg.in/yaml.v3"

	"github.com/m4xw311/mcpchat/errors"
	"github.com/m4xw311/mcpchat/tools"
)

// Dir is the name of the configuration directory, looked up in the user's
// home directory and in the working directory.
const Dir = ".mcpchat"

const (
	DefaultServerURL        = "http://localhost:3000"
	DefaultTimeout          = 30 * time.Second
	DefaultMaxIterations    = 20
	DefaultMaxTokens        = 1000
	DefaultSummaryMaxTokens = 200
)

const (
	envServerURL = "MCP_SERVER_URL"
	envLLM       = "MCPCHAT_LLM"
	envModel     = "MCPCHAT_MODEL"
	envLogLevel  = "LOG_LEVEL"
)

// apiKeyEnv maps a provider to the variable its credentials are read from.
var apiKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

type ToolFilter struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

type Config struct {
	ServerURL string `yaml:"server_url"`
	LLMClient string `yaml:"llm"`
	Model     string `yaml:"model"`
	// SummaryModel is used for compaction. Empty means Model.
	SummaryModel string `yaml:"summary_model"`
	BaseURL      string `yaml:"base_url"`
	Region       string `yaml:"region"`
	SystemPrompt string `yaml:"system_prompt"`

	Mode          string `yaml:"mode"`
	ToolVerbosity string `yaml:"tool_verbosity"`
	Stream        bool   `yaml:"stream"`

	Timeout          time.Duration `yaml:"timeout"`
	Retries          int           `yaml:"retries"`
	MaxIterations    int           `yaml:"max_iterations"`
	MaxTokens        int           `yaml:"max_tokens"`
	SummaryMaxTokens int           `yaml:"summary_max_tokens"`
	CompactThreshold int           `yaml:"compact_threshold"`
	ParallelTools    int           `yaml:"parallel_tools"`
	ReportAnomalies  bool          `yaml:"report_anomalies"`

	// LogLevel is empty unless set; an empty level means no logging.
	LogLevel string     `yaml:"log_level"`
	Tools    ToolFilter `yaml:"tools"`

	// APIKey is never read from files.
	APIKey string `yaml:"-"`
}

func Default() *Config {
	return &Config{
		ServerURL:        DefaultServerURL,
		Mode:             "auto",
		ToolVerbosity:    "info",
		Timeout:          DefaultTimeout,
		MaxIterations:    DefaultMaxIterations,
		MaxTokens:        DefaultMaxTokens,
		SummaryMaxTokens: DefaultSummaryMaxTokens,
		ParallelTools:    1,
	}
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence. If path is not empty
// only that file is read. Environment variables, including those from .env
// files, override both.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	home, _ := os.UserHomeDir()
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	loadDotenv(filepath.Join(wd, ".env"), filepath.Join(home, Dir, ".env"))

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading config %s", path)
		}
	} else {
		if home != "" {
			if err := loadIfExists(filepath.Join(home, Dir, "config.yaml"), cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
		if err := loadIfExists(filepath.Join(wd, Dir, "config.yaml"), cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// loadDotenv loads each file that exists. Variables already set in the
// environment are left alone, so earlier files win.
func loadDotenv(files ...string) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			slog.Warn("could not load env file", "file", f, "error", err)
		}
	}
}

func loadIfExists(path string, cfg *Config) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return loadFromFile(path, cfg)
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Fields present in the file replace what is already in cfg.
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) applyEnv() {
	c.ServerURL = osenv.Value(envServerURL, c.ServerURL)
	c.LLMClient = osenv.Value(envLLM, c.LLMClient)
	c.Model = osenv.Value(envModel, c.Model)
	c.LogLevel = osenv.Value(envLogLevel, c.LogLevel)
	c.ResolveAPIKey()
}

// ResolveAPIKey reads the credentials of the configured provider from the
// environment. It is a no-op when a key is already set.
func (c *Config) ResolveAPIKey() {
	if c.APIKey != "" {
		return
	}
	if env, ok := apiKeyEnv[strings.ToLower(c.LLMClient)]; ok {
		c.APIKey = osenv.Secret(env, "")
	}
}

// Filter returns the tool filter for the MCP client.
func (c *Config) Filter() tools.Filter {
	return tools.Filter{Allow: c.Tools.Allow, Deny: c.Tools.Deny}
}

// Level parses LogLevel. Unknown values mean info.
func (c *Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Validate rejects values the client cannot work with.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server url is required")
	}
	if !strings.HasPrefix(c.ServerURL, "http://") && !strings.HasPrefix(c.ServerURL, "https://") {
		return errors.New("server url '%s' must start with http:// or https://", c.ServerURL)
	}
	switch c.Mode {
	case "auto", "prompt":
	default:
		return errors.New("invalid mode '%s': want auto or prompt", c.Mode)
	}
	switch c.ToolVerbosity {
	case "none", "info", "all":
	default:
		return errors.New("invalid tool verbosity '%s': want none, info or all", c.ToolVerbosity)
	}
	for name, v := range map[string]int{
		"max_iterations":     c.MaxIterations,
		"max_tokens":         c.MaxTokens,
		"summary_max_tokens": c.SummaryMaxTokens,
		"parallel_tools":     c.ParallelTools,
	} {
		if v <= 0 {
			return errors.New("%s must be positive, got %d", name, v)
		}
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive, got %s", c.Timeout)
	}
	if c.Retries < 0 || c.CompactThreshold < 0 {
		return errors.New("retries and compact_threshold must not be negative")
	}
	if err := c.Filter().Validate(); err != nil {
		return errors.Wrapf(err, "invalid tool filter")
	}
	return nil
}

func (c *Config) String() string {
	key := ""
	if c.APIKey != "" {
		key = "***"
	}
	return fmt.Sprintf("server=%s llm=%s model=%s mode=%s api_key=%s", c.ServerURL, c.LLMClient, c.Model, c.Mode, key)
}
