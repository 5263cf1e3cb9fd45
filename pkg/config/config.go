package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Storage       StorageConfig       `yaml:"storage"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Agent         AgentConfig         `yaml:"agent"`
	Auth          AuthConfig          `yaml:"auth"`
}

type ServerConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type PipelineConfig struct {
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	ExplicitConfidence  float64       `yaml:"explicit_confidence"`
	MaxGenerations      int           `yaml:"max_generations"`
	ContentBudget       time.Duration `yaml:"content_budget"`
	Workers             int           `yaml:"workers"`
	QueueSize           int           `yaml:"queue_size"`
	MaxAttempts         int           `yaml:"max_attempts"`
	RetryBackoff        time.Duration `yaml:"retry_backoff"`
}

type StorageConfig struct {
	Path     string `yaml:"path"`
	DBPath   string `yaml:"db_path"`
	InMemory bool   `yaml:"in_memory"`
}

type TranscriptionConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type AgentConfig struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

type AuthConfig struct {
	// Tokens maps bearer tokens to user ids.
	Tokens map[string]string `yaml:"tokens"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 4 * time.Minute,
		},
		Pipeline: PipelineConfig{
			ConfidenceThreshold: 0.5,
			ExplicitConfidence:  0.8,
			MaxGenerations:      3,
			ContentBudget:       45 * time.Second,
			Workers:             4,
			QueueSize:           100,
			MaxAttempts:         3,
			RetryBackoff:        time.Second,
		},
		Storage: StorageConfig{
			Path:   "./data",
			DBPath: "./data/voicenote.db",
		},
		Transcription: TranscriptionConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "whisper-1",
			Timeout: 60 * time.Second,
		},
		Agent: AgentConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			Timeout:     90 * time.Second,
		},
		Auth: AuthConfig{Tokens: map[string]string{}},
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// VOICENOTE_CONFIG, and environment variables (a .env file is read first).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Config: .env not loaded: %v", err)
	}

	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("VOICENOTE_CONFIG")); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.fitWriteTimeout()
	return cfg, cfg.Validate()
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Server.Address, "VOICENOTE_ADDR")
	setString(&cfg.Storage.Path, "VOICENOTE_STORAGE_PATH")
	setString(&cfg.Storage.DBPath, "VOICENOTE_DB_PATH")
	setString(&cfg.Transcription.BaseURL, "TRANSCRIPTION_BASE_URL")
	setString(&cfg.Transcription.Model, "TRANSCRIPTION_MODEL")
	setString(&cfg.Agent.BaseURL, "AGENT_BASE_URL")
	setString(&cfg.Agent.Model, "AGENT_MODEL")

	if key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); key != "" {
		if cfg.Transcription.APIKey == "" {
			cfg.Transcription.APIKey = key
		}
		if cfg.Agent.APIKey == "" {
			cfg.Agent.APIKey = key
		}
	}
	setString(&cfg.Transcription.APIKey, "TRANSCRIPTION_API_KEY")
	setString(&cfg.Agent.APIKey, "AGENT_API_KEY")

	if v := os.Getenv("VOICENOTE_IN_MEMORY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("VOICENOTE_IN_MEMORY: %w", err)
		}
		cfg.Storage.InMemory = b
	}
	if v := os.Getenv("CONTENT_CONFIDENCE_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("CONTENT_CONFIDENCE_THRESHOLD: %w", err)
		}
		cfg.Pipeline.ConfidenceThreshold = f
	}
	if v := os.Getenv("CONTENT_BUDGET"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CONTENT_BUDGET: %w", err)
		}
		cfg.Pipeline.ContentBudget = d
	}
	if v := os.Getenv("AUTH_TOKENS"); v != "" {
		tokens, err := ParseTokens(v)
		if err != nil {
			return err
		}
		for tok, user := range tokens {
			cfg.Auth.Tokens[tok] = user
		}
	}
	return nil
}

// ParseTokens parses "token:user,token2:user2".
func ParseTokens(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		tok, user, ok := strings.Cut(pair, ":")
		if !ok || strings.TrimSpace(tok) == "" || strings.TrimSpace(user) == "" {
			return nil, fmt.Errorf("invalid AUTH_TOKENS entry %q: expected token:user", pair)
		}
		out[strings.TrimSpace(tok)] = strings.TrimSpace(user)
	}
	return out, nil
}

// writeMargin covers decoding, persistence and response encoding around the
// upstream calls.
const writeMargin = 15 * time.Second

// RequestBudget is the longest a voice request may run: one transcription, one
// agent call and the wait for generated content.
func (c *Config) RequestBudget() time.Duration {
	return c.Transcription.Timeout + c.Agent.Timeout + c.Pipeline.ContentBudget + writeMargin
}

// fitWriteTimeout raises the server write timeout so a response is never cut
// off after its recording was already finalized.
func (c *Config) fitWriteTimeout() {
	budget := c.RequestBudget()
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout < budget {
		log.Printf("Config: write_timeout %v is shorter than the request budget, raising to %v", c.Server.WriteTimeout, budget)
		c.Server.WriteTimeout = budget
	}
}

func (c *Config) Validate() error {
	p := c.Pipeline
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be within [0,1], got %v", p.ConfidenceThreshold)
	}
	if p.MaxGenerations < 0 {
		return fmt.Errorf("max_generations must not be negative")
	}
	if p.Workers <= 0 || p.QueueSize <= 0 {
		return fmt.Errorf("workers and queue_size must be positive")
	}
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive")
	}
	return nil
}

func setString(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}
