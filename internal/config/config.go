// Package config handles Stagehand configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nugget/stagehand/internal/validate"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/stagehand/config.yaml, /etc/stagehand/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "stagehand", "config.yaml"))
	}

	paths = append(paths, "/etc/stagehand/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Stagehand configuration.
type Config struct {
	Models     ModelsConfig            `yaml:"models"`
	Anthropic  AnthropicConfig         `yaml:"anthropic"`
	Embeddings EmbeddingsConfig        `yaml:"embeddings"`
	Timeouts   TimeoutsConfig          `yaml:"timeouts"`
	Retry      RetryConfig             `yaml:"retry"`
	Extraction ExtractionConfig        `yaml:"extraction"`
	Retrieval  RetrievalConfig         `yaml:"retrieval"`
	History    HistoryConfig           `yaml:"history"`
	Agent      AgentConfig             `yaml:"agent"`
	MQTT       MQTTConfig              `yaml:"mqtt"`
	Pricing    map[string]PricingEntry `yaml:"pricing"`
	DataDir    string                  `yaml:"data_dir"`
	LogLevel   string                  `yaml:"log_level"`
	LogFormat  string                  `yaml:"log_format"` // text or json
}

// ModelsConfig selects the models used for each kind of call.
type ModelsConfig struct {
	OllamaURL   string   `yaml:"ollama_url"`
	Default     string   `yaml:"default"`     // replies
	Extraction  string   `yaml:"extraction"`  // defaults to Default
	Summary     string   `yaml:"summary"`     // defaults to Default
	Temperature *float64 `yaml:"temperature"` // unset uses the provider default
	MaxTokens   int      `yaml:"max_tokens"`
}

// AnthropicConfig defines Anthropic API settings. Models whose name
// starts with "claude-" are routed to Anthropic when an API key is set.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// PricingEntry is the USD price of a model per million tokens. Models
// without an entry are treated as free.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	Model   string `yaml:"model"`   // Embedding model name (e.g., nomic-embed-text)
	BaseURL string `yaml:"baseurl"` // Ollama URL (defaults to models.ollama_url)
}

// TimeoutsConfig bounds the blocking provider calls. Values are Go
// duration strings ("45s", "2m").
type TimeoutsConfig struct {
	Complete time.Duration `yaml:"complete"`
	Embed    time.Duration `yaml:"embed"`
}

// RetryConfig controls completion retries.
type RetryConfig struct {
	// Attempts is the total number of tries, including the first.
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

// ExtractionConfig tunes variable extraction and validation.
type ExtractionConfig struct {
	// HistoryWindow is how many recent messages the extractor sees.
	HistoryWindow int                 `yaml:"history_window"`
	BusinessHours BusinessHoursConfig `yaml:"business_hours"`
}

// BusinessHoursConfig bounds acceptable meeting times, as "HH:MM".
type BusinessHoursConfig struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// RetrievalConfig tunes knowledge retrieval.
type RetrievalConfig struct {
	SimilarityFloor float64 `yaml:"similarity_floor"`
	Limit           int     `yaml:"limit"`
	MaxKeywords     int     `yaml:"max_keywords"`
}

// HistoryConfig controls conversation history compaction.
type HistoryConfig struct {
	MaxMessages int `yaml:"max_messages"`
	MaxTokens   int `yaml:"max_tokens"`
	KeepRecent  int `yaml:"keep_recent"`
}

// AgentConfig names the agent and the files that define it.
type AgentConfig struct {
	ID           string `yaml:"id"` // overrides agent_id in the workflow file
	WorkflowFile string `yaml:"workflow_file"`
	ProfileFile  string `yaml:"profile_file"` // optional company profile override
	Timezone     string `yaml:"timezone"`     // IANA name for the Current Conditions section
}

// MQTTConfig configures optional event forwarding to an MQTT broker.
// Forwarding is disabled when Broker is empty.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // mqtt://host:1883 or mqtts://host:8883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	// PublishIntervalSec is how often the daily token counter is
	// republished. Default: 60.
	PublishIntervalSec int `yaml:"publish_interval"`
}

// Configured reports whether a broker is set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// Load reads configuration from a YAML file, expanding environment
// variables, then applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Models.OllamaURL == "" {
		c.Models.OllamaURL = "http://localhost:11434"
	}
	if c.Models.Default == "" {
		c.Models.Default = "qwen3:4b"
	}
	if c.Models.Extraction == "" {
		c.Models.Extraction = c.Models.Default
	}
	if c.Models.Summary == "" {
		c.Models.Summary = c.Models.Default
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "nomic-embed-text"
	}
	if c.Embeddings.BaseURL == "" {
		c.Embeddings.BaseURL = c.Models.OllamaURL
	}
	if c.Timeouts.Complete <= 0 {
		c.Timeouts.Complete = 60 * time.Second
	}
	if c.Timeouts.Embed <= 0 {
		c.Timeouts.Embed = 15 * time.Second
	}
	if c.Retry.Attempts <= 0 {
		c.Retry.Attempts = 2
	}
	if c.Retry.Delay <= 0 {
		c.Retry.Delay = 500 * time.Millisecond
	}
	if c.Extraction.HistoryWindow <= 0 {
		c.Extraction.HistoryWindow = 6
	}
	if c.Extraction.BusinessHours.Start == "" {
		c.Extraction.BusinessHours.Start = "09:00"
	}
	if c.Extraction.BusinessHours.End == "" {
		c.Extraction.BusinessHours.End = "18:00"
	}
	if c.Retrieval.SimilarityFloor == 0 {
		c.Retrieval.SimilarityFloor = 0.7
	}
	if c.Retrieval.Limit <= 0 {
		c.Retrieval.Limit = 3
	}
	if c.Retrieval.MaxKeywords <= 0 {
		c.Retrieval.MaxKeywords = 20
	}
	if c.History.MaxMessages <= 0 {
		c.History.MaxMessages = 20
	}
	if c.History.MaxTokens <= 0 {
		c.History.MaxTokens = 4000
	}
	if c.History.KeepRecent <= 0 {
		c.History.KeepRecent = 6
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "stagehand"
	}
	if c.MQTT.PublishIntervalSec <= 0 {
		c.MQTT.PublishIntervalSec = 60
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// Validate reports every problem found in the configuration.
func (c *Config) Validate() error {
	var errs []error

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat))
	}
	if c.Retrieval.SimilarityFloor < 0 || c.Retrieval.SimilarityFloor > 1 {
		errs = append(errs, fmt.Errorf("retrieval.similarity_floor %v out of range [0, 1]", c.Retrieval.SimilarityFloor))
	}
	if t := c.Models.Temperature; t != nil && *t < 0 {
		errs = append(errs, fmt.Errorf("models.temperature %v must not be negative", *t))
	}
	if c.History.KeepRecent >= c.History.MaxMessages {
		errs = append(errs, fmt.Errorf("history.keep_recent (%d) must be below history.max_messages (%d)",
			c.History.KeepRecent, c.History.MaxMessages))
	}
	if _, err := c.Extraction.BusinessHours.Window(); err != nil {
		errs = append(errs, err)
	}
	for model, p := range c.Pricing {
		if p.InputPerMillion < 0 || p.OutputPerMillion < 0 {
			errs = append(errs, fmt.Errorf("pricing %q: prices must not be negative", model))
		}
	}
	if c.MQTT.Configured() && !strings.Contains(c.MQTT.Broker, "://") {
		errs = append(errs, fmt.Errorf("mqtt.broker %q must be a URL such as mqtt://host:1883", c.MQTT.Broker))
	}

	return errors.Join(errs...)
}

// Window parses the configured hours into a validator window.
func (b BusinessHoursConfig) Window() (validate.BusinessHours, error) {
	start, err := validate.ParseClock(b.Start)
	if err != nil {
		return validate.BusinessHours{}, fmt.Errorf("extraction.business_hours.start: %w", err)
	}
	end, err := validate.ParseClock(b.End)
	if err != nil {
		return validate.BusinessHours{}, fmt.Errorf("extraction.business_hours.end: %w", err)
	}
	if end < start {
		return validate.BusinessHours{}, fmt.Errorf("extraction.business_hours: end %s before start %s", b.End, b.Start)
	}
	return validate.BusinessHours{Start: start, End: end}, nil
}
