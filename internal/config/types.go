// Package config loads and validates the daemon's typed configuration.
//
// Loading follows the teacher's pkg/config package: YAML parsed with
// gopkg.in/yaml.v3, decoded into these structs with mitchellh/mapstructure,
// defaults applied per-section via SetDefaults(), validated per-section
// via Validate(). Environment variable overrides are layered on top
// with koanf's env provider (see loader.go).
package config

import (
	"fmt"

	"github.com/kadirpekel/agentgw/internal/logging"
)

// Config is the root configuration object. It is immutable once Load
// returns — there is no live-reload of process configuration (skills
// have their own, narrower, reload mechanism; see internal/skill).
type Config struct {
	Server    ServerConfig              `yaml:"server,omitempty" koanf:"server"`
	Logging   logging.Config            `yaml:"logging,omitempty" koanf:"logging"`
	Store     StoreConfig               `yaml:"store,omitempty" koanf:"store"`
	Vector    VectorStoreConfig         `yaml:"vector,omitempty" koanf:"vector"`
	Skills    SkillsConfig              `yaml:"skills,omitempty" koanf:"skills"`
	LLMs      map[string]LLMProviderConfig `yaml:"llms,omitempty" koanf:"llms"`
	DefaultLLM string                   `yaml:"default_llm,omitempty" koanf:"default_llm"`
	Scheduler SchedulerConfig           `yaml:"scheduler,omitempty" koanf:"scheduler"`
	Webhooks  []WebhookSubscriptionConfig `yaml:"webhooks,omitempty" koanf:"webhooks"`
	Orchestration OrchestrationConfig   `yaml:"orchestration,omitempty" koanf:"orchestration"`
	MCPServers []MCPServerConfig       `yaml:"mcp_servers,omitempty" koanf:"mcp_servers"`
}

// MCPServerConfig declares one external MCP tool server to connect to
// at startup, launched as a stdio subprocess. Mirrors
// internal/tools.MCPServerConfig's shape so main can build one from
// the other without internal/config depending on internal/tools.
type MCPServerConfig struct {
	Name    string            `yaml:"name" koanf:"name"`
	Command string            `yaml:"command" koanf:"command"`
	Args    []string          `yaml:"args,omitempty" koanf:"args"`
	Env     map[string]string `yaml:"env,omitempty" koanf:"env"`
	Filter  []string          `yaml:"filter,omitempty" koanf:"filter"`
}

func (c *MCPServerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("mcp server missing name")
	}
	if c.Command == "" {
		return fmt.Errorf("mcp server %q missing command", c.Name)
	}
	return nil
}

// OrchestrationConfig bounds the delegation primitive.
type OrchestrationConfig struct {
	// MaxDepth is the maximum orchestration depth a call chain may
	// reach via delegate_to_agent. Depth 0 is the initial interactive
	// or scheduled request.
	MaxDepth int `yaml:"max_depth,omitempty" koanf:"max_depth"`
}

func (c *OrchestrationConfig) SetDefaults() {
	if c.MaxDepth <= 0 {
		c.MaxDepth = 3
	}
}

func (c *OrchestrationConfig) Validate() error {
	if c.MaxDepth < 0 {
		return fmt.Errorf("orchestration.max_depth must be >= 0")
	}
	return nil
}

// ServerConfig configures the HTTP façade.
type ServerConfig struct {
	Host   string `yaml:"host,omitempty" koanf:"host"`
	Port   int    `yaml:"port,omitempty" koanf:"port"`
	APIKey string `yaml:"api_key,omitempty" koanf:"api_key"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Port)
	}
	return nil
}

// StoreConfig configures the MessageStore's relational backend.
type StoreConfig struct {
	// Driver is one of "sqlite", "postgres", "mysql".
	Driver string `yaml:"driver,omitempty" koanf:"driver"`

	// DSN is the driver-specific connection string. For sqlite this is
	// a file path (or ":memory:").
	DSN string `yaml:"dsn,omitempty" koanf:"dsn"`

	MaxOpenConns int `yaml:"max_open_conns,omitempty" koanf:"max_open_conns"`
}

func (c *StoreConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.DSN == "" {
		c.DSN = "agentgw.db"
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
}

func (c *StoreConfig) Validate() error {
	switch c.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("store.driver must be one of sqlite, postgres, mysql; got %q", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}
	return nil
}

// VectorStoreConfig configures the embedded or external vector index.
type VectorStoreConfig struct {
	// Type is "chromem" (default, embedded) or "qdrant".
	Type string `yaml:"type,omitempty" koanf:"type"`

	PersistPath string `yaml:"persist_path,omitempty" koanf:"persist_path"`
	Compress    bool   `yaml:"compress,omitempty" koanf:"compress"`

	Host   string `yaml:"host,omitempty" koanf:"host"`
	Port   int    `yaml:"port,omitempty" koanf:"port"`
	APIKey string `yaml:"api_key,omitempty" koanf:"api_key"`

	Embedder EmbedderConfig `yaml:"embedder,omitempty" koanf:"embedder"`
}

func (c *VectorStoreConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "chromem"
	}
	if c.Type == "qdrant" && c.Port == 0 {
		c.Port = 6334
	}
	c.Embedder.SetDefaults()
}

func (c *VectorStoreConfig) Validate() error {
	switch c.Type {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("vector.type must be one of chromem, qdrant; got %q", c.Type)
	}
	if c.Type == "qdrant" && c.Host == "" {
		return fmt.Errorf("vector.host is required for qdrant")
	}
	return c.Embedder.Validate()
}

// EmbedderConfig configures the embedding model used for ingest and search.
type EmbedderConfig struct {
	// Provider is "openai" or "hash" (a deterministic local fallback
	// used when no API key is configured, e.g. in tests).
	Provider string `yaml:"provider,omitempty" koanf:"provider"`
	APIKey   string `yaml:"api_key,omitempty" koanf:"api_key"`
	Model    string `yaml:"model,omitempty" koanf:"model"`
	Host     string `yaml:"host,omitempty" koanf:"host"`
	Dimensions int  `yaml:"dimensions,omitempty" koanf:"dimensions"`
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "hash"
	}
	if c.Provider == "openai" {
		if c.Model == "" {
			c.Model = "text-embedding-3-small"
		}
		if c.Host == "" {
			c.Host = "https://api.openai.com"
		}
		if c.Dimensions == 0 {
			c.Dimensions = 1536
		}
	}
	if c.Dimensions == 0 {
		c.Dimensions = 256
	}
}

func (c *EmbedderConfig) Validate() error {
	switch c.Provider {
	case "openai", "hash":
	default:
		return fmt.Errorf("vector.embedder.provider must be one of openai, hash; got %q", c.Provider)
	}
	if c.Provider == "openai" && c.APIKey == "" {
		return fmt.Errorf("vector.embedder.api_key is required for provider openai")
	}
	return nil
}

// SkillsConfig configures the declarative skill loader.
type SkillsConfig struct {
	// Dir is the directory of *.yaml skill definitions.
	Dir string `yaml:"dir,omitempty" koanf:"dir"`

	// Watch enables fsnotify-driven hot reload.
	Watch bool `yaml:"watch,omitempty" koanf:"watch"`
}

func (c *SkillsConfig) SetDefaults() {
	if c.Dir == "" {
		c.Dir = "skills"
	}
}

func (c *SkillsConfig) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("skills.dir is required")
	}
	return nil
}

// LLMProviderConfig configures one named LLM provider endpoint.
type LLMProviderConfig struct {
	// Type is one of "openai", "anthropic", "xai".
	Type        string  `yaml:"type,omitempty" koanf:"type"`
	Model       string  `yaml:"model,omitempty" koanf:"model"`
	APIKey      string  `yaml:"api_key,omitempty" koanf:"api_key"`
	Host        string  `yaml:"host,omitempty" koanf:"host"`
	Temperature float64 `yaml:"temperature,omitempty" koanf:"temperature"`
	MaxTokens   int     `yaml:"max_tokens,omitempty" koanf:"max_tokens"`
	Timeout     int     `yaml:"timeout,omitempty" koanf:"timeout"` // seconds
	MaxRetries  int     `yaml:"max_retries,omitempty" koanf:"max_retries"`
	RetryDelay  int     `yaml:"retry_delay,omitempty" koanf:"retry_delay"` // seconds
}

func (c *LLMProviderConfig) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 120
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 2
	}
	switch c.Type {
	case "anthropic":
		if c.Host == "" {
			c.Host = "https://api.anthropic.com"
		}
		if c.Temperature == 0 {
			c.Temperature = 1.0
		}
	case "xai":
		if c.Host == "" {
			c.Host = "https://api.x.ai"
		}
	default: // openai
		if c.Host == "" {
			c.Host = "https://api.openai.com"
		}
	}
}

func (c *LLMProviderConfig) Validate() error {
	switch c.Type {
	case "openai", "anthropic", "xai":
	default:
		return fmt.Errorf("llm.type must be one of openai, anthropic, xai; got %q", c.Type)
	}
	if c.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	return nil
}

// SchedulerConfig configures the cron-driven job runner.
type SchedulerConfig struct {
	Jobs []ScheduledJobConfig `yaml:"jobs,omitempty" koanf:"jobs"`

	// LogDir is where per-job output files are written, named
	// <job>-<timestamp>.log.
	LogDir string `yaml:"log_dir,omitempty" koanf:"log_dir"`
}

func (c *SchedulerConfig) SetDefaults() {
	if c.LogDir == "" {
		c.LogDir = "logs/jobs"
	}
}

func (c *SchedulerConfig) Validate() error {
	seen := make(map[string]bool, len(c.Jobs))
	for _, j := range c.Jobs {
		if j.Name == "" {
			return fmt.Errorf("scheduler job missing name")
		}
		if seen[j.Name] {
			return fmt.Errorf("duplicate scheduler job name %q", j.Name)
		}
		seen[j.Name] = true
		if j.Cron == "" {
			return fmt.Errorf("scheduler job %q missing cron expression", j.Name)
		}
		if j.SkillName == "" {
			return fmt.Errorf("scheduler job %q missing skill_name", j.Name)
		}
	}
	return nil
}

// ScheduledJobConfig is the declarative form of a ScheduledJob.
type ScheduledJobConfig struct {
	Name      string `yaml:"name" koanf:"name"`
	SkillName string `yaml:"skill_name" koanf:"skill_name"`
	Message   string `yaml:"message" koanf:"message"`
	Cron      string `yaml:"cron" koanf:"cron"`
	Enabled   bool   `yaml:"enabled" koanf:"enabled"`
	LogOutput bool   `yaml:"log_output" koanf:"log_output"`
}

// WebhookSubscriptionConfig is the declarative form of a WebhookSubscription.
type WebhookSubscriptionConfig struct {
	Name    string   `yaml:"name" koanf:"name"`
	URL     string   `yaml:"url" koanf:"url"`
	Events  []string `yaml:"events" koanf:"events"`
	Secret  string   `yaml:"secret,omitempty" koanf:"secret"`
	Enabled bool     `yaml:"enabled" koanf:"enabled"`
}

// SetDefaults walks every section and fills in defaults.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Logging.SetDefaults()
	c.Store.SetDefaults()
	c.Vector.SetDefaults()
	c.Skills.SetDefaults()
	c.Scheduler.SetDefaults()
	c.Orchestration.SetDefaults()
	for name, llm := range c.LLMs {
		llm.SetDefaults()
		c.LLMs[name] = llm
	}
}

// Validate walks every section and returns the first error found.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Vector.Validate(); err != nil {
		return err
	}
	if err := c.Skills.Validate(); err != nil {
		return err
	}
	if err := c.Scheduler.Validate(); err != nil {
		return err
	}
	if err := c.Orchestration.Validate(); err != nil {
		return err
	}
	seenMCP := make(map[string]bool, len(c.MCPServers))
	for _, m := range c.MCPServers {
		if err := m.Validate(); err != nil {
			return err
		}
		if seenMCP[m.Name] {
			return fmt.Errorf("duplicate mcp server name %q", m.Name)
		}
		seenMCP[m.Name] = true
	}
	if len(c.LLMs) == 0 {
		return fmt.Errorf("at least one entry under llms is required")
	}
	for name, llm := range c.LLMs {
		if err := llm.Validate(); err != nil {
			return fmt.Errorf("llms.%s: %w", name, err)
		}
	}
	if c.DefaultLLM == "" {
		for name := range c.LLMs {
			c.DefaultLLM = name
			break
		}
	}
	if _, ok := c.LLMs[c.DefaultLLM]; !ok {
		return fmt.Errorf("default_llm %q is not defined under llms", c.DefaultLLM)
	}
	return nil
}
