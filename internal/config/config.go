package config

import (
	"os"
	"strings"
)

// Config is the root configuration structure for openpista.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Agent       AgentConfig       `yaml:"agent"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Channels    ChannelsConfig    `yaml:"channels"`
	Session     SessionConfig     `yaml:"session"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds the server-level listen address. It is defaulted and
// can be overridden from the environment, but no listener binds to it: the
// mobile channel's QUIC listener uses Channels.Mobile.ListenAddr.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// GatewayConfig configures the dispatcher that fans channel events into
// the agent runtime (spec §5).
type GatewayConfig struct {
	// QueueSize bounds the in-memory ChannelEvent queue. Events are
	// dropped with a logged warning once the queue is full rather than
	// blocking the channel adapter.
	QueueSize int `yaml:"queue_size"`
}

// AgentConfig configures the ReAct orchestration loop (spec §3).
type AgentConfig struct {
	MaxToolRounds      int    `yaml:"max_tool_rounds"`
	MaxContextMessages int    `yaml:"max_context_messages"`
	MaxToolResultChars int    `yaml:"max_tool_result_chars"`
	SystemPrompt       string `yaml:"system_prompt"`
}

// ProvidersConfig configures the two built-in provider adapters (spec §4.2/§4.3).
type ProvidersConfig struct {
	Anthropic AnthropicProviderConfig `yaml:"anthropic"`
	Responses ResponsesProviderConfig `yaml:"responses"`
}

type AnthropicProviderConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

type ResponsesProviderConfig struct {
	BaseURL          string `yaml:"base_url"`
	APIKeyEnv        string `yaml:"api_key_env"`
	ChatGPTAccountID string `yaml:"chatgpt_account_id"`
}

// ChannelsConfig configures the channel adapters (spec §4.4).
type ChannelsConfig struct {
	Mobile MobileChannelConfig `yaml:"mobile"`
}

type MobileChannelConfig struct {
	ListenAddr   string `yaml:"listen_addr"`
	AuthTokenEnv string `yaml:"auth_token_env"`
}

// SessionConfig configures where conversation history is persisted.
type SessionConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// CredentialsConfig configures the OAuth credential store (spec §4.5).
type CredentialsConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads, parses, and validates a configuration file at path,
// resolving $include directives and expanding environment variables
// before applying defaults.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Server.ListenAddr) == "" {
		cfg.Server.ListenAddr = ":8443"
	}
	if cfg.Gateway.QueueSize <= 0 {
		cfg.Gateway.QueueSize = 128
	}

	if cfg.Agent.MaxToolRounds <= 0 {
		cfg.Agent.MaxToolRounds = 25
	}
	if cfg.Agent.MaxContextMessages <= 0 {
		cfg.Agent.MaxContextMessages = 40
	}
	if cfg.Agent.MaxToolResultChars <= 0 {
		cfg.Agent.MaxToolResultChars = 16000
	}

	if strings.TrimSpace(cfg.Providers.Anthropic.BaseURL) == "" {
		cfg.Providers.Anthropic.BaseURL = "https://api.anthropic.com"
	}
	if strings.TrimSpace(cfg.Providers.Anthropic.APIKeyEnv) == "" {
		cfg.Providers.Anthropic.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if strings.TrimSpace(cfg.Providers.Responses.BaseURL) == "" {
		cfg.Providers.Responses.BaseURL = "https://api.openai.com/v1/responses"
	}
	if strings.TrimSpace(cfg.Providers.Responses.APIKeyEnv) == "" {
		cfg.Providers.Responses.APIKeyEnv = "OPENAI_API_KEY"
	}

	if strings.TrimSpace(cfg.Channels.Mobile.ListenAddr) == "" {
		cfg.Channels.Mobile.ListenAddr = ":7443"
	}
	if strings.TrimSpace(cfg.Channels.Mobile.AuthTokenEnv) == "" {
		cfg.Channels.Mobile.AuthTokenEnv = "OPENPISTA_MOBILE_TOKEN"
	}

	if strings.TrimSpace(cfg.Session.DatabasePath) == "" {
		cfg.Session.DatabasePath = "./openpista.db"
	}

	if strings.TrimSpace(cfg.Credentials.Path) == "" {
		cfg.Credentials.Path = "~/.openpista/credentials.yaml"
	}

	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
	if strings.TrimSpace(cfg.Logging.Format) == "" {
		cfg.Logging.Format = "json"
	}
}

// applyEnvOverrides lets a handful of deployment-time knobs be overridden
// without editing the config file, matching the teacher's NEXUS_* pattern.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	if value := strings.TrimSpace(os.Getenv("OPENPISTA_LISTEN_ADDR")); value != "" {
		cfg.Server.ListenAddr = value
	}
	if value := strings.TrimSpace(os.Getenv("OPENPISTA_MOBILE_LISTEN_ADDR")); value != "" {
		cfg.Channels.Mobile.ListenAddr = value
	}
	if value := strings.TrimSpace(os.Getenv("OPENPISTA_SESSION_DB")); value != "" {
		cfg.Session.DatabasePath = value
	}
	if value := strings.TrimSpace(os.Getenv("OPENPISTA_LOG_LEVEL")); value != "" {
		cfg.Logging.Level = value
	}
}

// ConfigValidationError collects every validation failure found in a
// single pass, so a misconfigured deployment gets one actionable error
// instead of a fix-one-rerun-once loop.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	if cfg.Agent.MaxToolRounds <= 0 {
		issues = append(issues, "agent.max_tool_rounds must be positive")
	}
	if cfg.Agent.MaxContextMessages <= 0 {
		issues = append(issues, "agent.max_context_messages must be positive")
	}
	if cfg.Agent.MaxToolResultChars <= 0 {
		issues = append(issues, "agent.max_tool_result_chars must be positive")
	}
	if cfg.Gateway.QueueSize <= 0 {
		issues = append(issues, "gateway.queue_size must be positive")
	}
	if !validLogLevel(cfg.Logging.Level) {
		issues = append(issues, "logging.level must be one of debug, info, warn, error")
	}
	if !validLogFormat(cfg.Logging.Format) {
		issues = append(issues, "logging.format must be \"json\" or \"text\"")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

func validLogLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func validLogFormat(format string) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json", "text":
		return true
	}
	return false
}

