// Package config provides the configuration schema, loader, hot-reload
// watcher and LLM provider registry for the calculator agent.
//
// Configuration comes from three layers, later layers winning:
//
//  1. Built-in defaults ([ApplyDefaults]).
//  2. An optional YAML file ([Load], [LoadFromReader]).
//  3. Environment variables ([ApplyEnv]), typically seeded from a .env file
//     by [LoadDotEnv]. Container deployments configure purely through these.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr       = ":8088"
	DefaultAgentName        = "CalculatorAgent"
	DefaultInstructions     = "You are a helpful assistant tasked with performing arithmetic on a set of inputs. Use the provided tools to perform calculations."
	DefaultMaxTurns         = 8
	DefaultMaxRepeatedCalls = 3
	DefaultShutdownTimeout  = 15 * time.Second
	DefaultRequestTimeout   = 2 * time.Minute
	DefaultMaxBodyBytes     = 1 << 20
	DefaultAzureAPIVersion  = "2024-10-21"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Agent     AgentConfig     `yaml:"agent"`
	Providers ProvidersConfig `yaml:"providers"`
	MCP       MCPConfig       `yaml:"mcp"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings for the HTTP surface.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on. Default: ":8088".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text or JSON logs. Default: text.
	LogFormat LogFormat `yaml:"log_format"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`

	// ShutdownTimeout bounds graceful shutdown. Default: 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RequestTimeout bounds a single agent run on /responses. Default: 2m.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxBodyBytes caps request bodies. Default: 1 MiB.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// CORSAllowedOrigins enables CORS for browser clients. "*" allows any
	// origin. Empty disables CORS handling.
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AgentConfig configures the agent loop. All fields are hot-reloadable.
type AgentConfig struct {
	// Name identifies the agent in responses, metrics and logs.
	Name string `yaml:"name"`

	// Instructions is the system prompt.
	Instructions string `yaml:"instructions"`

	// MaxTurns caps model completions per run. Default: 8.
	MaxTurns int `yaml:"max_turns"`

	// MaxRepeatedCalls aborts a run once the model repeats the same tool call
	// this many times in a row. Default: 3.
	MaxRepeatedCalls int `yaml:"max_repeated_calls"`

	// Temperature is passed to the model; zero means provider default.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps completion length; zero means provider default.
	MaxTokens int `yaml:"max_tokens"`

	// MaxPromptTokens stops a run before a completion whose estimated prompt
	// exceeds it. Zero derives the limit from the model's context window.
	MaxPromptTokens int `yaml:"max_prompt_tokens"`
}

// ProvidersConfig selects the LLM backend and its fallbacks.
type ProvidersConfig struct {
	// LLM is the primary model provider. When Name is empty the agent
	// endpoints are disabled but tools stay available.
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when the primary fails or its circuit
	// is open.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	// CircuitBreaker tunes the per-provider breakers.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ProviderEntry is the configuration block of one provider. Name selects the
// factory in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation, e.g. "openai",
	// "azure", "anthropic", "ollama".
	Name string `yaml:"name"`

	// APIKey authenticates against the provider's API, if it needs one.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint. For "azure" it is the
	// Foundry project or Azure OpenAI resource endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects the model, or the deployment name for "azure".
	Model string `yaml:"model"`

	// Timeout bounds a single provider HTTP request. Zero means no timeout.
	Timeout time.Duration `yaml:"timeout"`

	// Options holds provider-specific values, e.g. "api_version" for azure
	// or "organization" for openai.
	Options map[string]any `yaml:"options"`
}

// CircuitBreakerConfig mirrors the resilience breaker settings. Zero values
// select the breaker's defaults.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// MCPConfig controls the MCP endpoint.
type MCPConfig struct {
	// Disabled removes the /mcp route.
	Disabled bool `yaml:"disabled"`

	// Stateless serves each request without session affinity.
	Stateless bool `yaml:"stateless"`
}

// TelemetryConfig controls OpenTelemetry export. Prometheus /metrics is always
// served.
type TelemetryConfig struct {
	// ServiceName is reported in telemetry. Default: "calcagent".
	ServiceName string `yaml:"service_name"`

	// ExportOTLP pushes traces and metrics over OTLP/HTTP. Implied by a
	// non-empty OTLPEndpoint.
	ExportOTLP bool `yaml:"export_otlp"`

	// OTLPEndpoint is the OTLP/HTTP base URL. When empty with ExportOTLP set,
	// the standard OTEL_EXPORTER_OTLP_* variables apply.
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// MetricInterval is the OTLP metric push interval. Default: 15s.
	MetricInterval time.Duration `yaml:"metric_interval"`
}

// Exporting reports whether OTLP export is enabled.
func (t TelemetryConfig) Exporting() bool {
	return t.ExportOTLP || t.OTLPEndpoint != ""
}

// OptString extracts a string option. It returns "" when the map is nil, the
// key is absent or the value is not a string.
func (e ProviderEntry) OptString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}
