package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidLLMProviders lists the provider names the binary registers. [Validate]
// only warns about others since a custom build may register more.
var ValidLLMProviders = []string{
	"openai", "azure",
	"anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Environment variables read by [ApplyEnv].
const (
	EnvFoundryEndpoint    = "FOUNDRY_PROJECT_ENDPOINT"
	EnvFoundryDeployment  = "FOUNDRY_MODEL_DEPLOYMENT_NAME"
	EnvFoundryAPIKey      = "FOUNDRY_API_KEY"
	EnvOpenAIAPIKey       = "OPENAI_API_KEY"
	EnvListenAddr         = "CALCAGENT_LISTEN_ADDR"
	EnvLogLevel           = "CALCAGENT_LOG_LEVEL"
	EnvAppInsightsConnStr = "APPLICATIONINSIGHTS_CONNECTION_STRING"
)

// LookupFunc resolves an environment variable, like [os.LookupEnv].
type LookupFunc func(key string) (string, bool)

// Load builds the effective configuration from the YAML file at path, the
// process environment and the defaults, then validates it. An empty path
// skips the file.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
	}
	cfg, err := parse(data, os.LookupEnv)
	if err != nil && path != "" {
		return nil, fmt.Errorf("config: %q: %w", path, err)
	}
	return cfg, err
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment,
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Overload(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load env file %q: %w", path, err)
	}
	return nil
}

// parse runs the full pipeline on raw YAML: decode, environment, defaults,
// validation. Empty data yields a config built from env and defaults only.
func parse(data []byte, lookup LookupFunc) (*Config, error) {
	cfg := &Config{}
	if len(bytes.TrimSpace(data)) > 0 {
		var err error
		if cfg, err = decode(bytes.NewReader(data)); err != nil {
			return nil, err
		}
	}
	ApplyEnv(cfg, lookup)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables onto cfg.
//
// A Foundry endpoint without an explicit provider name selects the "azure"
// provider; an OpenAI key alone selects "openai".
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	if lookup == nil {
		return
	}
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	llmCfg := &cfg.Providers.LLM
	if v, ok := get(EnvFoundryEndpoint); ok {
		llmCfg.BaseURL = v
		if llmCfg.Name == "" {
			llmCfg.Name = "azure"
		}
	}
	if v, ok := get(EnvFoundryDeployment); ok {
		llmCfg.Model = v
	}
	if v, ok := get(EnvFoundryAPIKey); ok {
		llmCfg.APIKey = v
	} else if v, ok := get(EnvOpenAIAPIKey); ok {
		llmCfg.APIKey = v
		if llmCfg.Name == "" {
			llmCfg.Name = "openai"
		}
	}

	if v, ok := get(EnvListenAddr); ok {
		cfg.Server.ListenAddr = v
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}
	if _, ok := get(EnvAppInsightsConnStr); ok {
		cfg.Telemetry.ExportOTLP = true
	}
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.LogFormat == "" {
		s.LogFormat = LogFormatText
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = DefaultRequestTimeout
	}
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}

	a := &cfg.Agent
	if a.Name == "" {
		a.Name = DefaultAgentName
	}
	if a.Instructions == "" {
		a.Instructions = DefaultInstructions
	}
	if a.MaxTurns == 0 {
		a.MaxTurns = DefaultMaxTurns
	}
	if a.MaxRepeatedCalls == 0 {
		a.MaxRepeatedCalls = DefaultMaxRepeatedCalls
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "calcagent"
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every failure and logs warnings for soft problems.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Agent
	if cfg.Agent.MaxTurns < 0 {
		errs = append(errs, fmt.Errorf("agent.max_turns must not be negative, got %d", cfg.Agent.MaxTurns))
	}
	if cfg.Agent.MaxRepeatedCalls < 0 {
		errs = append(errs, fmt.Errorf("agent.max_repeated_calls must not be negative, got %d", cfg.Agent.MaxRepeatedCalls))
	}
	if cfg.Agent.MaxPromptTokens < 0 {
		errs = append(errs, fmt.Errorf("agent.max_prompt_tokens must not be negative, got %d", cfg.Agent.MaxPromptTokens))
	}
	if t := cfg.Agent.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("agent.temperature %.2f is out of range [0, 2]", t))
	}

	// Providers
	errs = append(errs, validateProvider("providers.llm", cfg.Providers.LLM)...)
	for i, fb := range cfg.Providers.LLMFallbacks {
		prefix := fmt.Sprintf("providers.llm_fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		errs = append(errs, validateProvider(prefix, fb)...)
	}
	if cfg.Providers.LLM.Name == "" {
		if len(cfg.Providers.LLMFallbacks) > 0 {
			errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
		} else {
			slog.Warn("no LLM provider configured; /responses is disabled, tools remain available")
		}
	}

	return errors.Join(errs...)
}

func validateProvider(prefix string, e ProviderEntry) []error {
	if e.Name == "" {
		return nil
	}
	var errs []error
	if e.Model == "" {
		errs = append(errs, fmt.Errorf("%s.model is required", prefix))
	}
	if e.Name == "azure" && e.BaseURL == "" {
		errs = append(errs, fmt.Errorf("%s.base_url is required for azure", prefix))
	}
	if e.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%s.timeout must not be negative", prefix))
	}
	if !slices.Contains(ValidLLMProviders, e.Name) {
		slog.Warn("unknown provider name; may be a typo or third-party provider",
			"field", prefix,
			"name", e.Name,
			"known", ValidLLMProviders,
		)
	}
	return errs
}
