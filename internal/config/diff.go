package config

import "slices"

// ConfigDiff describes what changed between two configs. Only fields that can
// be applied without a restart are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AgentChanged is true when any [AgentConfig] field differs; the agent is
	// rebuilt from the new values.
	AgentChanged bool

	// RestartRequired lists top-level sections that changed but only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.AgentChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.AgentChanged = old.Agent != new.Agent

	if !sameServer(old.Server, new.Server) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.MCP != new.MCP {
		d.RestartRequired = append(d.RestartRequired, "mcp")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}

// sameServer compares everything but the hot-reloadable log level.
func sameServer(a, b ServerConfig) bool {
	a.LogLevel, b.LogLevel = "", ""
	if !slices.Equal(a.CORSAllowedOrigins, b.CORSAllowedOrigins) {
		return false
	}
	a.CORSAllowedOrigins, b.CORSAllowedOrigins = nil, nil
	tlsA, tlsB := a.TLS, b.TLS
	a.TLS, b.TLS = nil, nil
	if a != b {
		return false
	}
	switch {
	case tlsA == nil || tlsB == nil:
		return tlsA == tlsB
	default:
		return *tlsA == *tlsB
	}
}

func sameProviders(a, b ProvidersConfig) bool {
	if a.CircuitBreaker != b.CircuitBreaker || len(a.LLMFallbacks) != len(b.LLMFallbacks) {
		return false
	}
	if !sameEntry(a.LLM, b.LLM) {
		return false
	}
	for i := range a.LLMFallbacks {
		if !sameEntry(a.LLMFallbacks[i], b.LLMFallbacks[i]) {
			return false
		}
	}
	return true
}

// sameEntry compares provider entries; Options are compared shallowly.
func sameEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL ||
		a.Model != b.Model || a.Timeout != b.Timeout || len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		w, ok := b.Options[k]
		if !ok || !comparableEqual(v, w) {
			return false
		}
	}
	return true
}

// comparableEqual compares YAML scalars; nested maps and slices count as
// changed.
func comparableEqual(a, b any) bool {
	switch a.(type) {
	case map[string]any, []any:
		return false
	}
	switch b.(type) {
	case map[string]any, []any:
		return false
	}
	return a == b
}
