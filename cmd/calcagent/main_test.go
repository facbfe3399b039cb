package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/calcagent/internal/config"
	"github.com/MrWong99/calcagent/internal/observe"
	"github.com/MrWong99/calcagent/internal/resilience"
	"github.com/MrWong99/calcagent/pkg/provider/llm"
	"github.com/MrWong99/calcagent/pkg/provider/llm/mock"
)

func mockRegistry(names ...string) *config.Registry {
	reg := config.NewRegistry()
	for _, n := range names {
		reg.RegisterLLM(n, func(config.ProviderEntry) (llm.Provider, error) { return &mock.Provider{}, nil })
	}
	return reg
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	names := reg.LLMNames()
	for _, want := range config.ValidLLMProviders {
		if !slices.Contains(names, want) {
			t.Errorf("provider %q not registered", want)
		}
	}
}

func TestRegisterBuiltinProviders_Azure(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	p, err := reg.CreateLLM(config.ProviderEntry{
		Name:    "azure",
		APIKey:  "secret",
		BaseURL: "https://proj.services.ai.azure.com/openai/deployments/gpt-4o-mini",
		Model:   "gpt-4o-mini",
	})
	if err != nil {
		t.Fatalf("CreateLLM(azure): %v", err)
	}
	if p == nil {
		t.Fatal("CreateLLM(azure) returned nil provider")
	}

	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "openai", Model: "gpt-4o"}); err == nil {
		t.Error("openai without an API key should fail")
	}
}

func TestBuildProviders_NoLLM(t *testing.T) {
	t.Parallel()

	ps, err := buildProviders(&config.Config{}, mockRegistry(), observe.DefaultMetrics())
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if ps.LLM != nil {
		t.Errorf("LLM = %v, want nil", ps.LLM)
	}
}

func TestBuildProviders_WithFallbacks(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Providers: config.ProvidersConfig{
		LLM: config.ProviderEntry{Name: "azure", Model: "gpt-4o"},
		LLMFallbacks: []config.ProviderEntry{
			{Name: "ollama", Model: "llama3.2"},
			{Name: "not-built-in", Model: "x"},
		},
	}}

	ps, err := buildProviders(cfg, mockRegistry("azure", "ollama"), observe.DefaultMetrics())
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	fb, ok := ps.LLM.(*resilience.LLMFallback)
	if !ok {
		t.Fatalf("LLM is %T, want *resilience.LLMFallback", ps.LLM)
	}

	var names []string
	for _, h := range fb.Health() {
		names = append(names, h.Name)
	}
	if !slices.Equal(names, []string{"azure", "ollama"}) {
		t.Errorf("backends = %v", names)
	}
}

func TestBuildProviders_PrimaryErrors(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Providers: config.ProvidersConfig{
		LLM: config.ProviderEntry{Name: "nope", Model: "m"},
	}}
	_, err := buildProviders(cfg, mockRegistry(), observe.DefaultMetrics())
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	var lv slog.LevelVar
	lv.Set(slog.LevelWarn)

	var buf bytes.Buffer
	log := newLogger(&buf, config.LogFormatJSON, &lv)
	log.Info("hidden")
	log.Warn("shown", "tool", "add")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["msg"] != "shown" || rec["tool"] != "add" {
		t.Errorf("record = %v", rec)
	}

	buf.Reset()
	lv.Set(slog.LevelDebug)
	log.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Error("level change through the LevelVar was not applied")
	}
}

func TestPrintStartupSummary(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Providers.LLM = config.ProviderEntry{Name: "azure", Model: "gpt-4o-mini"}

	var buf bytes.Buffer
	printStartupSummary(&buf, cfg)
	out := buf.String()
	for _, want := range []string{"azure / gpt-4o-mini", "CalculatorAgent", "/mcp", ":8088"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestProviderLabel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   config.ProviderEntry
		want string
	}{
		{config.ProviderEntry{}, "(not configured)"},
		{config.ProviderEntry{Name: "ollama"}, "ollama"},
		{config.ProviderEntry{Name: "openai", Model: "gpt-4o"}, "openai / gpt-4o"},
	}
	for _, tt := range tests {
		if got := providerLabel(tt.in); got != tt.want {
			t.Errorf("providerLabel(%+v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
