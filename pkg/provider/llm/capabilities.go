package llm

import "strings"

// capabilityRule matches a model family by name. Rules are checked in order,
// so more specific prefixes come first.
type capabilityRule struct {
	match func(lower string) bool
	caps  ModelCapabilities
}

func prefix(p string) func(string) bool {
	return func(s string) bool { return strings.HasPrefix(s, p) }
}

func contains(subs ...string) func(string) bool {
	return func(s string) bool {
		for _, sub := range subs {
			if strings.Contains(s, sub) {
				return true
			}
		}
		return false
	}
}

func caps(window, output int, tools, vision bool) ModelCapabilities {
	return ModelCapabilities{
		ContextWindow:       window,
		MaxOutputTokens:     output,
		SupportsToolCalling: tools,
		SupportsVision:      vision,
		SupportsStreaming:   true,
	}
}

var capabilityRules = []capabilityRule{
	// OpenAI.
	{prefix("gpt-4.1"), caps(1_047_576, 32_768, true, true)},
	{prefix("gpt-4o-mini"), caps(128_000, 16_384, true, true)},
	{prefix("gpt-4o"), caps(128_000, 16_384, true, true)},
	{prefix("gpt-4-turbo"), caps(128_000, 4_096, true, true)},
	{prefix("gpt-4"), caps(8_192, 4_096, true, false)},
	{prefix("gpt-3.5-turbo"), caps(16_385, 4_096, true, false)},
	{prefix("o1-mini"), caps(128_000, 65_536, false, false)},
	{prefix("o1"), caps(200_000, 100_000, true, true)},
	{prefix("o3-mini"), caps(200_000, 100_000, true, false)},
	{prefix("o3"), caps(200_000, 100_000, true, true)},

	// Anthropic.
	{contains("claude-3-opus"), caps(200_000, 4_096, true, true)},
	{prefix("claude"), caps(200_000, 8_192, true, true)},

	// Google.
	{contains("gemini-1.5-pro"), caps(2_097_152, 8_192, true, true)},
	{contains("gemini-2.0-flash", "gemini-1.5-flash"), caps(1_048_576, 8_192, true, true)},
	{prefix("gemini"), caps(128_000, 8_192, true, true)},
}

// CapabilitiesFor returns the capabilities of a known model family. Matching
// is case-insensitive; unknown models get a tool-calling, streaming default
// with a 128k context window.
func CapabilitiesFor(model string) ModelCapabilities {
	lower := strings.ToLower(model)
	for _, r := range capabilityRules {
		if r.match(lower) {
			return r.caps
		}
	}
	return caps(128_000, 4_096, true, false)
}

// EstimateTokens approximates the prompt size of messages at roughly four
// characters per token plus a fixed per-message overhead.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
		for _, tc := range m.ToolCalls {
			total += (len(tc.Name) + len(tc.Arguments) + 3) / 4
		}
	}
	return total
}
