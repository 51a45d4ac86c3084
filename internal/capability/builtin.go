package capability

import "sync"

const (
	attributionReferer = "https://www.home-assistant.io/integrations/qwenai"
	attributionTitle   = "Home Assistant"
)

var all = Flags{StructuredOutput: true, ToolCalling: true, Vision: true}

// Qwen's compatible mode defaults to thinking on, which non-streaming calls
// reject; the flag has to travel in the request body.
var qwenAdapter = Adapter{
	ExtraBody:          map[string]any{"enable_thinking": false},
	RequireJSONKeyword: true,
}

func builtinProviders() []Provider {
	return []Provider{
		{Name: "qwen", DisplayName: "QwenAI", Prefix: "dashscope.aliyuncs.com/compatible-mode", Flags: all, Adapter: qwenAdapter},
		{Name: "qwen", DisplayName: "QwenAI", Prefix: "dashscope-intl.aliyuncs.com/compatible-mode", Flags: all, Adapter: qwenAdapter},
		{Name: "openai", DisplayName: "OpenAI", Prefix: "api.openai.com", Flags: all},
		{Name: "azure", DisplayName: "Azure OpenAI", Prefix: "*.openai.azure.com", Flags: all, Adapter: Adapter{AuthHeader: "api-key"}},
		{Name: "openrouter", DisplayName: "OpenRouter", Prefix: "openrouter.ai/api", Flags: all, Adapter: Adapter{
			Headers: map[string]string{"HTTP-Referer": attributionReferer, "X-Title": attributionTitle},
		}},
		{Name: "anthropic", DisplayName: "Anthropic", Prefix: "api.anthropic.com", Flags: Flags{ToolCalling: true, Vision: true}},
		{Name: "gemini", DisplayName: "Google Gemini", Prefix: "generativelanguage.googleapis.com/v1beta/openai", Flags: all},
		{Name: "deepseek", DisplayName: "DeepSeek", Prefix: "api.deepseek.com", Flags: Flags{ToolCalling: true}},
		{Name: "mistral", DisplayName: "Mistral", Prefix: "api.mistral.ai", Flags: Flags{StructuredOutput: true, ToolCalling: true}},
		{Name: "groq", DisplayName: "Groq", Prefix: "api.groq.com/openai", Flags: Flags{ToolCalling: true}},
		{Name: "together", DisplayName: "Together AI", Prefix: "api.together.xyz", Flags: Flags{StructuredOutput: true, ToolCalling: true}},
		{Name: "ollama", DisplayName: "Ollama", Prefix: "localhost:11434", Flags: Flags{StructuredOutput: true, ToolCalling: true}},
		{Name: "ollama", DisplayName: "Ollama", Prefix: "127.0.0.1:11434", Flags: Flags{StructuredOutput: true, ToolCalling: true}},
		{Name: "lmstudio", DisplayName: "LM Studio", Prefix: "localhost:1234", Flags: Flags{StructuredOutput: true, ToolCalling: true}},
	}
}

var (
	defaultOnce  sync.Once
	defaultTable *Table
)

// Default returns the built-in table.
func Default() *Table {
	defaultOnce.Do(func() { defaultTable = New(builtinProviders()...) })
	return defaultTable
}
