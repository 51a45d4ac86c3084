// Package entry holds configured connections (entries), the agents configured
// under them (subentries), and their persistence.
package entry

import (
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/lizzyg/qwenai/internal/providers/retry"
	"github.com/lizzyg/qwenai/internal/secret"
)

const (
	DefaultBaseURL     = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	DefaultTitle       = "QwenAI"
	DefaultMaxTokens   = 1024
	DefaultTemperature = float32(0.7)
	DefaultTopP        = float32(1.0)
	DefaultTimeout     = 30 * time.Second
)

type SubentryType string

const (
	TypeConversation SubentryType = "conversation"
	TypeAITaskData   SubentryType = "ai_task_data"
)

// Valid reports whether t is a known subentry type.
func (t SubentryType) Valid() bool {
	return t == TypeConversation || t == TypeAITaskData
}

// Data is what the user entered when the entry was created.
type Data struct {
	APIKey  secret.Secret `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	// AllowLocal permits plain http to a local or private-network host.
	AllowLocal bool `yaml:"allow_local,omitempty"`
}

// Options are editable after creation and take precedence over Data.
type Options struct {
	BaseURL     string        `yaml:"base_url,omitempty"`
	MaxTokens   int           `yaml:"max_tokens,omitempty"`
	Temperature *float32      `yaml:"temperature,omitempty"`
	TopP        float32       `yaml:"top_p,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
}

type Subentry struct {
	ID    string       `yaml:"id"`
	Type  SubentryType `yaml:"type"`
	Title string       `yaml:"title"`
	Model string       `yaml:"model"`
	// Prompt is extra system instructions for conversation agents.
	Prompt string `yaml:"prompt,omitempty"`
	// LLMAPIs names the tool sets exposed to the agent.
	LLMAPIs     []string `yaml:"llm_apis,omitempty"`
	Recommended bool     `yaml:"recommended,omitempty"`
}

type Entry struct {
	ID         string     `yaml:"id"`
	Title      string     `yaml:"title"`
	Data       Data       `yaml:"data"`
	Options    Options    `yaml:"options,omitempty"`
	Subentries []Subentry `yaml:"subentries,omitempty"`
	CreatedAt  time.Time  `yaml:"created_at"`
}

// NewID returns a fresh identifier for an entry or subentry.
func NewID() string { return uuid.NewString() }

// BaseURL returns the effective base URL: options, then data, then the default.
func (e Entry) BaseURL() string {
	switch {
	case e.Options.BaseURL != "":
		return e.Options.BaseURL
	case e.Data.BaseURL != "":
		return e.Data.BaseURL
	}
	return DefaultBaseURL
}

// Subentry returns the subentry with the given id.
func (e Entry) Subentry(id string) (Subentry, bool) {
	for _, s := range e.Subentries {
		if s.ID == id {
			return s, true
		}
	}
	return Subentry{}, false
}

// SubentriesOf returns the subentries of one type, in creation order.
func (e Entry) SubentriesOf(t SubentryType) []Subentry {
	var out []Subentry
	for _, s := range e.Subentries {
		if s.Type == t {
			out = append(out, s)
		}
	}
	return out
}

// Clone returns a copy that shares no slices or pointers with e.
func (e Entry) Clone() Entry {
	c := e
	if e.Options.Temperature != nil {
		t := *e.Options.Temperature
		c.Options.Temperature = &t
	}
	c.Subentries = make([]Subentry, len(e.Subentries))
	for i, s := range e.Subentries {
		s.LLMAPIs = slices.Clone(s.LLMAPIs)
		c.Subentries[i] = s
	}
	if e.Subentries == nil {
		c.Subentries = nil
	}
	return c
}

// LogValue keeps the key out of logs while identifying the entry.
func (e Entry) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("entry_id", e.ID),
		slog.String("title", e.Title),
		slog.String("base_url", e.BaseURL()),
		slog.Int("subentries", len(e.Subentries)),
	)
}

// Profile is everything needed to talk to one model on one endpoint. It is
// read-only once built and may be shared between goroutines.
type Profile struct {
	BaseURL     string
	APIKey      secret.Secret
	AllowLocal  bool
	Model       string
	MaxTokens   int
	Temperature float32
	TopP        float32
	Timeout     time.Duration
	// TimeoutSet reports that Timeout comes from the entry's options rather
	// than the default.
	TimeoutSet bool
	Retry      retry.Config
}

// Profile resolves the effective connection profile for a subentry. Missing
// options fall back to the defaults.
func (e Entry) Profile(sub Subentry) Profile {
	p := Profile{
		BaseURL:     e.BaseURL(),
		APIKey:      e.Data.APIKey,
		AllowLocal:  e.Data.AllowLocal,
		Model:       sub.Model,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
		TopP:        DefaultTopP,
		Timeout:     DefaultTimeout,
		Retry:       retry.DefaultConfig(),
	}
	if e.Options.MaxTokens > 0 {
		p.MaxTokens = e.Options.MaxTokens
	}
	if e.Options.Temperature != nil {
		p.Temperature = *e.Options.Temperature
	}
	if e.Options.TopP > 0 {
		p.TopP = e.Options.TopP
	}
	if e.Options.Timeout > 0 {
		p.Timeout = e.Options.Timeout
		p.TimeoutSet = true
		p.Retry.Budget = e.Options.Timeout
	}
	return p
}

func (p Profile) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("base_url", p.BaseURL),
		slog.String("model", p.Model),
		slog.Duration("timeout", p.Timeout),
	)
}
