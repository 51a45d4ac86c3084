package flow

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	moderr "github.com/lizzyg/qwenai/errors"
	"github.com/lizzyg/qwenai/internal/core"
	"github.com/lizzyg/qwenai/internal/entry"
	"github.com/lizzyg/qwenai/internal/providers/retry"
	"github.com/lizzyg/qwenai/internal/secret"
)

const goodKey = "sk-0123456789abcdefABCDEF0123456789"

type fakeLister struct {
	models []core.Model
	err    error
	calls  int
	seen   []entry.Profile
}

func (f *fakeLister) connector() Connector {
	return func(p entry.Profile) core.ModelLister {
		f.seen = append(f.seen, p)
		return f
	}
}

func (f *fakeLister) ListModels(ctx context.Context) ([]core.Model, error) {
	f.calls++
	return f.models, f.err
}

func newDeps(l *fakeLister, logs *bytes.Buffer) Deps {
	d := Deps{
		Store:   entry.NewMemoryStore(),
		Connect: l.connector(),
		LLMAPIs: []Option{{Value: entry.LLMAPIAssist, Label: "Assist"}},
	}
	if logs != nil {
		d.Logger = slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return d
}

func TestConfigFlow_ShowsForm(t *testing.T) {
	f := NewConfigFlow(newDeps(&fakeLister{}, nil))
	res, err := f.User(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Type != ResultForm || res.StepID != "user" {
		t.Fatalf("expected user form, got %+v", res)
	}
	if res.Fields[1].Key != KeyBaseURL || res.Fields[1].Default != entry.DefaultBaseURL {
		t.Fatalf("base url should default to dashscope: %+v", res.Fields[1])
	}
}

func TestConfigFlow_CreatesEntry(t *testing.T) {
	l := &fakeLister{models: []core.Model{{ID: "qwen-plus"}}}
	d := newDeps(l, nil)
	res, err := NewConfigFlow(d).User(context.Background(), Input{KeyAPIKey: goodKey})
	if err != nil {
		t.Fatal(err)
	}
	if res.Type != ResultCreateEntry || res.Title != "QwenAI" {
		t.Fatalf("expected QwenAI entry, got %+v", res)
	}
	e, err := d.Store.Get(context.Background(), res.EntryID)
	if err != nil {
		t.Fatal(err)
	}
	if e.Data.APIKey.Reveal() != goodKey || e.Data.BaseURL != entry.DefaultBaseURL {
		t.Fatalf("entry data wrong: %+v", e.Data)
	}
	if l.calls != 1 || l.seen[0].APIKey.Reveal() != goodKey {
		t.Fatal("connection was not tested with the entered key")
	}
}

func TestConfigFlow_TitleFromProvider(t *testing.T) {
	d := newDeps(&fakeLister{}, nil)
	res, _ := NewConfigFlow(d).User(context.Background(), Input{KeyAPIKey: goodKey, KeyBaseURL: "https://openrouter.ai/api/v1"})
	if res.Title != "OpenRouter" {
		t.Fatalf("expected provider title, got %q", res.Title)
	}
}

func TestConfigFlow_AlreadyConfigured(t *testing.T) {
	l := &fakeLister{}
	d := newDeps(l, nil)
	_ = d.Store.Put(context.Background(), entry.Entry{ID: "x", Data: entry.Data{APIKey: goodKey}})
	res, err := NewConfigFlow(d).User(context.Background(), Input{KeyAPIKey: goodKey})
	if err != nil {
		t.Fatal(err)
	}
	if res.Type != ResultAbort || res.Reason != CodeAlreadyConfigured {
		t.Fatalf("expected already_configured abort, got %+v", res)
	}
	if l.calls != 0 {
		t.Fatal("duplicate key must abort before any network call")
	}
}

func TestConfigFlow_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		input Input
		field string
		code  string
	}{
		{"short key", Input{KeyAPIKey: "short"}, KeyAPIKey, CodeInvalidAPIKey},
		{"http base url", Input{KeyAPIKey: goodKey, KeyBaseURL: "http://api.example.com/v1"}, KeyBaseURL, CodeInvalidBaseURL},
		{"http without override", Input{KeyAPIKey: goodKey, KeyBaseURL: "http://localhost:11434/v1"}, KeyBaseURL, CodeInvalidBaseURL},
		{"public http with override", Input{KeyAPIKey: goodKey, KeyBaseURL: "http://api.example.com/v1", KeyAllowLocal: true}, KeyBaseURL, CodeInvalidBaseURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &fakeLister{}
			res, err := NewConfigFlow(newDeps(l, nil)).User(context.Background(), tt.input)
			if err != nil {
				t.Fatal(err)
			}
			if res.Type != ResultForm || res.Errors[tt.field] != tt.code {
				t.Fatalf("expected %s=%s, got %+v", tt.field, tt.code, res)
			}
			if l.calls != 0 {
				t.Fatal("invalid input must not reach the network")
			}
		})
	}
}

func TestConfigFlow_LocalOverride(t *testing.T) {
	l := &fakeLister{}
	d := newDeps(l, nil)
	res, err := NewConfigFlow(d).User(context.Background(), Input{
		KeyAPIKey:     "ollama",
		KeyBaseURL:    "http://localhost:11434/v1",
		KeyAllowLocal: "true",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Type != ResultCreateEntry || res.Title != "Ollama" {
		t.Fatalf("local override should accept a placeholder key over http: %+v", res)
	}
}

func TestConfigFlow_ConnectionErrors(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{retry.NewHTTPStatusError(401, "bad key", "qwen"), CodeInvalidAuth},
		{retry.NewHTTPStatusError(429, "slow", "qwen"), CodeRateLimit},
		{retry.NewHTTPStatusError(503, "down", "qwen"), CodeCannotConnect},
		{moderr.ErrTimeout, CodeCannotConnect},
		{moderr.ErrCannotConnect, CodeCannotConnect},
		{errors.New("boom"), CodeUnknown},
	}
	for _, tt := range tests {
		res, err := NewConfigFlow(newDeps(&fakeLister{err: tt.err}, nil)).User(context.Background(), Input{KeyAPIKey: goodKey})
		if err != nil {
			t.Fatal(err)
		}
		if res.Type != ResultForm || res.Errors[BaseError] != tt.code {
			t.Errorf("%v: expected base=%s, got %+v", tt.err, tt.code, res)
		}
	}
}

func TestConfigFlow_KeyNeverLogged(t *testing.T) {
	var logs bytes.Buffer
	failing := &fakeLister{err: errors.New("upstream said: Incorrect API key " + goodKey)}
	for _, in := range []Input{
		{KeyAPIKey: goodKey},
		{KeyAPIKey: goodKey, KeyBaseURL: "http://example.com"},
	} {
		_, _ = NewConfigFlow(newDeps(failing, &logs)).User(context.Background(), in)
	}
	_, _ = NewConfigFlow(newDeps(&fakeLister{}, &logs)).User(context.Background(), Input{KeyAPIKey: goodKey})
	if logs.Len() == 0 {
		t.Fatal("expected some logging")
	}
	if strings.Contains(logs.String(), goodKey) {
		t.Fatalf("api key leaked into logs: %s", logs.String())
	}
}

func TestConfigFlow_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewConfigFlow(newDeps(&fakeLister{err: context.Canceled}, nil)).User(ctx, Input{KeyAPIKey: goodKey})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to surface, got %v", err)
	}
}

func seededDeps(t *testing.T, l *fakeLister, baseURL string) (Deps, string) {
	t.Helper()
	d := newDeps(l, nil)
	e := entry.Entry{ID: entry.NewID(), Title: "QwenAI", Data: entry.Data{APIKey: secret.Secret(goodKey), BaseURL: baseURL}}
	if err := d.Store.Put(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	return d, e.ID
}

func TestSubentryFlow_Conversation(t *testing.T) {
	l := &fakeLister{models: []core.Model{{ID: "qwen-max"}, {ID: "qwen-plus"}}}
	d, id := seededDeps(t, l, entry.DefaultBaseURL)
	f := NewSubentryFlow(d)

	res, err := f.User(context.Background(), id, entry.TypeConversation, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Type != ResultForm || len(res.Fields) != 4 {
		t.Fatalf("expected conversation form, got %+v", res)
	}
	if opts := res.Fields[0].Options; len(opts) != 2 || opts[0].Value != "qwen-max" {
		t.Fatalf("models not offered: %+v", opts)
	}
	if res.Fields[1].Suggested != entry.EnhancedInstructionsPrompt {
		t.Fatal("enhanced prompt should be suggested")
	}

	res, err = f.User(context.Background(), id, entry.TypeConversation, Input{
		KeyModel:      "qwen-plus",
		KeyLLMHassAPI: []any{"assist", ""},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Type != ResultCreateEntry || res.Title != "qwen-plus" {
		t.Fatalf("expected subentry titled by model, got %+v", res)
	}
	e, _ := d.Store.Get(context.Background(), id)
	sub, ok := e.Subentry(res.SubentryID)
	if !ok {
		t.Fatal("subentry not stored")
	}
	if sub.Type != entry.TypeConversation || !sub.Recommended || len(sub.LLMAPIs) != 1 {
		t.Fatalf("unexpected subentry %+v", sub)
	}
	if sub.SystemPrompt() != entry.EnhancedInstructionsPrompt {
		t.Fatal("recommended agent without prompt should use the enhanced prompt")
	}
}

func TestSubentryFlow_AITaskNotesCapability(t *testing.T) {
	l := &fakeLister{models: []core.Model{{ID: "deepseek-chat"}}}
	d, id := seededDeps(t, l, "https://api.deepseek.com/v1")
	res, err := NewSubentryFlow(d).User(context.Background(), id, entry.TypeAITaskData, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Fields) != 1 || res.Fields[0].Options[0].Note != "json_repair" {
		t.Fatalf("endpoint without structured output should be flagged: %+v", res.Fields)
	}

	res, _ = NewSubentryFlow(d).User(context.Background(), id, entry.TypeAITaskData, Input{KeyModel: "deepseek-chat"})
	e, _ := d.Store.Get(context.Background(), id)
	sub, _ := e.Subentry(res.SubentryID)
	if sub.Type != entry.TypeAITaskData || sub.Recommended || sub.Prompt != "" {
		t.Fatalf("ai task subentry should carry only the model: %+v", sub)
	}
}

func TestSubentryFlow_UsesOptionsBaseURL(t *testing.T) {
	l := &fakeLister{}
	d, id := seededDeps(t, l, entry.DefaultBaseURL)
	e, _ := d.Store.Get(context.Background(), id)
	e.Options.BaseURL = "https://api.openai.com/v1"
	_ = d.Store.Put(context.Background(), e)

	_, _ = NewSubentryFlow(d).User(context.Background(), id, entry.TypeConversation, nil)
	if len(l.seen) != 1 || l.seen[0].BaseURL != "https://api.openai.com/v1" {
		t.Fatalf("model listing should use the options base url: %+v", l.seen)
	}
}

func TestSubentryFlow_Errors(t *testing.T) {
	d, id := seededDeps(t, &fakeLister{err: moderr.ErrCannotConnect}, entry.DefaultBaseURL)
	res, err := NewSubentryFlow(d).User(context.Background(), id, entry.TypeConversation, nil)
	if err != nil || res.Type != ResultAbort || res.Reason != CodeCannotConnect {
		t.Fatalf("expected cannot_connect abort, got %+v %v", res, err)
	}
	if _, err := NewSubentryFlow(d).User(context.Background(), "missing", entry.TypeConversation, nil); !errors.Is(err, moderr.ErrEntryNotFound) {
		t.Fatalf("expected entry not found, got %v", err)
	}
	if _, err := NewSubentryFlow(d).User(context.Background(), id, "bogus", nil); err == nil {
		t.Fatal("unknown subentry type must fail")
	}

	d2, id2 := seededDeps(t, &fakeLister{models: []core.Model{{ID: "m"}}}, entry.DefaultBaseURL)
	res, _ = NewSubentryFlow(d2).User(context.Background(), id2, entry.TypeConversation, Input{KeyPrompt: "hi"})
	if res.Type != ResultForm || res.Errors[KeyModel] != CodeRequired {
		t.Fatalf("missing model should re-show the form: %+v", res)
	}
}

func TestOptionsFlow(t *testing.T) {
	d, id := seededDeps(t, &fakeLister{}, entry.DefaultBaseURL)
	var reloaded []string
	d.OnUpdate = func(ctx context.Context, entryID string) error {
		reloaded = append(reloaded, entryID)
		return nil
	}
	f := NewOptionsFlow(d)

	res, err := f.Init(context.Background(), id, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.StepID != "init" || res.Fields[0].Default != entry.DefaultBaseURL || res.Fields[1].Default != 1024 {
		t.Fatalf("form should be pre-filled with current values: %+v", res.Fields)
	}

	res, err = f.Init(context.Background(), id, Input{
		KeyBaseURL:     "https://openrouter.ai/api/v1",
		KeyMaxTokens:   "2048",
		KeyTemperature: 0.0,
		KeyTimeout:     "45s",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Type != ResultCreateEntry {
		t.Fatalf("expected options saved, got %+v", res)
	}
	e, _ := d.Store.Get(context.Background(), id)
	p := e.Profile(entry.Subentry{})
	if p.BaseURL != "https://openrouter.ai/api/v1" || p.MaxTokens != 2048 || p.Temperature != 0 || p.TopP != 1 {
		t.Fatalf("options not applied: %+v", p)
	}
	if p.Timeout.String() != "45s" {
		t.Fatalf("timeout not applied: %v", p.Timeout)
	}
	if e.Data.BaseURL != entry.DefaultBaseURL {
		t.Fatal("options must not rewrite entry data")
	}
	if len(reloaded) != 1 || reloaded[0] != id {
		t.Fatalf("update listener not called: %v", reloaded)
	}
}

func TestOptionsFlow_Invalid(t *testing.T) {
	d, id := seededDeps(t, &fakeLister{}, entry.DefaultBaseURL)
	tests := []struct {
		in    Input
		field string
	}{
		{Input{KeyBaseURL: "ftp://example.com"}, KeyBaseURL},
		{Input{KeyMaxTokens: "lots"}, KeyMaxTokens},
		{Input{KeyTemperature: 3.5}, BaseError},
		{Input{KeyTopP: 0}, BaseError},
		{Input{KeyTimeout: "-1s"}, KeyTimeout},
	}
	for _, tt := range tests {
		res, err := NewOptionsFlow(d).Init(context.Background(), id, tt.in)
		if err != nil {
			t.Fatal(err)
		}
		if res.Type != ResultForm || res.Errors[tt.field] == "" {
			t.Errorf("%v: expected error on %s, got %+v", tt.in, tt.field, res)
		}
	}
	e, _ := d.Store.Get(context.Background(), id)
	if e.Options.MaxTokens != 0 || e.Options.BaseURL != "" {
		t.Fatalf("invalid options must not be stored: %+v", e.Options)
	}
}

// racingStore runs edit once, right after the first Get, to stand in for
// another flow saving the same entry in between.
type racingStore struct {
	entry.Store
	edit func()
}

func (s *racingStore) Get(ctx context.Context, id string) (entry.Entry, error) {
	e, err := s.Store.Get(ctx, id)
	if s.edit != nil {
		edit := s.edit
		s.edit = nil
		edit()
	}
	return e, err
}

func TestFlows_InterleavedEditsKeepBoth(t *testing.T) {
	ctx := context.Background()
	l := &fakeLister{}

	t.Run("options_after_subentry", func(t *testing.T) {
		d, id := seededDeps(t, l, entry.DefaultBaseURL)
		inner := d.Store
		rs := &racingStore{Store: inner}
		rs.edit = func() {
			res, err := NewSubentryFlow(Deps{Store: inner, Connect: l.connector()}).User(ctx, id, entry.TypeAITaskData, Input{KeyModel: "qwen-max"})
			if err != nil || res.Type != ResultCreateEntry {
				t.Errorf("concurrent subentry: %+v %v", res, err)
			}
		}
		d.Store = rs

		if _, err := NewOptionsFlow(d).Init(ctx, id, Input{KeyMaxTokens: "300"}); err != nil {
			t.Fatal(err)
		}
		e, _ := inner.Get(ctx, id)
		if len(e.Subentries) != 1 || e.Options.MaxTokens != 300 {
			t.Fatalf("an edit was lost: subentries=%d max_tokens=%d", len(e.Subentries), e.Options.MaxTokens)
		}
	})

	t.Run("subentry_after_options", func(t *testing.T) {
		d, id := seededDeps(t, l, entry.DefaultBaseURL)
		inner := d.Store
		rs := &racingStore{Store: inner}
		rs.edit = func() {
			res, err := NewOptionsFlow(Deps{Store: inner}).Init(ctx, id, Input{KeyTopP: "0.5"})
			if err != nil || res.Type != ResultCreateEntry {
				t.Errorf("concurrent options: %+v %v", res, err)
			}
		}
		d.Store = rs

		if _, err := NewSubentryFlow(d).User(ctx, id, entry.TypeConversation, Input{KeyModel: "qwen-plus"}); err != nil {
			t.Fatal(err)
		}
		e, _ := inner.Get(ctx, id)
		if len(e.Subentries) != 1 || e.Options.TopP != 0.5 {
			t.Fatalf("an edit was lost: subentries=%d top_p=%v", len(e.Subentries), e.Options.TopP)
		}
	})
}

func TestInputHelpers(t *testing.T) {
	in := Input{"s": "  x ", "b": "yes", "t": true, "i": 3.0, "f": "0.5", "l": "a, b,,c", "blank": "  "}
	if in.Text("s") != "x" || !in.Bool("t") || in.Bool("b") {
		t.Fatal("text/bool conversion wrong")
	}
	if v, err := in.Int("i"); err != nil || v != 3 {
		t.Fatalf("int conversion: %v %v", v, err)
	}
	if v, err := in.Float("f"); err != nil || v != 0.5 {
		t.Fatalf("float conversion: %v %v", v, err)
	}
	if got := in.Strings("l"); len(got) != 3 || got[2] != "c" {
		t.Fatalf("strings conversion: %v", got)
	}
	if in.Has("blank") || in.Has("missing") || !in.Has("t") {
		t.Fatal("Has wrong")
	}
}
