package qwenai

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	moderr "github.com/lizzyg/qwenai/errors"
	"github.com/lizzyg/qwenai/internal/core"
	"github.com/lizzyg/qwenai/internal/entry"
	"github.com/lizzyg/qwenai/internal/flow"
	"github.com/lizzyg/qwenai/internal/providers/retry"
)

const testKey = "sk-0123456789abcdefABCDEF0123456789"

// fakeEndpoints hands out one fake client per base URL.
type fakeEndpoints struct {
	mu       sync.Mutex
	clients  map[string]*fakeClient
	profiles []entry.Profile
}

func (f *fakeEndpoints) connect(p entry.Profile) chatClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles = append(f.profiles, p)
	c, ok := f.clients[p.BaseURL]
	if !ok {
		c = &fakeClient{models: []core.Model{{ID: "qwen-plus"}}}
		f.clients[p.BaseURL] = c
	}
	return c
}

func newTestIntegration(t *testing.T, logs *bytes.Buffer, entries ...entry.Entry) (*Integration, *fakeEndpoints) {
	t.Helper()
	fe := &fakeEndpoints{clients: map[string]*fakeClient{}}
	if logs == nil {
		logs = &bytes.Buffer{}
	}
	i := New(entry.NewMemoryStore(entries...),
		WithLogger(slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))),
		WithLLMAPI(entry.LLMAPIAssist, "Assist", &testTool{}),
	)
	i.connect = fe.connect
	return i, fe
}

func storedEntry(id, baseURL string, subs ...entry.Subentry) entry.Entry {
	return entry.Entry{
		ID:         id,
		Title:      "QwenAI",
		Data:       entry.Data{APIKey: testKey, BaseURL: baseURL},
		Subentries: subs,
	}
}

func TestSetupEntry_BuildsAgents(t *testing.T) {
	e := storedEntry("e1", entry.DefaultBaseURL,
		entry.Subentry{ID: "c1", Type: entry.TypeConversation, Model: "qwen-max", LLMAPIs: []string{entry.LLMAPIAssist}},
		entry.Subentry{ID: "c2", Type: entry.TypeConversation, Model: "qwen-plus"},
		entry.Subentry{ID: "t1", Type: entry.TypeAITaskData, Model: "qwen-plus"},
	)
	i, fe := newTestIntegration(t, nil, e)
	if err := i.SetupEntry(context.Background(), "e1"); err != nil {
		t.Fatal(err)
	}
	if !i.Loaded("e1") {
		t.Fatal("entry should be loaded")
	}
	if fe.clients[entry.DefaultBaseURL].lists != 1 {
		t.Fatal("setup should test the connection once")
	}

	c1, err := i.Conversation("e1", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if c1.Model() != "qwen-max" || len(c1.tools) != 1 {
		t.Fatalf("agent with assist API should get its tools: %+v", c1.tools)
	}
	c2, _ := i.Conversation("e1", "c2")
	if len(c2.tools) != 0 {
		t.Fatal("agent without LLM APIs gets no tools")
	}
	if _, err := i.AITask("e1", "t1"); err != nil {
		t.Fatal(err)
	}
	if _, err := i.AITask("e1", "c1"); !errors.Is(err, moderr.ErrSubentryNotFound) {
		t.Fatalf("conversation id is not a task: %v", err)
	}
	if _, err := i.Conversation("nope", "c1"); !errors.Is(err, moderr.ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}
}

func TestSetupEntry_Failures(t *testing.T) {
	tests := []struct {
		name    string
		entry   entry.Entry
		listErr error
		want    error
	}{
		{"bad key", entry.Entry{ID: "e", Data: entry.Data{APIKey: "short"}}, nil, moderr.ErrInvalidAPIKey},
		{"http url", storedEntry("e", "http://api.example.com/v1"), nil, moderr.ErrInvalidBaseURL},
		{"auth", storedEntry("e", ""), retry.NewHTTPStatusError(401, "denied", "qwen"), moderr.ErrAuth},
		{"rate limited", storedEntry("e", ""), retry.NewHTTPStatusError(429, "", "qwen"), moderr.ErrCannotConnect},
		{"server error", storedEntry("e", ""), retry.NewHTTPStatusError(503, "", "qwen"), moderr.ErrCannotConnect},
		{"timeout", storedEntry("e", ""), moderr.ErrTimeout, moderr.ErrCannotConnect},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i, fe := newTestIntegration(t, nil, tt.entry)
			fe.clients[tt.entry.BaseURL()] = &fakeClient{listErr: tt.listErr}
			err := i.SetupEntry(context.Background(), "e")
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if i.Loaded("e") {
				t.Fatal("failed entry must not be loaded")
			}
		})
	}
}

func TestSetupEntry_AuthErrorNotWrappedAsRetryable(t *testing.T) {
	i, fe := newTestIntegration(t, nil, storedEntry("e", ""))
	fe.clients[entry.DefaultBaseURL] = &fakeClient{listErr: retry.NewHTTPStatusError(401, "", "qwen")}
	err := i.SetupEntry(context.Background(), "e")
	if errors.Is(err, moderr.ErrCannotConnect) {
		t.Fatal("rejected credentials are permanent, not a connection problem")
	}
}

func TestSetupEntry_Missing(t *testing.T) {
	i, _ := newTestIntegration(t, nil)
	if err := i.SetupEntry(context.Background(), "ghost"); !errors.Is(err, moderr.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestSetupAll_ContinuesPastFailures(t *testing.T) {
	good1 := storedEntry("g1", "https://api.openai.com/v1")
	good2 := storedEntry("g2", "https://openrouter.ai/api/v1")
	bad := storedEntry("b", entry.DefaultBaseURL)
	bad.Title = "Broken"
	i, fe := newTestIntegration(t, nil, good1, good2, bad)
	fe.clients[entry.DefaultBaseURL] = &fakeClient{listErr: moderr.ErrCannotConnect}

	err := i.SetupAll(context.Background())
	if !errors.Is(err, moderr.ErrCannotConnect) || !strings.Contains(err.Error(), "Broken") {
		t.Fatalf("expected the failing entry to be reported, got %v", err)
	}
	if !i.Loaded("g1") || !i.Loaded("g2") || i.Loaded("b") {
		t.Fatal("healthy entries should load regardless of the failing one")
	}
}

func TestUnloadReloadRemove(t *testing.T) {
	e := storedEntry("e1", "", entry.Subentry{ID: "c1", Type: entry.TypeConversation, Model: "m"})
	i, fe := newTestIntegration(t, nil, e)
	ctx := context.Background()

	if err := i.UnloadEntry("e1"); !errors.Is(err, moderr.ErrNotLoaded) {
		t.Fatalf("unloading an unloaded entry: %v", err)
	}
	if err := i.ReloadEntry(ctx, "e1"); err != nil {
		t.Fatal(err)
	}
	if err := i.UnloadEntry("e1"); err != nil || i.Loaded("e1") {
		t.Fatalf("unload failed: %v", err)
	}
	if err := i.SetupEntry(ctx, "e1"); err != nil {
		t.Fatal(err)
	}

	if err := i.RemoveSubentry(ctx, "e1", "c1"); err != nil {
		t.Fatal(err)
	}
	if _, err := i.Conversation("e1", "c1"); !errors.Is(err, moderr.ErrSubentryNotFound) {
		t.Fatalf("removed agent should be gone after reload: %v", err)
	}
	if fe.clients[entry.DefaultBaseURL].lists != 3 {
		t.Fatalf("expected three connection tests, got %d", fe.clients[entry.DefaultBaseURL].lists)
	}
	if err := i.RemoveSubentry(ctx, "e1", "c1"); !errors.Is(err, moderr.ErrSubentryNotFound) {
		t.Fatalf("expected ErrSubentryNotFound, got %v", err)
	}

	if err := i.RemoveEntry(ctx, "e1"); err != nil {
		t.Fatal(err)
	}
	if i.Loaded("e1") {
		t.Fatal("removed entry still loaded")
	}
	if entries, _ := i.Entries(ctx); len(entries) != 0 {
		t.Fatalf("entry not deleted: %+v", entries)
	}
}

func TestModels(t *testing.T) {
	i, fe := newTestIntegration(t, nil, storedEntry("e1", ""))
	fe.clients[entry.DefaultBaseURL] = &fakeClient{models: []core.Model{{ID: "a"}, {ID: "b"}}}
	ms, err := i.Models(context.Background(), "e1")
	if err != nil || len(ms) != 2 {
		t.Fatalf("models of unloaded entry: %v %v", ms, err)
	}
	_ = i.SetupEntry(context.Background(), "e1")
	ms, err = i.Models(context.Background(), "e1")
	if err != nil || len(ms) != 2 {
		t.Fatalf("models of loaded entry: %v %v", ms, err)
	}
}

func TestRetryPolicyApplied(t *testing.T) {
	policy := retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Budget: 5 * time.Second}
	timeout := 12 * time.Second
	e := storedEntry("e1", "")
	e.Options.Timeout = timeout
	i, fe := newTestIntegration(t, nil, storedEntry("e0", ""), e)
	WithRetry(policy)(i)

	_ = i.SetupEntry(context.Background(), "e0")
	_ = i.SetupEntry(context.Background(), "e1")
	if got := fe.profiles[0].Retry; got.MaxAttempts != 2 || got.Budget != 5*time.Second {
		t.Fatalf("policy not applied: %+v", got)
	}
	if got := fe.profiles[1].Retry; got.MaxAttempts != 2 || got.Budget != timeout {
		t.Fatalf("entry timeout should set the budget: %+v", got)
	}
	// An explicit option equal to the default still wins over the policy.
	e2 := storedEntry("e2", "")
	e2.Options.Timeout = entry.DefaultTimeout
	i2, fe2 := newTestIntegration(t, nil, e2)
	WithRetry(policy)(i2)
	_ = i2.SetupEntry(context.Background(), "e2")
	if got := fe2.profiles[0].Retry; got.Budget != entry.DefaultTimeout {
		t.Fatalf("explicit %v timeout should set the budget, got %v", entry.DefaultTimeout, got.Budget)
	}
}

func TestFlowsThroughIntegration(t *testing.T) {
	var logs bytes.Buffer
	i, _ := newTestIntegration(t, &logs)
	ctx := context.Background()

	res, err := i.ConfigFlow().User(ctx, FlowInput{flow.KeyAPIKey: testKey})
	if err != nil || res.Type != flow.ResultCreateEntry {
		t.Fatalf("config flow: %+v %v", res, err)
	}
	id := res.EntryID

	form, err := i.SubentryFlow().User(ctx, id, entry.TypeConversation, nil)
	if err != nil {
		t.Fatal(err)
	}
	apis := form.Fields[2].Options
	if len(apis) != 1 || apis[0].Value != entry.LLMAPIAssist {
		t.Fatalf("registered LLM APIs should be offered: %+v", apis)
	}
	sub, err := i.SubentryFlow().User(ctx, id, entry.TypeConversation, FlowInput{
		flow.KeyModel:      "qwen-plus",
		flow.KeyLLMHassAPI: "assist",
	})
	if err != nil || sub.Type != flow.ResultCreateEntry {
		t.Fatalf("subentry flow: %+v %v", sub, err)
	}

	if err := i.SetupEntry(ctx, id); err != nil {
		t.Fatal(err)
	}
	c, err := i.Conversation(id, sub.SubentryID)
	if err != nil {
		t.Fatal(err)
	}
	if c.profile.MaxTokens != entry.DefaultMaxTokens {
		t.Fatalf("unexpected profile %+v", c.profile)
	}

	// Saving options reloads the loaded entry with the new values.
	if _, err := i.OptionsFlow().Init(ctx, id, FlowInput{flow.KeyMaxTokens: "300"}); err != nil {
		t.Fatal(err)
	}
	c, err = i.Conversation(id, sub.SubentryID)
	if err != nil {
		t.Fatal(err)
	}
	if c.profile.MaxTokens != 300 {
		t.Fatalf("options not applied after reload: %d", c.profile.MaxTokens)
	}

	if strings.Contains(logs.String(), testKey) {
		t.Fatal("api key leaked into logs")
	}
}

func TestEndToEndTurn(t *testing.T) {
	e := storedEntry("e1", "", entry.Subentry{ID: "c1", Type: entry.TypeConversation, Model: "qwen-plus", LLMAPIs: []string{"assist"}})
	i, fe := newTestIntegration(t, nil, e)
	fc := &fakeClient{
		models: []core.Model{{ID: "qwen-plus"}},
		responses: []core.RawResponse{
			{ToolCalls: []core.ToolCall{{CallID: "1", Name: "echo", Args: `{text: "lamp"}`}}},
			{Content: "Done."},
		},
	}
	fe.clients[entry.DefaultBaseURL] = fc
	if err := i.SetupEntry(context.Background(), "e1"); err != nil {
		t.Fatal(err)
	}
	c, _ := i.Conversation("e1", "c1")
	res, err := c.HandleTurn(context.Background(), userLog("turn on the lamp"))
	if err != nil {
		t.Fatal(err)
	}
	tool := c.tools[0].(*testTool)
	if res.Content != "Done." || tool.called != 1 || tool.got[0] != "lamp" {
		t.Fatalf("unexpected turn %+v, tool got %v", res, tool.got)
	}
}
