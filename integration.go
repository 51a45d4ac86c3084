package qwenai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	moderr "github.com/lizzyg/qwenai/errors"
	"github.com/lizzyg/qwenai/internal/capability"
	"github.com/lizzyg/qwenai/internal/config"
	"github.com/lizzyg/qwenai/internal/core"
	"github.com/lizzyg/qwenai/internal/entry"
	"github.com/lizzyg/qwenai/internal/flow"
	"github.com/lizzyg/qwenai/internal/providers"
	"github.com/lizzyg/qwenai/internal/providers/openai"
	"github.com/lizzyg/qwenai/internal/providers/retry"
	"github.com/lizzyg/qwenai/internal/validate"
)

type (
	FlowInput  = flow.Input
	FlowResult = flow.Result
	Entry      = entry.Entry
	Subentry   = entry.Subentry
	Model      = core.Model
)

// chatClient is what an entry needs from its endpoint.
type chatClient interface {
	core.RawClient
	core.ModelLister
}

type llmAPI struct {
	id    string
	label string
	tools []Tool
}

type loadedEntry struct {
	entry         entry.Entry
	client        chatClient
	conversations map[string]*Conversation
	tasks         map[string]*AITask
}

// Integration manages entries and the agents of the loaded ones. It is safe
// for concurrent use.
type Integration struct {
	store             entry.Store
	table             *capability.Table
	httpClient        *http.Client
	limiter           *semaphore.Weighted
	logger            *slog.Logger
	retry             *retry.Config
	maxToolIterations int
	setupConcurrency  int
	apis              []llmAPI
	connect           func(entry.Profile) chatClient

	mu     sync.RWMutex
	loaded map[string]*loadedEntry
}

// Option allows functional configuration.
type Option func(*Integration)

// WithLogger sets a custom slog logger.
func WithLogger(l *slog.Logger) Option { return func(i *Integration) { i.logger = l } }

// WithHTTPClient sets the http.Client shared by every entry.
func WithHTTPClient(c *http.Client) Option { return func(i *Integration) { i.httpClient = c } }

// WithCapabilityTable replaces the built-in provider table.
func WithCapabilityTable(t *capability.Table) Option { return func(i *Integration) { i.table = t } }

// WithRetry sets the retry policy. An entry's timeout option still sets the
// budget.
func WithRetry(cfg retry.Config) Option { return func(i *Integration) { i.retry = &cfg } }

// WithMaxToolIterations bounds the model calls in one conversation turn.
func WithMaxToolIterations(n int) Option { return func(i *Integration) { i.maxToolIterations = n } }

// WithMaxConcurrentRequests bounds in-flight requests across all entries.
func WithMaxConcurrentRequests(n int) Option {
	return func(i *Integration) {
		if n > 0 {
			i.limiter = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithLLMAPI registers a tool set conversation agents can be given. id is
// what subentries store; label is shown in the subentry flow.
func WithLLMAPI(id, label string, tools ...Tool) Option {
	return func(i *Integration) {
		i.apis = append(i.apis, llmAPI{id: id, label: label, tools: tools})
	}
}

// New builds an Integration over store.
func New(store entry.Store, opts ...Option) *Integration {
	i := &Integration{
		store:             store,
		table:             capability.Default(),
		httpClient:        &http.Client{Timeout: entry.DefaultTimeout},
		logger:            slog.Default(),
		maxToolIterations: DefaultMaxToolIterations,
		setupConcurrency:  4,
		loaded:            make(map[string]*loadedEntry),
	}
	for _, o := range opts {
		o(i)
	}
	if i.limiter == nil {
		i.limiter = semaphore.NewWeighted(openai.DefaultMaxConcurrentRequests)
	}
	if i.connect == nil {
		i.connect = func(p entry.Profile) chatClient {
			return providers.NewProviderClient(p, providers.Deps{
				Table:      i.table,
				HTTPClient: i.httpClient,
				Logger:     i.logger,
				Limiter:    i.limiter,
			})
		}
	}
	return i
}

// NewFromSettings builds an Integration with a file store and the policies
// from cfg. opts are applied last.
func NewFromSettings(cfg *config.Settings, opts ...Option) *Integration {
	base := []Option{
		WithLogger(slog.New(cfg.Log.Handler(os.Stderr))),
		WithHTTPClient(&http.Client{Timeout: cfg.HTTP.Timeout}),
		WithCapabilityTable(cfg.CapabilityTable()),
		WithRetry(cfg.RetryPolicy()),
		WithMaxToolIterations(cfg.Agent.MaxToolIterations),
		WithMaxConcurrentRequests(cfg.HTTP.MaxConcurrentRequests),
	}
	return New(entry.NewFileStore(cfg.Storage.Path), append(base, opts...)...)
}

// NewFromFile loads config via internal/config.Load and returns an Integration.
func NewFromFile(opts ...Option) (*Integration, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return NewFromSettings(cfg, opts...), nil
}

// profile resolves the connection profile with the integration's retry policy.
func (i *Integration) profile(e entry.Entry, sub entry.Subentry) entry.Profile {
	return i.withPolicy(e.Profile(sub))
}

func (i *Integration) withPolicy(p entry.Profile) entry.Profile {
	if i.retry == nil {
		return p
	}
	r := *i.retry
	if p.TimeoutSet {
		r.Budget = p.Timeout
	}
	p.Retry = r
	return p
}

// SetupEntry validates the stored entry, tests the connection and makes its
// agents available. Invalid key or URL and rejected credentials are
// permanent; any other failure wraps ErrCannotConnect and may be retried
// later.
func (i *Integration) SetupEntry(ctx context.Context, id string) error {
	e, err := i.store.Get(ctx, id)
	if err != nil {
		return err
	}
	logger := i.logger.With(slog.String("entry_id", e.ID))

	if err := validate.APIKey(e.Data.APIKey, e.Data.AllowLocal); err != nil {
		return err
	}
	if _, err := validate.BaseURL(e.BaseURL(), e.Data.AllowLocal, logger); err != nil {
		return err
	}

	client := i.connect(i.profile(e, entry.Subentry{}))
	if _, err := client.ListModels(ctx); err != nil {
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, moderr.ErrAuth):
			logger.Error("authentication failed", slog.String("error", err.Error()))
			return err
		case errors.Is(err, moderr.ErrCannotConnect):
			return err
		}
		return fmt.Errorf("%w: %w", moderr.ErrCannotConnect, err)
	}

	le := &loadedEntry{
		entry:         e,
		client:        client,
		conversations: make(map[string]*Conversation),
		tasks:         make(map[string]*AITask),
	}
	for _, sub := range e.Subentries {
		base := agent{
			entryID: e.ID,
			sub:     sub,
			profile: i.profile(e, sub),
			client:  client,
			logger:  logger.With(slog.String("subentry_id", sub.ID), slog.String("agent", sub.Title)),
		}
		switch sub.Type {
		case entry.TypeConversation:
			le.conversations[sub.ID] = &Conversation{agent: base, tools: i.toolsFor(sub), maxIterations: i.maxToolIterations}
		case entry.TypeAITaskData:
			le.tasks[sub.ID] = &AITask{agent: base}
		default:
			logger.Warn("ignoring subentry of unknown type", slog.String("type", string(sub.Type)))
		}
	}

	i.mu.Lock()
	i.loaded[e.ID] = le
	i.mu.Unlock()
	logger.Info("entry set up",
		slog.String("base_url", e.BaseURL()),
		slog.Int("conversation_agents", len(le.conversations)),
		slog.Int("ai_task_agents", len(le.tasks)),
	)
	return nil
}

// SetupAll sets up every stored entry concurrently. One entry failing does
// not stop the others; the errors are joined.
func (i *Integration) SetupAll(ctx context.Context) error {
	entries, err := i.store.List(ctx)
	if err != nil {
		return err
	}
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(i.setupConcurrency)
	for _, e := range entries {
		g.Go(func() error {
			if err := i.SetupEntry(ctx, e.ID); err != nil {
				i.logger.Warn("entry setup failed", slog.String("entry_id", e.ID), slog.String("error", err.Error()))
				mu.Lock()
				errs = append(errs, fmt.Errorf("entry %s: %w", e.Title, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// UnloadEntry drops the entry's agents. The stored entry is kept.
func (i *Integration) UnloadEntry(id string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.loaded[id]; !ok {
		return fmt.Errorf("%w: %s", moderr.ErrNotLoaded, id)
	}
	delete(i.loaded, id)
	return nil
}

// ReloadEntry sets the entry up again from the store, typically after its
// options changed.
func (i *Integration) ReloadEntry(ctx context.Context, id string) error {
	if err := i.UnloadEntry(id); err != nil && !errors.Is(err, moderr.ErrNotLoaded) {
		return err
	}
	return i.SetupEntry(ctx, id)
}

// RemoveEntry unloads and deletes the entry.
func (i *Integration) RemoveEntry(ctx context.Context, id string) error {
	_ = i.UnloadEntry(id)
	return i.store.Delete(ctx, id)
}

// RemoveSubentry deletes one agent and reloads the entry if it was loaded.
func (i *Integration) RemoveSubentry(ctx context.Context, entryID, subentryID string) error {
	_, err := i.store.Update(ctx, entryID, func(e *entry.Entry) error {
		n := len(e.Subentries)
		e.Subentries = slices.DeleteFunc(e.Subentries, func(s entry.Subentry) bool { return s.ID == subentryID })
		if len(e.Subentries) == n {
			return fmt.Errorf("%w: %s", moderr.ErrSubentryNotFound, subentryID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if i.Loaded(entryID) {
		return i.ReloadEntry(ctx, entryID)
	}
	return nil
}

// Loaded reports whether the entry is set up.
func (i *Integration) Loaded(id string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.loaded[id]
	return ok
}

// Entries returns the stored entries.
func (i *Integration) Entries(ctx context.Context) ([]entry.Entry, error) {
	return i.store.List(ctx)
}

// Models lists the models the entry's endpoint offers.
func (i *Integration) Models(ctx context.Context, id string) ([]core.Model, error) {
	i.mu.RLock()
	le, ok := i.loaded[id]
	i.mu.RUnlock()
	if ok {
		return le.client.ListModels(ctx)
	}
	e, err := i.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return i.connect(i.profile(e, entry.Subentry{})).ListModels(ctx)
}

// Conversation returns a loaded conversation agent.
func (i *Integration) Conversation(entryID, subentryID string) (*Conversation, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	le, ok := i.loaded[entryID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", moderr.ErrNotLoaded, entryID)
	}
	c, ok := le.conversations[subentryID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", moderr.ErrSubentryNotFound, subentryID)
	}
	return c, nil
}

// AITask returns a loaded AI task agent.
func (i *Integration) AITask(entryID, subentryID string) (*AITask, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	le, ok := i.loaded[entryID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", moderr.ErrNotLoaded, entryID)
	}
	t, ok := le.tasks[subentryID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", moderr.ErrSubentryNotFound, subentryID)
	}
	return t, nil
}

func (i *Integration) toolsFor(sub entry.Subentry) []Tool {
	var tools []Tool
	for _, api := range i.apis {
		if slices.Contains(sub.LLMAPIs, api.id) {
			tools = append(tools, api.tools...)
		}
	}
	return tools
}

func (i *Integration) flowDeps() flow.Deps {
	opts := make([]flow.Option, 0, len(i.apis))
	for _, api := range i.apis {
		opts = append(opts, flow.Option{Value: api.id, Label: api.label})
	}
	return flow.Deps{
		Store: i.store,
		Connect: func(p entry.Profile) core.ModelLister {
			return i.connect(i.withPolicy(p))
		},
		Table:   i.table,
		Logger:  i.logger,
		LLMAPIs: opts,
		OnUpdate: func(ctx context.Context, id string) error {
			if !i.Loaded(id) {
				return nil
			}
			return i.ReloadEntry(ctx, id)
		},
	}
}

// ConfigFlow returns the flow that creates entries.
func (i *Integration) ConfigFlow() *flow.ConfigFlow { return flow.NewConfigFlow(i.flowDeps()) }

// SubentryFlow returns the flow that adds agents to an entry.
func (i *Integration) SubentryFlow() *flow.SubentryFlow { return flow.NewSubentryFlow(i.flowDeps()) }

// OptionsFlow returns the flow that edits an entry's options. Saving reloads
// the entry when it is loaded.
func (i *Integration) OptionsFlow() *flow.OptionsFlow { return flow.NewOptionsFlow(i.flowDeps()) }
