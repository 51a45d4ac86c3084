package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lizzyg/qwenai/internal/capability"
	"github.com/lizzyg/qwenai/internal/entry"
	"github.com/lizzyg/qwenai/internal/secret"
	"github.com/lizzyg/qwenai/internal/validate"
)

// ConfigFlow creates entries.
type ConfigFlow struct {
	deps Deps
	now  func() time.Time
}

func NewConfigFlow(d Deps) *ConfigFlow {
	return &ConfigFlow{deps: d, now: time.Now}
}

func userFields() []Field {
	return []Field{
		{Key: KeyAPIKey, Kind: FieldSecret, Required: true},
		{Key: KeyBaseURL, Kind: FieldString, Default: entry.DefaultBaseURL},
		{Key: KeyAllowLocal, Kind: FieldBool, Default: false},
	}
}

// User is the first and only step. A nil input asks for the form. The returned
// error is reserved for store failures and cancellation; everything the user
// can fix is reported in the form.
func (f *ConfigFlow) User(ctx context.Context, in Input) (Result, error) {
	if in == nil {
		return form("user", userFields(), nil), nil
	}
	log := f.deps.logger()

	key := secret.Secret(in.Text(KeyAPIKey))
	baseURL := in.Text(KeyBaseURL)
	if baseURL == "" {
		baseURL = entry.DefaultBaseURL
	}
	allowLocal := in.Bool(KeyAllowLocal)

	existing, err := f.deps.Store.List(ctx)
	if err != nil {
		return Result{}, err
	}
	for _, e := range existing {
		if e.Data.APIKey.Reveal() == key.Reveal() {
			return abort(CodeAlreadyConfigured), nil
		}
	}

	errs := map[string]string{}
	if err := validate.APIKey(key, allowLocal); err != nil {
		errs[KeyAPIKey] = CodeInvalidAPIKey
	}
	if _, err := validate.BaseURL(baseURL, allowLocal, log); err != nil {
		log.Info("base url rejected", slog.String("reason", err.Error()))
		errs[KeyBaseURL] = CodeInvalidBaseURL
	}
	if len(errs) > 0 {
		return form("user", userFields(), errs), nil
	}

	e := entry.Entry{
		ID:   entry.NewID(),
		Data: entry.Data{APIKey: key, BaseURL: baseURL, AllowLocal: allowLocal},
	}
	if _, err := f.deps.Connect(e.Profile(entry.Subentry{})).ListModels(ctx); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		code := classify(err)
		log.Warn("connection test failed",
			slog.String("base_url", baseURL),
			slog.String("code", code),
			slog.String("error", secret.Redact(err.Error(), key)),
		)
		return form("user", userFields(), map[string]string{BaseError: code}), nil
	}

	e.Title = entryTitle(f.deps.table().Lookup(baseURL))
	e.CreatedAt = f.now().UTC()
	if err := f.deps.Store.Put(ctx, e); err != nil {
		return Result{}, fmt.Errorf("save entry: %w", err)
	}
	log.Info("config entry created", slog.Any("entry", e))
	return Result{Type: ResultCreateEntry, Title: e.Title, EntryID: e.ID}, nil
}

func entryTitle(p capability.Provider) string {
	if p.Name == capability.Generic.Name || p.DisplayName == "" {
		return entry.DefaultTitle
	}
	return p.DisplayName
}
