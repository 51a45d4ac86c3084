package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lizzyg/qwenai/internal/entry"
	"github.com/lizzyg/qwenai/internal/validate"
)

// OptionsFlow edits an entry's options after creation.
type OptionsFlow struct {
	deps Deps
}

func NewOptionsFlow(d Deps) *OptionsFlow { return &OptionsFlow{deps: d} }

func optionFields(e entry.Entry) []Field {
	p := e.Profile(entry.Subentry{})
	return []Field{
		{Key: KeyBaseURL, Kind: FieldString, Default: p.BaseURL},
		{Key: KeyMaxTokens, Kind: FieldInt, Default: p.MaxTokens},
		{Key: KeyTemperature, Kind: FieldFloat, Default: p.Temperature},
		{Key: KeyTopP, Kind: FieldFloat, Default: p.TopP},
		{Key: KeyTimeout, Kind: FieldString, Default: p.Timeout.String()},
	}
}

// Init shows the current options, or validates and stores new ones. Fields
// missing from in keep their current value.
func (f *OptionsFlow) Init(ctx context.Context, entryID string, in Input) (Result, error) {
	e, err := f.deps.Store.Get(ctx, entryID)
	if err != nil {
		return Result{}, err
	}
	if in == nil {
		return form("init", optionFields(e), nil), nil
	}
	log := f.deps.logger().With(slog.String("entry_id", e.ID))

	cur := e.Profile(entry.Subentry{})
	errs := map[string]string{}

	var baseURL string
	if in.Has(KeyBaseURL) {
		baseURL = in.Text(KeyBaseURL)
		if _, err := validate.BaseURL(baseURL, e.Data.AllowLocal, log); err != nil {
			errs[KeyBaseURL] = CodeInvalidBaseURL
		}
	}

	maxTokens, temperature, topP := cur.MaxTokens, cur.Temperature, cur.TopP
	if in.Has(KeyMaxTokens) {
		v, err := in.Int(KeyMaxTokens)
		if err != nil {
			errs[KeyMaxTokens] = CodeInvalidOption
		}
		maxTokens = v
	}
	if in.Has(KeyTemperature) {
		v, err := in.Float(KeyTemperature)
		if err != nil {
			errs[KeyTemperature] = CodeInvalidOption
		}
		temperature = v
	}
	if in.Has(KeyTopP) {
		v, err := in.Float(KeyTopP)
		if err != nil {
			errs[KeyTopP] = CodeInvalidOption
		}
		topP = v
	}
	if len(errs) == 0 {
		if err := validate.Sampling(maxTokens, temperature, topP); err != nil {
			log.Info("options rejected", slog.String("reason", err.Error()))
			errs[BaseError] = CodeInvalidOption
		}
	}

	var timeout time.Duration
	if in.Has(KeyTimeout) {
		d, err := time.ParseDuration(in.Text(KeyTimeout))
		if err != nil || d <= 0 {
			errs[KeyTimeout] = CodeInvalidOption
		}
		timeout = d
	}

	if len(errs) > 0 {
		return form("init", optionFields(e), errs), nil
	}

	// Only the submitted fields are written, on top of whatever is stored
	// now.
	e, err = f.deps.Store.Update(ctx, e.ID, func(stored *entry.Entry) error {
		o := &stored.Options
		if in.Has(KeyBaseURL) {
			o.BaseURL = baseURL
		}
		if in.Has(KeyMaxTokens) {
			o.MaxTokens = maxTokens
		}
		if in.Has(KeyTemperature) {
			t := temperature
			o.Temperature = &t
		}
		if in.Has(KeyTopP) {
			o.TopP = topP
		}
		if in.Has(KeyTimeout) {
			o.Timeout = timeout
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("save options: %w", err)
	}
	log.Info("options updated", slog.String("base_url", e.BaseURL()))
	if f.deps.OnUpdate != nil {
		if err := f.deps.OnUpdate(ctx, e.ID); err != nil {
			log.Warn("reload after options update failed", slog.String("error", err.Error()))
		}
	}
	return Result{Type: ResultCreateEntry, EntryID: e.ID}, nil
}
