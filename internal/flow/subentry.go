package flow

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/lizzyg/qwenai/internal/core"
	"github.com/lizzyg/qwenai/internal/entry"
)

// SubentryFlow adds conversation and AI task agents to an entry.
type SubentryFlow struct {
	deps Deps
}

func NewSubentryFlow(d Deps) *SubentryFlow { return &SubentryFlow{deps: d} }

// User shows the model picker, or creates the subentry when in is set.
func (f *SubentryFlow) User(ctx context.Context, entryID string, kind entry.SubentryType, in Input) (Result, error) {
	if !kind.Valid() {
		return Result{}, fmt.Errorf("unknown subentry type %q", kind)
	}
	e, err := f.deps.Store.Get(ctx, entryID)
	if err != nil {
		return Result{}, err
	}
	log := f.deps.logger().With(slog.String("entry_id", e.ID), slog.String("subentry_type", string(kind)))

	if in != nil && in.Has(KeyModel) {
		sub := entry.Subentry{
			ID:    entry.NewID(),
			Type:  kind,
			Model: in.Text(KeyModel),
		}
		sub.Title = sub.Model
		if kind == entry.TypeConversation {
			sub.Prompt = in.Text(KeyPrompt)
			sub.LLMAPIs = in.Strings(KeyLLMHassAPI)
			sub.Recommended = !in.Has(KeyRecommended) || in.Bool(KeyRecommended)
		}
		if _, err := f.deps.Store.Update(ctx, e.ID, func(cur *entry.Entry) error {
			cur.Subentries = append(cur.Subentries, sub)
			return nil
		}); err != nil {
			return Result{}, fmt.Errorf("save subentry: %w", err)
		}
		log.Info("subentry created", slog.String("subentry_id", sub.ID), slog.String("model", sub.Model))
		return Result{Type: ResultCreateEntry, Title: sub.Title, EntryID: e.ID, SubentryID: sub.ID}, nil
	}

	models, err := f.deps.Connect(e.Profile(entry.Subentry{})).ListModels(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		log.Warn("could not fetch models", slog.String("error", err.Error()))
		return abort(CodeCannotConnect), nil
	}

	var errs map[string]string
	if in != nil {
		errs = map[string]string{KeyModel: CodeRequired}
	}
	if kind == entry.TypeAITaskData {
		return form("user", f.aiTaskFields(e, models), errs), nil
	}
	return form("user", f.conversationFields(models), errs), nil
}

func modelOptions(models []core.Model) []Option {
	opts := make([]Option, 0, len(models))
	for _, m := range models {
		opts = append(opts, Option{Value: m.ID, Label: m.ID})
	}
	slices.SortFunc(opts, func(a, b Option) int { return strings.Compare(a.Value, b.Value) })
	return opts
}

func (f *SubentryFlow) conversationFields(models []core.Model) []Field {
	return []Field{
		{Key: KeyModel, Kind: FieldSelect, Required: true, Options: modelOptions(models)},
		{Key: KeyPrompt, Kind: FieldTemplate, Suggested: entry.EnhancedInstructionsPrompt},
		{Key: KeyLLMHassAPI, Kind: FieldMultiSelect, Options: f.deps.LLMAPIs, Suggested: []string{entry.LLMAPIAssist}},
		{Key: KeyRecommended, Kind: FieldBool, Default: true},
	}
}

// aiTaskFields lists every model; the note says whether the endpoint can
// enforce a schema or the agent will have to repair free-form JSON.
func (f *SubentryFlow) aiTaskFields(e entry.Entry, models []core.Model) []Field {
	prov := f.deps.table().Lookup(e.BaseURL())
	opts := modelOptions(models)
	note := "structured_output"
	if !prov.Flags.StructuredOutput {
		note = "json_repair"
	}
	for i := range opts {
		opts[i].Note = note
	}
	return []Field{{Key: KeyModel, Kind: FieldSelect, Required: true, Options: opts}}
}
