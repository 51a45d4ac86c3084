// Package flow implements the data-entry steps that create and edit entries:
// the config flow, the subentry flows and the options flow. Each step either
// returns a form to show, creates something, or aborts. Forms are described
// with Field values so any front end can render them.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	moderr "github.com/lizzyg/qwenai/errors"
	"github.com/lizzyg/qwenai/internal/capability"
	"github.com/lizzyg/qwenai/internal/core"
	"github.com/lizzyg/qwenai/internal/entry"
)

type ResultType string

const (
	ResultForm        ResultType = "form"
	ResultCreateEntry ResultType = "create_entry"
	ResultAbort       ResultType = "abort"
)

// Input keys.
const (
	KeyAPIKey      = "api_key"
	KeyBaseURL     = "base_url"
	KeyAllowLocal  = "allow_local"
	KeyModel       = "model"
	KeyPrompt      = "prompt"
	KeyLLMHassAPI  = "llm_hass_api"
	KeyRecommended = "recommended"
	KeyMaxTokens   = "max_tokens"
	KeyTemperature = "temperature"
	KeyTopP        = "top_p"
	KeyTimeout     = "timeout"
)

// Error codes and abort reasons. They double as translation keys.
const (
	CodeInvalidAuth       = "invalid_auth"
	CodeRateLimit         = "rate_limit"
	CodeCannotConnect     = "cannot_connect"
	CodeUnknown           = "unknown"
	CodeInvalidAPIKey     = "invalid_api_key"
	CodeInvalidBaseURL    = "invalid_base_url"
	CodeInvalidOption     = "invalid_option"
	CodeRequired          = "required"
	CodeAlreadyConfigured = "already_configured"

	// BaseError is the Errors key for errors not tied to one field.
	BaseError = "base"
)

type FieldKind string

const (
	FieldString      FieldKind = "string"
	FieldSecret      FieldKind = "secret"
	FieldBool        FieldKind = "bool"
	FieldInt         FieldKind = "int"
	FieldFloat       FieldKind = "float"
	FieldSelect      FieldKind = "select"
	FieldMultiSelect FieldKind = "multi_select"
	FieldTemplate    FieldKind = "template"
)

type Option struct {
	Value string
	Label string
	// Note is extra information shown next to the label.
	Note string
}

type Field struct {
	Key      string
	Kind     FieldKind
	Required bool
	// Default is used when the field is left empty.
	Default any
	// Suggested pre-fills the field without being a default.
	Suggested any
	Options   []Option
}

type Result struct {
	Type       ResultType
	StepID     string
	Fields     []Field
	Errors     map[string]string
	Reason     string
	Title      string
	EntryID    string
	SubentryID string
}

func form(step string, fields []Field, errs map[string]string) Result {
	return Result{Type: ResultForm, StepID: step, Fields: fields, Errors: errs}
}

func abort(reason string) Result { return Result{Type: ResultAbort, Reason: reason} }

// Connector builds a model lister for a profile; in production it is the
// OpenAI-compatible client.
type Connector func(p entry.Profile) core.ModelLister

// Deps are shared by all flows.
type Deps struct {
	Store   entry.Store
	Connect Connector
	Table   *capability.Table
	Logger  *slog.Logger
	// LLMAPIs are the tool sets the host can expose to conversation agents.
	LLMAPIs []Option
	// OnUpdate is called after an entry's options change.
	OnUpdate func(ctx context.Context, entryID string) error
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d Deps) table() *capability.Table {
	if d.Table == nil {
		return capability.Default()
	}
	return d.Table
}

// classify maps a connection test failure onto a form error code.
func classify(err error) string {
	switch {
	case errors.Is(err, moderr.ErrAuth):
		return CodeInvalidAuth
	case errors.Is(err, moderr.ErrRateLimited):
		return CodeRateLimit
	case errors.Is(err, moderr.ErrTimeout), errors.Is(err, moderr.ErrCannotConnect),
		errors.Is(err, moderr.ErrUpstream), errors.Is(err, moderr.ErrBadRequest):
		return CodeCannotConnect
	}
	return CodeUnknown
}

// Input is what a front end submits for a step. Values may be typed or
// strings, as entered on a command line.
type Input map[string]any

func (in Input) Has(key string) bool {
	v, ok := in[key]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}

func (in Input) Text(key string) string {
	switch v := in[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		return fmt.Sprint(v)
	}
}

func (in Input) Bool(key string) bool {
	switch v := in[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		return b
	}
	return false
}

func (in Input) Int(key string) (int, error) {
	switch v := in[key].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("%s: not an integer", key)
		}
		return int(v), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(v))
	}
	return 0, fmt.Errorf("%s: not a number", key)
}

func (in Input) Float(key string) (float32, error) {
	switch v := in[key].(type) {
	case float32:
		return v, nil
	case float64:
		return float32(v), nil
	case int:
		return float32(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 32)
		return float32(f), err
	}
	return 0, fmt.Errorf("%s: not a number", key)
}

// Strings accepts a list or a comma separated string. Blank items are dropped.
func (in Input) Strings(key string) []string {
	var raw []string
	switch v := in[key].(type) {
	case []string:
		raw = v
	case []any:
		for _, it := range v {
			raw = append(raw, fmt.Sprint(it))
		}
	case string:
		raw = strings.Split(v, ",")
	}
	var out []string
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
