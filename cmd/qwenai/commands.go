package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/lizzyg/qwenai"
	moderr "github.com/lizzyg/qwenai/errors"
	"github.com/lizzyg/qwenai/internal/config"
	"github.com/lizzyg/qwenai/internal/entry"
	"github.com/lizzyg/qwenai/internal/flow"
	"github.com/lizzyg/qwenai/internal/i18n"
)

const runtimeKey = "runtime"

type runtime struct {
	integ  *qwenai.Integration
	lang   string
	logger *slog.Logger
}

func setup(c *cli.Context) error {
	var (
		cfg *config.Settings
		err error
	)
	if p := c.String("config"); p != "" {
		cfg, err = config.LoadFile(p, true)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	s := *cfg
	if lvl := c.String("log-level"); lvl != "" {
		s.Log.Level = lvl
	}
	lang := c.String("lang")
	if lang == "" {
		lang = s.Locale
	}
	logger := slog.New(s.Log.Handler(c.App.ErrWriter))
	c.App.Metadata[runtimeKey] = &runtime{
		integ: qwenai.NewFromSettings(&s,
			qwenai.WithLogger(logger),
			qwenai.WithLLMAPI(entry.LLMAPIAssist, "Assist", assistTools()...),
		),
		lang:   i18n.Match(lang).String(),
		logger: logger,
	}
	return nil
}

func rt(c *cli.Context) *runtime { return c.App.Metadata[runtimeKey].(*runtime) }

// fail turns err into the localized message shown to the user. The detail
// goes to the debug log only.
func (r *runtime) fail(err error) error {
	r.logger.Debug("command failed", slog.String("error", err.Error()))
	return errors.New(i18n.Message(err, r.lang))
}

// formError renders a form result's errors, the form-wide error first and
// then the fields in name order.
func (r *runtime) formError(res flow.Result) error {
	fields := slices.SortedFunc(maps.Keys(res.Errors), func(a, b string) int {
		switch {
		case a == b:
			return 0
		case a == flow.BaseError:
			return -1
		case b == flow.BaseError:
			return 1
		}
		return strings.Compare(a, b)
	})
	var lines []string
	for _, field := range fields {
		code := res.Errors[field]
		msg := i18n.Text(code, r.lang)
		if field != flow.BaseError {
			msg = i18n.Text("field."+field, r.lang) + ": " + msg
		}
		lines = append(lines, msg)
	}
	return errors.New(strings.Join(lines, "\n"))
}

// resolveEntry returns the entry named by --entry, or the only entry.
func (r *runtime) resolveEntry(c *cli.Context) (entry.Entry, error) {
	ctx := c.Context
	entries, err := r.integ.Entries(ctx)
	if err != nil {
		return entry.Entry{}, err
	}
	id := c.String("entry")
	if id == "" {
		if len(entries) == 1 {
			return entries[0], nil
		}
		if len(entries) == 0 {
			return entry.Entry{}, moderr.ErrEntryNotFound
		}
		return entry.Entry{}, errors.New("several entries exist; pass --entry")
	}
	for _, e := range entries {
		if e.ID == id {
			return e, nil
		}
	}
	return entry.Entry{}, fmt.Errorf("%w: %s", moderr.ErrEntryNotFound, id)
}

// resolveAgent returns --agent or the entry's first agent of kind.
func resolveAgent(c *cli.Context, e entry.Entry, kind entry.SubentryType) (string, error) {
	if id := c.String("agent"); id != "" {
		return id, nil
	}
	subs := e.SubentriesOf(kind)
	if len(subs) == 0 {
		return "", fmt.Errorf("%w: no %s agent", moderr.ErrSubentryNotFound, kind)
	}
	return subs[0].ID, nil
}

func setupCommand(c *cli.Context) error {
	r := rt(c)
	in := flow.Input{
		flow.KeyAPIKey:     c.String("api-key"),
		flow.KeyAllowLocal: c.Bool("allow-local"),
	}
	if u := c.String("base-url"); u != "" {
		in[flow.KeyBaseURL] = u
	}
	res, err := r.integ.ConfigFlow().User(c.Context, in)
	if err != nil {
		return r.fail(err)
	}
	switch res.Type {
	case flow.ResultAbort:
		return errors.New(i18n.Text(res.Reason, r.lang))
	case flow.ResultForm:
		return r.formError(res)
	}
	fmt.Fprintln(c.App.Writer, i18n.Text("entry_created", r.lang, res.Title))
	fmt.Fprintln(c.App.Writer, res.EntryID)
	return nil
}

func agentAddCommand(c *cli.Context) error {
	r := rt(c)
	e, err := r.resolveEntry(c)
	if err != nil {
		return r.fail(err)
	}
	kind := entry.SubentryType(c.String("type"))
	if !kind.Valid() {
		return fmt.Errorf("unknown agent type %q", kind)
	}

	sf := r.integ.SubentryFlow()
	if c.String("model") == "" {
		res, err := sf.User(c.Context, e.ID, kind, nil)
		if err != nil {
			return r.fail(err)
		}
		if res.Type == flow.ResultAbort {
			return errors.New(i18n.Text(res.Reason, r.lang))
		}
		fmt.Fprintln(c.App.Writer, i18n.Text("field.model", r.lang)+":")
		for _, o := range res.Fields[0].Options {
			if o.Note != "" {
				fmt.Fprintf(c.App.Writer, "  %s (%s)\n", o.Value, i18n.Text("note."+o.Note, r.lang))
				continue
			}
			fmt.Fprintf(c.App.Writer, "  %s\n", o.Value)
		}
		return nil
	}

	in := flow.Input{flow.KeyModel: c.String("model")}
	if kind == entry.TypeConversation {
		in[flow.KeyPrompt] = c.String("prompt")
		in[flow.KeyLLMHassAPI] = c.StringSlice("llm-api")
		in[flow.KeyRecommended] = c.Bool("recommended")
	}
	res, err := sf.User(c.Context, e.ID, kind, in)
	if err != nil {
		return r.fail(err)
	}
	if res.Type != flow.ResultCreateEntry {
		return r.formError(res)
	}
	fmt.Fprintln(c.App.Writer, i18n.Text("subentry_created", r.lang, res.Title))
	fmt.Fprintln(c.App.Writer, res.SubentryID)
	return nil
}

func agentRemoveCommand(c *cli.Context) error {
	r := rt(c)
	e, err := r.resolveEntry(c)
	if err != nil {
		return r.fail(err)
	}
	if err := r.integ.RemoveSubentry(c.Context, e.ID, c.String("agent")); err != nil {
		return r.fail(err)
	}
	return nil
}

var optionFlags = map[string]string{
	"base-url":    flow.KeyBaseURL,
	"max-tokens":  flow.KeyMaxTokens,
	"temperature": flow.KeyTemperature,
	"top-p":       flow.KeyTopP,
	"timeout":     flow.KeyTimeout,
}

func optionsCommand(c *cli.Context) error {
	r := rt(c)
	e, err := r.resolveEntry(c)
	if err != nil {
		return r.fail(err)
	}
	of := r.integ.OptionsFlow()

	in := flow.Input{}
	for name, key := range optionFlags {
		if c.IsSet(name) {
			in[key] = c.String(name)
		}
	}
	if len(in) == 0 {
		res, err := of.Init(c.Context, e.ID, nil)
		if err != nil {
			return r.fail(err)
		}
		w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
		for _, f := range res.Fields {
			fmt.Fprintf(w, "%s\t%v\n", i18n.Text("field."+f.Key, r.lang), f.Default)
		}
		return w.Flush()
	}

	res, err := of.Init(c.Context, e.ID, in)
	if err != nil {
		return r.fail(err)
	}
	if res.Type == flow.ResultForm {
		return r.formError(res)
	}
	fmt.Fprintln(c.App.Writer, i18n.Text("options_saved", r.lang))
	return nil
}

func entriesCommand(c *cli.Context) error {
	r := rt(c)
	entries, err := r.integ.Entries(c.Context)
	if err != nil {
		return r.fail(err)
	}
	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID, e.Title, e.BaseURL(), e.Data.APIKey)
		for _, s := range e.Subentries {
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", s.ID, s.Type, s.Title, s.Model)
		}
	}
	return w.Flush()
}

func modelsCommand(c *cli.Context) error {
	r := rt(c)
	e, err := r.resolveEntry(c)
	if err != nil {
		return r.fail(err)
	}
	models, err := r.integ.Models(c.Context, e.ID)
	if err != nil {
		return r.fail(err)
	}
	for _, m := range models {
		fmt.Fprintln(c.App.Writer, m.ID)
	}
	return nil
}

// loadAgentEntry sets up the entry so its agents can run.
func (r *runtime) loadAgentEntry(c *cli.Context) (entry.Entry, error) {
	e, err := r.resolveEntry(c)
	if err != nil {
		return e, err
	}
	return e, r.integ.SetupEntry(c.Context, e.ID)
}

func chatCommand(c *cli.Context) error {
	r := rt(c)
	text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if text == "" {
		return errors.New("a message is required")
	}
	e, err := r.loadAgentEntry(c)
	if err != nil {
		return r.fail(err)
	}
	agentID, err := resolveAgent(c, e, entry.TypeConversation)
	if err != nil {
		return r.fail(err)
	}
	conv, err := r.integ.Conversation(e.ID, agentID)
	if err != nil {
		return r.fail(err)
	}

	convID := c.String("conversation-id")
	if convID == "" {
		convID = entry.NewID()
	}
	res, err := conv.HandleTurn(c.Context, &qwenai.ChatLog{
		ConversationID: convID,
		Messages:       []qwenai.Message{{Role: qwenai.RoleUser, Content: text}},
	})
	if err != nil {
		return r.fail(err)
	}
	for _, s := range res.Skipped {
		fmt.Fprintln(c.App.ErrWriter, s.Warning(r.lang))
	}
	fmt.Fprintln(c.App.Writer, res.Content)
	return nil
}

func taskCommand(c *cli.Context) error {
	r := rt(c)
	instructions := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if instructions == "" {
		return errors.New("instructions are required")
	}
	task := qwenai.Task{Name: c.String("name"), Instructions: instructions}
	if p := c.Path("schema"); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if !json.Valid(b) {
			return fmt.Errorf("%s is not valid JSON", p)
		}
		task.Structure = b
	}
	for _, a := range c.StringSlice("attach") {
		att, err := attachment(a)
		if err != nil {
			return err
		}
		task.Attachments = append(task.Attachments, att)
	}

	e, err := r.loadAgentEntry(c)
	if err != nil {
		return r.fail(err)
	}
	agentID, err := resolveAgent(c, e, entry.TypeAITaskData)
	if err != nil {
		return r.fail(err)
	}
	agent, err := r.integ.AITask(e.ID, agentID)
	if err != nil {
		return r.fail(err)
	}
	res, err := agent.GenerateData(c.Context, task)
	if err != nil {
		return r.fail(err)
	}
	if res.Data != nil {
		fmt.Fprintln(c.App.Writer, string(res.Data))
		return nil
	}
	fmt.Fprintln(c.App.Writer, res.Text)
	return nil
}

// attachment passes URLs through and inlines local files as data URIs.
func attachment(ref string) (string, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "data:") {
		return ref, nil
	}
	b, err := os.ReadFile(ref)
	if err != nil {
		return "", err
	}
	return "data:" + http.DetectContentType(b) + ";base64," + base64.StdEncoding.EncodeToString(b), nil
}

func removeCommand(c *cli.Context) error {
	r := rt(c)
	if err := r.integ.RemoveEntry(c.Context, c.String("entry")); err != nil {
		return r.fail(err)
	}
	return nil
}
