package qwenai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	moderr "github.com/lizzyg/qwenai/errors"
	"github.com/lizzyg/qwenai/internal/core"
	"github.com/lizzyg/qwenai/internal/entry"
	"github.com/lizzyg/qwenai/internal/util"
)

// DefaultMaxToolIterations bounds the model calls in one conversation turn.
const DefaultMaxToolIterations = 10

type agent struct {
	entryID string
	sub     entry.Subentry
	profile entry.Profile
	client  core.RawClient
	logger  *slog.Logger
}

func (a *agent) ID() string    { return a.sub.ID }
func (a *agent) Title() string { return a.sub.Title }
func (a *agent) Model() string { return a.profile.Model }

func (a *agent) call(ctx context.Context, p core.CallParams) (core.RawResponse, error) {
	p.Model = a.profile.Model
	p.MaxTokens = a.profile.MaxTokens
	p.Temperature = a.profile.Temperature
	p.TopP = a.profile.TopP

	start := time.Now()
	resp, err := a.client.Call(ctx, p)
	a.logger.Info("llm call",
		slog.String("model", p.Model),
		slog.Int("prompt_tokens", resp.Usage.PromptTokens),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens),
		slog.Int("total_tokens", resp.Usage.TotalTokens),
		slog.Duration("latency", time.Since(start)),
		slog.Bool("error", err != nil),
	)
	return resp, err
}

// Conversation answers chat turns, calling tools on the model's behalf.
type Conversation struct {
	agent
	tools         []Tool
	maxIterations int
}

// HandleTurn runs one turn over log: the model is called until it answers
// without requesting tools. Tool calls whose arguments cannot be repaired are
// skipped and reported; failing or unknown tools are reported to the model as
// an error result. Messages produced before an error are still appended.
func (c *Conversation) HandleTurn(ctx context.Context, log *ChatLog) (TurnResult, error) {
	var res TurnResult
	if log == nil || len(log.Messages) == 0 {
		return res, errors.New("chat log has no messages")
	}
	defer func() { log.Messages = append(log.Messages, res.Messages...) }()

	tools := dedupeTools(append(append([]Tool(nil), c.tools...), log.Tools...))
	defs := toolDefs(tools)

	prompt := c.sub.SystemPrompt()
	if log.ExtraSystemPrompt != "" {
		prompt += "\n" + log.ExtraSystemPrompt
	}
	history := append([]Message{{Role: RoleSystem, Content: prompt}}, log.Messages...)

	maxIter := c.maxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxToolIterations
	}
	logger := c.logger.With(slog.String("conversation_id", log.ConversationID))

	for iter := 1; iter <= maxIter; iter++ {
		res.Iterations = iter
		resp, err := c.call(ctx, core.CallParams{
			Messages: toCoreMessages(history),
			ToolDefs: defs,
			User:     log.ConversationID,
		})
		if err != nil {
			return res, err
		}
		addUsage(&res.Usage, resp.Usage)
		res.Degraded = mergeDegraded(res.Degraded, resp.Degraded)

		calls, skipped := repairCalls(resp.ToolCalls)
		for _, s := range skipped {
			logger.Warn("skipping tool call with malformed arguments",
				slog.String("tool", s.Tool),
				slog.String("call_id", s.CallID),
				slog.String("error", s.Err.Error()),
			)
		}
		res.Skipped = append(res.Skipped, skipped...)

		reply := Message{Role: RoleAssistant, Content: resp.Content, ToolCalls: calls}
		history = append(history, reply)
		res.Messages = append(res.Messages, reply)
		if len(calls) == 0 {
			res.Content = resp.Content
			return res, nil
		}

		// Tools run one at a time, in the order the model listed them.
		for _, tc := range calls {
			out := runTool(ctx, tools, tc, logger)
			msg := Message{Role: RoleTool, ToolCallID: tc.CallID, Name: tc.Name, Content: out}
			history = append(history, msg)
			res.Messages = append(res.Messages, msg)
		}
	}
	return res, fmt.Errorf("%w: stopped after %d model calls", moderr.ErrMaxToolIterations, maxIter)
}

// AITask generates text or structured data from instructions.
type AITask struct {
	agent
}

// GenerateData runs task. With a structure the endpoint is asked for schema
// constrained output when it supports it; either way the reply is repaired if
// needed and must be valid JSON, or ErrStructuredOutput is returned.
func (a *AITask) GenerateData(ctx context.Context, task Task) (TaskResult, error) {
	res := TaskResult{ConversationID: entry.NewID()}
	p := core.CallParams{
		Messages: toCoreMessages([]Message{{Role: RoleUser, Content: task.Instructions, Images: task.Attachments}}),
		User:     res.ConversationID,
	}
	if len(task.Structure) > 0 {
		p.OutputSchema = task.Structure
		p.SchemaName = schemaName(task.Name)
	}
	resp, err := a.call(ctx, p)
	if err != nil {
		return res, err
	}
	res.Text = resp.Content
	res.Usage = resp.Usage
	res.Degraded = resp.Degraded
	if len(task.Structure) == 0 {
		return res, nil
	}

	data, err := parseStructured(resp.Content)
	if err != nil {
		a.logger.Warn("structured output could not be parsed",
			slog.String("task", task.Name),
			slog.Int("bytes", len(resp.Content)),
		)
		return res, err
	}
	res.Data = data
	return res, nil
}

func parseStructured(s string) (json.RawMessage, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("%w: empty response", moderr.ErrStructuredOutput)
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s), nil
	}
	fixed, err := util.RepairToolArguments(s)
	if err != nil {
		return nil, fmt.Errorf("%w: response is not valid JSON", moderr.ErrStructuredOutput)
	}
	return fixed, nil
}

var schemaNameInvalid = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// schemaName turns a task name into an identifier response_format accepts.
func schemaName(name string) string {
	s := strings.Trim(schemaNameInvalid.ReplaceAllString(strings.TrimSpace(name), "_"), "_")
	if s == "" {
		return "response"
	}
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}

func repairCalls(calls []ToolCall) ([]ToolCall, []SkippedCall) {
	var kept []ToolCall
	var skipped []SkippedCall
	for _, tc := range calls {
		if tc.CallID == "" {
			tc.CallID = "call_" + entry.NewID()
		}
		args, err := util.RepairToolArguments(tc.Args)
		if err != nil {
			var mt *moderr.MalformedToolArgumentsError
			if errors.As(err, &mt) {
				mt.Tool, mt.CallID = tc.Name, tc.CallID
			}
			skipped = append(skipped, SkippedCall{Tool: tc.Name, CallID: tc.CallID, Err: err})
			continue
		}
		tc.Args = string(args)
		kept = append(kept, tc)
	}
	return kept, skipped
}

func runTool(ctx context.Context, tools []Tool, tc ToolCall, logger *slog.Logger) string {
	tool := findTool(tools, tc.Name)
	if tool == nil {
		logger.Warn("model requested unknown tool", slog.String("tool", tc.Name))
		return toolError(moderr.ErrUnknownTool)
	}
	args := tool.Parameters()
	if args != nil {
		if err := json.Unmarshal([]byte(tc.Args), args); err != nil {
			logger.Warn("tool arguments do not match parameters", slog.String("tool", tc.Name), slog.String("error", err.Error()))
			return toolError(fmt.Errorf("invalid arguments: %w", err))
		}
	}
	start := time.Now()
	out, err := tool.Execute(ctx, args)
	logger.Debug("tool executed",
		slog.String("tool", tc.Name),
		slog.Duration("latency", time.Since(start)),
		slog.Bool("error", err != nil),
	)
	if err != nil {
		return toolError(err)
	}
	return formatToolResult(out)
}

func formatToolResult(output any) string {
	b, err := json.Marshal(output)
	if err != nil {
		return toolError(fmt.Errorf("result not serializable: %w", err))
	}
	return string(b)
}

func toolError(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}

func findTool(tools []Tool, name string) Tool {
	for _, t := range tools {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

// dedupeTools keeps the first tool of each name.
func dedupeTools(tools []Tool) []Tool {
	seen := make(map[string]bool, len(tools))
	out := tools[:0]
	for _, t := range tools {
		if seen[t.Name()] {
			continue
		}
		seen[t.Name()] = true
		out = append(out, t)
	}
	return out
}

func toolDefs(tools []Tool) []core.ToolDef {
	if len(tools) == 0 {
		return nil
	}
	defs := make([]core.ToolDef, len(tools))
	for i, t := range tools {
		defs[i] = core.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      util.GenerateJSONSchema(t.Parameters()),
		}
	}
	return defs
}

func addUsage(dst *Usage, u Usage) {
	dst.PromptTokens += u.PromptTokens
	dst.CompletionTokens += u.CompletionTokens
	dst.TotalTokens += u.TotalTokens
}

// mergeDegraded keeps one error per distinct message.
func mergeDegraded(have, add []error) []error {
	for _, e := range add {
		dup := false
		for _, h := range have {
			if h.Error() == e.Error() {
				dup = true
				break
			}
		}
		if !dup {
			have = append(have, e)
		}
	}
	return have
}
