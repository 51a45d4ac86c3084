// Package openai talks to OpenAI-compatible chat completion endpoints. It is
// the request adapter: capability flags decide which optional request fields
// are sent, and provider adapter data shapes headers and body.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/semaphore"

	moderr "github.com/lizzyg/qwenai/errors"
	"github.com/lizzyg/qwenai/internal/capability"
	"github.com/lizzyg/qwenai/internal/core"
	"github.com/lizzyg/qwenai/internal/providers/retry"
	"github.com/lizzyg/qwenai/internal/secret"
)

const (
	// DefaultMaxConcurrentRequests bounds in-flight requests per shared limiter.
	DefaultMaxConcurrentRequests = 5

	jsonKeywordUserSuffix = "\n\nPlease respond in JSON format as specified."
	jsonKeywordSystem     = "You must respond in JSON format as requested."
	schemaPromptPrefix    = "Respond only with JSON that matches this JSON schema:\n"

	maxErrorBody = 4 << 10
)

type Client struct {
	baseURL    string
	apiKey     secret.Secret
	provider   capability.Provider
	httpClient *http.Client
	logger     *slog.Logger
	retry      retry.Config
	limiter    *semaphore.Weighted
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the shared http.Client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

// WithLogger sets a custom slog logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// WithRetry overrides the retry policy.
func WithRetry(cfg retry.Config) Option { return func(c *Client) { c.retry = cfg } }

// WithLimiter shares a concurrency limiter between clients.
func WithLimiter(s *semaphore.Weighted) Option { return func(c *Client) { c.limiter = s } }

func New(baseURL string, apiKey secret.Secret, provider capability.Provider, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		provider:   provider,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
		retry:      retry.DefaultConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.limiter == nil {
		c.limiter = semaphore.NewWeighted(DefaultMaxConcurrentRequests)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Provider returns the capability row this client was built with.
func (c *Client) Provider() capability.Provider { return c.provider }

func (c *Client) Call(ctx context.Context, params core.CallParams) (core.RawResponse, error) {
	req, degraded := c.buildRequest(params)
	body, err := c.encodeBody(req)
	if err != nil {
		return core.RawResponse{}, fmt.Errorf("%s marshal payload: %w", c.provider.Name, err)
	}
	for _, d := range degraded {
		c.logger.Warn("request feature omitted",
			slog.String("provider", c.provider.Name),
			slog.String("model", params.Model),
			slog.String("reason", d.Error()),
		)
	}

	var rr goopenai.ChatCompletionResponse
	if err := c.do(ctx, http.MethodPost, c.provider.ChatPath(), body, &rr); err != nil {
		return core.RawResponse{}, err
	}
	if len(rr.Choices) == 0 {
		return core.RawResponse{}, fmt.Errorf("%w: %s returned no choices", moderr.ErrUpstream, c.provider.Name)
	}

	msg := rr.Choices[0].Message
	out := core.RawResponse{
		Content:  messageText(msg),
		Degraded: degraded,
		Usage: core.Usage{
			PromptTokens:     rr.Usage.PromptTokens,
			CompletionTokens: rr.Usage.CompletionTokens,
			TotalTokens:      rr.Usage.TotalTokens,
		},
	}
	if len(msg.ToolCalls) > 0 {
		out.ToolCalls = make([]core.ToolCall, len(msg.ToolCalls))
		for i, tc := range msg.ToolCalls {
			out.ToolCalls[i] = core.ToolCall{CallID: tc.ID, Name: tc.Function.Name, Args: tc.Function.Arguments}
		}
	}
	return out, nil
}

// ListModels returns the models the endpoint advertises. It doubles as the
// reachability and credential check.
func (c *Client) ListModels(ctx context.Context) ([]core.Model, error) {
	var ml goopenai.ModelsList
	if err := c.do(ctx, http.MethodGet, c.provider.ModelsPath(), nil, &ml); err != nil {
		return nil, err
	}
	out := make([]core.Model, 0, len(ml.Models))
	for _, m := range ml.Models {
		out = append(out, core.Model{ID: m.ID, OwnedBy: m.OwnedBy})
	}
	return out, nil
}

// buildRequest applies the capability flags. Features the provider lacks are
// left out of the request and reported as UnsupportedFeatureError values.
func (c *Client) buildRequest(params core.CallParams) (goopenai.ChatCompletionRequest, []error) {
	var degraded []error
	flags := c.provider.Flags

	messages, droppedImages := mapChatMessages(params.Messages, flags.Vision)
	if droppedImages {
		degraded = append(degraded, c.unsupported("vision"))
	}

	req := goopenai.ChatCompletionRequest{
		Model:       params.Model,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		User:        params.User,
	}

	if len(params.ToolDefs) > 0 {
		if flags.ToolCalling {
			req.Tools = mapTools(params.ToolDefs)
		} else {
			degraded = append(degraded, c.unsupported("tool_calling"))
		}
	}

	if len(params.OutputSchema) > 0 {
		if flags.StructuredOutput {
			name := params.SchemaName
			if name == "" {
				name = "response"
			}
			req.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
				Type: goopenai.ChatCompletionResponseFormatTypeJSONSchema,
				JSONSchema: &goopenai.ChatCompletionResponseFormatJSONSchema{
					Name:   name,
					Schema: params.OutputSchema,
					Strict: true,
				},
			}
			if c.provider.Adapter.RequireJSONKeyword {
				messages = ensureJSONKeyword(messages)
			}
		} else {
			degraded = append(degraded, c.unsupported("structured_output"))
			messages = withSchemaPrompt(messages, params.OutputSchema)
		}
	}

	req.Messages = messages
	return req, degraded
}

func (c *Client) unsupported(feature string) error {
	return &moderr.UnsupportedFeatureError{Feature: feature, Provider: c.provider.Name}
}

// withSchemaPrompt puts the schema into a system message after any leading
// system messages, for endpoints that cannot enforce it.
func withSchemaPrompt(msgs []goopenai.ChatCompletionMessage, schema json.RawMessage) []goopenai.ChatCompletionMessage {
	var compact bytes.Buffer
	if err := json.Compact(&compact, schema); err != nil {
		compact.Reset()
		compact.Write(schema)
	}
	sys := goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleSystem,
		Content: schemaPromptPrefix + compact.String(),
	}
	i := 0
	for i < len(msgs) && msgs[i].Role == goopenai.ChatMessageRoleSystem {
		i++
	}
	out := make([]goopenai.ChatCompletionMessage, 0, len(msgs)+1)
	out = append(out, msgs[:i]...)
	out = append(out, sys)
	return append(out, msgs[i:]...)
}

// encodeBody marshals req and merges the provider's extra body fields at the
// top level. Fields already present in the request win. temperature is
// always written: go-openai omits a zero value, and 0 is a valid setting.
func (c *Client) encodeBody(req goopenai.ChatCompletionRequest) ([]byte, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	temp, err := json.Marshal(req.Temperature)
	if err != nil {
		return nil, err
	}
	m["temperature"] = temp
	for k, v := range c.provider.Adapter.ExtraBody {
		if _, ok := m[k]; ok {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("extra body field %q: %w", k, err)
		}
		m[k] = raw
	}
	return json.Marshal(m)
}

// do runs one logical request under the shared limiter and retry policy.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	if err := c.limiter.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.limiter.Release(1)

	cfg := c.retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.Warn("retrying request",
			slog.String("provider", c.provider.Name),
			slog.String("path", path),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
	}
	return retry.WithRetryConfig(ctx, func(ctx context.Context) error {
		return c.roundTrip(ctx, method, path, body, out)
	}, cfg)
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	c.setHeaders(req, body != nil)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return c.transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		he := retry.NewHTTPStatusError(resp.StatusCode, secret.Redact(errorMessage(b), c.apiKey), c.provider.Name)
		he.RetryAfter = retry.ParseRetryAfter(resp.Header)
		return he
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s decode response: %v", moderr.ErrUpstream, c.provider.Name, err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, hasBody bool) {
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if !c.apiKey.Empty() {
		if h := c.provider.Adapter.AuthHeader; h != "" {
			req.Header.Set(h, c.apiKey.Reveal())
		} else {
			req.Header.Set("Authorization", "Bearer "+c.apiKey.Reveal())
		}
	}
	for k, v := range c.provider.Adapter.Headers {
		req.Header.Set(k, v)
	}
}

// transportError classifies a failed round trip. The error text may name the
// URL, which never carries the key.
func (c *Client) transportError(err error) error {
	msg := secret.Redact(err.Error(), c.apiKey)
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &transportErr{kind: moderr.ErrTimeout, msg: msg, err: err}
	}
	return &transportErr{kind: moderr.ErrCannotConnect, msg: msg, err: err}
}

// transportErr keeps net.Error reachable for retry decisions while printing a
// redacted message.
type transportErr struct {
	kind error
	msg  string
	err  error
}

func (e *transportErr) Error() string { return e.kind.Error() + ": " + e.msg }

func (e *transportErr) Unwrap() []error { return []error{e.kind, e.err} }

// errorMessage prefers the message of an OpenAI-style error envelope.
func errorMessage(b []byte) string {
	var er goopenai.ErrorResponse
	if err := json.Unmarshal(b, &er); err == nil && er.Error != nil && er.Error.Message != "" {
		return er.Error.Message
	}
	return strings.TrimSpace(string(b))
}

func messageText(m goopenai.ChatCompletionMessage) string {
	if m.Content != "" || len(m.MultiContent) == 0 {
		return m.Content
	}
	var parts []string
	for _, p := range m.MultiContent {
		if p.Type == goopenai.ChatMessagePartTypeText && p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// mapChatMessages converts to wire messages. Images are sent only when vision
// is allowed; the second return reports whether any were dropped.
func mapChatMessages(msgs []core.Message, vision bool) ([]goopenai.ChatCompletionMessage, bool) {
	out := make([]goopenai.ChatCompletionMessage, 0, len(msgs))
	dropped := false
	for _, m := range msgs {
		wm := goopenai.ChatCompletionMessage{
			Role:       m.Role,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		if len(m.ToolCalls) > 0 {
			wm.ToolCalls = make([]goopenai.ToolCall, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				args := tc.Args
				if strings.TrimSpace(args) == "" {
					args = "{}"
				}
				wm.ToolCalls[i] = goopenai.ToolCall{
					ID:       tc.CallID,
					Type:     goopenai.ToolTypeFunction,
					Function: goopenai.FunctionCall{Name: tc.Name, Arguments: args},
				}
			}
		}
		switch {
		case len(m.Images) > 0 && vision:
			parts := make([]goopenai.ChatMessagePart, 0, len(m.Images)+1)
			if m.Content != "" {
				parts = append(parts, goopenai.ChatMessagePart{Type: goopenai.ChatMessagePartTypeText, Text: m.Content})
			}
			for _, img := range m.Images {
				parts = append(parts, goopenai.ChatMessagePart{
					Type:     goopenai.ChatMessagePartTypeImageURL,
					ImageURL: &goopenai.ChatMessageImageURL{URL: img, Detail: goopenai.ImageURLDetailAuto},
				})
			}
			wm.MultiContent = parts
		default:
			if len(m.Images) > 0 {
				dropped = true
			}
			wm.Content = m.Content
		}
		out = append(out, wm)
	}
	return out, dropped
}

func mapTools(defs []core.ToolDef) []goopenai.Tool {
	out := make([]goopenai.Tool, len(defs))
	for i, d := range defs {
		out[i] = goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  coerceParams(d.Schema),
			},
		}
	}
	return out
}

// coerceParams ensures the parameters JSON is a function JSON Schema
// (type: object at top-level, with properties).
func coerceParams(schema json.RawMessage) json.RawMessage {
	var m map[string]any
	if err := json.Unmarshal(schema, &m); err != nil || m == nil {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	if m["type"] != "object" {
		m["type"] = "object"
	}
	if _, ok := m["properties"]; !ok {
		m["properties"] = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return b
}

// ensureJSONKeyword makes sure a system or user message mentions "json": it
// extends a trailing user message, or else prepends a system message.
func ensureJSONKeyword(msgs []goopenai.ChatCompletionMessage) []goopenai.ChatCompletionMessage {
	for _, m := range msgs {
		if m.Role != goopenai.ChatMessageRoleSystem && m.Role != goopenai.ChatMessageRoleUser {
			continue
		}
		if strings.Contains(strings.ToLower(messageText(m)), "json") {
			return msgs
		}
	}
	if n := len(msgs); n > 0 && msgs[n-1].Role == goopenai.ChatMessageRoleUser {
		last := msgs[n-1]
		if len(last.MultiContent) > 0 {
			last.MultiContent = append(append([]goopenai.ChatMessagePart(nil), last.MultiContent...),
				goopenai.ChatMessagePart{Type: goopenai.ChatMessagePartTypeText, Text: strings.TrimSpace(jsonKeywordUserSuffix)})
		} else {
			last.Content += jsonKeywordUserSuffix
		}
		out := append([]goopenai.ChatCompletionMessage(nil), msgs...)
		out[n-1] = last
		return out
	}
	sys := goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: jsonKeywordSystem}
	return append([]goopenai.ChatCompletionMessage{sys}, msgs...)
}
