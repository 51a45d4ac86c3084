package core

import (
	"context"
	"encoding/json"
)

// RawClient is implemented by provider adapters.
type RawClient interface {
	Call(ctx context.Context, params CallParams) (RawResponse, error)
}

// ModelLister is implemented by clients that can enumerate the endpoint's models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]Model, error)
}

type CallParams struct {
	Model    string
	Messages []Message
	ToolDefs []ToolDef
	// OutputSchema requests structured output when set.
	OutputSchema json.RawMessage
	SchemaName   string
	MaxTokens    int
	Temperature  float32
	TopP         float32
	// User is forwarded as the end-user identifier, usually the conversation id.
	User string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

type Message struct {
	Role    string
	Content string
	// Images are URLs or data URIs.
	Images []string
	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCall
	// ToolCallID links a tool-role message to the call it answers.
	ToolCallID string
	Name       string
}

// ToolDef describes a tool in a provider-agnostic form.
// Schema is a JSON Schema object for the tool's arguments.
type ToolDef struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

type RawResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
	// Degraded lists features that were requested but not sent to the endpoint.
	Degraded []error
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ToolCall is a tool invocation as returned by the model. Args is the raw
// argument text; it has not been validated.
type ToolCall struct {
	CallID string
	Name   string
	Args   string
}

type Model struct {
	ID      string
	OwnedBy string
}
