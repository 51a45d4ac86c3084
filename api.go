// Package qwenai connects conversation and AI task agents to Qwen (DashScope)
// and other OpenAI-compatible chat completion endpoints.
//
// An Integration owns the stored entries. Each entry is one endpoint and API
// key; its subentries are the agents. Entries are created through the flows
// returned by Integration.ConfigFlow, SubentryFlow and OptionsFlow, and run
// once SetupEntry has verified the connection.
package qwenai

import (
	"context"
	"encoding/json"
	"fmt"

	moderr "github.com/lizzyg/qwenai/errors"
	"github.com/lizzyg/qwenai/internal/core"
	"github.com/lizzyg/qwenai/internal/i18n"
	"github.com/lizzyg/qwenai/internal/util"
)

// Tool is implemented by any callable function the model can invoke.
// Parameters must return a pointer to a zero-value struct for JSON schema generation and unmarshalling.
type Tool interface {
	Name() string
	Description() string
	Parameters() any
	Execute(ctx context.Context, args any) (any, error)
}

// Message is one conversational message.
type Message struct {
	Role    MessageRole
	Content string
	Images  []string // image URLs or data URIs
	// ToolCalls is set on assistant messages that invoked tools. Args hold
	// the repaired argument JSON.
	ToolCalls []ToolCall
	// ToolCallID is set on tool results.
	ToolCallID string
	// Name is the tool name on tool results.
	Name string
}

// MessageRole defines who authored a message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

type (
	ToolCall = core.ToolCall
	Usage    = core.Usage
)

// ChatLog is the conversation history the host keeps between turns. The last
// message is normally the user's new utterance. HandleTurn appends the
// assistant and tool messages it produces.
type ChatLog struct {
	ConversationID string
	Messages       []Message
	// Tools are offered in addition to those of the agent's LLM APIs.
	Tools []Tool
	// ExtraSystemPrompt is appended to the agent's instructions.
	ExtraSystemPrompt string
}

// SkippedCall is a tool call dropped because its arguments could not be
// recovered.
type SkippedCall struct {
	Tool   string
	CallID string
	Err    error
}

// Warning returns the localized notice for the user.
func (s SkippedCall) Warning(lang string) string {
	return i18n.Text("tool_call_skipped", lang, s.Tool)
}

// TurnResult is the outcome of one conversation turn.
type TurnResult struct {
	// Content is the final assistant text.
	Content string
	// Messages are the messages added to the chat log during the turn.
	Messages []Message
	Skipped  []SkippedCall
	// Degraded lists request features the endpoint does not support and that
	// were left out.
	Degraded   []error
	Usage      Usage
	Iterations int
}

// Task is an AI task data generation request.
type Task struct {
	Name         string
	Instructions string
	// Structure is the JSON schema the result must follow. Without it the
	// task returns plain text.
	Structure   json.RawMessage
	Attachments []string
}

type TaskResult struct {
	ConversationID string
	// Text is the raw model output.
	Text string
	// Data is the parsed result for structured tasks.
	Data     json.RawMessage
	Degraded []error
	Usage    Usage
}

// Generate runs task with a structure reflected from T and parses the result
// into T. If T is string, the raw text is returned.
func Generate[T any](ctx context.Context, a *AITask, task Task) (T, error) {
	var zero T
	if util.IsStringType[T]() {
		task.Structure = nil
		res, err := a.GenerateData(ctx, task)
		if err != nil {
			return zero, err
		}
		return any(res.Text).(T), nil
	}
	var zeroPtr *T
	task.Structure = util.GenerateJSONSchema(zeroPtr)
	res, err := a.GenerateData(ctx, task)
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(res.Data, &out); err != nil {
		return zero, fmt.Errorf("%w: %v", moderr.ErrStructuredOutput, err)
	}
	return out, nil
}

func toCoreMessages(msgs []Message) []core.Message {
	out := make([]core.Message, len(msgs))
	for i, m := range msgs {
		out[i] = core.Message{
			Role:       string(m.Role),
			Content:    m.Content,
			Images:     append([]string(nil), m.Images...),
			ToolCalls:  append([]ToolCall(nil), m.ToolCalls...),
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
	}
	return out
}
