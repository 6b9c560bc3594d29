// Package llmclient implements the LM contract of spec §6:
// complete(system_prompt, history, tools, prompt_kwargs) -> Result<Response>.
//
// tarsy's own pkg/agent/llm_client.go and pkg/llm/client.go both front a
// gRPC service generated from a proto/ package that is absent anywhere in
// this repository's example pack (no .proto source, no generated stubs) —
// already unresolvable in the pristine teacher snapshot. Rather than
// hand-author the missing generated code or run protoc, this package
// implements the same single-blocking-call contract over plain net/http
// and encoding/json, grounded in llm_client.go's LLMClient interface shape
// with the streaming Chunk variants collapsed into one Response (spec.md's
// contract is non-streaming).
package llmclient

import (
	"context"
	"encoding/json"
)

// Role is the speaker of one Message (spec §6: "user"|"assistant"|"tool").
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one function invocation the LM asked for.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON object, opaque to this package
}

// Message is one turn of conversation history (spec §6).
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// ToolSchema describes one callable tool to the LM.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Response is the LM's reply for one complete() call.
type Response struct {
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Client is the LM contract the agent loop depends on. A single blocking
// call per spec.md §6 — no streaming.
type Client interface {
	Complete(ctx context.Context, systemPrompt string, history []Message, tools []ToolSchema, promptKwargs map[string]any) (*Response, error)
	Close() error
}
