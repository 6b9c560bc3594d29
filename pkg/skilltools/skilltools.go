// Package skilltools implements the in-process tool handlers the agent loop
// (package agentloop) dispatches to: report_thinking, create_skill,
// edit_skill, list_skill_files, read_skill_file, delete_skill (spec.md §4.6,
// §6 "Tool registry"). Routing and the `finish` sentinel exclusion are
// grounded in tarsy's pkg/agent/orchestrator/tool_executor.go
// (CompositeToolExecutor.Execute's name-routed dispatch, unknown-name
// handling); the shared mutable session context carrying
// has_reported_thinking is grounded in original_source's SkillLearnerCtx.
package skilltools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codeready-toolchain/skilllearn/ent"
)

// Context is the session-scoped state shared by every tool handler within
// one agent-loop run (spec.md §4.6 "Tool-call semantics"): the database
// handle, the run's identity, and the mutable has_reported_thinking flag
// that persists across iterations.
type Context struct {
	DB              *ent.Client
	ProjectID       string
	LearningSpaceID string

	// HasReportedThinking is set true the first time report_thinking is
	// called in this run and must be preserved by the caller across
	// iterations (spec.md §4.6).
	HasReportedThinking bool
}

// Handler executes one tool call against the shared Context and returns the
// tool-result text, or an error if the call should abort the agent loop
// (spec.md §6: "each handler is (ctx, arguments) → Result<text>").
type Handler func(ctx context.Context, sctx *Context, arguments json.RawMessage) (string, error)

// registry is the string-to-handler mapping (spec.md §6). The reserved name
// "finish" is deliberately absent — it is a sentinel the caller special-cases
// before consulting the registry.
var registry = map[string]Handler{
	"report_thinking":  handleReportThinking,
	"create_skill":     handleCreateSkill,
	"edit_skill":       handleEditSkill,
	"list_skill_files": handleListSkillFiles,
	"read_skill_file":  handleReadSkillFile,
	"delete_skill":     handleDeleteSkill,
}

// ErrUnknownTool is wrapped into the error Dispatch returns for a tool name
// absent from the registry (spec.md §7 error kind 3).
type ErrUnknownTool struct {
	Name string
}

func (e ErrUnknownTool) Error() string {
	return fmt.Sprintf("skilltools: unknown tool %q", e.Name)
}

// Dispatch routes one tool call by name, mirroring CompositeToolExecutor's
// Execute: a name lookup followed by handler invocation. Unlike the teacher,
// there is no secondary MCP fallback — an unmatched name is always an error
// (spec.md §6: "finish is not in the registry"; any other absent name is
// case 3, "unknown tool").
func Dispatch(ctx context.Context, sctx *Context, name string, arguments json.RawMessage) (string, error) {
	handler, ok := registry[name]
	if !ok {
		return "", ErrUnknownTool{Name: name}
	}
	return handler(ctx, sctx, arguments)
}

func handleReportThinking(_ context.Context, sctx *Context, arguments json.RawMessage) (string, error) {
	var args struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return "", fmt.Errorf("report_thinking: invalid arguments: %w", err)
	}
	sctx.HasReportedThinking = true
	return "thinking recorded", nil
}
