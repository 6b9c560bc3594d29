// Package prompt assembles the system prompt, tool schemas, and user-message
// packing for the skill-learner agent loop (spec.md §4.6), grounded in
// original_source's llm/prompt/task.py (the three-section message format)
// and tarsy's pkg/agent/prompt package (system-prompt composition style,
// fenced "## Heading" sections, Sprintf-built templates).
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/codeready-toolchain/skilllearn/pkg/busmsg"
)

// SystemPrompt is the fixed instruction set for the skill-learner LM call
// (spec.md §4.6). Mentions of "Task Analysis", "Available Skills", and
// "report_thinking" are required so the LM recognizes the user-message
// sections built by PackInput and the mandatory first tool call.
const SystemPrompt = `You are a Skill Learning Agent that distills completed work into durable, reusable skills.

## Input Format
Your user message carries:
- ` + "`## Task Analysis`" + `: a distilled account of what happened in one completed session — not the raw conversation.
- ` + "`## Available Skills`" + `: the skills already recorded in this learning space, so you never duplicate one.
- ` + "`## Pending Context N`" + ` (0 or more): additional distilled contexts that were already waiting when you started.

## Multi-Turn Context Arrival
More contexts may arrive after you have started working, delivered as a follow-up user message titled
"Additional contexts have arrived". Complete your current in-progress work before reacting to them — do not
abandon a partially-written skill. Treat the new material as additive: extend or refine what you have, rather
than starting over.

## Your Responsibilities
1. Decide whether the task analysis reveals a reusable skill: a pattern, procedure, or piece of knowledge
   worth recording for future sessions in this learning space.
2. If it does and no existing skill covers it, create one (` + "`create_skill`" + `) with its first file.
3. If it refines or corrects an existing skill, edit it in place (` + "`edit_skill`" + `) rather than creating a duplicate.
4. Use ` + "`list_skill_files`" + ` and ` + "`read_skill_file`" + ` to inspect a skill's current content before editing it.
5. Use ` + "`delete_skill`" + ` only when a skill has been fully superseded or was recorded in error.
6. If nothing in the task analysis is worth recording, call ` + "`finish`" + ` without mutating anything.

## report_thinking
Before your first mutating tool call in a run, call ` + "`report_thinking`" + ` to briefly state what you observed and
what you intend to do about it. You only need to do this once per run, not on every iteration.

## Finishing
Call ` + "`finish`" + ` when you have no further action to take. If additional contexts arrive after you call
` + "`finish`" + ` but before the run ends, your intent to finish is discarded and you must continue working.
`

// DistillationSystemPrompt instructs the LM that turns one closed session's
// raw task description into the short "Task Analysis" text the skill-learner
// agent consumes (spec §4.4 step 3; the distillation pipeline itself — the
// LM call — is outside this repository's scope per spec.md §1, but the
// consumer still needs a concrete prompt to drive it).
const DistillationSystemPrompt = `You summarize one completed task into a short, self-contained account of what
happened and what was learned, suitable as input to a separate skill-recording agent. Write only the account
itself, in prose, with no preamble. If the task contains nothing worth recording as a reusable skill, respond
with exactly the single word "NONE".`

// DistillationPromptID is the prompt_kwargs carried on the distillation call.
const DistillationPromptID = "agent.skill_distiller"

// DistillationPromptKwargs returns the fixed prompt_kwargs for the
// distillation call.
func DistillationPromptKwargs() map[string]any {
	return map[string]any{"prompt_id": DistillationPromptID}
}

// PromptID is the prompt_kwargs carried on every complete() call, mirroring
// original_source's TaskPrompt.prompt_kwargs.
const PromptID = "agent.skill_learner"

// PromptKwargs returns the fixed prompt_kwargs for this agent.
func PromptKwargs() map[string]any {
	return map[string]any{"prompt_id": PromptID}
}

// SkillSummary is one line of the rendered "Available Skills" section.
type SkillSummary struct {
	Name        string
	Description string
}

// FormatAvailableSkills renders the skills snapshot, grounded in
// original_source's _build_available_skills_str.
func FormatAvailableSkills(skills []SkillSummary) string {
	if len(skills) == 0 {
		return "(No skills in this learning space yet)"
	}
	var sb strings.Builder
	for i, s := range skills {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "- **%s**: %s", s.Name, s.Description)
	}
	return sb.String()
}

// PackInput builds the initial user message for a run (spec.md §4.6 step 1):
// "Task Analysis", "Available Skills", and — if entry-drained items exist —
// "Pending Context 1..n", grounded in original_source's
// pack_skill_learner_input.
func PackInput(distilledText, availableSkillsStr string, pending []busmsg.DistilledContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Task Analysis\n%s\n\n", distilledText)
	fmt.Fprintf(&sb, "## Available Skills\n%s\n", availableSkillsStr)
	fmt.Fprintf(&sb, "\nToday's date: %s\n", time.Now().UTC().Format("2006-01-02"))

	for i, ctx := range pending {
		fmt.Fprintf(&sb, "\n## Pending Context %d\n%s\n", i+1, ctx.DistilledText)
	}
	return sb.String()
}

// PackIncomingContexts builds the mid-run injection message appended when
// new contexts arrive between iterations (spec.md §4.6 step 2e), grounded in
// original_source's pack_incoming_contexts. countBase offsets the numbering
// so injected contexts continue from the entry batch instead of restarting
// at 1 — original_source's count_bases = len(drained_items) - len(new_contexts)
// (i.e. the count of items already drained before this batch).
func PackIncomingContexts(newContexts []busmsg.DistilledContext, availableSkillsStr string, countBase int) string {
	var sb strings.Builder
	sb.WriteString("Additional contexts have arrived. Finish your current task first, then incorporate these:\n")
	for i, ctx := range newContexts {
		fmt.Fprintf(&sb, "\n## New Context %d\n%s\n", countBase+i+1, ctx.DistilledText)
	}
	fmt.Fprintf(&sb, "\n## Available Skills (updated)\n%s\n", availableSkillsStr)
	return sb.String()
}

// ToolParam describes one JSON-Schema property for a tool's parameters.
type ToolParam struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// ToolSchema is the wire shape a Tool advertises to the LM, matching
// llmclient.ToolSchema.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

func buildParameters(params []ToolParam) json.RawMessage {
	properties := make(map[string]any, len(params))
	var required []string
	for _, p := range params {
		properties[p.Name] = map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		// Only possible if a caller passes an unmarshalable type through
		// ToolParam, which cannot happen given the field types above.
		panic(fmt.Sprintf("prompt: build tool schema: %v", err))
	}
	return raw
}

// toolDefs is the fixed catalog of skill-learner tools (spec.md §4.6,
// SPEC_FULL.md §2), excluding the `finish` sentinel which carries no
// schema and is handled as special-cased control flow by the caller.
var toolDefs = []struct {
	name        string
	description string
	params      []ToolParam
}{
	{
		name:        "report_thinking",
		description: "Report your observations and intent before taking any mutating action this run.",
		params: []ToolParam{
			{Name: "text", Type: "string", Description: "Brief statement of what you observed and plan to do", Required: true},
		},
	},
	{
		name:        "create_skill",
		description: "Create a new skill with its first file.",
		params: []ToolParam{
			{Name: "name", Type: "string", Description: "Stable, unique name within the learning space", Required: true},
			{Name: "description", Type: "string", Description: "One-line summary of what the skill covers", Required: true},
			{Name: "path", Type: "string", Description: "Relative path of the first file, e.g. SKILL.md", Required: true},
			{Name: "content", Type: "string", Description: "Full content of the first file", Required: true},
		},
	},
	{
		name:        "edit_skill",
		description: "Write (create or overwrite) one file of an existing skill.",
		params: []ToolParam{
			{Name: "skill_name", Type: "string", Description: "Name of the skill to edit", Required: true},
			{Name: "path", Type: "string", Description: "Relative path of the file to write", Required: true},
			{Name: "content", Type: "string", Description: "Full new content of the file", Required: true},
		},
	},
	{
		name:        "list_skill_files",
		description: "List the file paths belonging to a skill.",
		params: []ToolParam{
			{Name: "skill_name", Type: "string", Description: "Name of the skill", Required: true},
		},
	},
	{
		name:        "read_skill_file",
		description: "Read the full content of one file belonging to a skill.",
		params: []ToolParam{
			{Name: "skill_name", Type: "string", Description: "Name of the skill", Required: true},
			{Name: "path", Type: "string", Description: "Relative path of the file to read", Required: true},
		},
	},
	{
		name:        "delete_skill",
		description: "Delete a skill and all of its files.",
		params: []ToolParam{
			{Name: "skill_name", Type: "string", Description: "Name of the skill to delete", Required: true},
		},
	},
}

// ToolSchemas returns the tool catalog advertised to the LM, excluding the
// `finish` sentinel (spec.md §6: "The reserved name `finish` is not in the
// registry").
func ToolSchemas() []ToolSchema {
	out := make([]ToolSchema, 0, len(toolDefs)+1)
	for _, t := range toolDefs {
		out = append(out, ToolSchema{
			Name:        t.name,
			Description: t.description,
			Parameters:  buildParameters(t.params),
		})
	}
	out = append(out, ToolSchema{
		Name:        "finish",
		Description: "Signal that no further action is needed this run.",
		Parameters:  buildParameters(nil),
	})
	return out
}
