package prompt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/skilllearn/pkg/busmsg"
)

func TestSystemPromptMentionsRequiredSections(t *testing.T) {
	assert.Contains(t, SystemPrompt, "Task Analysis")
	assert.Contains(t, SystemPrompt, "Available Skills")
	assert.Contains(t, SystemPrompt, "report_thinking")
	assert.Contains(t, SystemPrompt, "Multi-Turn Context Arrival")
	assert.Contains(t, SystemPrompt, "Complete your current in-progress work")
	assert.Contains(t, SystemPrompt, "additive")
}

func TestPromptKwargs(t *testing.T) {
	assert.Equal(t, map[string]any{"prompt_id": "agent.skill_learner"}, PromptKwargs())
}

func TestFormatAvailableSkillsEmpty(t *testing.T) {
	assert.Equal(t, "(No skills in this learning space yet)", FormatAvailableSkills(nil))
}

func TestFormatAvailableSkillsRendersEachEntry(t *testing.T) {
	got := FormatAvailableSkills([]SkillSummary{
		{Name: "auth-patterns", Description: "Authentication handling"},
		{Name: "retry-policy", Description: "Backoff strategy"},
	})
	assert.Contains(t, got, "- **auth-patterns**: Authentication handling")
	assert.Contains(t, got, "- **retry-policy**: Backoff strategy")
}

func TestPackInputBothSections(t *testing.T) {
	result := PackInput("**Goal:** Fix bug", "- **auth-patterns**: Authentication handling", nil)
	assert.Contains(t, result, "## Task Analysis")
	assert.Contains(t, result, "Fix bug")
	assert.Contains(t, result, "## Available Skills")
	assert.Contains(t, result, "auth-patterns")
	assert.Contains(t, result, "Today's date:")
	assert.NotContains(t, result, "Pending")
}

func TestPackInputWithPendingContexts(t *testing.T) {
	pending := []busmsg.DistilledContext{
		{DistilledText: "Pending A"},
		{DistilledText: "Pending B"},
	}
	result := PackInput("Only this", "- **s**: d", pending)
	assert.Contains(t, result, "Only this")
	assert.Contains(t, result, "## Pending Context 1")
	assert.Contains(t, result, "Pending A")
	assert.Contains(t, result, "## Pending Context 2")
	assert.Contains(t, result, "Pending B")
}

func TestPackIncomingContextsSingle(t *testing.T) {
	result := PackIncomingContexts([]busmsg.DistilledContext{{DistilledText: "New learning"}}, "- **skill-a**: desc", 0)
	assert.Contains(t, result, "Additional contexts have arrived")
	assert.Contains(t, result, "Finish your current task first")
	assert.Contains(t, result, "## New Context 1")
	assert.Contains(t, result, "New learning")
	assert.Contains(t, result, "## Available Skills (updated)")
	assert.Contains(t, result, "skill-a")
}

func TestPackIncomingContextsContinuesNumberingFromBase(t *testing.T) {
	contexts := []busmsg.DistilledContext{
		{DistilledText: "Analysis A"},
		{DistilledText: "Analysis B"},
	}
	result := PackIncomingContexts(contexts, "(No skills in this learning space yet)", 2)
	assert.Contains(t, result, "## New Context 3")
	assert.Contains(t, result, "Analysis A")
	assert.Contains(t, result, "## New Context 4")
	assert.Contains(t, result, "Analysis B")
}

func TestToolSchemasIncludesFinishAndSixHandlers(t *testing.T) {
	schemas := ToolSchemas()
	names := make(map[string]bool, len(schemas))
	for _, s := range schemas {
		names[s.Name] = true
	}
	require.Len(t, schemas, 7)
	for _, want := range []string{
		"report_thinking", "create_skill", "edit_skill",
		"list_skill_files", "read_skill_file", "delete_skill", "finish",
	} {
		assert.True(t, names[want], "missing tool %s", want)
	}
}

func TestToolSchemasParametersAreValidJSON(t *testing.T) {
	for _, s := range ToolSchemas() {
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(s.Parameters, &decoded), "tool %s", s.Name)
		assert.Equal(t, "object", decoded["type"])
	}
}

func TestToolSchemasCreateSkillRequiresAllFields(t *testing.T) {
	for _, s := range ToolSchemas() {
		if s.Name != "create_skill" {
			continue
		}
		var decoded struct {
			Required []string `json:"required"`
		}
		require.NoError(t, json.Unmarshal(s.Parameters, &decoded))
		assert.ElementsMatch(t, []string{"name", "description", "path", "content"}, decoded.Required)
		return
	}
	t.Fatal("create_skill schema not found")
}
