package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/skilllearn/pkg/busmsg"
	"github.com/codeready-toolchain/skilllearn/pkg/llmclient"
	"github.com/codeready-toolchain/skilllearn/pkg/masking"
	"github.com/codeready-toolchain/skilllearn/pkg/prompt"
)

// none is the sentinel the distillation LM returns for a task with nothing
// worth recording (spec §4.4 step 3: "not actionable").
const none = "NONE"

// LLMDistiller implements Distiller with a single tool-free LM call, grounded
// in the same llmclient.Client agentloop drives the agent-learning call with.
// The distillation pipeline's own semantics are outside this repository's
// scope (spec.md §1); this is the minimal concrete implementation the
// skill-agent binding needs something to publish from.
type LLMDistiller struct {
	LLM llmclient.Client

	// Masker, when set, scrubs secrets out of the raw task text before it is
	// sent to the LM or recorded into a durable skill file — a task's own
	// text can legitimately contain API keys, tokens, or Kubernetes Secret
	// manifests (adapted from pkg/masking's alert-payload masking, grounded
	// in the same fail-open MaskAlertData call tarsy uses for alert data).
	Masker *masking.MaskingService
}

// Distill turns one session's task description into a DistilledContext, or
// (nil, nil) if the LM judges nothing actionable.
func (d *LLMDistiller) Distill(ctx context.Context, task busmsg.DistillationTask) (*busmsg.DistilledContext, error) {
	taskText := task.Task
	if d.Masker != nil {
		taskText = d.Masker.MaskAlertData(taskText)
	}
	history := []llmclient.Message{{Role: llmclient.RoleUser, Content: taskText}}
	resp, err := d.LLM.Complete(ctx, prompt.DistillationSystemPrompt, history, nil, prompt.DistillationPromptKwargs())
	if err != nil {
		return nil, fmt.Errorf("distill session %s: %w", task.Session, err)
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" || text == none {
		return nil, nil
	}

	return &busmsg.DistilledContext{
		Project:       task.Project,
		Session:       task.Session,
		Task:          taskText,
		DistilledText: text,
	}, nil
}
