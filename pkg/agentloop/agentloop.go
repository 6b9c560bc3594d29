// Package agentloop implements the bounded multi-turn skill-learning agent
// run (spec.md §4.6), grounded line-for-line in
// pkg/agent/controller/iterating.go's IteratingController.Run: a bounded
// `for iteration < maxIterations` loop, tool-call-absence as the stop
// signal, and — unique to this spec — a mid-run pending-queue drain that can
// both extend the iteration budget and override a pending `finish`.
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/skilllearn/ent"
	"github.com/codeready-toolchain/skilllearn/ent/skill"
	"github.com/codeready-toolchain/skilllearn/pkg/busmsg"
	"github.com/codeready-toolchain/skilllearn/pkg/llmclient"
	"github.com/codeready-toolchain/skilllearn/pkg/prompt"
	"github.com/codeready-toolchain/skilllearn/pkg/skilltools"
)

// PendingQueue is the subset of pending.Queue the loop depends on.
type PendingQueue interface {
	Drain(ctx context.Context, project, learningSpace string, max int) ([]busmsg.DistilledContext, error)
	Push(ctx context.Context, project, learningSpace string, item busmsg.DistilledContext) error
}

// Locker is the subset of kvcoord.Store the loop depends on, used to renew
// the agent-run lock across iterations (spec.md §4.6 step 2g).
type Locker interface {
	RenewLock(ctx context.Context, project, key string, ttl time.Duration) (bool, error)
}

// ToolDispatchFunc matches skilltools.Dispatch's signature; injectable for
// testing without a real database.
type ToolDispatchFunc func(ctx context.Context, sctx *skilltools.Context, name string, arguments json.RawMessage) (string, error)

// SkillRefreshFunc re-fetches the skills snapshot for a learning space,
// grounded in original_source's _refresh_skills (re-fetch so the agent sees
// skills it just created/modified in this same run).
type SkillRefreshFunc func(ctx context.Context, db *ent.Client, learningSpaceID string) ([]prompt.SkillSummary, error)

// Deps are the run's external collaborators.
type Deps struct {
	LLM     llmclient.Client
	Pending PendingQueue
	Locker  Locker
	DB      *ent.Client

	// DispatchTool defaults to skilltools.Dispatch when nil.
	DispatchTool ToolDispatchFunc
	// RefreshSkills defaults to RefreshSkillsFromDB when nil.
	RefreshSkills SkillRefreshFunc
}

// Params are the inputs to one run (spec.md §4.6's abstract signature).
type Params struct {
	ProjectID       string
	LearningSpaceID string
	UserID          *string

	SkillsSnapshot []prompt.SkillSummary
	DistilledText  string

	MaxIterations      int
	MaxContextsPerRun  int
	ExtraItersPerBatch int

	// LockKey/LockTTL are optional; when both are set the loop renews the
	// lock after every iteration (spec.md §4.6 step 2g).
	LockKey string
	LockTTL time.Duration
}

// Run executes one bounded agent-learning run and returns the session ids of
// every context drained during the run (entry + mid-run) — never including
// the live-input session, per spec.md §4.6 step 3. On failure, every drained
// item is re-pushed to the pending queue in original order (step 4) and the
// error is returned.
func Run(ctx context.Context, deps Deps, params Params) ([]string, error) {
	dispatch := deps.DispatchTool
	if dispatch == nil {
		dispatch = skilltools.Dispatch
	}
	refresh := deps.RefreshSkills
	if refresh == nil {
		refresh = RefreshSkillsFromDB
	}

	maxIterations := params.MaxIterations
	maxContexts := params.MaxContextsPerRun

	var drained []busmsg.DistilledContext

	// 1. Entry drain.
	initial, err := deps.Pending.Drain(ctx, params.ProjectID, params.LearningSpaceID, maxContexts)
	if err != nil {
		return nil, fmt.Errorf("agentloop: entry drain: %w", err)
	}
	drained = append(drained, initial...)

	skills := params.SkillsSnapshot
	availableSkillsStr := prompt.FormatAvailableSkills(skills)

	userInput := prompt.PackInput(params.DistilledText, availableSkillsStr, initial)
	history := []llmclient.Message{{Role: llmclient.RoleUser, Content: userInput}}

	sctx := &skilltools.Context{
		DB:              deps.DB,
		ProjectID:       params.ProjectID,
		LearningSpaceID: params.LearningSpaceID,
	}

	alreadyIterations := 0
	for alreadyIterations < maxIterations {
		resp, err := deps.LLM.Complete(ctx, prompt.SystemPrompt, history, prompt.ToolSchemas(), prompt.PromptKwargs())
		if err != nil {
			return nil, fail(ctx, deps.Pending, params, drained, fmt.Errorf("LLM call failed: %w", err))
		}

		history = append(history, llmclient.Message{
			Role:      llmclient.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			break
		}

		justFinish := false
		var toolResults []llmclient.Message
		for _, tc := range resp.ToolCalls {
			if tc.Name == "finish" {
				justFinish = true
				continue
			}
			result, err := dispatch(ctx, sctx, tc.Name, json.RawMessage(tc.Arguments))
			if err != nil {
				return nil, fail(ctx, deps.Pending, params, drained, fmt.Errorf("tool %s: %w", tc.Name, err))
			}
			toolResults = append(toolResults, llmclient.Message{
				Role:       llmclient.RoleTool,
				Content:    result,
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			})
		}
		history = append(history, toolResults...)

		// Mid-run drain.
		remaining := maxContexts - len(drained)
		if remaining > 0 {
			newContexts, err := deps.Pending.Drain(ctx, params.ProjectID, params.LearningSpaceID, remaining)
			if err != nil {
				return nil, fail(ctx, deps.Pending, params, drained, fmt.Errorf("mid-run drain: %w", err))
			}
			if len(newContexts) > 0 {
				countBase := len(drained)
				drained = append(drained, newContexts...)

				skills, err = refresh(ctx, deps.DB, params.LearningSpaceID)
				if err != nil {
					return nil, fail(ctx, deps.Pending, params, drained, fmt.Errorf("refresh skills: %w", err))
				}
				availableSkillsStr = prompt.FormatAvailableSkills(skills)

				injection := prompt.PackIncomingContexts(newContexts, availableSkillsStr, countBase)
				history = append(history, llmclient.Message{Role: llmclient.RoleUser, Content: injection})

				maxIterations += params.ExtraItersPerBatch
				justFinish = false
			}
		}

		if justFinish {
			break
		}

		alreadyIterations++

		if params.LockKey != "" && params.LockTTL > 0 && deps.Locker != nil {
			if renewed, err := deps.Locker.RenewLock(ctx, params.ProjectID, params.LockKey, params.LockTTL); err != nil {
				slog.Warn("agentloop: lock renewal failed, relying on consumer timeout",
					"learning_space", params.LearningSpaceID, "error", err)
			} else if !renewed {
				slog.Warn("agentloop: lock already expired on renewal attempt",
					"learning_space", params.LearningSpaceID)
			}
		}
	}

	return sessionIDs(drained), nil
}

// fail re-pushes every drained item to the pending queue in original order
// and returns err, per spec.md §4.6 step 4.
func fail(ctx context.Context, q PendingQueue, params Params, drained []busmsg.DistilledContext, err error) error {
	for _, item := range drained {
		if pushErr := q.Push(ctx, params.ProjectID, params.LearningSpaceID, item); pushErr != nil {
			return fmt.Errorf("%w (also failed to re-push drained item for session %s: %v)", err, item.Session, pushErr)
		}
	}
	return err
}

func sessionIDs(items []busmsg.DistilledContext) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.Session
	}
	return ids
}

// RefreshSkillsFromDB re-fetches the skill names/descriptions of a learning
// space, grounded in original_source's _refresh_skills.
func RefreshSkillsFromDB(ctx context.Context, db *ent.Client, learningSpaceID string) ([]prompt.SkillSummary, error) {
	skills, err := db.Skill.Query().Where(skill.LearningSpaceIDEQ(learningSpaceID)).All(ctx)
	if err != nil {
		return nil, fmt.Errorf("agentloop: refresh skills for %s: %w", learningSpaceID, err)
	}
	out := make([]prompt.SkillSummary, len(skills))
	for i, s := range skills {
		out[i] = prompt.SkillSummary{Name: s.Name, Description: s.Description}
	}
	return out, nil
}
