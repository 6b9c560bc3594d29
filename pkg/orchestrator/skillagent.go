package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/skilllearn/ent"
	"github.com/codeready-toolchain/skilllearn/pkg/agentloop"
	"github.com/codeready-toolchain/skilllearn/pkg/bus"
	"github.com/codeready-toolchain/skilllearn/pkg/busmsg"
	"github.com/codeready-toolchain/skilllearn/pkg/kvcoord"
	"github.com/codeready-toolchain/skilllearn/pkg/llmclient"
	"github.com/codeready-toolchain/skilllearn/pkg/sessionstatus"
)

// Locker is the subset of kvcoord.Store the skill-agent consumer depends on.
type Locker interface {
	AcquireLock(ctx context.Context, project, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, project, key string) error
	RenewLock(ctx context.Context, project, key string, ttl time.Duration) (bool, error)
}

// AgentRunFunc matches agentloop.Run's signature; injectable for testing.
type AgentRunFunc func(ctx context.Context, deps agentloop.Deps, params agentloop.Params) ([]string, error)

// SkillAgentConsumer implements spec.md §4.5's state machine as a bus.Handler.
type SkillAgentConsumer struct {
	DB      *ent.Client
	Status  *sessionstatus.Service
	Locker  Locker
	Pending agentloop.PendingQueue
	LLM     llmclient.Client
	Publish func(ctx context.Context, exchange, routingKey, queue string, body []byte) error

	LockTTL            time.Duration
	MaxIterations      int
	MaxContextsPerRun  int
	ExtraItersPerBatch int

	// AgentRun defaults to agentloop.Run when nil.
	AgentRun AgentRunFunc
}

// NewSkillAgentConsumer wires a SkillAgentConsumer against a live registry;
// Publish defaults to registry.Publish.
func NewSkillAgentConsumer(db *ent.Client, status *sessionstatus.Service, locker Locker, pending agentloop.PendingQueue, llm llmclient.Client, registry *bus.ConsumerRegistry, lockTTL time.Duration, maxIterations, maxContextsPerRun, extraItersPerBatch int) *SkillAgentConsumer {
	return &SkillAgentConsumer{
		DB:                 db,
		Status:             status,
		Locker:             locker,
		Pending:            pending,
		LLM:                llm,
		Publish:            registry.Publish,
		LockTTL:            lockTTL,
		MaxIterations:      maxIterations,
		MaxContextsPerRun:  maxContextsPerRun,
		ExtraItersPerBatch: extraItersPerBatch,
	}
}

// Handle processes one DistilledContext delivery per spec.md §4.5's state
// machine: acquire the per-learning-space lock, run the agent loop, update
// session status, release the lock, then — strictly after release — retrigger
// one more pending item if the run succeeded.
func (c *SkillAgentConsumer) Handle(ctx context.Context, d *bus.Delivery) error {
	var body busmsg.DistilledContext
	if err := json.Unmarshal(d.Body, &body); err != nil {
		return fmt.Errorf("orchestrator: skill-agent: invalid body: %w", err)
	}
	log := slog.With("session", body.Session, "learning_space", body.LearningSpace)

	lockKey := kvcoord.AgentLockKey(body.LearningSpace)
	gained, err := c.Locker.AcquireLock(ctx, body.Project, lockKey, c.LockTTL)
	if err != nil {
		return fmt.Errorf("orchestrator: skill-agent: acquire lock: %w", err)
	}
	if !gained {
		if err := c.Pending.Push(ctx, body.Project, body.LearningSpace, body); err != nil {
			return fmt.Errorf("orchestrator: skill-agent: park denied-lock delivery: %w", err)
		}
		if err := c.Status.MarkQueued(ctx, body.Session); err != nil {
			return fmt.Errorf("orchestrator: skill-agent: mark queued: %w", err)
		}
		log.Info("orchestrator: skill-agent: learning space locked elsewhere, parked")
		return d.Ack(ctx)
	}

	drainedIDs, runErr := c.runAgent(ctx, body)

	var statusErr error
	shouldRetrigger := false
	if runErr == nil {
		statusErr = c.Status.CompleteRun(ctx, body.Session, drainedIDs)
		shouldRetrigger = statusErr == nil
	} else {
		log.Error("orchestrator: skill-agent: agent run failed", "error", runErr)
		statusErr = c.Status.FailRun(ctx, body.Session, runErr.Error())
	}

	// Release before retriggering: a retrigger re-enqueues work on the bus and
	// must not race against a lock this same process still holds.
	if relErr := c.Locker.ReleaseLock(ctx, body.Project, lockKey); relErr != nil {
		return fmt.Errorf("orchestrator: skill-agent: release lock: %w", relErr)
	}
	if statusErr != nil {
		return fmt.Errorf("orchestrator: skill-agent: update session status: %w", statusErr)
	}

	if shouldRetrigger {
		remaining, err := c.Pending.Drain(ctx, body.Project, body.LearningSpace, 1)
		if err != nil {
			return fmt.Errorf("orchestrator: skill-agent: retrigger drain: %w", err)
		}
		if len(remaining) > 0 {
			rbody, err := json.Marshal(remaining[0])
			if err != nil {
				return fmt.Errorf("orchestrator: skill-agent: marshal retrigger body: %w", err)
			}
			if err := c.Publish(ctx, busmsg.ExchangeLearningSkill, busmsg.RoutingKeyAgent, busmsg.QueueAgentEntry, rbody); err != nil {
				return fmt.Errorf("orchestrator: skill-agent: publish retrigger: %w", err)
			}
		}
	}

	return d.Ack(ctx)
}

func (c *SkillAgentConsumer) runAgent(ctx context.Context, body busmsg.DistilledContext) ([]string, error) {
	skills, err := agentloop.RefreshSkillsFromDB(ctx, c.DB, body.LearningSpace)
	if err != nil {
		return nil, err
	}

	deps := agentloop.Deps{LLM: c.LLM, Pending: c.Pending, Locker: c.Locker, DB: c.DB}
	params := agentloop.Params{
		ProjectID:          body.Project,
		LearningSpaceID:    body.LearningSpace,
		SkillsSnapshot:     skills,
		DistilledText:      body.DistilledText,
		MaxIterations:      c.MaxIterations,
		MaxContextsPerRun:  c.MaxContextsPerRun,
		ExtraItersPerBatch: c.ExtraItersPerBatch,
		LockKey:            kvcoord.AgentLockKey(body.LearningSpace),
		LockTTL:            c.LockTTL,
	}

	run := c.AgentRun
	if run == nil {
		run = agentloop.Run
	}
	return run(ctx, deps, params)
}
