// Package orchestrator wires the message-bus consumers of spec.md §4.3: the
// distillation consumer (§4.4) and the skill-agent consumer (§4.5), grounded
// in pkg/queue/worker.go's claim/process/finalize shape and bus.Handler's
// ack/nack contract.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/codeready-toolchain/skilllearn/ent"
	"github.com/codeready-toolchain/skilllearn/pkg/bus"
	"github.com/codeready-toolchain/skilllearn/pkg/busmsg"
	"github.com/codeready-toolchain/skilllearn/pkg/sessionstatus"
)

// Distiller turns one session's interaction into learnable context. A nil
// result with a nil error means the session produced nothing actionable
// (spec §4.4 step 3) — not an error.
type Distiller interface {
	Distill(ctx context.Context, task busmsg.DistillationTask) (*busmsg.DistilledContext, error)
}

// DistillationConsumer implements spec.md §4.4's six steps as a bus.Handler.
type DistillationConsumer struct {
	DB        *ent.Client
	Status    *sessionstatus.Service
	Distiller Distiller
	Publish   func(ctx context.Context, exchange, routingKey, queue string, body []byte) error
}

// NewDistillationConsumer wires a DistillationConsumer against a live
// registry; Publish defaults to registry.Publish.
func NewDistillationConsumer(db *ent.Client, status *sessionstatus.Service, distiller Distiller, registry *bus.ConsumerRegistry) *DistillationConsumer {
	return &DistillationConsumer{DB: db, Status: status, Distiller: distiller, Publish: registry.Publish}
}

// Handle processes one DistillationTask delivery. It never returns a plain
// error for a distillation-pipeline failure — spec §4.4 step 4 requires that
// case to mark the session failed and still ack, so a non-nil return here is
// reserved for infrastructure faults (DB down, publish failed) that should be
// retried via the bus's automatic nack-on-error.
func (c *DistillationConsumer) Handle(ctx context.Context, d *bus.Delivery) error {
	var task busmsg.DistillationTask
	if err := json.Unmarshal(d.Body, &task); err != nil {
		return fmt.Errorf("orchestrator: distillation: invalid body: %w", err)
	}
	log := slog.With("session", task.Session, "project", task.Project)

	// 1. Resolve learning_space_id from session_id. No learning space: log,
	// ack, no further work (spec §4.4 step 1; §8 scenario 6).
	sess, err := c.DB.Session.Get(ctx, task.Session)
	if err != nil {
		if ent.IsNotFound(err) {
			log.Warn("orchestrator: distillation: session not found, dropping")
			return d.Ack(ctx)
		}
		return fmt.Errorf("orchestrator: distillation: look up session %s: %w", task.Session, err)
	}
	if sess.LearningSpaceID == nil {
		log.Info("orchestrator: distillation: session has no learning space, skipping")
		return d.Ack(ctx)
	}
	learningSpaceID := *sess.LearningSpaceID

	// 2. Mark running.
	if err := c.Status.EnterDistillation(ctx, task.Session); err != nil {
		return fmt.Errorf("orchestrator: distillation: enter: %w", err)
	}

	// 3. Invoke the distiller.
	result, err := c.Distiller.Distill(ctx, task)
	if err != nil {
		// 4. On error: mark failed, ack (this is terminal — retrying the same
		// distillation would reproduce the same error), return nil.
		if failErr := c.Status.FailDistillation(ctx, task.Session, err.Error()); failErr != nil {
			return fmt.Errorf("orchestrator: distillation: mark failed after %v: %w", err, failErr)
		}
		log.Error("orchestrator: distillation failed", "error", err)
		return d.Ack(ctx)
	}
	if result == nil {
		// 5. Not actionable: ack, no further action. Status is left running;
		// nothing downstream will ever complete it, matching spec §4.4's
		// "nothing more happens to this session" for the not-actionable case.
		return d.Ack(ctx)
	}
	result.LearningSpace = learningSpaceID

	// 6. Publish the distilled context to the skill-agent binding.
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("orchestrator: distillation: marshal result: %w", err)
	}
	if err := c.Publish(ctx, busmsg.ExchangeLearningSkill, busmsg.RoutingKeyAgent, busmsg.QueueAgentEntry, body); err != nil {
		return fmt.Errorf("orchestrator: distillation: publish: %w", err)
	}
	return d.Ack(ctx)
}
