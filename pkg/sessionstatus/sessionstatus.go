// Package sessionstatus implements the single write-through path that
// advances a session through {pending, queued, running, completed, failed}
// (spec §4.7), grounded in tarsy's SessionService.UpdateSessionStatus
// write-through pattern. Transitions are not validated against a strict
// state machine at the storage layer; callers are trusted to advance
// monotonically per run-attempt, exactly as spec.md §4.7 specifies.
package sessionstatus

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/skilllearn/ent"
	"github.com/codeready-toolchain/skilllearn/ent/session"
)

// Service is the only writer of Session.status in this repository.
type Service struct {
	client *ent.Client
}

// New wraps an ent client.
func New(client *ent.Client) *Service {
	return &Service{client: client}
}

// EnterDistillation marks sessionID running: distillation has taken the
// session off the bus and begun processing it (spec §4.7).
func (s *Service) EnterDistillation(ctx context.Context, sessionID string) error {
	return s.setStatus(ctx, sessionID, session.StatusRunning, nil)
}

// FailDistillation marks sessionID failed with the given human-readable
// cause, emitted when the distillation pipeline itself errors (spec §4.4
// step 4).
func (s *Service) FailDistillation(ctx context.Context, sessionID string, cause string) error {
	return s.setStatus(ctx, sessionID, session.StatusFailed, &cause)
}

// MarkQueued marks sessionID queued: the skill-agent consumer lost the
// learning-space lock race and parked the context to the pending queue
// (spec §4.5).
func (s *Service) MarkQueued(ctx context.Context, sessionID string) error {
	return s.setStatus(ctx, sessionID, session.StatusQueued, nil)
}

// CompleteRun marks liveID and every id in drainedIDs completed: the
// skill-agent consumer ran the agent loop to success and every context it
// consumed — the one delivered on the bus plus everything drained from the
// pending queue — is now resolved (spec §4.5, §4.7).
func (s *Service) CompleteRun(ctx context.Context, liveID string, drainedIDs []string) error {
	for _, id := range append([]string{liveID}, drainedIDs...) {
		if err := s.setStatus(ctx, id, session.StatusCompleted, nil); err != nil {
			return err
		}
	}
	return nil
}

// FailRun marks only liveID failed: a failed agent run re-pushes every
// drained context back to the pending queue untouched, so only the live
// session transitions (spec §4.5, §4.7).
func (s *Service) FailRun(ctx context.Context, liveID string, cause string) error {
	return s.setStatus(ctx, liveID, session.StatusFailed, &cause)
}

func (s *Service) setStatus(ctx context.Context, sessionID string, status session.Status, errMsg *string) error {
	update := s.client.Session.UpdateOneID(sessionID).SetStatus(status)
	if errMsg != nil {
		update = update.SetErrorMessage(*errMsg)
	}
	if err := update.Exec(ctx); err != nil {
		if ent.IsNotFound(err) {
			return fmt.Errorf("sessionstatus: session %s not found", sessionID)
		}
		return fmt.Errorf("sessionstatus: set status of %s to %s: %w", sessionID, status, err)
	}
	return nil
}
