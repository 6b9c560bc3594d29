package database

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect/sql"
)

// CreateGINIndexes creates full-text search GIN indexes over skill content,
// so an operator-facing search ("find the skill that covers X") can run a
// plain tsquery instead of a table scan. Adapted from the teacher's
// alert_sessions full-text indexes to this domain's skills/skill_files
// tables (the AlertSession entity those indexed is out of scope here).
func CreateGINIndexes(ctx context.Context, driver *sql.Driver) error {
	db := driver.DB()

	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_skills_description_gin
		ON skills USING gin(to_tsvector('english', description))`)
	if err != nil {
		return fmt.Errorf("failed to create skills description GIN index: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_skill_files_content_gin
		ON skill_files USING gin(to_tsvector('english', content))`)
	if err != nil {
		return fmt.Errorf("failed to create skill_files content GIN index: %w", err)
	}

	return nil
}

// CreatePartialUniqueIndexes creates the partial unique index ent's schema
// DSL cannot express directly: a session may have at most one row with
// status 'running' or 'queued' per learning space, enforcing spec.md
// §4.5/§8's single-live-run-per-learning-space invariant at the database
// layer as a second line of defense behind the etcd lock.
func CreatePartialUniqueIndexes(ctx context.Context, driver *sql.Driver) error {
	db := driver.DB()

	_, err := db.ExecContext(ctx,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_live_per_learning_space
		ON sessions (learning_space_id)
		WHERE status IN ('running', 'queued') AND learning_space_id IS NOT NULL`)
	if err != nil {
		return fmt.Errorf("failed to create one-live-session partial unique index: %w", err)
	}

	return nil
}
