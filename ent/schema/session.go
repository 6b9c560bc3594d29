package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Session holds the schema definition for the Session entity: a conversation
// artifact that belongs to exactly one learning space, or none (in which case
// distillation is skipped — spec §3, §4.4 step 1).
type Session struct {
	ent.Schema
}

// Fields of the Session.
func (Session) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("session_id").
			Unique().
			Immutable(),
		field.String("project_id").
			Immutable(),
		field.String("learning_space_id").
			Optional().
			Nillable().
			Immutable().
			Comment("Nil when the session has no learning space; distillation skips it"),

		// Coarse status: pending -> running -> (completed | failed | queued -> ... -> completed|failed).
		// queued is non-terminal: a later agent run drains and completes it (spec §3).
		field.Enum("status").
			Values("pending", "running", "completed", "failed", "queued").
			Default("pending"),

		field.String("error_message").
			Optional().
			Nillable(),

		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Edges of the Session.
func (Session) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("learning_space", LearningSpace.Type).
			Ref("sessions").
			Field("learning_space_id").
			Unique(),
	}
}

// Indexes of the Session.
func (Session) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("project_id"),
		index.Fields("learning_space_id", "status"),
		index.Fields("status"),
	}
}
