package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// LearningSpace holds the schema definition for the LearningSpace entity.
// A LearningSpace owns a set of skills and is the serialization boundary for
// agent runs: at most one agent run may be in flight per LearningSpace at any
// instant (spec §3, enforced by kvcoord.Lock — not by the database).
type LearningSpace struct {
	ent.Schema
}

// Fields of the LearningSpace.
func (LearningSpace) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("learning_space_id").
			Unique().
			Immutable(),
		field.String("project_id").
			Immutable(),
		field.String("name").
			Optional(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the LearningSpace.
func (LearningSpace) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("project", Project.Type).
			Ref("learning_spaces").
			Field("project_id").
			Unique().
			Required().
			Immutable(),
		edge.To("skills", Skill.Type),
		edge.To("sessions", Session.Type),
	}
}

// Indexes of the LearningSpace.
func (LearningSpace) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("project_id"),
	}
}
