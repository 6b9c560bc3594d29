package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Skill holds the schema definition for the Skill entity: a named artifact
// the agent maintains, carrying a description and a set of file artifacts
// (spec §3 — "opaque to the orchestrator"; this repository gives the file
// set a concrete home in SkillFile so the skilltools registry has something
// to mutate).
type Skill struct {
	ent.Schema
}

// Fields of the Skill.
func (Skill) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("skill_id").
			Unique().
			Immutable(),
		field.String("learning_space_id").
			Immutable(),
		field.String("name").
			Comment("Stable within a learning space"),
		field.Text("description"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Edges of the Skill.
func (Skill) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("learning_space", LearningSpace.Type).
			Ref("skills").
			Field("learning_space_id").
			Unique().
			Required().
			Immutable(),
		edge.To("files", SkillFile.Type),
	}
}

// Indexes of the Skill.
func (Skill) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("learning_space_id", "name").
			Unique(),
	}
}
