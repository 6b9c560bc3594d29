package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// SkillFile holds the schema definition for the SkillFile entity: one file
// artifact belonging to a Skill. The orchestrator itself never inspects file
// content (spec §3); only the skilltools handlers (running inside the agent
// loop) read and write these rows.
type SkillFile struct {
	ent.Schema
}

// Fields of the SkillFile.
func (SkillFile) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("skill_file_id").
			Unique().
			Immutable(),
		field.String("skill_id").
			Immutable(),
		field.String("path").
			Comment("Relative path within the skill, e.g. SKILL.md"),
		field.Text("content"),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Edges of the SkillFile.
func (SkillFile) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("skill", Skill.Type).
			Ref("files").
			Field("skill_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the SkillFile.
func (SkillFile) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("skill_id", "path").
			Unique(),
	}
}
