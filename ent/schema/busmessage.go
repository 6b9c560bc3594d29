package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// BusMessage holds the schema definition for the BusMessage entity: the
// outbox/inbox row backing this repository's message-bus implementation
// (spec §4.3, §6). No RabbitMQ/Kafka/NATS client appears anywhere in the
// example pack this repository was grounded on, so the bus is a Postgres
// table polled the same way tarsy's queue package polls AlertSession rows
// with `FOR UPDATE SKIP LOCKED` (pkg/queue/worker.go claimNextSession).
type BusMessage struct {
	ent.Schema
}

// Fields of the BusMessage.
func (BusMessage) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("bus_message_id").
			Unique().
			Immutable(),
		field.String("exchange").
			Immutable(),
		field.String("routing_key").
			Immutable(),
		field.String("queue").
			Immutable(),
		field.Text("body").
			Immutable().
			Comment("UTF-8 JSON payload matching the bound body schema"),

		field.Enum("status").
			Values("pending", "claimed", "done").
			Default("pending"),
		field.String("claimed_by").
			Optional().
			Nillable(),
		field.Time("claimed_at").
			Optional().
			Nillable(),
		field.Time("visible_at").
			Optional().
			Nillable().
			Comment("Claim deadline; a claim older than this is redelivered by the orphan sweep"),

		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the BusMessage.
func (BusMessage) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("queue", "status", "created_at"),
		index.Fields("status", "visible_at"),
	}
}
