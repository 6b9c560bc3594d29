// Package busmsg contains the JSON body types carried over the message bus
// (spec §3, §6), mirroring tarsy's pkg/models convention of one small file
// of plain request/response structs per domain concern.
package busmsg

// Exchange and routing-key/queue names for the skill-learning bindings
// (spec §6).
const (
	ExchangeLearningSkill = "learning_skill"

	RoutingKeyDistill = "learning.skill.distill"
	QueueDistillEntry = "learning.skill.distill.entry"

	RoutingKeyAgent = "learning.skill.agent"
	QueueAgentEntry = "learning.skill.agent.entry"
)

// DistillationTask is the body bound to the distillation consumer
// (spec §4.4): a reference to a session whose interaction should be
// distilled into learnable context.
type DistillationTask struct {
	Project string `json:"project"`
	Session string `json:"session"`
	Task    string `json:"task"`
}

// DistilledContext is the unit of work parked to the pending queue and
// drained by the agent loop (spec §3, §4.4, §4.5).
type DistilledContext struct {
	Project       string `json:"project"`
	Session       string `json:"session"`
	Task          string `json:"task"`
	LearningSpace string `json:"learning_space"`
	DistilledText string `json:"distilled_text"`
}
