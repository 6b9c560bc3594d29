package config

import "time"

// SkillLearnConfig configures the skill-learning orchestrator: the agent
// loop's iteration/context budgets (spec §4.6) and the KV lock/buffer-timer
// TTLs and bus consumer timeout that bound one run (spec §4.1, §4.5).
type SkillLearnConfig struct {
	// MaxContextsPerAgentRun caps the total distilled contexts one agent run
	// may drain (entry + mid-run combined).
	MaxContextsPerAgentRun int `yaml:"max_contexts_per_agent_run"`

	// ExtraIterationsPerContextBatch is the iteration budget granted to
	// max_iterations each time a mid-run drain returns new contexts.
	ExtraIterationsPerContextBatch int `yaml:"extra_iterations_per_context_batch"`

	// AgentMaxIterations is the initial max_iterations passed into the loop.
	AgentMaxIterations int `yaml:"agent_max_iterations"`

	// LockTTL is the TTL granted to the per-learning-space agent lock; the
	// agent loop renews it once per completed iteration.
	LockTTL time.Duration `yaml:"lock_ttl"`

	// BufferTimerTTL is the TTL of the distillation buffer timer that
	// debounces bursts of sessions into a single distillation pass (spec §4.1).
	BufferTimerTTL time.Duration `yaml:"buffer_timer_ttl"`

	// AgentConsumerTimeout bounds how long a claimed skill-agent delivery may
	// stay claimed before the bus sweep redelivers it; must exceed the
	// worst-case agent loop (spec §4.5 binding timeout, §5).
	AgentConsumerTimeout time.Duration `yaml:"agent_consumer_timeout"`

	// LLMCallTimeout bounds a single complete() call; LockTTL must exceed it
	// with margin so the lock never expires mid-call (spec §5).
	LLMCallTimeout time.Duration `yaml:"llm_call_timeout"`
}

// DefaultSkillLearnConfig returns the built-in skill-learn defaults.
func DefaultSkillLearnConfig() *SkillLearnConfig {
	return &SkillLearnConfig{
		MaxContextsPerAgentRun:         20,
		ExtraIterationsPerContextBatch: 3,
		AgentMaxIterations:             5,
		LockTTL:                        2 * time.Minute,
		BufferTimerTTL:                 30 * time.Second,
		AgentConsumerTimeout:           30 * time.Minute,
		LLMCallTimeout:                 60 * time.Second,
	}
}
