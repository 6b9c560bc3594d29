package config

// Config is the umbrella configuration object that encapsulates all
// registries, defaults, and configuration state.
// This is the primary object returned by Initialize() and used throughout the application.
type Config struct {
	configDir string // Configuration directory path (for reference)

	// System-wide defaults
	Defaults *Defaults

	// Infrastructure settings
	Queue            *QueueConfig
	GitHub           *GitHubConfig
	Runbooks         *RunbookConfig
	Slack            *SlackConfig
	Retention        *RetentionConfig
	DashboardURL     string
	AllowedWSOrigins []string

	// SkillLearn configures the skill-learning orchestrator's agent-loop and
	// consumer tunables (spec §4.6, §5).
	SkillLearn *SkillLearnConfig
}

// Initialize is defined in loader.go

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}
