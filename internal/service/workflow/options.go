package workflow

import (
	"fmt"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/config"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
)

// ConfigFromApp maps validated application configuration onto engine
// configuration.
func ConfigFromApp(cfg *config.Config) (Config, error) {
	overrides := make(map[core.StepID]StepOverride, len(cfg.Steps))
	for name, sc := range cfg.Steps {
		id, err := core.ParseStepID(name)
		if err != nil || !id.Valid() {
			return Config{}, fmt.Errorf("steps.%s: unknown step", name)
		}
		overrides[id] = StepOverride{
			Timeout:    config.Duration(sc.Timeout, 0),
			MaxRetries: sc.MaxRetries,
		}
	}

	maxRetries := cfg.Engine.MaxRetries
	return Config{
		Registry: RegistryConfig{
			DefaultTimeout:    config.Duration(cfg.Engine.StepTimeout, DefaultStepTimeout),
			DefaultMaxRetries: &maxRetries,
			Overrides:         overrides,
		},
		PersistRetries: cfg.Engine.PersistRetries,
		PersistBackoff: config.Duration(cfg.Engine.PersistBackoff, 0),
		RepeatLimit:    cfg.Engine.RepeatLimit,
	}, nil
}
