package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/config"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/evaluation"
)

const evaluationMeterName = "github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/evaluation"

// evaluationPath returns where evaluation results are kept: evaluation.path,
// else evaluations.json next to the state file.
func evaluationPath(cfg *config.Config) string {
	if cfg.Evaluation.Path != "" {
		return cfg.Evaluation.Path
	}
	statePath := cfg.State.Path
	if statePath == "" {
		statePath = config.DefaultStatePath
	}
	return filepath.Join(filepath.Dir(statePath), "evaluations.json")
}

// openEvaluation builds the evaluator and its results store. The memory
// state backend keeps results in memory too.
func (rt *runtime) openEvaluation() (*evaluation.Evaluator, evaluation.Store, error) {
	var store evaluation.Store
	if rt.cfg.State.Backend == "memory" {
		store = evaluation.NewMemoryStore()
	} else {
		fs, err := evaluation.NewFileStore(evaluationPath(rt.cfg))
		if err != nil {
			return nil, nil, fmt.Errorf("opening evaluation store: %w", err)
		}
		store = fs
	}

	ev, err := evaluation.NewEvaluator(rt.invoker, store,
		evaluation.WithLogger(rt.logger),
		evaluation.WithTimeout(config.Duration(rt.cfg.Evaluation.Timeout, 0)),
		evaluation.WithMeter(rt.telemetry.Meter(evaluationMeterName)),
	)
	if err != nil {
		return nil, nil, err
	}
	return ev, store, nil
}
