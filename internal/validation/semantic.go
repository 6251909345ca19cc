package validation

import (
	"github.com/rendis/agentic/internal/expressions"
	"github.com/rendis/agentic/pkg/schema"
)

// ValidateSemantics applies the structural checks JSON Schema cannot express:
// initial_state_key must exist in states, and every literal next_state must
// reference a known state. Interpolated next_state values ({...} tokens) are
// only resolvable at runtime, so they are re-checked by the executor after
// resolution. Inline child configs are validated recursively.
func ValidateSemantics(def *schema.AgentDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeConfig, "agent definition is nil")
	}

	if len(def.States) == 0 {
		return schema.NewErrorf(schema.ErrCodeConfig, "agent %q has no states", def.Label)
	}

	if _, ok := def.States[def.InitialStateKey]; !ok {
		return schema.NewErrorf(schema.ErrCodeConfig,
			"agent %q: initial_state_key %q not found in states", def.Label, def.InitialStateKey).
			WithDetails(map[string]any{"states": stateKeys(def)})
	}

	for key, state := range def.States {
		if state.NextState != nil && !expressions.HasTokens(*state.NextState) {
			if _, ok := def.States[*state.NextState]; !ok {
				return schema.NewErrorf(schema.ErrCodeConfig,
					"agent %q: state %q references unknown next_state %q", def.Label, key, *state.NextState).
					WithDetails(map[string]any{"states": stateKeys(def)})
			}
		}

		for i, action := range state.Actions {
			if action.Type != schema.ActionSpawnAgent {
				continue
			}
			data := action.SpawnAgent
			if data == nil {
				return schema.NewErrorf(schema.ErrCodeConfig,
					"agent %q: state %q action %d: spawn_agent payload missing", def.Label, key, i)
			}
			if (data.AgentConfigFile == "") == (data.AgentConfig == nil) {
				return schema.NewErrorf(schema.ErrCodeConfig,
					"agent %q: state %q action %d: spawn_agent needs exactly one of agent_config_file, agent_config",
					def.Label, key, i)
			}
			if data.AgentConfig != nil {
				if err := ValidateSemantics(data.AgentConfig); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func stateKeys(def *schema.AgentDefinition) []string {
	keys := make([]string, 0, len(def.States))
	for k := range def.States {
		keys = append(keys, k)
	}
	return keys
}
