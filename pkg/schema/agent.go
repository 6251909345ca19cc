package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// AgentDefinition is the JSON-serializable agent configuration: a finite-state
// machine whose states each run an ordered list of actions. Definitions are
// immutable once loaded and shared across every spawn of the same config.
type AgentDefinition struct {
	Label           string                 `json:"label"`
	InitialStateKey string                 `json:"initial_state_key"`
	States          map[string]StateConfig `json:"states"`
	OutputStream    *string                `json:"output_stream,omitempty"`
}

// StateConfig describes a single state: its action list (execution order) and
// the optional successor state. A nil NextState marks a terminal state.
type StateConfig struct {
	Actions   []Action `json:"actions"`
	NextState *string  `json:"next_state,omitempty"`
}

// ActionType enumerates the fixed action kinds of the grammar.
type ActionType string

const (
	ActionCallAPI        ActionType = "call_api"
	ActionLLM            ActionType = "llm"
	ActionSpawnAgent     ActionType = "spawn_agent"
	ActionWaitForInput   ActionType = "wait_for_input"
	ActionGetAgentConfig ActionType = "get_agent_config"
	ActionSetAgentConfig ActionType = "set_agent_config"
)

// Action is a closed tagged union over the six action kinds. Exactly one
// payload is set, matching Type. The wire format is externally tagged
// (`{"call_api": {...}}`); wait_for_input encodes as the bare string
// "wait_for_input" since it carries no payload.
type Action struct {
	Type       ActionType
	CallAPI    *CallAPIData
	LLM        *LLMData
	SpawnAgent *SpawnAgentData
	ConfigKey  string // get_agent_config / set_agent_config payload
}

// CallAPIData configures a call_api action.
type CallAPIData struct {
	URL             string `json:"url"`
	Method          string `json:"method,omitempty"` // default GET
	AuthHeaderName  string `json:"auth_header_name,omitempty"`
	AuthHeaderValue string `json:"auth_header_value,omitempty"`
	Body            string `json:"body,omitempty"`
	ResultPath      string `json:"result_path,omitempty"` // jq expression applied to the JSON response
}

// LLMData configures an llm action.
type LLMData struct {
	UserPrompt   string  `json:"user_prompt"`
	SystemPrompt *string `json:"system_prompt,omitempty"`
	ResultPath   string  `json:"result_path,omitempty"`
}

// SpawnAgentData configures a spawn_agent action. Exactly one of
// AgentConfigFile and AgentConfig must be set; AgentConfig embeds the whole
// grammar recursively.
type SpawnAgentData struct {
	InputLabel      string           `json:"input_label"`
	OutputLabel     string           `json:"output_label"`
	IsBackground    bool             `json:"is_background,omitempty"`
	AgentConfigFile string           `json:"agent_config_file,omitempty"`
	AgentConfig     *AgentDefinition `json:"agent_config,omitempty"`
}

// actionTags maps wire tags to action types for decoding.
var actionTags = map[string]ActionType{
	"call_api":         ActionCallAPI,
	"llm":              ActionLLM,
	"spawn_agent":      ActionSpawnAgent,
	"wait_for_input":   ActionWaitForInput,
	"get_agent_config": ActionGetAgentConfig,
	"set_agent_config": ActionSetAgentConfig,
}

// UnmarshalJSON decodes the externally tagged union. Both the bare string form
// ("wait_for_input") and the single-key object form are accepted; unknown
// tags and objects with more than one tag are rejected.
func (a *Action) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var tag string
		if err := json.Unmarshal(trimmed, &tag); err != nil {
			return err
		}
		if tag != string(ActionWaitForInput) {
			return fmt.Errorf("unknown action %q", tag)
		}
		a.Type = ActionWaitForInput
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return fmt.Errorf("action must be a string or single-key object: %w", err)
	}
	if len(obj) != 1 {
		return fmt.Errorf("action object must have exactly one tag, got %d", len(obj))
	}

	for tag, payload := range obj {
		typ, ok := actionTags[tag]
		if !ok {
			return fmt.Errorf("unknown action %q", tag)
		}
		a.Type = typ
		switch typ {
		case ActionCallAPI:
			a.CallAPI = &CallAPIData{}
			return json.Unmarshal(payload, a.CallAPI)
		case ActionLLM:
			a.LLM = &LLMData{}
			return json.Unmarshal(payload, a.LLM)
		case ActionSpawnAgent:
			a.SpawnAgent = &SpawnAgentData{}
			return json.Unmarshal(payload, a.SpawnAgent)
		case ActionWaitForInput:
			return nil
		case ActionGetAgentConfig, ActionSetAgentConfig:
			return json.Unmarshal(payload, &a.ConfigKey)
		}
	}
	return nil
}

// MarshalJSON encodes the union back into its externally tagged form.
func (a Action) MarshalJSON() ([]byte, error) {
	switch a.Type {
	case ActionCallAPI:
		return json.Marshal(map[string]*CallAPIData{"call_api": a.CallAPI})
	case ActionLLM:
		return json.Marshal(map[string]*LLMData{"llm": a.LLM})
	case ActionSpawnAgent:
		return json.Marshal(map[string]*SpawnAgentData{"spawn_agent": a.SpawnAgent})
	case ActionWaitForInput:
		return json.Marshal(string(ActionWaitForInput))
	case ActionGetAgentConfig:
		return json.Marshal(map[string]string{"get_agent_config": a.ConfigKey})
	case ActionSetAgentConfig:
		return json.Marshal(map[string]string{"set_agent_config": a.ConfigKey})
	default:
		return nil, fmt.Errorf("cannot marshal action with unknown type %q", a.Type)
	}
}
