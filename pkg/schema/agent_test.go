package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAction_DecodeTaggedVariants(t *testing.T) {
	raw := `{
		"label": "orchestrator",
		"initial_state_key": "start",
		"states": {
			"start": {
				"actions": [
					{"call_api": {"url": "https://api.example.com/items", "method": "POST", "auth_header_name": "X-Api-Key", "auth_header_value": "secret", "body": "{}"}},
					{"llm": {"user_prompt": "summarize {output}", "system_prompt": "be terse"}},
					"wait_for_input",
					{"get_agent_config": "topic"},
					{"set_agent_config": "summary"},
					{"spawn_agent": {"input_label": "x", "output_label": "y", "is_background": true, "agent_config_file": "child.json"}}
				],
				"next_state": "done"
			},
			"done": {"actions": []}
		},
		"output_stream": "results"
	}`

	var def AgentDefinition
	require.NoError(t, json.Unmarshal([]byte(raw), &def))

	require.Contains(t, def.States, "start")
	actions := def.States["start"].Actions
	require.Len(t, actions, 6)

	assert.Equal(t, ActionCallAPI, actions[0].Type)
	require.NotNil(t, actions[0].CallAPI)
	assert.Equal(t, "POST", actions[0].CallAPI.Method)
	assert.Equal(t, "X-Api-Key", actions[0].CallAPI.AuthHeaderName)

	assert.Equal(t, ActionLLM, actions[1].Type)
	require.NotNil(t, actions[1].LLM)
	require.NotNil(t, actions[1].LLM.SystemPrompt)
	assert.Equal(t, "be terse", *actions[1].LLM.SystemPrompt)

	assert.Equal(t, ActionWaitForInput, actions[2].Type)

	assert.Equal(t, ActionGetAgentConfig, actions[3].Type)
	assert.Equal(t, "topic", actions[3].ConfigKey)

	assert.Equal(t, ActionSetAgentConfig, actions[4].Type)
	assert.Equal(t, "summary", actions[4].ConfigKey)

	assert.Equal(t, ActionSpawnAgent, actions[5].Type)
	require.NotNil(t, actions[5].SpawnAgent)
	assert.True(t, actions[5].SpawnAgent.IsBackground)
	assert.Equal(t, "child.json", actions[5].SpawnAgent.AgentConfigFile)

	require.NotNil(t, def.States["start"].NextState)
	assert.Equal(t, "done", *def.States["start"].NextState)
	assert.Nil(t, def.States["done"].NextState)
}

func TestAction_DecodeInlineChildConfig(t *testing.T) {
	raw := `{"spawn_agent": {
		"input_label": "in",
		"output_label": "out",
		"agent_config": {
			"label": "child",
			"initial_state_key": "only",
			"states": {"only": {"actions": ["wait_for_input"]}}
		}
	}}`

	var a Action
	require.NoError(t, json.Unmarshal([]byte(raw), &a))
	require.NotNil(t, a.SpawnAgent)
	require.NotNil(t, a.SpawnAgent.AgentConfig)
	assert.Equal(t, "child", a.SpawnAgent.AgentConfig.Label)
	assert.Equal(t, ActionWaitForInput, a.SpawnAgent.AgentConfig.States["only"].Actions[0].Type)
}

func TestAction_RejectsUnknownTag(t *testing.T) {
	var a Action
	err := json.Unmarshal([]byte(`{"launch_missiles": {}}`), &a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action")

	err = json.Unmarshal([]byte(`"do_nothing"`), &a)
	require.Error(t, err)
}

func TestAction_RejectsMultipleTags(t *testing.T) {
	var a Action
	err := json.Unmarshal([]byte(`{"llm": {"user_prompt": "hi"}, "get_agent_config": "k"}`), &a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one tag")
}

func TestAction_MarshalRoundTrip(t *testing.T) {
	orig := Action{Type: ActionWaitForInput}
	b, err := json.Marshal(orig)
	require.NoError(t, err)
	assert.Equal(t, `"wait_for_input"`, string(b))

	orig = Action{Type: ActionGetAgentConfig, ConfigKey: "topic"}
	b, err = json.Marshal(orig)
	require.NoError(t, err)

	var back Action
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, orig.Type, back.Type)
	assert.Equal(t, "topic", back.ConfigKey)
}

func TestAgenticError_Formatting(t *testing.T) {
	err := NewErrorf(ErrCodeMissingKey, "key %q not set", "topic").
		WithInstance("inst-1").
		WithAction("collect", 2)

	assert.Equal(t, `[MISSING_KEY] state collect action 2: key "topic" not set`, err.Error())
	assert.Equal(t, "inst-1", err.InstanceID)
}
