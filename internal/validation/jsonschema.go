// Package validation checks agent definitions before the engine runs them:
// a JSON Schema pass for shape (the grammar is self-referential, so the
// schema uses a recursive $ref) and a semantic pass for the cross-references
// JSON Schema cannot express.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/agentic/pkg/schema"
)

// agentSchemaJSON is the JSON Schema for AgentDefinition validation.
// Embedded as a constant to avoid filesystem dependencies. additionalProperties
// is false on the definition and on every action payload: unknown fields are
// rejected here, not in the engine.
const agentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://agentic.dev/schemas/agent.json",
  "$ref": "#/$defs/agent",
  "$defs": {
    "agent": {
      "type": "object",
      "required": ["label", "initial_state_key", "states"],
      "properties": {
        "label": {"type": "string", "minLength": 1},
        "initial_state_key": {"type": "string", "minLength": 1},
        "states": {
          "type": "object",
          "additionalProperties": {"$ref": "#/$defs/state"}
        },
        "output_stream": {"type": ["string", "null"]}
      },
      "additionalProperties": false
    },
    "state": {
      "type": "object",
      "required": ["actions"],
      "properties": {
        "actions": {
          "type": ["array", "null"],
          "items": {"$ref": "#/$defs/action"}
        },
        "next_state": {"type": ["string", "null"]}
      },
      "additionalProperties": false
    },
    "action": {
      "oneOf": [
        {"const": "wait_for_input"},
        {
          "type": "object",
          "required": ["call_api"],
          "properties": {"call_api": {"$ref": "#/$defs/call_api"}},
          "additionalProperties": false
        },
        {
          "type": "object",
          "required": ["llm"],
          "properties": {"llm": {"$ref": "#/$defs/llm"}},
          "additionalProperties": false
        },
        {
          "type": "object",
          "required": ["spawn_agent"],
          "properties": {"spawn_agent": {"$ref": "#/$defs/spawn_agent"}},
          "additionalProperties": false
        },
        {
          "type": "object",
          "required": ["wait_for_input"],
          "properties": {"wait_for_input": {"type": "object", "additionalProperties": false}},
          "additionalProperties": false
        },
        {
          "type": "object",
          "required": ["get_agent_config"],
          "properties": {"get_agent_config": {"type": "string", "minLength": 1}},
          "additionalProperties": false
        },
        {
          "type": "object",
          "required": ["set_agent_config"],
          "properties": {"set_agent_config": {"type": "string", "minLength": 1}},
          "additionalProperties": false
        }
      ]
    },
    "call_api": {
      "type": "object",
      "required": ["url"],
      "properties": {
        "url": {"type": "string", "minLength": 1},
        "method": {"type": "string", "enum": ["GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"]},
        "auth_header_name": {"type": "string"},
        "auth_header_value": {"type": "string"},
        "body": {"type": "string"},
        "result_path": {"type": "string"}
      },
      "additionalProperties": false
    },
    "llm": {
      "type": "object",
      "required": ["user_prompt"],
      "properties": {
        "user_prompt": {"type": "string", "minLength": 1},
        "system_prompt": {"type": ["string", "null"]},
        "result_path": {"type": "string"}
      },
      "additionalProperties": false
    },
    "spawn_agent": {
      "type": "object",
      "required": ["input_label", "output_label"],
      "properties": {
        "input_label": {"type": "string", "minLength": 1},
        "output_label": {"type": "string", "minLength": 1},
        "is_background": {"type": "boolean"},
        "agent_config_file": {"type": "string"},
        "agent_config": {"$ref": "#/$defs/agent"}
      },
      "additionalProperties": false,
      "oneOf": [
        {"required": ["agent_config_file"]},
        {"required": ["agent_config"]}
      ]
    }
  }
}`

// Validator checks agent definitions for correctness before execution.
type Validator struct {
	agentSchema *jsonschema.Schema
}

// NewValidator compiles the agent JSON Schema. Safe for concurrent use.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(agentSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal agent schema: %w", err)
	}
	if err := c.AddResource("https://agentic.dev/schemas/agent.json", doc); err != nil {
		return nil, fmt.Errorf("add agent schema resource: %w", err)
	}

	compiled, err := c.Compile("https://agentic.dev/schemas/agent.json")
	if err != nil {
		return nil, fmt.Errorf("compile agent schema: %w", err)
	}

	return &Validator{agentSchema: compiled}, nil
}

// ValidateRaw validates a raw JSON document against the agent grammar and then
// applies the semantic checks. Returns the decoded definition on success.
func (v *Validator) ValidateRaw(raw []byte) (*schema.AgentDefinition, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "config is not valid JSON").WithCause(err)
	}

	if err := v.agentSchema.Validate(doc); err != nil {
		return nil, toAgenticError(err)
	}

	var def schema.AgentDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "decode agent definition").WithCause(err)
	}

	if err := ValidateSemantics(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// ValidateDefinition validates an already-decoded definition: it re-serializes
// for the schema pass (inline child configs included) and applies semantics.
func (v *Validator) ValidateDefinition(def *schema.AgentDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeConfig, "agent definition is nil")
	}

	raw, err := json.Marshal(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeConfig, "serialize agent definition").WithCause(err)
	}
	_, err = v.ValidateRaw(raw)
	return err
}

// toAgenticError converts a jsonschema.ValidationError into an AgenticError
// with the leaf violations listed for actionable reporting.
func toAgenticError(err error) *schema.AgenticError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeConfig, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeConfig, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeConfig, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("config validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeConfig, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
