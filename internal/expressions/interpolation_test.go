package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_InputOutput(t *testing.T) {
	scope := Scope{Input: "hello", Output: "world"}

	resolved, missing := Resolve("in={input} out={output}", scope)
	assert.Equal(t, "in=hello out=world", resolved)
	assert.Empty(t, missing)
}

func TestResolve_Env(t *testing.T) {
	t.Setenv("AGENTIC_TEST_TOKEN", "s3cret")

	resolved, missing := Resolve("Bearer {env.AGENTIC_TEST_TOKEN}", Scope{})
	assert.Equal(t, "Bearer s3cret", resolved)
	assert.Empty(t, missing)

	resolved, missing = Resolve("{env.AGENTIC_TEST_UNSET_VAR}", Scope{})
	assert.Equal(t, "", resolved)
	assert.Equal(t, []string{"env.AGENTIC_TEST_UNSET_VAR"}, missing)
}

func TestResolve_Vars(t *testing.T) {
	values := map[string]string{"topic": "weather"}
	scope := Scope{Lookup: func(k string) (string, bool) {
		v, ok := values[k]
		return v, ok
	}}

	resolved, missing := Resolve("ask about {var.topic} and {var.absent}", scope)
	assert.Equal(t, "ask about weather and ", resolved)
	assert.Equal(t, []string{"var.absent"}, missing)
}

func TestResolve_LeavesNonTokensAlone(t *testing.T) {
	// JSON bodies contain braces that are not interpolation tokens.
	body := `{"query": "{output}", "nested": {"a": 1}}`
	resolved, missing := Resolve(body, Scope{Output: "result"})
	assert.Equal(t, `{"query": "result", "nested": {"a": 1}}`, resolved)
	assert.Empty(t, missing)

	resolved, _ = Resolve("no tokens here", Scope{})
	assert.Equal(t, "no tokens here", resolved)
}

func TestHasTokens(t *testing.T) {
	assert.True(t, HasTokens("{input}"))
	assert.True(t, HasTokens("a {var.k} b"))
	assert.False(t, HasTokens("{not a token}"))
	assert.False(t, HasTokens("plain"))
}

func TestResolve_MissingLookup(t *testing.T) {
	resolved, missing := Resolve("{var.k}", Scope{})
	assert.Equal(t, "", resolved)
	require.Equal(t, []string{"var.k"}, missing)
}
